// Package keys loads the process key material: the master key that wraps
// per-warehouse data keys, and the RSA pair used by the asymmetric wrap
// scheme. Keys are loaded once at startup and never rotated at runtime.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// MasterKeySize is the required master key length in bytes (AES-256).
const MasterKeySize = 32

var (
	// ErrKeyConfiguration indicates the master key is missing or malformed.
	// The process must refuse encrypted writes until this is fixed.
	ErrKeyConfiguration = errors.New("master key configuration invalid")

	// ErrKeyLoad indicates the RSA key pair file is absent or malformed.
	ErrKeyLoad = errors.New("rsa key pair unavailable")
)

// LoadMasterKey decodes a 32-byte hex-encoded master key. When the key is
// absent and devMode is set, a random key is fabricated and a warning is
// logged so operators are never silently running on an ephemeral key.
func LoadMasterKey(keyHex string, devMode bool, log *logrus.Logger) ([]byte, error) {
	if keyHex == "" {
		if !devMode {
			return nil, fmt.Errorf("%w: MASTER_KEY is not set", ErrKeyConfiguration)
		}
		key := make([]byte, MasterKeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("%w: generating dev master key: %v", ErrKeyConfiguration, err)
		}
		log.Warn("DEV_MODE: fabricated an ephemeral master key; encrypted records will be unrecoverable after restart")
		return key, nil
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: MASTER_KEY must be hex-encoded", ErrKeyConfiguration)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("%w: MASTER_KEY must be %d bytes (%d hex chars)", ErrKeyConfiguration, MasterKeySize, MasterKeySize*2)
	}
	return key, nil
}

// LoadRSAKeyPair reads a PEM-encoded RSA private key from path and derives
// the public half. Both PKCS#1 and PKCS#8 encodings are accepted.
func LoadRSAKeyPair(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrKeyLoad, path, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%w: %s contains no PEM block", ErrKeyLoad, path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrKeyLoad, path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an RSA private key", ErrKeyLoad, path)
	}
	return key, nil
}

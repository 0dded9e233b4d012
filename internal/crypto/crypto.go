// Package crypto implements the envelope encryption used for detection
// payloads. The master key or the process RSA pair wraps per-warehouse data
// keys; data keys encrypt payloads with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// Wrap scheme versions. The version is stored alongside each wrapped DEK so
// records written under an older deployment scheme remain decryptable.
const (
	// SchemeMasterKey wraps the DEK with AES-256-GCM under the master key.
	SchemeMasterKey = 1
	// SchemeRSA wraps the DEK with RSA-OAEP under the process key pair.
	SchemeRSA = 2
)

const (
	dekSize = 32
	tagSize = 16
)

var (
	// ErrUnwrap indicates a wrapped DEK could not be recovered: wrong key,
	// wrong scheme version, or a corrupted blob.
	ErrUnwrap = errors.New("cannot unwrap data key")

	// ErrAuthentication indicates payload decryption failed integrity
	// verification: tampered ciphertext, wrong nonce, wrong tag or wrong key.
	ErrAuthentication = errors.New("payload authentication failed")
)

// Envelope wraps and unwraps per-warehouse data keys and encrypts payloads
// under them. The active scheme is fixed once per deployment; unwrapping
// dispatches on the version recorded with each wrapped key.
type Envelope struct {
	scheme    int
	masterKey []byte
	rsaKey    *rsa.PrivateKey
}

// NewEnvelope validates scheme against the available key material.
// SchemeMasterKey requires a 32-byte master key; SchemeRSA additionally
// requires the RSA private key (the master key stays required so records
// wrapped under scheme 1 remain readable).
func NewEnvelope(scheme int, masterKey []byte, rsaKey *rsa.PrivateKey) (*Envelope, error) {
	if len(masterKey) != dekSize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", dekSize, len(masterKey))
	}
	switch scheme {
	case SchemeMasterKey:
	case SchemeRSA:
		if rsaKey == nil {
			return nil, errors.New("rsa wrap scheme selected but no rsa key pair loaded")
		}
	default:
		return nil, fmt.Errorf("unknown wrap scheme %d", scheme)
	}
	return &Envelope{scheme: scheme, masterKey: masterKey, rsaKey: rsaKey}, nil
}

// Scheme returns the active wrap scheme version used for new keys.
func (e *Envelope) Scheme() int { return e.scheme }

// GenerateDEK produces a fresh random 32-byte data key.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, dekSize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, err
	}
	return dek, nil
}

// WrapDEK encrypts dek under the active scheme and returns the wrapped blob
// together with the scheme version to persist next to it.
func (e *Envelope) WrapDEK(dek []byte) (wrapped []byte, version int, err error) {
	switch e.scheme {
	case SchemeMasterKey:
		wrapped, err = gcmSeal(e.masterKey, dek)
	case SchemeRSA:
		wrapped, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, &e.rsaKey.PublicKey, dek, nil)
	}
	if err != nil {
		return nil, 0, err
	}
	return wrapped, e.scheme, nil
}

// UnwrapDEK recovers a data key wrapped under the given scheme version.
func (e *Envelope) UnwrapDEK(wrapped []byte, version int) ([]byte, error) {
	switch version {
	case SchemeMasterKey:
		dek, err := gcmOpen(e.masterKey, wrapped)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
		}
		return dek, nil
	case SchemeRSA:
		if e.rsaKey == nil {
			return nil, fmt.Errorf("%w: no rsa key pair loaded", ErrUnwrap)
		}
		dek, err := rsa.DecryptOAEP(sha256.New(), nil, e.rsaKey, wrapped, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
		}
		return dek, nil
	default:
		return nil, fmt.Errorf("%w: unknown scheme version %d", ErrUnwrap, version)
	}
}

// EncryptPayload encrypts plaintext under dek with AES-256-GCM. The nonce is
// freshly random on every call; ciphertext and tag are returned separately to
// match the persisted column layout. Empty plaintexts are valid.
func EncryptPayload(plaintext, dek []byte) (ciphertext, nonce, tag []byte, err error) {
	gcm, err := newGCM(dek)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - tagSize
	return sealed[:split], nonce, sealed[split:], nil
}

// DecryptPayload reverses EncryptPayload. Any modification of ciphertext,
// nonce or tag fails with ErrAuthentication; GCM verifies the whole tag in
// constant time, so failures carry no timing signal about where verification
// broke.
func DecryptPayload(ciphertext, nonce, tag, dek []byte) ([]byte, error) {
	gcm, err := newGCM(dek)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != tagSize {
		return nil, ErrAuthentication
	}
	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Zero overwrites key material in place. Callers must zero every unwrapped
// DEK as soon as it is no longer needed, on error paths included.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// gcmSeal encrypts with AES-256-GCM. Output format: [nonce(12) | ciphertext+tag].
func gcmSeal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// gcmOpen decrypts [nonce(12) | ciphertext+tag] produced by gcmSeal.
func gcmOpen(key, data []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("wrapped blob too short")
	}
	return gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

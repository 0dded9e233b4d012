// Package auth resolves API keys to principals. It stands in for the
// surrounding web application's session layer: callers present a Bearer key
// issued at provisioning time.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rivaldimahardhika/ProjectMagang/internal/access"
	"github.com/rivaldimahardhika/ProjectMagang/internal/store"
)

// ErrInvalidKey reports an API key that resolves to no principal.
var ErrInvalidKey = errors.New("invalid API key")

type Service struct {
	q store.Querier
}

func NewService(q store.Querier) *Service {
	return &Service{q: q}
}

// CreatePrincipal provisions a caller and returns the raw API key, which is
// shown once and stored only as a hash. Operators must be bound to a
// warehouse; administrators must not be.
func (s *Service) CreatePrincipal(ctx context.Context, name string, role access.Role, warehouseID uuid.UUID) (string, store.Principal, error) {
	switch role {
	case access.RoleOperator:
		if warehouseID == uuid.Nil {
			return "", store.Principal{}, errors.New("operator principal requires a warehouse")
		}
	case access.RoleAdmin:
		if warehouseID != uuid.Nil {
			return "", store.Principal{}, errors.New("admin principal must not be bound to a warehouse")
		}
	default:
		return "", store.Principal{}, fmt.Errorf("unknown role %q", role)
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		return "", store.Principal{}, err
	}

	p, err := s.q.CreatePrincipal(ctx, store.CreatePrincipalParams{
		Name:        name,
		Role:        string(role),
		WarehouseID: uuid.NullUUID{UUID: warehouseID, Valid: warehouseID != uuid.Nil},
		APIKeyHash:  hashAPIKey(rawKey),
	})
	if err != nil {
		return "", store.Principal{}, err
	}
	return rawKey, p, nil
}

// Resolve maps a raw API key to its principal.
func (s *Service) Resolve(ctx context.Context, rawKey string) (access.Principal, error) {
	row, err := s.q.GetPrincipalByAPIKeyHash(ctx, hashAPIKey(rawKey))
	if err != nil {
		return access.Principal{}, ErrInvalidKey
	}
	role, err := access.ParseRole(row.Role)
	if err != nil {
		return access.Principal{}, fmt.Errorf("principal %s: %w", row.ID, err)
	}
	p := access.Principal{ID: row.ID, Name: row.Name, Role: role}
	if row.WarehouseID.Valid {
		p.WarehouseID = row.WarehouseID.UUID
	}
	return p, nil
}

func hashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

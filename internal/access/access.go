// Package access gates who may recover detection plaintext.
package access

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrForbidden denies an operation. The HTTP layer reports it identically to
// a missing record for non-administrators so tenants cannot probe for the
// existence of other tenants' records.
var ErrForbidden = errors.New("forbidden")

// Role is the closed set of caller roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// ParseRole validates a stored role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleOperator:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Principal is an authenticated caller. WarehouseID is Nil for administrators.
type Principal struct {
	ID          uuid.UUID
	Name        string
	Role        Role
	WarehouseID uuid.UUID
}

// IsAdmin reports whether the principal holds the administrator role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Authorize decides whether p may decrypt records owned by ownerWarehouseID.
// Administrators are always allowed; any other role must belong to the owning
// warehouse.
func Authorize(p Principal, ownerWarehouseID uuid.UUID) error {
	if p.IsAdmin() {
		return nil
	}
	if p.WarehouseID != uuid.Nil && p.WarehouseID == ownerWarehouseID {
		return nil
	}
	return ErrForbidden
}

package access

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	warehouseA := uuid.New()
	warehouseB := uuid.New()

	tests := []struct {
		name      string
		principal Principal
		owner     uuid.UUID
		allowed   bool
	}{
		{
			name:      "admin always allowed",
			principal: Principal{Role: RoleAdmin},
			owner:     warehouseB,
			allowed:   true,
		},
		{
			name:      "operator allowed for own warehouse",
			principal: Principal{Role: RoleOperator, WarehouseID: warehouseA},
			owner:     warehouseA,
			allowed:   true,
		},
		{
			name:      "operator denied for other warehouse",
			principal: Principal{Role: RoleOperator, WarehouseID: warehouseA},
			owner:     warehouseB,
			allowed:   false,
		},
		{
			name:      "operator without warehouse denied",
			principal: Principal{Role: RoleOperator},
			owner:     warehouseA,
			allowed:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.principal, tt.owner)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"admin", "operator"} {
		role, err := ParseRole(valid)
		assert.NoError(t, err)
		assert.Equal(t, Role(valid), role)
	}

	for _, invalid := range []string{"", "Admin", "root", "superuser"} {
		_, err := ParseRole(invalid)
		assert.Error(t, err, "role %q", invalid)
	}
}

package models

import (
	"time"
)

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Caller identifies who is invoking an operation. SuperOperator callers are
// platform staff and pass tenant checks on tenant-owned configuration.
type Caller struct {
	TenantID      string `json:"tenant_id"`
	UserID        string `json:"user_id"`
	SuperOperator bool   `json:"super_operator"`
}

// CanAccess reports whether the caller may act on data owned by tenantID.
func (c Caller) CanAccess(tenantID string) bool {
	if c.SuperOperator {
		return true
	}
	return c.TenantID != "" && c.TenantID == tenantID
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultTenant = "default"

// UserRole links a user to a role within a tenant. Attributes are the ABAC payload checked for role-derived grants.
type UserRole struct {
	ID         uuid.UUID         `gorm:"type:char(36);primaryKey" json:"id"`
	UserID     uuid.UUID         `gorm:"type:char(36);not null;uniqueIndex:idx_user_role_tenant" json:"user_id"`
	RoleID     uuid.UUID         `gorm:"type:char(36);not null;uniqueIndex:idx_user_role_tenant;index" json:"role_id"`
	Role       *Role             `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	Tenant     string            `gorm:"type:varchar(100);not null;default:'default';uniqueIndex:idx_user_role_tenant" json:"tenant"`
	Attributes datatypes.JSONMap `json:"attributes"`
	ExpiresAt  *time.Time        `json:"expires_at"`
	AssignedBy *uuid.UUID        `gorm:"type:char(36)" json:"assigned_by"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (ur *UserRole) BeforeCreate(tx *gorm.DB) error {
	ensureID(&ur.ID)
	if ur.Tenant == "" {
		ur.Tenant = DefaultTenant
	}
	return nil
}

func (ur *UserRole) HasExpired(now time.Time) bool {
	return expired(ur.ExpiresAt, now)
}

// UserPermission is a direct grant (or deny) of one permission to one user.
// An empty ResourceID applies the grant to every instance of the resource.
type UserPermission struct {
	ID           uuid.UUID         `gorm:"type:char(36);primaryKey" json:"id"`
	UserID       uuid.UUID         `gorm:"type:char(36);not null;uniqueIndex:idx_user_permission_scope" json:"user_id"`
	PermissionID uuid.UUID         `gorm:"type:char(36);not null;uniqueIndex:idx_user_permission_scope;index" json:"permission_id"`
	Permission   *Permission       `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
	Tenant       string            `gorm:"type:varchar(100);not null;default:'default';uniqueIndex:idx_user_permission_scope" json:"tenant"`
	ResourceID   string            `gorm:"type:varchar(100);not null;default:'';uniqueIndex:idx_user_permission_scope" json:"resource_id,omitempty"`
	Conditions   datatypes.JSONMap `json:"conditions"`
	Deny         bool              `gorm:"default:false" json:"deny"`
	ExpiresAt    *time.Time        `json:"expires_at"`
	AssignedBy   *uuid.UUID        `gorm:"type:char(36)" json:"assigned_by"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (up *UserPermission) BeforeCreate(tx *gorm.DB) error {
	ensureID(&up.ID)
	if up.Tenant == "" {
		up.Tenant = DefaultTenant
	}
	return nil
}

func (up *UserPermission) HasExpired(now time.Time) bool {
	return expired(up.ExpiresAt, now)
}

// AppliesTo reports whether the grant's scope covers the requested instance.
func (up *UserPermission) AppliesTo(resourceID string) bool {
	return up.ResourceID == "" || up.ResourceID == resourceID
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Action is the verb half of a permission. ActionManage covers every other action on the same resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage}

func (a Action) Valid() bool {
	for _, v := range Actions {
		if a == v {
			return true
		}
	}
	return false
}

// Covers reports whether a grant of a satisfies a request for requested.
func (a Action) Covers(requested Action) bool {
	return a == requested || a == ActionManage
}

// Role is a named bundle of permissions
type Role struct {
	ID          uuid.UUID    `gorm:"type:char(36);primaryKey" json:"id"`
	Name        string       `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	IsSystem    bool         `gorm:"default:false" json:"is_system"` // name and description are frozen, permissions stay editable
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (r *Role) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// Grants reports whether any permission of the role matches the request.
func (r *Role) Grants(resource string, action Action) bool {
	for i := range r.Permissions {
		if r.Permissions[i].Matches(resource, action) {
			return true
		}
	}
	return false
}

// Permission is an immutable (resource, action) pair
type Permission struct {
	ID          uuid.UUID         `gorm:"type:char(36);primaryKey" json:"id"`
	Name        string            `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description string            `gorm:"type:text" json:"description"`
	Resource    string            `gorm:"type:varchar(100);not null;uniqueIndex:idx_permission_resource_action" json:"resource"`
	Action      Action            `gorm:"type:varchar(20);not null;uniqueIndex:idx_permission_resource_action" json:"action"`
	Attributes  datatypes.JSONMap `json:"attributes"`
	IsSystem    bool              `gorm:"default:false" json:"is_system"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

func (p *Permission) Matches(resource string, action Action) bool {
	return p.Resource == resource && p.Action.Covers(action)
}

// PermissionName is the conventional name of a (resource, action) permission, e.g. "cases:create".
func PermissionName(resource string, action Action) string {
	return resource + ":" + string(action)
}

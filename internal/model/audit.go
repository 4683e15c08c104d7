package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AuditCreatePermission  = "CREATE_PERMISSION"
	AuditUpdatePermission  = "UPDATE_PERMISSION"
	AuditDeletePermission  = "DELETE_PERMISSION"
	AuditCreateRole        = "CREATE_ROLE"
	AuditUpdateRole        = "UPDATE_ROLE"
	AuditDeleteRole        = "DELETE_ROLE"
	AuditAssignRole        = "ASSIGN_ROLE"
	AuditRevokeRole        = "REVOKE_ROLE"
	AuditAssignPermission  = "ASSIGN_PERMISSION"
	AuditRevokePermission  = "REVOKE_PERMISSION"
	AuditCreateProduct     = "CREATE_PRODUCT"
	AuditAdjustInventory   = "ADJUST_INVENTORY"
	AuditTransferInventory = "TRANSFER_INVENTORY"
	AuditCreateCase        = "CREATE_CASE"
	AuditUpdateCase        = "UPDATE_CASE"
	AuditCancelCase        = "CANCEL_CASE"
	AuditDeleteCase        = "DELETE_CASE"
	AuditReverseUsage      = "REVERSE_USAGE"
	AuditUpdateUsage       = "UPDATE_USAGE"
	AuditExpireBatches     = "EXPIRE_BATCHES"
	AuditCreateUser        = "CREATE_USER"
	AuditUpdateUser        = "UPDATE_USER"
	AuditDeleteUser        = "DELETE_USER"
	AuditBootstrap         = "BOOTSTRAP"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:char(36);index" json:"user_id"` // nil for system jobs
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:text" json:"details"` // JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

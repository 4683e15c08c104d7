package repository

import (
	"context"

	"medsales/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssignmentRepository stores user-role and user-permission links.
type AssignmentRepository interface {
	FindUserRole(ctx context.Context, userID, roleID uuid.UUID, tenant string) (*model.UserRole, error)
	SaveUserRole(ctx context.Context, ur *model.UserRole) error
	DeleteUserRole(ctx context.Context, userID, roleID uuid.UUID, tenant string) (int64, error)
	ListUserRoles(ctx context.Context, userID uuid.UUID, tenant string) ([]model.UserRole, error)
	ListRoleMembers(ctx context.Context, roleID uuid.UUID) ([]model.UserRole, error)

	FindUserPermission(ctx context.Context, userID, permissionID uuid.UUID, tenant, resourceID string) (*model.UserPermission, error)
	SaveUserPermission(ctx context.Context, up *model.UserPermission) error
	DeleteUserPermissions(ctx context.Context, userID, permissionID uuid.UUID, resourceID *string) (int64, error)
	ListUserPermissions(ctx context.Context, userID uuid.UUID, tenant string) ([]model.UserPermission, error)
}

type assignmentRepository struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) FindUserRole(ctx context.Context, userID, roleID uuid.UUID, tenant string) (*model.UserRole, error) {
	var ur model.UserRole
	err := GetDB(ctx, r.db).
		Where("user_id = ? AND role_id = ? AND tenant = ?", userID, roleID, tenant).
		First(&ur).Error
	if err != nil {
		return nil, err
	}
	return &ur, nil
}

func (r *assignmentRepository) SaveUserRole(ctx context.Context, ur *model.UserRole) error {
	return GetDB(ctx, r.db).Omit("Role").Save(ur).Error
}

func (r *assignmentRepository) DeleteUserRole(ctx context.Context, userID, roleID uuid.UUID, tenant string) (int64, error) {
	res := GetDB(ctx, r.db).
		Where("user_id = ? AND role_id = ? AND tenant = ?", userID, roleID, tenant).
		Delete(&model.UserRole{})
	return res.RowsAffected, res.Error
}

// ListUserRoles preloads each role's permissions. A dangling role id leaves Role nil.
func (r *assignmentRepository) ListUserRoles(ctx context.Context, userID uuid.UUID, tenant string) ([]model.UserRole, error) {
	var roles []model.UserRole
	err := GetDB(ctx, r.db).
		Preload("Role.Permissions").
		Where("user_id = ? AND tenant = ?", userID, tenant).
		Order("created_at asc").
		Find(&roles).Error
	return roles, err
}

func (r *assignmentRepository) ListRoleMembers(ctx context.Context, roleID uuid.UUID) ([]model.UserRole, error) {
	var members []model.UserRole
	err := GetDB(ctx, r.db).Where("role_id = ?", roleID).Order("created_at asc").Find(&members).Error
	return members, err
}

func (r *assignmentRepository) FindUserPermission(ctx context.Context, userID, permissionID uuid.UUID, tenant, resourceID string) (*model.UserPermission, error) {
	var up model.UserPermission
	err := GetDB(ctx, r.db).
		Where("user_id = ? AND permission_id = ? AND tenant = ? AND resource_id = ?", userID, permissionID, tenant, resourceID).
		First(&up).Error
	if err != nil {
		return nil, err
	}
	return &up, nil
}

func (r *assignmentRepository) SaveUserPermission(ctx context.Context, up *model.UserPermission) error {
	return GetDB(ctx, r.db).Omit("Permission").Save(up).Error
}

// DeleteUserPermissions removes every tenant's row for the pair. A nil resourceID matches any scope.
func (r *assignmentRepository) DeleteUserPermissions(ctx context.Context, userID, permissionID uuid.UUID, resourceID *string) (int64, error) {
	db := GetDB(ctx, r.db).Where("user_id = ? AND permission_id = ?", userID, permissionID)
	if resourceID != nil {
		db = db.Where("resource_id = ?", *resourceID)
	}
	res := db.Delete(&model.UserPermission{})
	return res.RowsAffected, res.Error
}

// ListUserPermissions preloads the permission. A dangling permission id leaves Permission nil.
func (r *assignmentRepository) ListUserPermissions(ctx context.Context, userID uuid.UUID, tenant string) ([]model.UserPermission, error) {
	var perms []model.UserPermission
	err := GetDB(ctx, r.db).
		Preload("Permission").
		Where("user_id = ? AND tenant = ?", userID, tenant).
		Order("created_at asc").
		Find(&perms).Error
	return perms, err
}

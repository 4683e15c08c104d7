package repository

import (
	"context"
	"strings"

	"medsales/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PermissionFilter struct {
	Resource string
	Action   model.Action
	Search   string
}

type PermissionRepository interface {
	Create(ctx context.Context, perm *model.Permission) error
	UpdateDetails(ctx context.Context, perm *model.Permission) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Permission, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Permission, error)
	FindByResourceAction(ctx context.Context, resource string, action model.Action) (*model.Permission, error)
	List(ctx context.Context, filter PermissionFilter, page, limit int) ([]model.Permission, int64, error)
	ListResources(ctx context.Context) ([]string, error)
	RolesWithPermission(ctx context.Context, id uuid.UUID) ([]model.Role, error)
	CountRoleReferences(ctx context.Context, id uuid.UUID) (int64, error)
	CountUserReferences(ctx context.Context, id uuid.UUID) (int64, error)
}

type permissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

func (r *permissionRepository) Create(ctx context.Context, perm *model.Permission) error {
	return GetDB(ctx, r.db).Create(perm).Error
}

// UpdateDetails never touches resource or action, which are immutable once created.
func (r *permissionRepository) UpdateDetails(ctx context.Context, perm *model.Permission) error {
	return GetDB(ctx, r.db).Model(perm).
		Select("name", "description", "attributes").
		Updates(map[string]interface{}{
			"name":        perm.Name,
			"description": perm.Description,
			"attributes":  perm.Attributes,
		}).Error
}

func (r *permissionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Permission{}).Error
}

func (r *permissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Permission, error) {
	var perm model.Permission
	if err := GetDB(ctx, r.db).First(&perm, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &perm, nil
}

func (r *permissionRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Permission, error) {
	var perms []model.Permission
	if len(ids) == 0 {
		return perms, nil
	}
	if err := GetDB(ctx, r.db).Where("id IN ?", ids).Find(&perms).Error; err != nil {
		return nil, err
	}
	return perms, nil
}

func (r *permissionRepository) FindByResourceAction(ctx context.Context, resource string, action model.Action) (*model.Permission, error) {
	var perm model.Permission
	if err := GetDB(ctx, r.db).Where("resource = ? AND action = ?", resource, action).First(&perm).Error; err != nil {
		return nil, err
	}
	return &perm, nil
}

func (r *permissionRepository) List(ctx context.Context, filter PermissionFilter, page, limit int) ([]model.Permission, int64, error) {
	var perms []model.Permission
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Permission{})
	if filter.Resource != "" {
		db = db.Where("resource = ?", filter.Resource)
	}
	if filter.Action != "" {
		db = db.Where("action = ?", filter.Action)
	}
	if filter.Search != "" {
		db = db.Where("LOWER(name) LIKE ?", "%"+lower(filter.Search)+"%")
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("resource asc, action asc").Offset(offset).Limit(limit).Find(&perms).Error; err != nil {
		return nil, 0, err
	}
	return perms, total, nil
}

func (r *permissionRepository) ListResources(ctx context.Context) ([]string, error) {
	var resources []string
	err := GetDB(ctx, r.db).Model(&model.Permission{}).
		Distinct("resource").Order("resource asc").Pluck("resource", &resources).Error
	return resources, err
}

func (r *permissionRepository) RolesWithPermission(ctx context.Context, id uuid.UUID) ([]model.Role, error) {
	var roles []model.Role
	err := GetDB(ctx, r.db).
		Joins("JOIN role_permissions rp ON rp.role_id = roles.id").
		Where("rp.permission_id = ?", id).
		Order("roles.name asc").
		Find(&roles).Error
	return roles, err
}

func (r *permissionRepository) CountRoleReferences(ctx context.Context, id uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Table("role_permissions").Where("permission_id = ?", id).Count(&count).Error
	return count, err
}

func (r *permissionRepository) CountUserReferences(ctx context.Context, id uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.UserPermission{}).Where("permission_id = ?", id).Count(&count).Error
	return count, err
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

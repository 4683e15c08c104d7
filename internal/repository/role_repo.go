package repository

import (
	"context"

	"medsales/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RoleRepository interface {
	Create(ctx context.Context, role *model.Role) error
	UpdateDetails(ctx context.Context, role *model.Role) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error)
	FindByIDWithPermissions(ctx context.Context, id uuid.UUID) (*model.Role, error)
	FindByName(ctx context.Context, name string) (*model.Role, error)
	List(ctx context.Context, page, limit int, search string) ([]model.Role, int64, error)
	AppendPermissions(ctx context.Context, role *model.Role, perms []model.Permission) error
	RemovePermissions(ctx context.Context, role *model.Role, perms []model.Permission) error
	ReplacePermissions(ctx context.Context, role *model.Role, perms []model.Permission) error
	CountAssignments(ctx context.Context, roleID uuid.UUID) (int64, error)
}

type roleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) Create(ctx context.Context, role *model.Role) error {
	return GetDB(ctx, r.db).Create(role).Error
}

// UpdateDetails writes name and description only; the permission set has its own methods.
func (r *roleRepository) UpdateDetails(ctx context.Context, role *model.Role) error {
	return GetDB(ctx, r.db).Model(role).
		Select("name", "description").
		Updates(map[string]interface{}{"name": role.Name, "description": role.Description}).Error
}

func (r *roleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	role := model.Role{ID: id}
	if err := db.Model(&role).Association("Permissions").Clear(); err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&model.Role{}).Error
}

func (r *roleRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).First(&role, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) FindByIDWithPermissions(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).Preload("Permissions").First(&role, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) FindByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).Preload("Permissions").Where("name = ?", name).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) List(ctx context.Context, page, limit int, search string) ([]model.Role, int64, error) {
	var roles []model.Role
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Role{})
	if search != "" {
		db = db.Where("LOWER(name) LIKE ?", "%"+lower(search)+"%")
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Preload("Permissions").Order("name asc").Offset(offset).Limit(limit).Find(&roles).Error; err != nil {
		return nil, 0, err
	}
	return roles, total, nil
}

func (r *roleRepository) AppendPermissions(ctx context.Context, role *model.Role, perms []model.Permission) error {
	if len(perms) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Model(role).Association("Permissions").Append(perms)
}

func (r *roleRepository) RemovePermissions(ctx context.Context, role *model.Role, perms []model.Permission) error {
	if len(perms) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Model(role).Association("Permissions").Delete(perms)
}

func (r *roleRepository) ReplacePermissions(ctx context.Context, role *model.Role, perms []model.Permission) error {
	assoc := GetDB(ctx, r.db).Model(role).Association("Permissions")
	if len(perms) == 0 {
		return assoc.Clear()
	}
	return assoc.Replace(perms)
}

// CountAssignments counts user-role rows referencing the role, expired ones included.
func (r *roleRepository) CountAssignments(ctx context.Context, roleID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.UserRole{}).Where("role_id = ?", roleID).Count(&count).Error
	return count, err
}

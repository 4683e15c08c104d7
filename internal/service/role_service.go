package service

import (
	"context"
	"errors"
	"fmt"

	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/pkg/apperr"
	"medsales/pkg/pagination"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreatePermissionRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Resource    string                 `json:"resource" binding:"required,max=100"`
	Action      string                 `json:"action" binding:"required,perm_action"`
	Attributes  map[string]interface{} `json:"attributes"`
}

// UpdatePermissionRequest fields are optional. Resource and action are accepted only to reject them.
type UpdatePermissionRequest struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Attributes  map[string]interface{} `json:"attributes"`
	Resource    *string                `json:"resource"`
	Action      *string                `json:"action"`
}

type PermissionListRequest struct {
	Resource string `form:"resource"`
	Action   string `form:"action"`
	Search   string `form:"search"`
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
}

type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required,max=50"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"` // Permission UUIDs
}

// UpdateRoleRequest replaces the permission set when Permissions is non-nil.
type UpdateRoleRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Permissions []string `json:"permissions"`
}

type RolePermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required,min=1"`
}

type RoleResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	IsSystem    bool                 `json:"is_system"`
	Permissions []PermissionResponse `json:"permissions"`
	CreatedAt   string               `json:"created_at"`
}

type PermissionResponse struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Resource    string                 `json:"resource"`
	Action      string                 `json:"action"`
	Attributes  map[string]interface{} `json:"attributes"`
	IsSystem    bool                   `json:"is_system"`
}

// --- Interface ---

type RoleService interface {
	ListPermissions(ctx context.Context, req PermissionListRequest) ([]PermissionResponse, int64, error)
	GetPermission(ctx context.Context, id string) (*PermissionResponse, error)
	CreatePermission(ctx context.Context, actor uuid.UUID, req CreatePermissionRequest) (*PermissionResponse, error)
	UpdatePermission(ctx context.Context, actor uuid.UUID, id string, req UpdatePermissionRequest) (*PermissionResponse, error)
	DeletePermission(ctx context.Context, actor uuid.UUID, id string) error
	ListResources(ctx context.Context) ([]string, error)
	RolesForPermission(ctx context.Context, id string) ([]RoleResponse, error)

	ListRoles(ctx context.Context, page, limit int, search string) ([]RoleResponse, int64, error)
	GetRole(ctx context.Context, id string) (*RoleResponse, error)
	CreateRole(ctx context.Context, actor uuid.UUID, req CreateRoleRequest) (*RoleResponse, error)
	UpdateRole(ctx context.Context, actor uuid.UUID, id string, req UpdateRoleRequest) (*RoleResponse, error)
	DeleteRole(ctx context.Context, actor uuid.UUID, id string) error
	AddPermissions(ctx context.Context, actor uuid.UUID, id string, req RolePermissionsRequest) (*RoleResponse, error)
	RemovePermissions(ctx context.Context, actor uuid.UUID, id string, req RolePermissionsRequest) (*RoleResponse, error)
	ReplacePermissions(ctx context.Context, actor uuid.UUID, id string, permissions []string) (*RoleResponse, error)
}

type roleService struct {
	roleRepo  repository.RoleRepository
	permRepo  repository.PermissionRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	cache     Invalidator
	log       *logrus.Logger
}

func NewRoleService(
	roleRepo repository.RoleRepository,
	permRepo repository.PermissionRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	cache Invalidator,
	log *logrus.Logger,
) RoleService {
	return &roleService{
		roleRepo:  roleRepo,
		permRepo:  permRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		cache:     cache,
		log:       log,
	}
}

// --- Permissions ---

func (s *roleService) ListPermissions(ctx context.Context, req PermissionListRequest) ([]PermissionResponse, int64, error) {
	page, limit := pageOf(req.Page, req.Limit, pagination.CatalogLimit)
	perms, total, err := s.permRepo.List(ctx, repository.PermissionFilter{
		Resource: req.Resource,
		Action:   model.Action(req.Action),
		Search:   req.Search,
	}, page, limit)
	if err != nil {
		return nil, 0, dbError(err, "", "fetch permissions")
	}

	res := make([]PermissionResponse, 0, len(perms))
	for _, p := range perms {
		res = append(res, toPermissionResponse(p))
	}
	return res, total, nil
}

func (s *roleService) GetPermission(ctx context.Context, id string) (*PermissionResponse, error) {
	perm, err := s.findPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toPermissionResponse(*perm)
	return &resp, nil
}

func (s *roleService) findPermission(ctx context.Context, id string) (*model.Permission, error) {
	permID, err := parseID(id, "permission")
	if err != nil {
		return nil, err
	}
	perm, err := s.permRepo.FindByID(ctx, permID)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("Permission not found with id of %s", id), "fetch permission")
	}
	return perm, nil
}

func (s *roleService) CreatePermission(ctx context.Context, actor uuid.UUID, req CreatePermissionRequest) (*PermissionResponse, error) {
	action := model.Action(req.Action)
	if !action.Valid() {
		return nil, apperr.Validation("Invalid action '%s'", req.Action)
	}
	if req.Resource == "" {
		return nil, apperr.Validation("Resource is required")
	}

	perm := model.Permission{
		Name:        req.Name,
		Description: req.Description,
		Resource:    req.Resource,
		Action:      action,
		Attributes:  datatypes.JSONMap(req.Attributes),
	}
	if perm.Name == "" {
		perm.Name = model.PermissionName(perm.Resource, perm.Action)
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := s.permRepo.FindByResourceAction(txCtx, perm.Resource, perm.Action)
		if err == nil {
			return apperr.Conflict("Permission for %s already exists", model.PermissionName(perm.Resource, perm.Action))
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dbError(err, "", "check permission")
		}

		if err := s.permRepo.Create(txCtx, &perm); err != nil {
			return dbError(err, "", "create permission")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditCreatePermission, perm.ID.String(), perm.Name, req)
	})
	if err != nil {
		return nil, err
	}

	resp := toPermissionResponse(perm)
	return &resp, nil
}

func (s *roleService) UpdatePermission(ctx context.Context, actor uuid.UUID, id string, req UpdatePermissionRequest) (*PermissionResponse, error) {
	perm, err := s.findPermission(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Resource != nil || req.Action != nil {
		if perm.IsSystem {
			return nil, apperr.Forbidden("Cannot modify resource or action of system permissions")
		}
		return nil, apperr.Validation("Resource and action of a permission cannot be changed; create a new permission instead")
	}

	if req.Name != nil {
		perm.Name = *req.Name
	}
	if req.Description != nil {
		perm.Description = *req.Description
	}
	if req.Attributes != nil {
		perm.Attributes = datatypes.JSONMap(req.Attributes)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.permRepo.UpdateDetails(txCtx, perm); err != nil {
			return dbError(err, "", "update permission")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditUpdatePermission, perm.ID.String(), perm.Name, req)
	})
	if err != nil {
		return nil, err
	}

	resp := toPermissionResponse(*perm)
	return &resp, nil
}

func (s *roleService) DeletePermission(ctx context.Context, actor uuid.UUID, id string) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		perm, err := s.findPermission(txCtx, id)
		if err != nil {
			return err
		}
		if perm.IsSystem {
			return apperr.Forbidden("Cannot delete system permissions")
		}

		roleRefs, err := s.permRepo.CountRoleReferences(txCtx, perm.ID)
		if err != nil {
			return dbError(err, "", "count role references")
		}
		if roleRefs > 0 {
			return apperr.Conflict("Cannot delete permission used by %d roles. Remove from roles first.", roleRefs)
		}

		userRefs, err := s.permRepo.CountUserReferences(txCtx, perm.ID)
		if err != nil {
			return dbError(err, "", "count user references")
		}
		if userRefs > 0 {
			return apperr.Conflict("Cannot delete permission assigned to %d users. Remove from users first.", userRefs)
		}

		if err := s.permRepo.Delete(txCtx, perm.ID); err != nil {
			return dbError(err, "", "delete permission")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditDeletePermission, perm.ID.String(), perm.Name, nil)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *roleService) ListResources(ctx context.Context) ([]string, error) {
	resources, err := s.permRepo.ListResources(ctx)
	if err != nil {
		return nil, dbError(err, "", "list resources")
	}
	return resources, nil
}

func (s *roleService) RolesForPermission(ctx context.Context, id string) ([]RoleResponse, error) {
	perm, err := s.findPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	roles, err := s.permRepo.RolesWithPermission(ctx, perm.ID)
	if err != nil {
		return nil, dbError(err, "", "fetch roles")
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

// --- Roles ---

func (s *roleService) ListRoles(ctx context.Context, page, limit int, search string) ([]RoleResponse, int64, error) {
	page, limit = pageOf(page, limit, pagination.CatalogLimit)
	roles, total, err := s.roleRepo.List(ctx, page, limit, search)
	if err != nil {
		return nil, 0, dbError(err, "", "fetch roles")
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, total, nil
}

func (s *roleService) GetRole(ctx context.Context, id string) (*RoleResponse, error) {
	role, err := s.findRole(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) findRole(ctx context.Context, id string) (*model.Role, error) {
	roleID, err := parseID(id, "role")
	if err != nil {
		return nil, err
	}
	role, err := s.roleRepo.FindByIDWithPermissions(ctx, roleID)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("Role not found with id of %s", id), "fetch role")
	}
	return role, nil
}

// resolvePermissions loads every id or fails naming the first missing one.
func (s *roleService) resolvePermissions(ctx context.Context, raw []string) ([]model.Permission, error) {
	ids, err := parseIDs(raw, "permission")
	if err != nil {
		return nil, err
	}
	perms, err := s.permRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, dbError(err, "", "fetch permissions")
	}
	found := make(map[uuid.UUID]bool, len(perms))
	for _, p := range perms {
		found[p.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, apperr.NotFound("Permission not found with id of %s", id)
		}
	}
	return perms, nil
}

func (s *roleService) CreateRole(ctx context.Context, actor uuid.UUID, req CreateRoleRequest) (*RoleResponse, error) {
	role := model.Role{
		Name:        req.Name,
		Description: req.Description,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.roleRepo.FindByName(txCtx, req.Name); err == nil {
			return apperr.Conflict("Role '%s' already exists", req.Name)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dbError(err, "", "check role name")
		}

		perms, err := s.resolvePermissions(txCtx, req.Permissions)
		if err != nil {
			return err
		}

		if err := s.roleRepo.Create(txCtx, &role); err != nil {
			return dbError(err, "", "create role")
		}
		if err := s.roleRepo.ReplacePermissions(txCtx, &role, perms); err != nil {
			return dbError(err, "", "assign permissions")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditCreateRole, role.ID.String(), role.Name, req)
	})
	if err != nil {
		return nil, err
	}

	return s.GetRole(ctx, role.ID.String())
}

func (s *roleService) UpdateRole(ctx context.Context, actor uuid.UUID, id string, req UpdateRoleRequest) (*RoleResponse, error) {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		role, err := s.findRole(txCtx, id)
		if err != nil {
			return err
		}

		detailsChanged := (req.Name != nil && *req.Name != role.Name) ||
			(req.Description != nil && *req.Description != role.Description)
		if detailsChanged {
			if role.IsSystem {
				return apperr.Forbidden("Cannot modify name or description of system roles")
			}
			if req.Name != nil {
				if *req.Name == "" {
					return apperr.Validation("Role name cannot be empty")
				}
				role.Name = *req.Name
			}
			if req.Description != nil {
				role.Description = *req.Description
			}
			if err := s.roleRepo.UpdateDetails(txCtx, role); err != nil {
				return dbError(err, "", "update role")
			}
		}

		if req.Permissions != nil {
			perms, err := s.resolvePermissions(txCtx, req.Permissions)
			if err != nil {
				return err
			}
			if err := s.roleRepo.ReplacePermissions(txCtx, role, perms); err != nil {
				return dbError(err, "", "update permissions")
			}
		}

		return writeAudit(txCtx, s.auditRepo, actor, model.AuditUpdateRole, role.ID.String(), role.Name, req)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	return s.GetRole(ctx, id)
}

func (s *roleService) DeleteRole(ctx context.Context, actor uuid.UUID, id string) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		role, err := s.findRole(txCtx, id)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return apperr.Forbidden("Cannot delete system roles")
		}

		assigned, err := s.roleRepo.CountAssignments(txCtx, role.ID)
		if err != nil {
			return dbError(err, "", "count role assignments")
		}
		if assigned > 0 {
			return apperr.Conflict("Cannot delete role assigned to %d users. Please reassign users first.", assigned)
		}

		if err := s.roleRepo.Delete(txCtx, role.ID); err != nil {
			return dbError(err, "", "delete role")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditDeleteRole, role.ID.String(), role.Name, nil)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// AddPermissions is a set union; ids already on the role are ignored.
func (s *roleService) AddPermissions(ctx context.Context, actor uuid.UUID, id string, req RolePermissionsRequest) (*RoleResponse, error) {
	return s.editPermissions(ctx, actor, id, req, func(txCtx context.Context, role *model.Role, perms []model.Permission) error {
		have := permissionSet(role.Permissions)
		missing := make([]model.Permission, 0, len(perms))
		for _, p := range perms {
			if !have[p.ID] {
				missing = append(missing, p)
			}
		}
		return s.roleRepo.AppendPermissions(txCtx, role, missing)
	})
}

// RemovePermissions is a set difference; ids not on the role are ignored.
func (s *roleService) RemovePermissions(ctx context.Context, actor uuid.UUID, id string, req RolePermissionsRequest) (*RoleResponse, error) {
	return s.editPermissions(ctx, actor, id, req, func(txCtx context.Context, role *model.Role, perms []model.Permission) error {
		have := permissionSet(role.Permissions)
		present := make([]model.Permission, 0, len(perms))
		for _, p := range perms {
			if have[p.ID] {
				present = append(present, p)
			}
		}
		return s.roleRepo.RemovePermissions(txCtx, role, present)
	})
}

// ReplacePermissions sets the role's permissions to exactly the given ids. An empty list clears them.
func (s *roleService) ReplacePermissions(ctx context.Context, actor uuid.UUID, id string, permissions []string) (*RoleResponse, error) {
	if permissions == nil {
		permissions = []string{}
	}
	return s.UpdateRole(ctx, actor, id, UpdateRoleRequest{Permissions: permissions})
}

func (s *roleService) editPermissions(
	ctx context.Context,
	actor uuid.UUID,
	id string,
	req RolePermissionsRequest,
	apply func(txCtx context.Context, role *model.Role, perms []model.Permission) error,
) (*RoleResponse, error) {
	if len(req.Permissions) == 0 {
		return nil, apperr.Validation("Please provide permissions array")
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		role, err := s.findRole(txCtx, id)
		if err != nil {
			return err
		}
		perms, err := s.resolvePermissions(txCtx, req.Permissions)
		if err != nil {
			return err
		}
		if err := apply(txCtx, role, perms); err != nil {
			return dbError(err, "", "update role permissions")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditUpdateRole, role.ID.String(), role.Name, req)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	return s.GetRole(ctx, id)
}

func (s *roleService) invalidate(ctx context.Context) {
	invalidate(ctx, s.cache, s.log)
}

// --- Helpers ---

func permissionSet(perms []model.Permission) map[uuid.UUID]bool {
	set := make(map[uuid.UUID]bool, len(perms))
	for _, p := range perms {
		set[p.ID] = true
	}
	return set
}

func toRoleResponse(r model.Role) RoleResponse {
	perms := make([]PermissionResponse, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		perms = append(perms, toPermissionResponse(p))
	}

	return RoleResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: perms,
		CreatedAt:   r.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func toPermissionResponse(p model.Permission) PermissionResponse {
	return PermissionResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		Resource:    p.Resource,
		Action:      string(p.Action),
		Attributes:  p.Attributes,
		IsSystem:    p.IsSystem,
	}
}

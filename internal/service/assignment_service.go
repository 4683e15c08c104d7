package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/pkg/apperr"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AssignRoleRequest struct {
	RoleID     string                 `json:"role_id" binding:"required,uuid"`
	Tenant     string                 `json:"tenant"`
	Attributes map[string]interface{} `json:"attributes"`
	ExpiresAt  *time.Time             `json:"expires_at"`
}

type AssignPermissionRequest struct {
	PermissionID string                 `json:"permission_id" binding:"required,uuid"`
	ResourceID   string                 `json:"resource_id"`
	Conditions   map[string]interface{} `json:"conditions"`
	Deny         bool                   `json:"deny"`
	Tenant       string                 `json:"tenant"`
	ExpiresAt    *time.Time             `json:"expires_at"`
}

type UserRoleResponse struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	RoleID     string                 `json:"role_id"`
	RoleName   string                 `json:"role_name"`
	Tenant     string                 `json:"tenant"`
	Attributes map[string]interface{} `json:"attributes"`
	ExpiresAt  *time.Time             `json:"expires_at"`
	Expired    bool                   `json:"expired"`
}

type UserPermissionResponse struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	PermissionID string                 `json:"permission_id"`
	Permission   string                 `json:"permission"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Conditions   map[string]interface{} `json:"conditions"`
	Deny         bool                   `json:"deny"`
	Tenant       string                 `json:"tenant"`
	ExpiresAt    *time.Time             `json:"expires_at"`
	Expired      bool                   `json:"expired"`
}

type AssignmentService interface {
	AssignRole(ctx context.Context, actor uuid.UUID, userID string, req AssignRoleRequest) (*UserRoleResponse, error)
	RemoveRole(ctx context.Context, actor uuid.UUID, userID, roleID, tenant string) error
	ListUserRoles(ctx context.Context, userID, tenant string) ([]UserRoleResponse, error)
	UsersInRole(ctx context.Context, roleID string) ([]UserRoleResponse, error)

	AssignPermission(ctx context.Context, actor uuid.UUID, userID string, req AssignPermissionRequest) (*UserPermissionResponse, error)
	RemovePermission(ctx context.Context, actor uuid.UUID, userID, permissionID string, resourceID *string) error
	ListUserPermissions(ctx context.Context, userID, tenant string) ([]UserPermissionResponse, error)

	// EffectivePermissions lists the "resource:action" names the user currently holds,
	// excluding expired and deny grants.
	EffectivePermissions(ctx context.Context, userID uuid.UUID, tenant string) ([]string, error)
}

type assignmentService struct {
	assignRepo repository.AssignmentRepository
	userRepo   repository.UserRepository
	roleRepo   repository.RoleRepository
	permRepo   repository.PermissionRepository
	auditRepo  repository.AuditRepository
	txManager  repository.TransactionManager
	cache      Invalidator
	log        *logrus.Logger
	now        func() time.Time
}

func NewAssignmentService(
	assignRepo repository.AssignmentRepository,
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	permRepo repository.PermissionRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	cache Invalidator,
	log *logrus.Logger,
) AssignmentService {
	return &assignmentService{
		assignRepo: assignRepo,
		userRepo:   userRepo,
		roleRepo:   roleRepo,
		permRepo:   permRepo,
		auditRepo:  auditRepo,
		txManager:  txManager,
		cache:      cache,
		log:        log,
		now:        time.Now,
	}
}

func tenantOrDefault(tenant string) string {
	if tenant == "" {
		return model.DefaultTenant
	}
	return tenant
}

func (s *assignmentService) findUser(ctx context.Context, raw string) (*model.User, error) {
	id, err := parseID(raw, "user")
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("User not found with id of %s", raw), "fetch user")
	}
	return user, nil
}

func (s *assignmentService) AssignRole(ctx context.Context, actor uuid.UUID, userID string, req AssignRoleRequest) (*UserRoleResponse, error) {
	tenant := tenantOrDefault(req.Tenant)
	var saved model.UserRole

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.findUser(txCtx, userID)
		if err != nil {
			return err
		}
		roleID, err := parseID(req.RoleID, "role")
		if err != nil {
			return err
		}
		role, err := s.roleRepo.FindByID(txCtx, roleID)
		if err != nil {
			return dbError(err, fmt.Sprintf("Role not found with id of %s", req.RoleID), "fetch role")
		}

		ur, err := s.assignRepo.FindUserRole(txCtx, user.ID, role.ID, tenant)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			ur = &model.UserRole{
				UserID:     user.ID,
				RoleID:     role.ID,
				Tenant:     tenant,
				AssignedBy: actorPtr(actor),
			}
		case err != nil:
			return dbError(err, "", "fetch role assignment")
		}
		ur.Attributes = datatypes.JSONMap(req.Attributes)
		if ur.Attributes == nil {
			ur.Attributes = datatypes.JSONMap{}
		}
		ur.ExpiresAt = req.ExpiresAt

		if err := s.assignRepo.SaveUserRole(txCtx, ur); err != nil {
			return dbError(err, "", "save role assignment")
		}
		ur.Role = role
		saved = *ur
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditAssignRole, user.ID.String(), role.Name, req)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	resp := s.toUserRoleResponse(saved)
	return &resp, nil
}

func (s *assignmentService) RemoveRole(ctx context.Context, actor uuid.UUID, userID, roleID, tenant string) error {
	uid, err := parseID(userID, "user")
	if err != nil {
		return err
	}
	rid, err := parseID(roleID, "role")
	if err != nil {
		return err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		rows, err := s.assignRepo.DeleteUserRole(txCtx, uid, rid, tenantOrDefault(tenant))
		if err != nil {
			return dbError(err, "", "delete role assignment")
		}
		if rows == 0 {
			return apperr.NotFound("User role not found")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditRevokeRole, uid.String(), rid.String(), map[string]string{"tenant": tenantOrDefault(tenant)})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *assignmentService) ListUserRoles(ctx context.Context, userID, tenant string) ([]UserRoleResponse, error) {
	uid, err := parseID(userID, "user")
	if err != nil {
		return nil, err
	}
	roles, err := s.assignRepo.ListUserRoles(ctx, uid, tenantOrDefault(tenant))
	if err != nil {
		return nil, dbError(err, "", "fetch user roles")
	}

	res := make([]UserRoleResponse, 0, len(roles))
	for _, ur := range roles {
		res = append(res, s.toUserRoleResponse(ur))
	}
	return res, nil
}

func (s *assignmentService) UsersInRole(ctx context.Context, roleID string) ([]UserRoleResponse, error) {
	rid, err := parseID(roleID, "role")
	if err != nil {
		return nil, err
	}
	role, err := s.roleRepo.FindByID(ctx, rid)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("Role not found with id of %s", roleID), "fetch role")
	}
	members, err := s.assignRepo.ListRoleMembers(ctx, rid)
	if err != nil {
		return nil, dbError(err, "", "fetch role members")
	}

	res := make([]UserRoleResponse, 0, len(members))
	for _, ur := range members {
		ur.Role = role
		res = append(res, s.toUserRoleResponse(ur))
	}
	return res, nil
}

// AssignPermission upserts on (user, permission, tenant, resource id). An existing row has its
// conditions, deny flag and expiry overwritten; assignedBy keeps the original grantor.
func (s *assignmentService) AssignPermission(ctx context.Context, actor uuid.UUID, userID string, req AssignPermissionRequest) (*UserPermissionResponse, error) {
	tenant := tenantOrDefault(req.Tenant)
	var saved model.UserPermission

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.findUser(txCtx, userID)
		if err != nil {
			return err
		}
		permID, err := parseID(req.PermissionID, "permission")
		if err != nil {
			return err
		}
		perm, err := s.permRepo.FindByID(txCtx, permID)
		if err != nil {
			return dbError(err, fmt.Sprintf("Permission not found with id of %s", req.PermissionID), "fetch permission")
		}

		up, err := s.assignRepo.FindUserPermission(txCtx, user.ID, perm.ID, tenant, req.ResourceID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			up = &model.UserPermission{
				UserID:       user.ID,
				PermissionID: perm.ID,
				ResourceID:   req.ResourceID,
				AssignedBy:   actorPtr(actor),
			}
		case err != nil:
			return dbError(err, "", "fetch user permission")
		}
		up.Conditions = datatypes.JSONMap(req.Conditions)
		if up.Conditions == nil {
			up.Conditions = datatypes.JSONMap{}
		}
		up.Deny = req.Deny
		up.Tenant = tenant
		up.ExpiresAt = req.ExpiresAt

		if err := s.assignRepo.SaveUserPermission(txCtx, up); err != nil {
			return dbError(err, "", "save user permission")
		}
		up.Permission = perm
		saved = *up
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditAssignPermission, user.ID.String(), perm.Name, req)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	resp := s.toUserPermissionResponse(saved)
	return &resp, nil
}

// RemovePermission deletes the user's rows for the permission in every tenant. A nil resourceID
// removes every scope; a non-nil one removes only that scope ("" is the unscoped grant).
func (s *assignmentService) RemovePermission(ctx context.Context, actor uuid.UUID, userID, permissionID string, resourceID *string) error {
	uid, err := parseID(userID, "user")
	if err != nil {
		return err
	}
	pid, err := parseID(permissionID, "permission")
	if err != nil {
		return err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		rows, err := s.assignRepo.DeleteUserPermissions(txCtx, uid, pid, resourceID)
		if err != nil {
			return dbError(err, "", "delete user permission")
		}
		if rows == 0 {
			return apperr.NotFound("User permission not found")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditRevokePermission, uid.String(), pid.String(), map[string]interface{}{"resource_id": resourceID, "removed": rows})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *assignmentService) ListUserPermissions(ctx context.Context, userID, tenant string) ([]UserPermissionResponse, error) {
	uid, err := parseID(userID, "user")
	if err != nil {
		return nil, err
	}
	perms, err := s.assignRepo.ListUserPermissions(ctx, uid, tenantOrDefault(tenant))
	if err != nil {
		return nil, dbError(err, "", "fetch user permissions")
	}

	res := make([]UserPermissionResponse, 0, len(perms))
	for _, up := range perms {
		res = append(res, s.toUserPermissionResponse(up))
	}
	return res, nil
}

func (s *assignmentService) EffectivePermissions(ctx context.Context, userID uuid.UUID, tenant string) ([]string, error) {
	tenant = tenantOrDefault(tenant)
	now := s.now()
	set := make(map[string]struct{})

	direct, err := s.assignRepo.ListUserPermissions(ctx, userID, tenant)
	if err != nil {
		return nil, dbError(err, "", "fetch user permissions")
	}
	for _, up := range direct {
		if up.Deny || up.Permission == nil || up.HasExpired(now) {
			continue
		}
		set[model.PermissionName(up.Permission.Resource, up.Permission.Action)] = struct{}{}
	}

	roles, err := s.assignRepo.ListUserRoles(ctx, userID, tenant)
	if err != nil {
		return nil, dbError(err, "", "fetch user roles")
	}
	for _, ur := range roles {
		if ur.Role == nil || ur.HasExpired(now) {
			continue
		}
		for _, p := range ur.Role.Permissions {
			set[model.PermissionName(p.Resource, p.Action)] = struct{}{}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *assignmentService) invalidate(ctx context.Context) {
	invalidate(ctx, s.cache, s.log)
}

func (s *assignmentService) toUserRoleResponse(ur model.UserRole) UserRoleResponse {
	resp := UserRoleResponse{
		ID:         ur.ID.String(),
		UserID:     ur.UserID.String(),
		RoleID:     ur.RoleID.String(),
		Tenant:     ur.Tenant,
		Attributes: ur.Attributes,
		ExpiresAt:  ur.ExpiresAt,
		Expired:    ur.HasExpired(s.now()),
	}
	if ur.Role != nil {
		resp.RoleName = ur.Role.Name
	}
	return resp
}

func (s *assignmentService) toUserPermissionResponse(up model.UserPermission) UserPermissionResponse {
	resp := UserPermissionResponse{
		ID:           up.ID.String(),
		UserID:       up.UserID.String(),
		PermissionID: up.PermissionID.String(),
		ResourceID:   up.ResourceID,
		Conditions:   up.Conditions,
		Deny:         up.Deny,
		Tenant:       up.Tenant,
		ExpiresAt:    up.ExpiresAt,
		Expired:      up.HasExpired(s.now()),
	}
	if up.Permission != nil {
		resp.Permission = up.Permission.Name
	}
	return resp
}

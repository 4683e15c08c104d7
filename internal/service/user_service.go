package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medsales/internal/auth"
	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/pkg/apperr"
	"medsales/pkg/pagination"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CreateUserRequest struct {
	Username string   `json:"username" binding:"required"`
	Email    string   `json:"email" binding:"required,email"`
	Phone    string   `json:"phone"`
	Password string   `json:"password" binding:"required,min=6"`
	Roles    []string `json:"roles"` // role names, assigned in the default tenant
}

type UpdateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email" binding:"omitempty,email"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"omitempty,min=6"`
	IsActive *bool  `json:"is_active"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// UserResponse never carries the password hash.
type UserResponse struct {
	ID          uuid.UUID  `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

// MeResponse is the profile of the calling user with what they may do.
type MeResponse struct {
	User        UserResponse       `json:"user"`
	Roles       []UserRoleResponse `json:"roles"`
	Permissions []string           `json:"permissions"`
}

type UserService interface {
	CreateUser(ctx context.Context, actor uuid.UUID, req CreateUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	Me(ctx context.Context, userID uuid.UUID) (*MeResponse, error)
	GetUserByID(ctx context.Context, id string) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, actor uuid.UUID, id string, req UpdateUserRequest) (*UserResponse, error)
	DeleteUser(ctx context.Context, actor uuid.UUID, id string) error
}

type userService struct {
	repo        repository.UserRepository
	roleRepo    repository.RoleRepository
	assignRepo  repository.AssignmentRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	assignments AssignmentService
	tokens      *auth.Tokens
	cache       Invalidator
	log         *logrus.Logger
}

func NewUserService(
	repo repository.UserRepository,
	roleRepo repository.RoleRepository,
	assignRepo repository.AssignmentRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	assignments AssignmentService,
	tokens *auth.Tokens,
	cache Invalidator,
	log *logrus.Logger,
) UserService {
	return &userService{
		repo:        repo,
		roleRepo:    roleRepo,
		assignRepo:  assignRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		assignments: assignments,
		tokens:      tokens,
		cache:       cache,
		log:         log,
	}
}

func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Phone:       user.Phone,
		IsActive:    user.IsActive,
		LastLoginAt: user.LastLoginAt,
		CreatedAt:   user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   user.UpdatedAt.Format(time.RFC3339),
	}
}

func hashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Infrastructure(err, "failed to hash password")
	}
	return string(hashed), nil
}

func (s *userService) ensureUnique(ctx context.Context, username, email string) error {
	if username != "" {
		if _, err := s.repo.GetByUsername(ctx, username); err == nil {
			return apperr.Conflict("Username %s already exists", username)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dbError(err, "", "check username")
		}
	}
	if email != "" {
		if _, err := s.repo.GetByEmail(ctx, email); err == nil {
			return apperr.Conflict("Email %s already exists", email)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dbError(err, "", "check email")
		}
	}
	return nil
}

func (s *userService) CreateUser(ctx context.Context, actor uuid.UUID, req CreateUserRequest) (*UserResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: hashed,
		IsActive: true,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.ensureUnique(txCtx, req.Username, req.Email); err != nil {
			return err
		}
		if err := s.repo.Create(txCtx, user); err != nil {
			return dbError(err, "", "create user")
		}
		for _, name := range req.Roles {
			role, err := s.roleRepo.FindByName(txCtx, name)
			if err != nil {
				return dbError(err, fmt.Sprintf("Role %s not found", name), "find role")
			}
			ur := &model.UserRole{
				UserID:     user.ID,
				RoleID:     role.ID,
				Tenant:     model.DefaultTenant,
				Attributes: datatypes.JSONMap{},
				AssignedBy: actorPtr(actor),
			}
			if err := s.assignRepo.SaveUserRole(txCtx, ur); err != nil {
				return dbError(err, "", "assign role")
			}
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditCreateUser, user.ID.String(), user.Username, map[string]interface{}{
			"email": user.Email,
			"roles": req.Roles,
		})
	})
	if err != nil {
		return nil, err
	}
	return mapToResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Unauthorized("Invalid email or password")
		}
		return nil, dbError(err, "", "find user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthorized("Invalid email or password")
	}
	if !user.IsActive {
		return nil, apperr.Forbidden("Account is disabled")
	}

	token, exp, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to generate token")
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, dbError(err, "", "record login")
	}

	return &TokenResponse{Token: token, ExpiresAt: exp, User: *mapToResponse(user)}, nil
}

func (s *userService) Me(ctx context.Context, userID uuid.UUID) (*MeResponse, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, dbError(err, "User not found", "find user")
	}
	roles, err := s.assignments.ListUserRoles(ctx, userID.String(), model.DefaultTenant)
	if err != nil {
		return nil, err
	}
	perms, err := s.assignments.EffectivePermissions(ctx, userID, model.DefaultTenant)
	if err != nil {
		return nil, err
	}
	return &MeResponse{User: *mapToResponse(user), Roles: roles, Permissions: perms}, nil
}

func (s *userService) find(ctx context.Context, raw string) (*model.User, error) {
	id, err := parseID(raw, "user")
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("User not found with id of %s", raw), "find user")
	}
	return user, nil
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*UserResponse, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	page, limit = pageOf(page, limit, pagination.UserLimit)

	users, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, dbError(err, "", "list users")
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}
	return responses, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, actor uuid.UUID, id string, req UpdateUserRequest) (*UserResponse, error) {
	var user *model.User
	changed := map[string]interface{}{}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		user, err = s.find(txCtx, id)
		if err != nil {
			return err
		}

		if req.Username != "" && req.Username != user.Username {
			if err := s.ensureUnique(txCtx, req.Username, ""); err != nil {
				return err
			}
			user.Username = req.Username
			changed["username"] = req.Username
		}
		if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" && email != user.Email {
			if err := s.ensureUnique(txCtx, "", email); err != nil {
				return err
			}
			user.Email = email
			changed["email"] = email
		}
		if req.Phone != "" {
			user.Phone = req.Phone
			changed["phone"] = req.Phone
		}
		if req.Password != "" {
			hashed, err := hashPassword(req.Password)
			if err != nil {
				return err
			}
			user.Password = hashed
			changed["password"] = "changed"
		}
		if req.IsActive != nil && *req.IsActive != user.IsActive {
			if !*req.IsActive && user.ID == actor {
				return apperr.Forbidden("You cannot deactivate your own account")
			}
			user.IsActive = *req.IsActive
			changed["is_active"] = *req.IsActive
		}

		if err := s.repo.Update(txCtx, user); err != nil {
			return dbError(err, "", "update user")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditUpdateUser, user.ID.String(), user.Username, changed)
	})
	if err != nil {
		return nil, err
	}

	if _, ok := changed["is_active"]; ok {
		invalidate(ctx, s.cache, s.log)
	}
	return mapToResponse(user), nil
}

func (s *userService) DeleteUser(ctx context.Context, actor uuid.UUID, id string) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.find(txCtx, id)
		if err != nil {
			return err
		}
		if user.ID == actor {
			return apperr.Forbidden("You cannot delete your own account")
		}
		if err := s.repo.Delete(txCtx, user.ID); err != nil {
			return dbError(err, "", "delete user")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditDeleteUser, user.ID.String(), user.Username, nil)
	})
	if err != nil {
		return err
	}
	invalidate(ctx, s.cache, s.log)
	return nil
}

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"medsales/configs"
	"medsales/internal/model"
	"medsales/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gopkg.in/yaml.v3"
)

// BootstrapSeed is the seed document: system permissions, system roles and an optional first admin.
type BootstrapSeed struct {
	Permissions []PermissionSeed `yaml:"permissions"`
	Roles       []RoleSeed       `yaml:"roles"`
	Admin       *AdminSeed       `yaml:"admin"`
}

type PermissionSeed struct {
	Resource string         `yaml:"resource"`
	Label    string         `yaml:"label"`
	Actions  []model.Action `yaml:"actions"`
}

type RoleSeed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	All         bool     `yaml:"all"`
	Grants      []string `yaml:"grants"` // resource:action
}

type AdminSeed struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

type BootstrapResult struct {
	PermissionsCreated int  `json:"permissions_created"`
	RolesCreated       int  `json:"roles_created"`
	GrantsAdded        int  `json:"grants_added"`
	AdminCreated       bool `json:"admin_created"`
}

// LoadBootstrap reads the seed file at path, or the embedded default when path is empty.
// ${VAR} references are expanded from the environment before parsing.
func LoadBootstrap(path string) (*BootstrapSeed, error) {
	raw := configs.DefaultBootstrap
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read bootstrap file: %w", err)
		}
		raw = b
	}
	return ParseBootstrap([]byte(os.ExpandEnv(string(raw))))
}

func ParseBootstrap(data []byte) (*BootstrapSeed, error) {
	var seed BootstrapSeed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse bootstrap file: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *BootstrapSeed) validate() error {
	declared := make(map[string]bool)
	for _, p := range s.Permissions {
		if p.Resource == "" {
			return errors.New("bootstrap: permission without resource")
		}
		for _, a := range p.Actions {
			if !a.Valid() {
				return fmt.Errorf("bootstrap: invalid action %q on %s", a, p.Resource)
			}
			declared[model.PermissionName(p.Resource, a)] = true
		}
	}
	names := make(map[string]bool)
	for _, r := range s.Roles {
		if r.Name == "" {
			return errors.New("bootstrap: role without name")
		}
		if names[r.Name] {
			return fmt.Errorf("bootstrap: duplicate role %s", r.Name)
		}
		names[r.Name] = true
		for _, g := range r.Grants {
			if !declared[g] {
				return fmt.Errorf("bootstrap: role %s grants undeclared permission %s", r.Name, g)
			}
		}
	}
	if s.Admin != nil && s.Admin.Role != "" && !names[s.Admin.Role] {
		return fmt.Errorf("bootstrap: admin role %s is not declared", s.Admin.Role)
	}
	return nil
}

// Bootstrapper applies a BootstrapSeed. Existing rows are never modified or removed, only missing
// permissions, roles and grants are added, so it is safe to run on every deploy.
type Bootstrapper struct {
	permRepo   repository.PermissionRepository
	roleRepo   repository.RoleRepository
	userRepo   repository.UserRepository
	assignRepo repository.AssignmentRepository
	auditRepo  repository.AuditRepository
	txManager  repository.TransactionManager
	cache      Invalidator
	log        *logrus.Logger
}

func NewBootstrapper(
	permRepo repository.PermissionRepository,
	roleRepo repository.RoleRepository,
	userRepo repository.UserRepository,
	assignRepo repository.AssignmentRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	cache Invalidator,
	log *logrus.Logger,
) *Bootstrapper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bootstrapper{
		permRepo:   permRepo,
		roleRepo:   roleRepo,
		userRepo:   userRepo,
		assignRepo: assignRepo,
		auditRepo:  auditRepo,
		txManager:  txManager,
		cache:      cache,
		log:        log,
	}
}

func (b *Bootstrapper) Run(ctx context.Context, seed *BootstrapSeed) (*BootstrapResult, error) {
	var res BootstrapResult
	err := b.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		perms, err := b.seedPermissions(txCtx, seed.Permissions, &res)
		if err != nil {
			return err
		}
		roles, err := b.seedRoles(txCtx, seed.Roles, perms, &res)
		if err != nil {
			return err
		}
		if err := b.seedAdmin(txCtx, seed.Admin, roles, &res); err != nil {
			return err
		}
		if res == (BootstrapResult{}) {
			return nil
		}
		return writeAudit(txCtx, b.auditRepo, uuid.Nil, model.AuditBootstrap, "", "bootstrap", res)
	})
	if err != nil {
		return nil, err
	}

	b.log.WithFields(logrus.Fields{
		"permissions_created": res.PermissionsCreated,
		"roles_created":       res.RolesCreated,
		"grants_added":        res.GrantsAdded,
		"admin_created":       res.AdminCreated,
	}).Info("bootstrap complete")
	invalidate(ctx, b.cache, b.log)
	return &res, nil
}

func actionLabel(a model.Action) string {
	s := string(a)
	return strings.ToUpper(s[:1]) + s[1:]
}

func (b *Bootstrapper) seedPermissions(ctx context.Context, seeds []PermissionSeed, res *BootstrapResult) (map[string]model.Permission, error) {
	out := make(map[string]model.Permission)
	for _, seed := range seeds {
		label := seed.Label
		if label == "" {
			label = seed.Resource
		}
		for _, action := range seed.Actions {
			key := model.PermissionName(seed.Resource, action)
			perm, err := b.permRepo.FindByResourceAction(ctx, seed.Resource, action)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				perm = &model.Permission{
					Name:        key,
					Description: fmt.Sprintf("%s %s", actionLabel(action), label),
					Resource:    seed.Resource,
					Action:      action,
					Attributes:  datatypes.JSONMap{},
					IsSystem:    true,
				}
				if err := b.permRepo.Create(ctx, perm); err != nil {
					return nil, dbError(err, "", "seed permission "+key)
				}
				res.PermissionsCreated++
			} else if err != nil {
				return nil, dbError(err, "", "find permission "+key)
			}
			out[key] = *perm
		}
	}
	return out, nil
}

func (b *Bootstrapper) seedRoles(ctx context.Context, seeds []RoleSeed, perms map[string]model.Permission, res *BootstrapResult) (map[string]*model.Role, error) {
	out := make(map[string]*model.Role)
	for _, seed := range seeds {
		role, err := b.roleRepo.FindByName(ctx, seed.Name)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			role = &model.Role{Name: seed.Name, Description: seed.Description, IsSystem: true}
			if err := b.roleRepo.Create(ctx, role); err != nil {
				return nil, dbError(err, "", "seed role "+seed.Name)
			}
			res.RolesCreated++
		} else if err != nil {
			return nil, dbError(err, "", "find role "+seed.Name)
		}

		have := permissionSet(role.Permissions)
		var missing []model.Permission
		if seed.All {
			for _, p := range perms {
				if !have[p.ID] {
					missing = append(missing, p)
				}
			}
		} else {
			for _, g := range seed.Grants {
				if p := perms[g]; !have[p.ID] {
					missing = append(missing, p)
				}
			}
		}
		if err := b.roleRepo.AppendPermissions(ctx, role, missing); err != nil {
			return nil, dbError(err, "", "grant permissions to "+seed.Name)
		}
		res.GrantsAdded += len(missing)
		out[seed.Name] = role
	}
	return out, nil
}

func (b *Bootstrapper) seedAdmin(ctx context.Context, seed *AdminSeed, roles map[string]*model.Role, res *BootstrapResult) error {
	if seed == nil || seed.Email == "" || seed.Password == "" {
		b.log.Info("bootstrap: no admin credentials configured, skipping admin account")
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(seed.Email))

	user, err := b.userRepo.GetByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hashed, err := hashPassword(seed.Password)
		if err != nil {
			return err
		}
		username := seed.Username
		if username == "" {
			username = "admin"
		}
		user = &model.User{Username: username, Email: email, Password: hashed, IsActive: true}
		if err := b.userRepo.Create(ctx, user); err != nil {
			return dbError(err, "", "create admin user")
		}
		res.AdminCreated = true
	} else if err != nil {
		return dbError(err, "", "find admin user")
	}

	role, ok := roles[seed.Role]
	if !ok {
		return nil
	}
	_, err = b.assignRepo.FindUserRole(ctx, user.ID, role.ID, model.DefaultTenant)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dbError(err, "", "find admin role")
	}
	ur := &model.UserRole{UserID: user.ID, RoleID: role.ID, Tenant: model.DefaultTenant, Attributes: datatypes.JSONMap{}}
	if err := b.assignRepo.SaveUserRole(ctx, ur); err != nil {
		return dbError(err, "", "assign admin role")
	}
	res.GrantsAdded++
	return nil
}

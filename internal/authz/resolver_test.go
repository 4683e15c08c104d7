package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/internal/testutil"
	"medsales/pkg/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	resolver *Resolver
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &fixture{
		db:       db,
		now:      now,
		resolver: NewResolver(repository.NewAssignmentRepository(db), WithClock(func() time.Time { return now })),
	}
}

func (f *fixture) permission(t *testing.T, resource string, action model.Action) model.Permission {
	p := model.Permission{Name: model.PermissionName(resource, action), Resource: resource, Action: action}
	require.NoError(t, f.db.Create(&p).Error)
	return p
}

func (f *fixture) role(t *testing.T, name string, perms ...model.Permission) model.Role {
	r := model.Role{Name: name, Permissions: perms}
	require.NoError(t, f.db.Create(&r).Error)
	return r
}

func (f *fixture) assignRole(t *testing.T, user uuid.UUID, role model.Role, mutate ...func(*model.UserRole)) {
	ur := model.UserRole{UserID: user, RoleID: role.ID}
	for _, m := range mutate {
		m(&ur)
	}
	require.NoError(t, f.db.Omit("Role").Create(&ur).Error)
}

func (f *fixture) grant(t *testing.T, user uuid.UUID, perm model.Permission, mutate ...func(*model.UserPermission)) {
	up := model.UserPermission{UserID: user, PermissionID: perm.ID}
	for _, m := range mutate {
		m(&up)
	}
	require.NoError(t, f.db.Omit("Permission").Create(&up).Error)
}

func (f *fixture) authorize(t *testing.T, req Request, check AttributeCheck) Decision {
	d, err := f.resolver.Authorize(context.Background(), req, check)
	require.NoError(t, err)
	return d
}

func TestRoleGrantAllowsOnlyItsAction(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	create := f.permission(t, "cases", model.ActionCreate)
	f.assignRole(t, user, f.role(t, "sales_representative", create))

	d := f.authorize(t, Request{UserID: user, Resource: "cases", Action: model.ActionCreate}, nil)
	assert.True(t, d.Allowed)
	assert.Equal(t, SourceRole, d.Source)

	d = f.authorize(t, Request{UserID: user, Resource: "cases", Action: model.ActionDelete}, nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Not authorized to delete on cases", d.Reason)
}

func TestExpiredAssignmentsAreIgnored(t *testing.T) {
	f := newFixture(t)
	past := f.now.Add(-time.Minute)
	future := f.now.Add(time.Hour)

	read := f.permission(t, "hospitals", model.ActionRead)
	update := f.permission(t, "hospitals", model.ActionUpdate)

	expiredUser := uuid.New()
	f.assignRole(t, expiredUser, f.role(t, "viewer", read), func(ur *model.UserRole) { ur.ExpiresAt = &past })
	f.grant(t, expiredUser, update, func(up *model.UserPermission) { up.ExpiresAt = &past })

	assert.False(t, f.authorize(t, Request{UserID: expiredUser, Resource: "hospitals", Action: model.ActionRead}, nil).Allowed)
	assert.False(t, f.authorize(t, Request{UserID: expiredUser, Resource: "hospitals", Action: model.ActionUpdate}, nil).Allowed)

	activeUser := uuid.New()
	f.grant(t, activeUser, update, func(up *model.UserPermission) { up.ExpiresAt = &future })
	assert.True(t, f.authorize(t, Request{UserID: activeUser, Resource: "hospitals", Action: model.ActionUpdate}, nil).Allowed)

	// the rows remain after expiry
	var count int64
	require.NoError(t, f.db.Model(&model.UserRole{}).Where("user_id = ?", expiredUser).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestManageCoversEveryAction(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.assignRole(t, user, f.role(t, "inventory_manager", f.permission(t, "inventory", model.ActionManage)))

	for _, a := range []model.Action{model.ActionCreate, model.ActionRead, model.ActionUpdate, model.ActionDelete} {
		assert.True(t, f.authorize(t, Request{UserID: user, Resource: "inventory", Action: a}, nil).Allowed, a)
	}
	assert.False(t, f.authorize(t, Request{UserID: user, Resource: "cases", Action: model.ActionRead}, nil).Allowed)
}

func TestDirectGrantWithoutRoles(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.grant(t, user, f.permission(t, "doctors", model.ActionUpdate))

	d := f.authorize(t, Request{UserID: user, Resource: "doctors", Action: model.ActionUpdate}, nil)
	assert.True(t, d.Allowed)
	assert.Equal(t, SourceDirect, d.Source)
}

func TestResourceScopedGrantDoesNotGeneralize(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.grant(t, user, f.permission(t, "hospitals", model.ActionUpdate), func(up *model.UserPermission) { up.ResourceID = "H1" })

	req := Request{UserID: user, Resource: "hospitals", Action: model.ActionUpdate}

	req.ResourceID = "H1"
	assert.True(t, f.authorize(t, req, nil).Allowed)

	req.ResourceID = "H2"
	assert.False(t, f.authorize(t, req, nil).Allowed)

	req.ResourceID = ""
	assert.False(t, f.authorize(t, req, nil).Allowed)
}

func TestDenyOverridesRoleAllow(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	del := f.permission(t, "cases", model.ActionDelete)
	f.assignRole(t, user, f.role(t, "sales_manager", f.permission(t, "cases", model.ActionManage)))
	f.grant(t, user, del, func(up *model.UserPermission) { up.Deny = true })

	d := f.authorize(t, Request{UserID: user, Resource: "cases", Action: model.ActionDelete}, nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, SourceDeny, d.Source)
	assert.Equal(t, "Not authorized to delete on cases", d.Reason)

	// other actions still flow from the role
	assert.True(t, f.authorize(t, Request{UserID: user, Resource: "cases", Action: model.ActionRead}, nil).Allowed)
}

func TestConditionalDenyAppliesOnlyWhenConditionsHold(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	update := f.permission(t, "cases", model.ActionUpdate)
	f.assignRole(t, user, f.role(t, "editor", update))
	f.grant(t, user, update, func(up *model.UserPermission) {
		up.Deny = true
		up.Conditions = datatypes.JSONMap{"status": "Completed"}
	})

	completed := Request{UserID: user, Resource: "cases", Action: model.ActionUpdate, Attributes: map[string]interface{}{"status": "Completed"}}
	active := Request{UserID: user, Resource: "cases", Action: model.ActionUpdate, Attributes: map[string]interface{}{"status": "Active"}}

	assert.False(t, f.authorize(t, completed, MatchConditions).Allowed)
	assert.True(t, f.authorize(t, active, MatchConditions).Allowed)
	// without a predicate the deny is unconditional
	assert.False(t, f.authorize(t, active, nil).Allowed)
}

func TestRoleAttributesAreCheckedByPredicate(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.assignRole(t, user, f.role(t, "regional", f.permission(t, "hospitals", model.ActionRead)), func(ur *model.UserRole) {
		ur.Attributes = datatypes.JSONMap{"region": []interface{}{"north", "east"}}
	})

	north := Request{UserID: user, Resource: "hospitals", Action: model.ActionRead, Attributes: map[string]interface{}{"region": "north"}}
	south := Request{UserID: user, Resource: "hospitals", Action: model.ActionRead, Attributes: map[string]interface{}{"region": "south"}}

	assert.True(t, f.authorize(t, north, MatchConditions).Allowed)
	assert.False(t, f.authorize(t, south, MatchConditions).Allowed)
	assert.True(t, f.authorize(t, south, nil).Allowed, "no predicate supplied")
}

func TestEveryMatchingGrantIsTried(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	read := f.permission(t, "products", model.ActionRead)
	f.assignRole(t, user, f.role(t, "north_only", read), func(ur *model.UserRole) {
		ur.Attributes = datatypes.JSONMap{"region": "north"}
	})
	f.assignRole(t, user, f.role(t, "south_only", read), func(ur *model.UserRole) {
		ur.Attributes = datatypes.JSONMap{"region": "south"}
	})

	req := Request{UserID: user, Resource: "products", Action: model.ActionRead, Attributes: map[string]interface{}{"region": "south"}}
	assert.True(t, f.authorize(t, req, MatchConditions).Allowed)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.assignRole(t, user, f.role(t, "acme_reader", f.permission(t, "cases", model.ActionRead)), func(ur *model.UserRole) {
		ur.Tenant = "acme"
	})

	assert.True(t, f.authorize(t, Request{UserID: user, Tenant: "acme", Resource: "cases", Action: model.ActionRead}, nil).Allowed)
	assert.False(t, f.authorize(t, Request{UserID: user, Resource: "cases", Action: model.ActionRead}, nil).Allowed)
}

func TestDanglingReferencesDoNotMatch(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	require.NoError(t, f.db.Omit("Role").Create(&model.UserRole{UserID: user, RoleID: uuid.New()}).Error)
	require.NoError(t, f.db.Omit("Permission").Create(&model.UserPermission{UserID: user, PermissionID: uuid.New()}).Error)

	d := f.authorize(t, Request{UserID: user, Resource: "cases", Action: model.ActionRead}, nil)
	assert.False(t, d.Allowed)
}

func TestInvalidActionIsDenied(t *testing.T) {
	f := newFixture(t)
	d := f.authorize(t, Request{UserID: uuid.New(), Resource: "cases", Action: "publish"}, nil)
	assert.False(t, d.Allowed)
}

type failingStore struct{ err error }

func (s failingStore) ListUserPermissions(context.Context, uuid.UUID, string) ([]model.UserPermission, error) {
	return nil, s.err
}

func (s failingStore) ListUserRoles(context.Context, uuid.UUID, string) ([]model.UserRole, error) {
	return nil, s.err
}

func TestStoreFailureIsInfrastructureError(t *testing.T) {
	r := NewResolver(failingStore{err: errors.New("connection refused")})

	_, err := r.Authorize(context.Background(), Request{UserID: uuid.New(), Resource: "cases", Action: model.ActionRead}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInfrastructure, apperr.KindOf(err))
}

func TestDatabaseFailureIsInfrastructureError(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("server closed the connection"))

	r := NewResolver(repository.NewAssignmentRepository(db))
	_, err := r.Authorize(context.Background(), Request{UserID: uuid.New(), Resource: "cases", Action: model.ActionRead}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInfrastructure))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPredicateFailureIsInfrastructureError(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.grant(t, user, f.permission(t, "cases", model.ActionRead), func(up *model.UserPermission) {
		up.Conditions = datatypes.JSONMap{"owner": "x"}
	})

	boom := func(context.Context, Request, map[string]interface{}) (bool, error) {
		return false, errors.New("policy service down")
	}
	_, err := f.resolver.Authorize(context.Background(), Request{UserID: user, Resource: "cases", Action: model.ActionRead}, boom)
	assert.Equal(t, apperr.KindInfrastructure, apperr.KindOf(err))
}

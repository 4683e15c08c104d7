package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"medsales/internal/auth"
	"medsales/internal/authz"
	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordedEvent struct {
	name string
	data interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event, data})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.name)
	}
	return out
}

type countingCache struct {
	calls int
	err   error
}

func (c *countingCache) Invalidate(context.Context) error {
	c.calls++
	return c.err
}

type env struct {
	db     *gorm.DB
	repos  repos
	events *recorder
	cache  *countingCache
	log    *logrus.Logger
	hook   *test.Hook

	ledger      *Ledger
	roles       RoleService
	assignments AssignmentService
	inventory   InventoryService
	cases       CaseService
	usage       UsageService
	users       UserService
	audit       AuditService
	resolver    *authz.Resolver
}

type repos struct {
	roles       repository.RoleRepository
	perms       repository.PermissionRepository
	assignments repository.AssignmentRepository
	users       repository.UserRepository
	products    repository.ProductRepository
	batches     repository.InventoryRepository
	txs         repository.InventoryTxRepository
	cases       repository.CaseRepository
	usage       repository.UsageRepository
	audit       repository.AuditRepository
	tx          repository.TransactionManager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	log, hook := test.NewNullLogger()

	r := repos{
		roles:       repository.NewRoleRepository(db),
		perms:       repository.NewPermissionRepository(db),
		assignments: repository.NewAssignmentRepository(db),
		users:       repository.NewUserRepository(db),
		products:    repository.NewProductRepository(db),
		batches:     repository.NewInventoryRepository(db),
		txs:         repository.NewInventoryTxRepository(db),
		cases:       repository.NewCaseRepository(db),
		usage:       repository.NewUsageRepository(db),
		audit:       repository.NewAuditRepository(db),
		tx:          repository.NewTransactionManager(db),
	}
	e := &env{db: db, repos: r, events: &recorder{}, cache: &countingCache{}, log: log, hook: hook}

	e.ledger = NewLedger(r.batches, r.txs, nil)
	e.resolver = authz.NewResolver(r.assignments)
	e.roles = NewRoleService(r.roles, r.perms, r.audit, r.tx, e.cache, log)
	e.assignments = NewAssignmentService(r.assignments, r.users, r.roles, r.perms, r.audit, r.tx, e.cache, log)
	e.inventory = NewInventoryService(r.products, r.batches, r.txs, r.audit, r.tx, e.ledger, e.events)
	e.usage = NewUsageService(r.usage, r.batches, r.cases, r.audit, r.tx, e.ledger, e.resolver, e.events, 24*time.Hour)
	e.cases = NewCaseService(r.cases, r.products, r.usage, r.audit, r.tx, e.ledger, e.usage, nil, e.events)
	e.users = NewUserService(r.users, r.roles, r.assignments, r.audit, r.tx, e.assignments, auth.NewTokens("test-secret", time.Hour), e.cache, log)
	e.audit = NewAuditService(r.audit)
	return e
}

var bg = context.Background()

func (e *env) user(t *testing.T, name string) model.User {
	t.Helper()
	u := model.User{Username: name, Email: name + "@example.com", Password: "x", IsActive: true}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

func (e *env) product(t *testing.T, code string, dp int64) model.Product {
	t.Helper()
	p := model.Product{ProductCode: code, Name: "Product " + code, DPValue: decimal.NewFromInt(dp), IsActive: true}
	require.NoError(t, e.db.Create(&p).Error)
	return p
}

// stock adds a batch through the service so the ledger holds its opening entry.
func (e *env) stock(t *testing.T, p model.Product, batch, location string, qty int, expiry *time.Time) BatchResponse {
	t.Helper()
	resp, err := e.inventory.AddInventory(bg, uuid.Nil, AddInventoryRequest{
		ProductID:   p.ID.String(),
		BatchNumber: batch,
		Location:    location,
		Quantity:    qty,
		ExpiryDate:  expiry,
	})
	require.NoError(t, err)
	return resp.Batch
}

func (e *env) batch(t *testing.T, id string) model.ProductInventory {
	t.Helper()
	var b model.ProductInventory
	require.NoError(t, e.db.First(&b, "id = ?", id).Error)
	return b
}

// requireLedgerFolds checks that the signed deltas of every ledger row add up to the batch quantity.
func (e *env) requireLedgerFolds(t *testing.T, batchID string) {
	t.Helper()
	b := e.batch(t, batchID)
	sum, err := e.repos.txs.SumDelta(bg, b.ID)
	require.NoError(t, err)
	require.Equal(t, int64(b.Quantity), sum, "ledger of batch %s does not fold to its quantity", b.BatchNumber)
}

func (e *env) count(t *testing.T, m interface{}, where ...interface{}) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(m)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (e *env) caseRequest(lines ...CaseProductRequest) CreateCaseRequest {
	return CreateCaseRequest{
		PatientName: "Jane Doe",
		SurgeryDate: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		HospitalID:  uuid.NewString(),
		DoctorID:    uuid.NewString(),
		PrincipleID: uuid.NewString(),
		CategoryID:  uuid.NewString(),
		Products:    lines,
	}
}

func ptr[T any](v T) *T { return &v }

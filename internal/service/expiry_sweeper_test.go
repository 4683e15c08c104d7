package service

import (
	"testing"
	"time"

	"medsales/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiresPastDatedStock(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	soon := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	stale := e.stock(t, p, "B-1", "Main", 5, &soon)
	fresh := e.stock(t, p, "B-2", "Main", 5, &later)
	undated := e.stock(t, p, "B-3", "Main", 5, nil)
	damaged := e.stock(t, p, "B-4", "Main", 5, &soon)
	require.NoError(t, e.db.Model(&model.ProductInventory{}).Where("id = ?", damaged.ID).Update("status", model.BatchDamaged).Error)

	s := NewExpirySweeper(e.repos.batches, e.repos.audit, e.repos.tx, e.ledger, e.events, e.log)
	s.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	n, err := s.Sweep(bg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, model.BatchExpired, e.batch(t, stale.ID).Status)
	assert.Equal(t, 5, e.batch(t, stale.ID).Quantity)
	assert.Equal(t, model.BatchAvailable, e.batch(t, fresh.ID).Status)
	assert.Equal(t, model.BatchAvailable, e.batch(t, undated.ID).Status)
	assert.Equal(t, model.BatchDamaged, e.batch(t, damaged.ID).Status)
	e.requireLedgerFolds(t, stale.ID)

	var entry model.ProductInventoryTransaction
	require.NoError(t, e.db.Where("inventory_id = ? AND transaction_type = ?", stale.ID, model.TxExpired).First(&entry).Error)
	assert.Equal(t, "Expired on 2026-01-10", entry.Notes)
	assert.Zero(t, entry.QuantityDelta)
	assert.Equal(t, int64(1), e.count(t, &model.AuditLog{}, "action = ?", model.AuditExpireBatches))
	assert.Contains(t, e.events.names(), EventInventoryUpdated)

	n, err = s.Sweep(bg)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), e.count(t, &model.AuditLog{}, "action = ?", model.AuditExpireBatches))
}

func TestSweeperSchedule(t *testing.T) {
	e := newEnv(t)
	s := NewExpirySweeper(e.repos.batches, e.repos.audit, e.repos.tx, e.ledger, nil, e.log)

	assert.Error(t, s.Start("not a schedule"))
	require.NoError(t, s.Start(""))
	assert.False(t, s.isRunning)

	require.NoError(t, s.Start("@daily"))
	assert.Error(t, s.Start("@daily"))
	s.Stop()
	assert.False(t, s.isRunning)
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionCovers(t *testing.T) {
	for _, a := range []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete} {
		assert.True(t, ActionManage.Covers(a), a)
		assert.True(t, a.Covers(a), a)
	}
	assert.False(t, ActionRead.Covers(ActionUpdate))
	assert.False(t, ActionRead.Covers(ActionManage))
	assert.False(t, Action("publish").Valid())
}

func TestExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.False(t, (&UserRole{}).HasExpired(now))
	assert.True(t, (&UserRole{ExpiresAt: &past}).HasExpired(now))
	assert.False(t, (&UserRole{ExpiresAt: &future}).HasExpired(now))
	assert.False(t, (&UserPermission{ExpiresAt: &now}).HasExpired(now), "expiry is strict now > expiresAt")
}

func TestUserPermissionScope(t *testing.T) {
	unscoped := &UserPermission{}
	scoped := &UserPermission{ResourceID: "H1"}

	assert.True(t, unscoped.AppliesTo(""))
	assert.True(t, unscoped.AppliesTo("H2"))
	assert.True(t, scoped.AppliesTo("H1"))
	assert.False(t, scoped.AppliesTo("H2"))
	assert.False(t, scoped.AppliesTo(""))
}

func TestCaseTransitions(t *testing.T) {
	assert.True(t, CaseStatusPending.CanTransitionTo(CaseStatusActive))
	assert.True(t, CaseStatusPending.CanTransitionTo(CaseStatusCancelled))
	assert.True(t, CaseStatusActive.CanTransitionTo(CaseStatusCompleted))
	assert.True(t, CaseStatusActive.CanTransitionTo(CaseStatusCancelled))
	assert.False(t, CaseStatusPending.CanTransitionTo(CaseStatusCompleted))
	assert.False(t, CaseStatusCompleted.CanTransitionTo(CaseStatusActive))
	assert.False(t, CaseStatusCancelled.CanTransitionTo(CaseStatusPending))
}

func TestTransactionTypeForStatus(t *testing.T) {
	assert.Equal(t, TxUsed, TransactionTypeForStatus(BatchUsed))
	assert.Equal(t, TxExpired, TransactionTypeForStatus(BatchExpired))
	assert.Equal(t, TxDamaged, TransactionTypeForStatus(BatchDamaged))
	assert.Equal(t, TxStatusChange, TransactionTypeForStatus(BatchReserved))
	assert.Equal(t, TxStatusChange, TransactionTypeForStatus(BatchAvailable))
}

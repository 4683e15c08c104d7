package service

import (
	"testing"
	"time"

	"medsales/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAuditLogsFilters(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "alice")
	day := func(d int) time.Time { return time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC) }

	rows := []model.AuditLog{
		{UserID: &u.ID, Action: model.AuditCreateRole, EntityID: "r1", CreatedAt: day(1)},
		{UserID: &u.ID, Action: model.AuditDeleteRole, EntityID: "r1", CreatedAt: day(2)},
		{Action: model.AuditExpireBatches, CreatedAt: day(3)},
	}
	for i := range rows {
		require.NoError(t, e.db.Create(&rows[i]).Error)
	}

	all, total, err := e.audit.GetAuditLogs(bg, AuditListRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "System", all[0].Username)
	assert.Equal(t, "alice", all[1].Username)

	got, total, err := e.audit.GetAuditLogs(bg, AuditListRequest{UserID: u.ID.String(), Action: model.AuditCreateRole})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "r1", got[0].EntityID)

	from, to := day(2).Truncate(24*time.Hour), day(2).Truncate(24*time.Hour)
	got, _, err = e.audit.GetAuditLogs(bg, AuditListRequest{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.AuditDeleteRole, got[0].Action)

	_, _, err = e.audit.GetAuditLogs(bg, AuditListRequest{UserID: "x"})
	assert.Error(t, err)

	got, _, err = e.audit.GetAuditLogs(bg, AuditListRequest{UserID: uuid.NewString()})
	require.NoError(t, err)
	assert.Empty(t, got)
}

package alertstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/common"
)

func newAlert(severity entity.Severity, created time.Time) *entity.SIEMAlert {
	ev := entity.BuildSecurityEvent(entity.EventInput{UserID: "u1", Action: "FAILED_LOGIN"}, created, 2555)
	return entity.NewSIEMAlert("repeated_failed_login", "title", "desc", severity,
		entity.CategoryAuthentication, "u1", []*entity.SecurityEvent{ev}, 85, []string{"Lock the affected account"}, created)
}

func exerciseRepository(t *testing.T, repo repository.AlertRepository) {
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	older := newAlert(entity.SeverityHigh, base)
	newer := newAlert(entity.SeverityMedium, base.Add(time.Minute))
	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))

	all, err := repo.List(ctx, repository.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.AlertID, all[0].AlertID)

	limited, err := repo.List(ctx, repository.AlertFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer.AlertID, limited[0].AlertID)

	high, err := repo.List(ctx, repository.AlertFilter{Severity: entity.SeverityHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, older.AlertID, high[0].AlertID)

	acked, err := repo.Acknowledge(ctx, older.AlertID, "analyst-7", base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "analyst-7", acked.AcknowledgedBy)

	// second acknowledgement keeps the first actor
	again, err := repo.Acknowledge(ctx, older.AlertID, "someone-else", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "analyst-7", again.AcknowledgedBy)

	assigned, err := repo.Assign(ctx, older.AlertID, "tier2")
	require.NoError(t, err)
	assert.Equal(t, "tier2", assigned.AssignedTo)

	got, err := repo.Get(ctx, older.AlertID)
	require.NoError(t, err)
	assert.True(t, got.Acknowledged)
	assert.Equal(t, "tier2", got.AssignedTo)
	assert.Equal(t, older.Title, got.Title)
	assert.Len(t, got.Events, 1)

	unacked := false
	open, err := repo.List(ctx, repository.AlertFilter{Acknowledged: &unacked})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, newer.AlertID, open[0].AlertID)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, common.HasErrorCode(err, common.ErrCodeNotFound))
	_, err = repo.Acknowledge(ctx, "missing", "x", base)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeNotFound))
}

func TestMemoryStore(t *testing.T) {
	exerciseRepository(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alert := newAlert(entity.SeverityHigh, time.Now())
	require.NoError(t, store.Save(ctx, alert))

	alert.Title = "mutated by caller"
	got, err := store.Get(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, "title", got.Title)

	got.Acknowledged = true
	again, err := store.Get(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.False(t, again.Acknowledged)
}

// indexPages serves alerts newest first the way the Redis index does and
// records every requested range
type indexPages struct {
	alerts []*entity.SIEMAlert
	ranges [][2]int64
}

func (p *indexPages) fetch(start, stop int64) ([]*entity.SIEMAlert, int, error) {
	p.ranges = append(p.ranges, [2]int64{start, stop})
	if start >= int64(len(p.alerts)) {
		return nil, 0, nil
	}
	end := stop + 1
	if end > int64(len(p.alerts)) {
		end = int64(len(p.alerts))
	}
	page := p.alerts[start:end]
	return page, len(page), nil
}

func TestCollectPages_StopsAtLimit(t *testing.T) {
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	pages := &indexPages{}
	for i := 0; i < 1000; i++ {
		pages.alerts = append(pages.alerts, newAlert(entity.SeverityMedium, base.Add(-time.Duration(i)*time.Minute)))
	}

	out, err := collectPages(repository.AlertFilter{Limit: 10}, pages.fetch)
	require.NoError(t, err)
	assert.Len(t, out, 10)
	assert.Equal(t, [][2]int64{{0, 9}}, pages.ranges)
}

func TestCollectPages_FilteredAcrossPages(t *testing.T) {
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	pages := &indexPages{}
	for i := 0; i < 250; i++ {
		sev := entity.SeverityMedium
		if i%50 == 0 {
			sev = entity.SeverityHigh
		}
		pages.alerts = append(pages.alerts, newAlert(sev, base.Add(-time.Duration(i)*time.Minute)))
	}

	out, err := collectPages(repository.AlertFilter{Severity: entity.SeverityHigh}, pages.fetch)
	require.NoError(t, err)
	assert.Len(t, out, 5)
	assert.Equal(t, [][2]int64{{0, 99}, {100, 199}, {200, 299}}, pages.ranges)

	out, err = collectPages(repository.AlertFilter{Severity: entity.SeverityHigh, Limit: 2}, (&indexPages{alerts: pages.alerts}).fetch)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisConfig{Address: addr, DB: 15})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.client.FlushDB(ctx).Err())

	exerciseRepository(t, store)
}

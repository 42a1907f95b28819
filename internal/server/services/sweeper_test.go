package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/config"
	"github.com/dmitrijs2005/facegate/internal/server/models"
)

type fakeArchiver struct {
	mu      sync.Mutex
	batches [][]*models.AuditEntry
	err     error
}

func (a *fakeArchiver) Archive(_ context.Context, entries []*models.AuditEntry) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.batches = append(a.batches, entries)
	return "audit/key.jsonl", nil
}

func seedSweepData(t *testing.T, m *memManager, now time.Time) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []*models.AuditEntry{
		{Operation: models.AuditLoginAttempt, Timestamp: now.Add(-100 * 24 * time.Hour)},
		{Operation: models.AuditLoginAttempt, Timestamp: now.Add(-91 * 24 * time.Hour)},
		{Operation: models.AuditLoginAttempt, Timestamp: now.Add(-time.Hour)},
	} {
		require.NoError(t, m.audit.Append(ctx, e))
	}
	for _, c := range []*models.Challenge{
		{Token: "old", CreatedAt: now.Add(-10 * time.Minute)},
		{Token: "fresh", CreatedAt: now.Add(-time.Minute)},
	} {
		require.NoError(t, m.challenges.Create(ctx, c))
	}
}

func newSweeperForTest(t *testing.T, archiver AuditArchiver, retention time.Duration) (*RetentionSweeper, *memManager, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := newMemManager()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := &config.Config{AuditRetention: retention, SweepInterval: time.Hour}
	s := NewRetentionSweeper(db, m, m.challenges, archiver, cfg, logging.Nop{})
	s.now = func() time.Time { return now }
	seedSweepData(t, m, now)
	return s, m, mock, now
}

func TestSweep_PrunesWithoutArchiver(t *testing.T) {
	s, m, _, _ := newSweeperForTest(t, nil, 90*24*time.Hour)

	s.Sweep(context.Background())

	assert.Len(t, m.audit.all(), 1)
	assert.Equal(t, models.ChallengeStatus(""), m.challenges.status("old"))
	assert.NotNil(t, m.challenges.byToken["fresh"])
}

func TestSweep_ArchivesThenDeletes(t *testing.T) {
	arch := &fakeArchiver{}
	s, m, mock, _ := newSweeperForTest(t, arch, 90*24*time.Hour)
	mock.ExpectBegin()
	mock.ExpectCommit()

	s.Sweep(context.Background())

	require.Len(t, arch.batches, 1)
	assert.Len(t, arch.batches[0], 2)
	assert.Len(t, m.audit.all(), 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweep_FailedUploadKeepsRows(t *testing.T) {
	arch := &fakeArchiver{err: errBoom{}}
	s, m, mock, _ := newSweeperForTest(t, arch, 90*24*time.Hour)
	mock.ExpectBegin()
	mock.ExpectRollback()

	s.Sweep(context.Background())

	assert.Len(t, m.audit.all(), 3)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweep_FailedDeleteRollsBack(t *testing.T) {
	arch := &fakeArchiver{}
	s, m, mock, _ := newSweeperForTest(t, arch, 90*24*time.Hour)
	m.audit.deleteErr = errBoom{}
	mock.ExpectBegin()
	mock.ExpectRollback()

	s.Sweep(context.Background())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweep_ZeroRetentionKeepsAudit(t *testing.T) {
	s, m, _, _ := newSweeperForTest(t, nil, 0)

	s.Sweep(context.Background())

	assert.Len(t, m.audit.all(), 3)
	assert.Equal(t, models.ChallengeStatus(""), m.challenges.status("old"))
}

func TestSweeper_StartStop(t *testing.T) {
	s, m, _, _ := newSweeperForTest(t, nil, 90*24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	require.Eventually(t, func() bool { return len(m.audit.all()) == 1 }, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestSweeper_StopWithoutStart(t *testing.T) {
	s, _, _, _ := newSweeperForTest(t, nil, 0)
	assert.NotPanics(t, s.Stop)
}

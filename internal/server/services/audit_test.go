package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, e *models.AuditEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
	return p.err
}

func TestAuditLogger_RecordStoresAndPublishes(t *testing.T) {
	m := newMemManager()
	pub := &recordingPublisher{}
	a := NewAuditLogger(nil, m, pub, logging.Nop{})

	a.Record(context.Background(), &models.AuditEntry{
		UserID:    "u1",
		Operation: models.AuditLoginAttempt,
		Result:    models.AuditSuccess,
	})

	stored := m.audit.all()
	require.Len(t, stored, 1)
	assert.NotEmpty(t, stored[0].ID)
	assert.False(t, stored[0].Timestamp.IsZero())

	require.Len(t, pub.entries, 1)
	assert.Equal(t, stored[0].ID, pub.entries[0].ID)
}

func TestAuditLogger_FailuresAreSwallowed(t *testing.T) {
	m := newMemManager()
	m.audit.appendErr = errBoom{}
	pub := &recordingPublisher{}
	a := NewAuditLogger(nil, m, pub, logging.Nop{})

	assert.NotPanics(t, func() {
		a.Record(context.Background(), &models.AuditEntry{Operation: models.AuditVerifyIdentity})
	})
	assert.Empty(t, pub.entries)

	m.audit.appendErr = nil
	pub.err = errBoom{}
	a.Record(context.Background(), &models.AuditEntry{Operation: models.AuditVerifyIdentity})
	assert.Len(t, m.audit.all(), 1)
}

func TestAuditLogger_RecordOutlivesCancelledRequest(t *testing.T) {
	m := newMemManager()
	a := NewAuditLogger(nil, m, nil, logging.Nop{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Record(ctx, &models.AuditEntry{Operation: models.AuditLoginAttempt, Result: models.AuditFailure})

	assert.Len(t, m.audit.all(), 1)
}

func TestAuditLogger_Suspicious(t *testing.T) {
	m := newMemManager()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	a := NewAuditLogger(nil, m, nil, logging.Nop{})
	a.now = clock.Now
	ctx := context.Background()

	fail := func() {
		a.Record(ctx, &models.AuditEntry{UserID: "u1", Operation: models.AuditLoginAttempt, Result: models.AuditFailure})
	}

	for i := 0; i < SuspiciousThreshold-1; i++ {
		fail()
	}
	ok, n, err := a.Suspicious(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, SuspiciousThreshold-1, n)

	fail()
	ok, _, err = a.Suspicious(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(SuspiciousWindow + time.Second)
	ok, n, err = a.Suspicious(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, n)
}

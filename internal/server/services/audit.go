package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/repomanager"
)

const (
	auditWriteTimeout = 5 * time.Second

	SuspiciousWindow    = 15 * time.Minute
	SuspiciousThreshold = 5
)

// AuditPublisher receives a copy of every audit entry after it is stored.
type AuditPublisher interface {
	Publish(ctx context.Context, e *models.AuditEntry) error
}

// AuditLogger writes the audit trail. Writes are best effort: a failure is
// logged and never changes the outcome of the operation being audited.
type AuditLogger struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   AuditPublisher
	logger      logging.Logger
	now         func() time.Time
}

// NewAuditLogger builds an AuditLogger. publisher may be nil.
func NewAuditLogger(db *sql.DB, m repomanager.RepositoryManager, publisher AuditPublisher, logger logging.Logger) *AuditLogger {
	return &AuditLogger{
		db:          db,
		repomanager: m,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// Record appends e. It runs detached from ctx cancellation so a client
// hanging up mid-request still leaves a trail.
func (a *AuditLogger) Record(ctx context.Context, e *models.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if e.Timestamp.IsZero() {
		e.Timestamp = a.now().UTC()
	}

	if err := a.repomanager.Audit(a.db).Append(ctx, e); err != nil {
		a.logger.Error(ctx, "audit write failed",
			"operation", e.Operation, "result", e.Result, "err", err)
		return
	}

	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, e); err != nil {
		a.logger.Warn(ctx, "audit publish failed", "audit_id", e.ID, "err", err)
	}
}

// Suspicious reports whether userID has at least SuspiciousThreshold
// failures within the last SuspiciousWindow, along with the count.
func (a *AuditLogger) Suspicious(ctx context.Context, userID string) (bool, int, error) {
	n, err := a.repomanager.Audit(a.db).CountFailuresSince(ctx, userID, a.now().Add(-SuspiciousWindow))
	if err != nil {
		return false, 0, err
	}
	return n >= SuspiciousThreshold, n, nil
}

// Stats aggregates the user's entries over the last days days.
func (a *AuditLogger) Stats(ctx context.Context, userID string, days int) ([]models.AuditStat, error) {
	since := a.now().Add(-time.Duration(days) * 24 * time.Hour)
	return a.repomanager.Audit(a.db).StatsSince(ctx, userID, since)
}

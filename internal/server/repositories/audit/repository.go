package audit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/facegate/internal/server/models"
)

// Repository is the append-only audit trail. Entries are never updated;
// they only leave the table through retention.
type Repository interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	SelectOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.AuditEntry, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error)
	StatsSince(ctx context.Context, userID string, since time.Time) ([]models.AuditStat, error)
}

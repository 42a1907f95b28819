package templates

import (
	"context"
	"time"

	"github.com/dmitrijs2005/facegate/internal/server/models"
)

// Repository persists encrypted templates and their lockout counters.
// IncrementFailure is a single statement so concurrent attempts never lose
// an increment. UpdateCounters writes a whole counter state and is guarded
// by the template version.
type Repository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Template, error)
	FindActiveByUserID(ctx context.Context, userID string) (*models.Template, error)
	ListActiveExcept(ctx context.Context, userID string) ([]*models.Template, error)
	Upsert(ctx context.Context, t *models.Template) (*models.Template, error)
	IncrementFailure(ctx context.Context, userID string, at time.Time, maxAttempts int, lockUntil time.Time) (*models.Template, error)
	ResetFailures(ctx context.Context, userID string) error
	UpdateCounters(ctx context.Context, t *models.Template) (int64, error)
	Deactivate(ctx context.Context, userID string) error
}

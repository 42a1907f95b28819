// Package challenges stores single-use verification challenges.
//
// Two backends are provided: PostgreSQL and Redis. Both implement Consume
// as a single atomic step, so of several concurrent consumers of the same
// token at most one observes it as PENDING.
package challenges

import (
	"context"
	"time"

	"github.com/dmitrijs2005/facegate/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Challenge) error

	// Consume moves a PENDING challenge matching token and email out of the
	// pending state. Challenges older than ttl at now become EXPIRED, others
	// become USED; the updated challenge is returned either way. A token that
	// is unknown, bound to another email or no longer PENDING yields
	// common.ErrorNotFound.
	Consume(ctx context.Context, token, email string, now time.Time, ttl time.Duration) (*models.Challenge, error)

	// DeleteOlderThan removes challenges created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

package challenges

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/facegate/internal/common"
	"github.com/dmitrijs2005/facegate/internal/dbx"
	"github.com/dmitrijs2005/facegate/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Challenge) error {
	query :=
		`INSERT INTO biometric_challenges (token, email, operation, status, created_at, client_ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		c.Token, c.Email, c.Operation, c.Status, c.CreatedAt, c.ClientIP, c.UserAgent)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Consume relies on the row lock taken by UPDATE: a second transaction
// re-evaluates status = 'PENDING' after the first commits and matches nothing.
func (r *PostgresRepository) Consume(ctx context.Context, token, email string, now time.Time, ttl time.Duration) (*models.Challenge, error) {
	query :=
		`UPDATE biometric_challenges
		 SET status = CASE WHEN created_at < $3 THEN 'EXPIRED' ELSE 'USED' END,
			used_at = CASE WHEN created_at < $3 THEN NULL ELSE $4::timestamptz END
		 WHERE token = $1 AND email = $2 AND status = 'PENDING'
		 RETURNING token, email, operation, status, created_at, used_at, client_ip, user_agent`

	c := &models.Challenge{}
	var usedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, token, email, now.Add(-ttl), now).Scan(
		&c.Token, &c.Email, &c.Operation, &c.Status, &c.CreatedAt, &usedAt, &c.ClientIP, &c.UserAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}
	return c, nil
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := dbx.ExecAffected(ctx, r.db, `DELETE FROM biometric_challenges WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

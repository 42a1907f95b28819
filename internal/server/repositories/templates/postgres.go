package templates

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

const selectTemplate = `SELECT id, user_id, ciphertext, iv, auth_tag, salt, quality_score, liveness_score,
		is_active, failed_attempts, locked_until, last_failed_attempt, registered_at, last_updated, version
	FROM biometric_templates`

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s scanner) (*models.Template, error) {
	t := &models.Template{}
	var lockedUntil, lastFailed sql.NullTime

	err := s.Scan(&t.ID, &t.UserID, &t.Ciphertext, &t.IV, &t.AuthTag, &t.Salt,
		&t.QualityScore, &t.LivenessScore, &t.IsActive, &t.FailedAttempts,
		&lockedUntil, &lastFailed, &t.RegisteredAt, &t.LastUpdated, &t.Version)
	if err != nil {
		return nil, err
	}

	if lockedUntil.Valid {
		t.LockedUntil = &lockedUntil.Time
	}
	if lastFailed.Valid {
		t.LastFailedAttempt = &lastFailed.Time
	}
	return t, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, userID string) (*models.Template, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// FindByUserID returns the template whether or not it is active.
func (r *PostgresRepository) FindByUserID(ctx context.Context, userID string) (*models.Template, error) {
	return r.findOne(ctx, selectTemplate+` WHERE user_id = $1`, userID)
}

func (r *PostgresRepository) FindActiveByUserID(ctx context.Context, userID string) (*models.Template, error) {
	return r.findOne(ctx, selectTemplate+` WHERE user_id = $1 AND is_active`, userID)
}

// ListActiveExcept returns every active template not owned by userID.
// An empty userID returns all active templates.
func (r *PostgresRepository) ListActiveExcept(ctx context.Context, userID string) ([]*models.Template, error) {
	query := selectTemplate + ` WHERE is_active AND ($1 = '' OR user_id::text <> $1) ORDER BY registered_at`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var items []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return items, nil
}

// Upsert stores the sealed vector for t.UserID. Replacing an existing
// template reactivates it and clears its lockout state.
func (r *PostgresRepository) Upsert(ctx context.Context, t *models.Template) (*models.Template, error) {
	query :=
		`INSERT INTO biometric_templates (user_id, ciphertext, iv, auth_tag, salt, quality_score, liveness_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			iv = EXCLUDED.iv,
			auth_tag = EXCLUDED.auth_tag,
			salt = EXCLUDED.salt,
			quality_score = EXCLUDED.quality_score,
			liveness_score = EXCLUDED.liveness_score,
			is_active = TRUE,
			failed_attempts = 0,
			locked_until = NULL,
			last_failed_attempt = NULL,
			last_updated = NOW(),
			version = biometric_templates.version + 1
		 RETURNING id, is_active, failed_attempts, registered_at, last_updated, version`

	err := r.db.QueryRowContext(ctx, query,
		t.UserID, t.Ciphertext, t.IV, t.AuthTag, t.Salt, t.QualityScore, t.LivenessScore,
	).Scan(&t.ID, &t.IsActive, &t.FailedAttempts, &t.RegisteredAt, &t.LastUpdated, &t.Version)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	t.LockedUntil = nil
	t.LastFailedAttempt = nil
	return t, nil
}

// IncrementFailure adds one failed attempt and, when the new count reaches
// maxAttempts, sets locked_until. The returned template carries only the
// updated counter fields.
func (r *PostgresRepository) IncrementFailure(ctx context.Context, userID string, at time.Time, maxAttempts int, lockUntil time.Time) (*models.Template, error) {
	query :=
		`UPDATE biometric_templates
		 SET failed_attempts = failed_attempts + 1,
			last_failed_attempt = $2,
			locked_until = CASE WHEN failed_attempts + 1 >= $3 THEN $4 ELSE locked_until END,
			version = version + 1
		 WHERE user_id = $1
		 RETURNING user_id, failed_attempts, locked_until, last_failed_attempt, version`

	t := &models.Template{}
	var lockedUntil, lastFailed sql.NullTime

	err := r.db.QueryRowContext(ctx, query, userID, at, maxAttempts, lockUntil).
		Scan(&t.UserID, &t.FailedAttempts, &lockedUntil, &lastFailed, &t.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if lockedUntil.Valid {
		t.LockedUntil = &lockedUntil.Time
	}
	if lastFailed.Valid {
		t.LastFailedAttempt = &lastFailed.Time
	}
	return t, nil
}

// ResetFailures clears the counter and lock after a successful verification.
func (r *PostgresRepository) ResetFailures(ctx context.Context, userID string) error {
	query :=
		`UPDATE biometric_templates
		 SET failed_attempts = 0, locked_until = NULL, last_failed_attempt = NULL, is_active = TRUE, version = version + 1
		 WHERE user_id = $1`

	n, err := dbx.ExecAffected(ctx, r.db, query, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// UpdateCounters stores the failure counter and lock of t if the row is
// still at t.Version and returns the new version. A row that moved on
// yields common.ErrVersionConflict.
func (r *PostgresRepository) UpdateCounters(ctx context.Context, t *models.Template) (int64, error) {
	query :=
		`UPDATE biometric_templates
		 SET failed_attempts = $3, locked_until = $4, last_failed_attempt = $5, version = version + 1
		 WHERE id = $1 AND version = $2
		 RETURNING version`

	var version int64
	err := r.db.QueryRowContext(ctx, query, t.ID, t.Version, t.FailedAttempts, t.LockedUntil, t.LastFailedAttempt).
		Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrVersionConflict
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return version, nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, userID string) error {
	query :=
		`UPDATE biometric_templates
		 SET is_active = FALSE, last_updated = NOW(), version = version + 1
		 WHERE user_id = $1`

	n, err := dbx.ExecAffected(ctx, r.db, query, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

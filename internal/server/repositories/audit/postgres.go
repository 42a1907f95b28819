package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/facegate/internal/dbx"
	"github.com/dmitrijs2005/facegate/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*p), Valid: true}
}

func (r *PostgresRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	query :=
		`INSERT INTO biometric_audit_logs (user_id, email, operation, result, reason,
			liveness_score, quality_score, confidence, match_distance, failed_attempts, remaining_lock_seconds,
			ip_address, user_agent, processing_time_ms, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`

	m := e.Metrics
	err := r.db.QueryRowContext(ctx, query,
		nullString(e.UserID), e.Email, e.Operation, e.Result, e.Reason,
		nullFloat(m.LivenessScore), nullFloat(m.QualityScore), nullFloat(m.Confidence), nullFloat(m.MatchDistance),
		nullInt(m.FailedAttempts), nullInt(m.RemainingLockSeconds),
		e.ClientIP, e.UserAgent, e.ProcessingTimeMs, e.Timestamp,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SelectOlderThan locks up to limit entries older than cutoff, oldest
// first. Use it inside a transaction together with DeleteByIDs.
func (r *PostgresRepository) SelectOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.AuditEntry, error) {
	query :=
		`SELECT id, user_id, email, operation, result, reason,
			liveness_score, quality_score, confidence, match_distance, failed_attempts, remaining_lock_seconds,
			ip_address, user_agent, processing_time_ms, timestamp
		 FROM biometric_audit_logs
		 WHERE timestamp < $1
		 ORDER BY timestamp
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var items []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var (
			userID                 sql.NullString
			live, qual, conf, dist sql.NullFloat64
			failed, remaining      sql.NullInt32
		)
		if err := rows.Scan(&e.ID, &userID, &e.Email, &e.Operation, &e.Result, &e.Reason,
			&live, &qual, &conf, &dist, &failed, &remaining,
			&e.ClientIP, &e.UserAgent, &e.ProcessingTimeMs, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}

		e.UserID = userID.String
		e.Metrics = models.AuditMetrics{
			LivenessScore:        floatPtr(live),
			QualityScore:         floatPtr(qual),
			Confidence:           floatPtr(conf),
			MatchDistance:        floatPtr(dist),
			FailedAttempts:       intPtr(failed),
			RemainingLockSeconds: intPtr(remaining),
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return items, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func intPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int32)
	return &i
}

// DeleteByIDs removes the given entries. IDs are passed as a single
// uuid[] literal.
func (r *PostgresRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := dbx.ExecAffected(ctx, r.db,
		`DELETE FROM biometric_audit_logs WHERE id = ANY($1::uuid[])`,
		"{"+strings.Join(ids, ",")+"}")
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := dbx.ExecAffected(ctx, r.db, `DELETE FROM biometric_audit_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query :=
		`SELECT COUNT(*) FROM biometric_audit_logs
		 WHERE user_id = $1 AND result = 'FAILURE' AND timestamp >= $2`

	var n int
	if err := r.db.QueryRowContext(ctx, query, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) StatsSince(ctx context.Context, userID string, since time.Time) ([]models.AuditStat, error) {
	query :=
		`SELECT operation, result, COUNT(*), AVG(confidence), COALESCE(AVG(processing_time_ms), 0)
		 FROM biometric_audit_logs
		 WHERE user_id = $1 AND timestamp >= $2
		 GROUP BY operation, result
		 ORDER BY operation, result`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var avgConf sql.NullFloat64
		if err := rows.Scan(&s.Operation, &s.Result, &s.Count, &avgConf, &s.AvgProcessingTime); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.AvgConfidence = floatPtr(avgConf)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return stats, nil
}

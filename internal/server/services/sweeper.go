package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/facegate/internal/dbx"
	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/config"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/challenges"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/repomanager"
)

const auditArchiveBatch = 500

// RetentionSweeper periodically removes spent challenges and audit
// entries past retention. With an archiver configured, audit entries are
// uploaded before they are deleted; an entry is never deleted unless its
// batch was archived.
//
// An AuditRetention of 0 keeps audit entries forever; challenges are
// still swept.
type RetentionSweeper struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	challenges  challenges.Repository
	archiver    AuditArchiver
	retention   time.Duration
	interval    time.Duration
	logger      logging.Logger
	now         func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionSweeper creates a sweeper but does not start it. archiver
// may be nil.
func NewRetentionSweeper(db *sql.DB, m repomanager.RepositoryManager, c challenges.Repository,
	archiver AuditArchiver, cfg *config.Config, logger logging.Logger) *RetentionSweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	return &RetentionSweeper{
		db:          db,
		repomanager: m,
		challenges:  c,
		archiver:    archiver,
		retention:   cfg.AuditRetention,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

// Start runs one sweep immediately, then repeats on the interval until ctx
// is cancelled or Stop is called.
func (s *RetentionSweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.logger.Info(ctx, "retention sweeper started",
		"interval", s.interval, "audit_retention", s.retention, "archive", s.archiver != nil)
}

// Stop signals the sweeper to exit and waits for it. Calling Stop before
// Start or more than once is safe.
func (s *RetentionSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *RetentionSweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Errors are logged.
func (s *RetentionSweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	n, err := s.challenges.DeleteOlderThan(ctx, now.Add(-ChallengeTTL))
	if err != nil {
		s.logger.Error(ctx, "challenge sweep failed", "err", err)
	} else if n > 0 {
		s.logger.Debug(ctx, "challenges swept", "deleted", n)
	}

	if s.retention <= 0 {
		return
	}

	cutoff := now.Add(-s.retention)
	if s.archiver == nil {
		n, err := s.repomanager.Audit(s.db).PruneOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.Error(ctx, "audit prune failed", "err", err)
			return
		}
		if n > 0 {
			s.logger.Info(ctx, "audit entries pruned", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
		}
		return
	}

	for {
		n, err := s.archiveBatch(ctx, cutoff)
		if err != nil {
			s.logger.Error(ctx, "audit archive failed", "err", err)
			return
		}
		if n < auditArchiveBatch || ctx.Err() != nil {
			return
		}
	}
}

// archiveBatch uploads and deletes one batch inside a transaction so that
// a failed upload leaves the rows in place.
func (s *RetentionSweeper) archiveBatch(ctx context.Context, cutoff time.Time) (int, error) {
	var archived int
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Audit(tx)

		entries, err := repo.SelectOlderThan(ctx, cutoff, auditArchiveBatch)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		key, err := s.archiver.Archive(ctx, entries)
		if err != nil {
			return err
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if _, err := repo.DeleteByIDs(ctx, ids); err != nil {
			return fmt.Errorf("delete archived entries: %w", err)
		}

		archived = len(entries)
		s.logger.Info(ctx, "audit entries archived", "count", archived, "key", key)
		return nil
	})
	return archived, err
}

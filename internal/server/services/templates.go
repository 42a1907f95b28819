package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/facegate/internal/cryptox"
	"github.com/dmitrijs2005/facegate/internal/server/config"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/templates"
)

const (
	MaxFailedAttempts = 3
	LockDuration      = 15 * time.Minute
)

// TemplateStore keeps face vectors encrypted at rest and owns the lockout
// counters stored next to them.
type TemplateStore struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	masterKey    []byte
	maxAttempts  int
	lockDuration time.Duration

	encrypt func(vector []float64, masterKey []byte) (*cryptox.Sealed, error)
	decrypt func(s *cryptox.Sealed, masterKey []byte) ([]float64, error)
}

func NewTemplateStore(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *TemplateStore {
	return &TemplateStore{
		db:           db,
		repomanager:  m,
		masterKey:    []byte(cfg.BiometricMasterKey),
		maxAttempts:  MaxFailedAttempts,
		lockDuration: LockDuration,
		encrypt:      cryptox.EncryptTemplate,
		decrypt:      cryptox.DecryptTemplate,
	}
}

func (s *TemplateStore) repo() templates.Repository {
	return s.repomanager.Templates(s.db)
}

// Find returns the user's template, active or not.
func (s *TemplateStore) Find(ctx context.Context, userID string) (*models.Template, error) {
	return s.repo().FindByUserID(ctx, userID)
}

func (s *TemplateStore) FindActive(ctx context.Context, userID string) (*models.Template, error) {
	return s.repo().FindActiveByUserID(ctx, userID)
}

func (s *TemplateStore) ListActiveExcept(ctx context.Context, userID string) ([]*models.Template, error) {
	return s.repo().ListActiveExcept(ctx, userID)
}

// Open decrypts the stored vector. The caller should wipe it after use.
func (s *TemplateStore) Open(t *models.Template) ([]float64, error) {
	return s.decrypt(&cryptox.Sealed{
		Ciphertext: t.Ciphertext,
		IV:         t.IV,
		AuthTag:    t.AuthTag,
		Salt:       t.Salt,
	}, s.masterKey)
}

// Save seals vector and creates or replaces the user's template. The
// result is active with cleared counters.
func (s *TemplateStore) Save(ctx context.Context, userID string, vector []float64, quality, liveness float64) (*models.Template, error) {
	sealed, err := s.encrypt(vector, s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt template: %w", err)
	}

	return s.repo().Upsert(ctx, &models.Template{
		UserID:        userID,
		Ciphertext:    sealed.Ciphertext,
		IV:            sealed.IV,
		AuthTag:       sealed.AuthTag,
		Salt:          sealed.Salt,
		QualityScore:  quality,
		LivenessScore: liveness,
	})
}

// RecordFailure counts one failed proof. Reaching the threshold locks the
// template for the lock duration starting at now.
func (s *TemplateStore) RecordFailure(ctx context.Context, userID string, now time.Time) (*models.Template, error) {
	return s.repo().IncrementFailure(ctx, userID, now, s.maxAttempts, now.Add(s.lockDuration))
}

func (s *TemplateStore) ResetFailures(ctx context.Context, userID string) error {
	return s.repo().ResetFailures(ctx, userID)
}

// ClearExpiredLock zeroes the counter of t after its lock has lapsed and
// returns the stored state. It fails with common.ErrVersionConflict when
// another attempt changed the counters since t was read.
func (s *TemplateStore) ClearExpiredLock(ctx context.Context, t *models.Template) (*models.Template, error) {
	cleared := *t
	cleared.FailedAttempts = 0
	cleared.LockedUntil = nil

	version, err := s.repo().UpdateCounters(ctx, &cleared)
	if err != nil {
		return nil, err
	}
	cleared.Version = version
	return &cleared, nil
}

func (s *TemplateStore) Deactivate(ctx context.Context, userID string) error {
	return s.repo().Deactivate(ctx, userID)
}

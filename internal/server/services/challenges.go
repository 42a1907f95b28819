package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/facegate/internal/common"
	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/challenges"
)

const (
	// ChallengeTTL is how long a challenge can be consumed after issue.
	ChallengeTTL = 300 * time.Second

	// ChallengeExpiresHint is what clients are told. It is shorter than
	// ChallengeTTL so a slow upload still lands inside the window.
	ChallengeExpiresHint = 120 * time.Second

	challengeTokenBytes = 32
)

// ClientInfo identifies the caller for audit purposes.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// ChallengeService is the challenge ledger.
type ChallengeService struct {
	repo   challenges.Repository
	ttl    time.Duration
	now    func() time.Time
	logger logging.Logger
}

func NewChallengeService(repo challenges.Repository, logger logging.Logger) *ChallengeService {
	return &ChallengeService{
		repo:   repo,
		ttl:    ChallengeTTL,
		now:    time.Now,
		logger: logger,
	}
}

// Issue creates a PENDING challenge bound to email and op.
func (s *ChallengeService) Issue(ctx context.Context, email string, op models.Operation, client ClientInfo) (*models.Challenge, error) {
	token, err := common.MakeRandHexString(challengeTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate challenge token: %w", err)
	}

	c := &models.Challenge{
		Token:     token,
		Email:     email,
		Operation: op,
		Status:    models.ChallengePending,
		CreatedAt: s.now().UTC(),
		ClientIP:  client.IP,
		UserAgent: client.UserAgent,
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	s.logger.Debug(ctx, "challenge issued", "operation", op, "client_ip", client.IP)
	return c, nil
}

// Consume spends the challenge. Unknown, mismatched and already spent
// tokens all yield common.ErrChallengeNotFound; a token past its TTL is
// spent as EXPIRED and yields common.ErrChallengeExpired.
func (s *ChallengeService) Consume(ctx context.Context, token, email string) (*models.Challenge, error) {
	if token == "" || email == "" {
		return nil, common.ErrChallengeNotFound
	}

	c, err := s.repo.Consume(ctx, token, email, s.now(), s.ttl)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("consume challenge: %w", err)
	}

	if c.Status == models.ChallengeExpired {
		return nil, common.ErrChallengeExpired
	}
	return c, nil
}

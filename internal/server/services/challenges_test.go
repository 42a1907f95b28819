package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/facegate/internal/common"
	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChallengeServiceForTest() (*ChallengeService, *memChallenges, *testClock) {
	repo := newMemChallenges()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewChallengeService(repo, logging.Nop{})
	s.now = clock.Now
	return s, repo, clock
}

func TestChallenge_IssueConsumeOnce(t *testing.T) {
	s, repo, _ := newChallengeServiceForTest()
	ctx := context.Background()

	c, err := s.Issue(ctx, "alice@example.com", models.OperationLogin, ClientInfo{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, models.ChallengePending, c.Status)
	assert.Equal(t, "10.0.0.1", c.ClientIP)

	got, err := s.Consume(ctx, c.Token, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeUsed, got.Status)
	assert.Equal(t, models.OperationLogin, got.Operation)

	_, err = s.Consume(ctx, c.Token, "alice@example.com")
	require.ErrorIs(t, err, common.ErrChallengeNotFound)
	assert.Equal(t, models.ChallengeUsed, repo.status(c.Token))
}

func TestChallenge_TokensAreUnique(t *testing.T) {
	s, _, _ := newChallengeServiceForTest()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := s.Issue(context.Background(), "a@example.com", models.OperationLogin, ClientInfo{})
		require.NoError(t, err)
		require.False(t, seen[c.Token])
		seen[c.Token] = true
	}
}

func TestChallenge_WrongEmailDoesNotSpend(t *testing.T) {
	s, repo, _ := newChallengeServiceForTest()
	ctx := context.Background()
	c, err := s.Issue(ctx, "alice@example.com", models.OperationLogin, ClientInfo{})
	require.NoError(t, err)

	_, err = s.Consume(ctx, c.Token, "mallory@example.com")
	require.ErrorIs(t, err, common.ErrChallengeNotFound)
	assert.Equal(t, models.ChallengePending, repo.status(c.Token))

	_, err = s.Consume(ctx, c.Token, "alice@example.com")
	require.NoError(t, err)
}

func TestChallenge_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"inside ttl", 299 * time.Second, nil},
		{"at ttl", 300 * time.Second, nil},
		{"past ttl", 301 * time.Second, common.ErrChallengeExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, clock := newChallengeServiceForTest()
			ctx := context.Background()
			c, err := s.Issue(ctx, "alice@example.com", models.OperationLogin, ClientInfo{})
			require.NoError(t, err)

			clock.Advance(tt.elapsed)

			_, err = s.Consume(ctx, c.Token, "alice@example.com")
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)

			_, err = s.Consume(ctx, c.Token, "alice@example.com")
			require.ErrorIs(t, err, common.ErrChallengeNotFound)
		})
	}
}

func TestChallenge_EmptyInputs(t *testing.T) {
	s, _, _ := newChallengeServiceForTest()

	_, err := s.Consume(context.Background(), "", "a@example.com")
	require.ErrorIs(t, err, common.ErrChallengeNotFound)
	_, err = s.Consume(context.Background(), "tok", "")
	require.ErrorIs(t, err, common.ErrChallengeNotFound)
}

func TestChallenge_ConcurrentConsumeHasOneWinner(t *testing.T) {
	s, _, _ := newChallengeServiceForTest()
	ctx := context.Background()
	c, err := s.Issue(ctx, "alice@example.com", models.OperationLogin, ClientInfo{})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, c.Token, "alice@example.com"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}

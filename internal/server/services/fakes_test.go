package services

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/facegate/internal/common"
	"github.com/dmitrijs2005/facegate/internal/dbx"
	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/config"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/dmitrijs2005/facegate/internal/server/oracle"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/audit"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/challenges"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/templates"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/users"
	"github.com/google/uuid"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// --- users ---

type memUsers struct {
	mu     sync.Mutex
	byID   map[string]*models.User
	getErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*models.User{}}
}

func (r *memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	c := *u
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.byID[c.ID] = &c
	out := c
	return &out, nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	for _, u := range r.byID {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *u
	return &out, nil
}

// --- templates ---

type memTemplates struct {
	mu             sync.Mutex
	byUser         map[string]*models.Template
	listErr        error
	failErr        error
	upserts        int
	increment      int
	counterUpdates int

	// beforeUpdate runs inside UpdateCounters with the stored row, under
	// the lock, to simulate a write racing the caller.
	beforeUpdate func(stored *models.Template)
}

func newMemTemplates() *memTemplates {
	return &memTemplates{byUser: map[string]*models.Template{}}
}

func cloneTemplate(t *models.Template) *models.Template {
	c := *t
	if t.LockedUntil != nil {
		v := *t.LockedUntil
		c.LockedUntil = &v
	}
	if t.LastFailedAttempt != nil {
		v := *t.LastFailedAttempt
		c.LastFailedAttempt = &v
	}
	return &c
}

func (r *memTemplates) mutate(userID string, fn func(t *models.Template)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byUser[userID]; ok {
		fn(t)
	}
}

func (r *memTemplates) get(userID string) *models.Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	return cloneTemplate(t)
}

func (r *memTemplates) FindByUserID(_ context.Context, userID string) (*models.Template, error) {
	if t := r.get(userID); t != nil {
		return t, nil
	}
	return nil, common.ErrorNotFound
}

func (r *memTemplates) FindActiveByUserID(_ context.Context, userID string) (*models.Template, error) {
	if t := r.get(userID); t != nil && t.IsActive {
		return t, nil
	}
	return nil, common.ErrorNotFound
}

func (r *memTemplates) ListActiveExcept(_ context.Context, userID string) ([]*models.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*models.Template
	for id, t := range r.byUser {
		if id != userID && t.IsActive {
			out = append(out, cloneTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *memTemplates) Upsert(_ context.Context, t *models.Template) (*models.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	c := cloneTemplate(t)
	now := time.Now()
	if prev, ok := r.byUser[t.UserID]; ok {
		c.ID = prev.ID
		c.RegisteredAt = prev.RegisteredAt
		c.Version = prev.Version + 1
	} else {
		c.ID = uuid.NewString()
		c.RegisteredAt = now
		c.Version = 1
	}
	c.IsActive = true
	c.FailedAttempts = 0
	c.LockedUntil = nil
	c.LastFailedAttempt = nil
	c.LastUpdated = now
	r.byUser[t.UserID] = c
	return cloneTemplate(c), nil
}

func (r *memTemplates) IncrementFailure(_ context.Context, userID string, at time.Time, maxAttempts int, lockUntil time.Time) (*models.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	t, ok := r.byUser[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	r.increment++
	t.FailedAttempts++
	t.LastFailedAttempt = &at
	if t.FailedAttempts >= maxAttempts {
		lu := lockUntil
		t.LockedUntil = &lu
	}
	t.Version++
	return cloneTemplate(t), nil
}

func (r *memTemplates) ResetFailures(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byUser[userID]
	if !ok {
		return common.ErrorNotFound
	}
	t.FailedAttempts = 0
	t.LockedUntil = nil
	t.IsActive = true
	t.Version++
	return nil
}

func (r *memTemplates) UpdateCounters(_ context.Context, t *models.Template) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byUser[t.UserID]
	if !ok || stored.ID != t.ID {
		return 0, common.ErrVersionConflict
	}
	if r.beforeUpdate != nil {
		r.beforeUpdate(stored)
	}
	if stored.Version != t.Version {
		return 0, common.ErrVersionConflict
	}
	c := cloneTemplate(t)
	stored.FailedAttempts = c.FailedAttempts
	stored.LockedUntil = c.LockedUntil
	stored.LastFailedAttempt = c.LastFailedAttempt
	stored.Version++
	r.counterUpdates++
	return stored.Version, nil
}

func (r *memTemplates) Deactivate(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byUser[userID]
	if !ok {
		return common.ErrorNotFound
	}
	t.IsActive = false
	t.Version++
	return nil
}

// --- challenges ---

type memChallenges struct {
	mu      sync.Mutex
	byToken map[string]*models.Challenge
}

func newMemChallenges() *memChallenges {
	return &memChallenges{byToken: map[string]*models.Challenge{}}
}

func (r *memChallenges) Create(_ context.Context, c *models.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc := *c
	r.byToken[c.Token] = &cc
	return nil
}

func (r *memChallenges) Consume(_ context.Context, token, email string, now time.Time, ttl time.Duration) (*models.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byToken[token]
	if !ok || c.Email != email || c.Status != models.ChallengePending {
		return nil, common.ErrorNotFound
	}
	c.Status = models.ChallengeUsed
	if c.CreatedAt.Before(now.Add(-ttl)) {
		c.Status = models.ChallengeExpired
	}
	usedAt := now
	c.UsedAt = &usedAt
	out := *c
	return &out, nil
}

func (r *memChallenges) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, c := range r.byToken {
		if c.CreatedAt.Before(cutoff) {
			delete(r.byToken, k)
			n++
		}
	}
	return n, nil
}

func (r *memChallenges) status(token string) models.ChallengeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byToken[token]; ok {
		return c.Status
	}
	return ""
}

// --- audit ---

type memAudit struct {
	mu        sync.Mutex
	entries   []*models.AuditEntry
	appendErr error
	deleteErr error
}

func (r *memAudit) Append(_ context.Context, e *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	e.ID = uuid.NewString()
	c := *e
	r.entries = append(r.entries, &c)
	return nil
}

func (r *memAudit) SelectOlderThan(_ context.Context, cutoff time.Time, limit int) ([]*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range r.entries {
		if e.Timestamp.Before(cutoff) {
			c := *e
			out = append(out, &c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memAudit) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.entries[:0]
	var n int64
	for _, e := range r.entries {
		if drop[e.ID] {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

func (r *memAudit) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	var n int64
	for _, e := range r.entries {
		if e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

func (r *memAudit) CountFailuresSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.UserID == userID && e.Result == models.AuditFailure && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memAudit) StatsSince(_ context.Context, userID string, since time.Time) ([]models.AuditStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type key struct {
		op  models.AuditOperation
		res models.AuditResult
	}
	idx := map[key]int{}
	var out []models.AuditStat
	for _, e := range r.entries {
		if e.UserID != userID || e.Timestamp.Before(since) {
			continue
		}
		k := key{e.Operation, e.Result}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, models.AuditStat{Operation: e.Operation, Result: e.Result})
		}
		out[i].Count++
	}
	return out, nil
}

func (r *memAudit) all() []*models.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// --- manager ---

type memManager struct {
	users      *memUsers
	templates  *memTemplates
	challenges *memChallenges
	audit      *memAudit
}

func newMemManager() *memManager {
	return &memManager{
		users:      newMemUsers(),
		templates:  newMemTemplates(),
		challenges: newMemChallenges(),
		audit:      &memAudit{},
	}
}

func (m *memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memManager) Users(dbx.DBTX) users.Repository              { return m.users }
func (m *memManager) Templates(dbx.DBTX) templates.Repository      { return m.templates }
func (m *memManager) Challenges(dbx.DBTX) challenges.Repository    { return m.challenges }
func (m *memManager) Audit(dbx.DBTX) audit.Repository              { return m.audit }

// --- oracle ---

// fakeOracle answers from a queue of extractions and compares vectors by
// euclidean distance.
type fakeOracle struct {
	mu          sync.Mutex
	extractions []*oracle.Extraction
	extractErr  error
	compareErr  error

	extractCalls atomic.Int32
	compareCalls atomic.Int32
}

func (o *fakeOracle) push(e *oracle.Extraction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extractions = append(o.extractions, e)
}

func (o *fakeOracle) ExtractFeatures(_ context.Context, image []byte, _, _ string) (*oracle.Extraction, error) {
	o.extractCalls.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.extractErr != nil {
		return nil, o.extractErr
	}
	if len(o.extractions) == 0 {
		return nil, common.ErrOracleUnavailable
	}
	e := *o.extractions[0]
	if len(o.extractions) > 1 {
		o.extractions = o.extractions[1:]
	}
	e.Encoding = append([]float64(nil), e.Encoding...)
	return &e, nil
}

func (o *fakeOracle) CompareFaces(_ context.Context, a, b []float64, threshold float64) (*oracle.Comparison, error) {
	o.compareCalls.Add(1)
	if o.compareErr != nil {
		return nil, o.compareErr
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	dist := math.Sqrt(sum)
	return &oracle.Comparison{
		Match:      dist <= threshold,
		Distance:   dist,
		Confidence: math.Max(0, 1-dist),
	}, nil
}

func face(v ...float64) *oracle.Extraction {
	return &oracle.Extraction{
		FaceDetected:  true,
		Encoding:      v,
		Confidence:    0.99,
		LivenessScore: 0.9,
		QualityScore:  0.9,
	}
}

// --- clock ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- wiring ---

type testEnv struct {
	repos      *memManager
	oracle     *fakeOracle
	clock      *testClock
	cfg        *config.Config
	challenges *ChallengeService
	templates  *TemplateStore
	audit      *AuditLogger
	biometric  *BiometricService
	users      *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	cfg.BiometricMasterKey = "test-master-key"
	cfg.SessionValidityDuration = time.Hour
	cfg.BcryptCost = 4

	repos := newMemManager()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	o := &fakeOracle{}
	log := logging.Nop{}

	cs := NewChallengeService(repos.challenges, log)
	cs.now = clock.Now
	ts := NewTemplateStore(nil, repos, cfg)
	al := NewAuditLogger(nil, repos, nil, log)
	al.now = clock.Now
	bs := NewBiometricService(nil, repos, cs, ts, al, o, cfg, log)
	bs.now = clock.Now

	return &testEnv{
		repos:      repos,
		oracle:     o,
		clock:      clock,
		cfg:        cfg,
		challenges: cs,
		templates:  ts,
		audit:      al,
		biometric:  bs,
		users:      NewUserService(nil, repos, cfg),
	}
}

// seedUser creates an active user and, when vector is non-nil, an active
// template for it.
func (e *testEnv) seedUser(t *testing.T, email string, vector []float64) *models.User {
	t.Helper()
	u, err := e.repos.users.Create(context.Background(), &models.User{
		Email:  email,
		Name:   "Test",
		Role:   models.RoleUser,
		Status: models.UserStatusActive,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if vector != nil {
		if _, err := e.templates.Save(context.Background(), u.ID, append([]float64(nil), vector...), 0.9, 0.9); err != nil {
			t.Fatalf("seed template: %v", err)
		}
	}
	return u
}

func (e *testEnv) challenge(t *testing.T, email string) string {
	t.Helper()
	g, err := e.biometric.RequestChallenge(context.Background(), ChallengeRequest{Email: email, Operation: models.OperationLogin})
	if err != nil {
		t.Fatalf("request challenge: %v", err)
	}
	return g.Token
}

func (e *testEnv) verify(email, token string) (*VerifyResult, error) {
	return e.biometric.Verify(context.Background(), VerifyRequest{
		Token:  token,
		Email:  email,
		Image:  Image{Data: []byte("jpeg"), Filename: "face.jpg", ContentType: "image/jpeg"},
		Client: ClientInfo{IP: "10.0.0.1", UserAgent: "test"},
	})
}

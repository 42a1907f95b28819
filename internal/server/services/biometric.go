package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/facegate/internal/common"
	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/auth"
	"github.com/dmitrijs2005/facegate/internal/server/config"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/dmitrijs2005/facegate/internal/server/oracle"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/users"
)

// State is a step of a verification attempt. AUTHENTICATED, REJECTED,
// LOCKED and ERRORED are terminal.
type State string

const (
	StateAwaitingChallenge State = "AWAITING_CHALLENGE"
	StateChallengeIssued   State = "CHALLENGE_ISSUED"
	StateImageSubmitted    State = "IMAGE_SUBMITTED"
	StateFeaturesExtracted State = "FEATURES_EXTRACTED"
	StateLivenessChecked   State = "LIVENESS_CHECKED"
	StateQualityChecked    State = "QUALITY_CHECKED"
	StateTemplateDecrypted State = "TEMPLATE_DECRYPTED"
	StateCompared          State = "COMPARED"
	StateAuthenticated     State = "AUTHENTICATED"
	StateRejected          State = "REJECTED"
	StateLocked            State = "LOCKED"
	StateErrored           State = "ERRORED"
)

// Policy holds the score thresholds. Liveness and quality are minimums;
// MatchThreshold and DuplicateThreshold are maximum distances passed to
// the oracle.
type Policy struct {
	LoginLiveness      float64
	LoginQuality       float64
	MatchThreshold     float64
	EnrolLiveness      float64
	EnrolQuality       float64
	DuplicateThreshold float64
}

func DefaultPolicy() Policy {
	return Policy{
		LoginLiveness:      0.5,
		LoginQuality:       0.4,
		MatchThreshold:     0.6,
		EnrolLiveness:      0.6,
		EnrolQuality:       0.6,
		DuplicateThreshold: 0.45,
	}
}

// Oracle is the face match oracle as seen by the orchestrator.
type Oracle interface {
	ExtractFeatures(ctx context.Context, image []byte, filename, contentType string) (*oracle.Extraction, error)
	CompareFaces(ctx context.Context, a, b []float64, threshold float64) (*oracle.Comparison, error)
}

type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}

type ChallengeRequest struct {
	Email     string
	Operation models.Operation
	Client    ClientInfo
}

type ChallengeGrant struct {
	Token     string
	Operation models.Operation
	ExpiresIn time.Duration
}

type VerifyRequest struct {
	Token  string
	Email  string
	Image  Image
	Client ClientInfo
}

// VerifyResult describes how an attempt ended. Session is set only when
// State is StateAuthenticated.
type VerifyResult struct {
	State                State
	Session              *auth.Session
	User                 *models.User
	Confidence           float64
	FailedAttempts       int
	LockedUntil          *time.Time
	RemainingLockSeconds int
}

type RegisterRequest struct {
	UserID string
	Image  Image
	Client ClientInfo
}

type RegisterResult struct {
	Template *models.Template
	Updated  bool
	// DuplicateScanSkipped is set when the scan could not run and
	// registration went ahead without it.
	DuplicateScanSkipped bool
}

type ValidateRequest struct {
	Image  Image
	Client ClientInfo
}

type ValidateResult struct {
	LivenessScore float64
	QualityScore  float64
	Confidence    float64
}

type TemplateStatus struct {
	Registered     bool
	IsActive       bool
	QualityScore   float64
	RegisteredAt   *time.Time
	LastUpdated    *time.Time
	FailedAttempts int
	LockedUntil    *time.Time
}

// DuplicateMatch is what a caller may learn about an existing owner of the
// same face.
type DuplicateMatch struct {
	OwnerID    string
	OwnerEmail string
	Similarity float64
}

// DuplicateError reports a duplicate face. It matches common.ErrDuplicateFace.
type DuplicateError struct {
	Match DuplicateMatch
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%v (similarity %.2f)", common.ErrDuplicateFace, e.Match.Similarity)
}

func (e *DuplicateError) Unwrap() error {
	return common.ErrDuplicateFace
}

// outcome ends an attempt; a step returning nil lets the attempt continue.
type outcome struct {
	state  State
	result models.AuditResult
	reason string
	err    error
}

func rejected(reason string, err error) *outcome {
	return &outcome{state: StateRejected, result: models.AuditFailure, reason: reason, err: err}
}

func errored(reason string, err error) *outcome {
	return &outcome{state: StateErrored, result: models.AuditError, reason: reason, err: err}
}

// oracleFailed keeps oracle error text out of the audit reason.
func oracleFailed(ctx context.Context, logger logging.Logger, step string, err error) *outcome {
	logger.Warn(ctx, "oracle call failed", "step", step, "err", err)
	return errored(step+": oracle unavailable", common.ErrOracleUnavailable)
}

// BiometricService runs the biometric protocol: challenge issue, login
// verification, enrolment and duplicate checks.
type BiometricService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	challenges  *ChallengeService
	templates   *TemplateStore
	audit       *AuditLogger
	oracle      Oracle
	policy      Policy
	jwtSecret   []byte
	sessionTTL  time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewBiometricService(db *sql.DB, m repomanager.RepositoryManager, challenges *ChallengeService,
	templates *TemplateStore, audit *AuditLogger, o Oracle, cfg *config.Config, logger logging.Logger) *BiometricService {
	return &BiometricService{
		db:          db,
		repomanager: m,
		challenges:  challenges,
		templates:   templates,
		audit:       audit,
		oracle:      o,
		policy:      DefaultPolicy(),
		jwtSecret:   []byte(cfg.SecretKey),
		sessionTTL:  cfg.SessionValidityDuration,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *BiometricService) users() users.Repository {
	return s.repomanager.Users(s.db)
}

// RequestChallenge issues a challenge for email. Only LOGIN is gated on the
// identity; REGISTER and UPDATE challenges cannot be spent by Verify.
func (s *BiometricService) RequestChallenge(ctx context.Context, req ChallengeRequest) (*ChallengeGrant, error) {
	email := common.NormalizeEmail(req.Email)
	op := req.Operation
	if op == "" {
		op = models.OperationLogin
	}
	if email == "" || !op.Valid() {
		return nil, common.ErrorValidation
	}

	if op == models.OperationLogin {
		if err := s.checkLoginEligible(ctx, email); err != nil {
			return nil, err
		}
	}

	c, err := s.challenges.Issue(ctx, email, op, req.Client)
	if err != nil {
		s.logger.Error(ctx, "challenge: issue failed", "err", err)
		return nil, common.ErrorInternal
	}

	return &ChallengeGrant{Token: c.Token, Operation: op, ExpiresIn: ChallengeExpiresHint}, nil
}

// checkLoginEligible requires an active identity with an active template.
// Every miss reports ErrInvalidCredentials so that callers cannot tell
// which part was missing.
func (s *BiometricService) checkLoginEligible(ctx context.Context, email string) error {
	user, err := s.users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidCredentials
		}
		s.logger.Error(ctx, "challenge: user lookup failed", "err", err)
		return common.ErrorInternal
	}
	if !user.IsActive() {
		return common.ErrInvalidCredentials
	}

	if _, err := s.templates.FindActive(ctx, user.ID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidCredentials
		}
		s.logger.Error(ctx, "challenge: template lookup failed", "err", err)
		return common.ErrorInternal
	}
	return nil
}

// verification carries one login attempt through its steps.
type verification struct {
	svc     *BiometricService
	req     VerifyRequest
	start   time.Time
	state   State
	user    *models.User
	tpl     *models.Template
	ext     *oracle.Extraction
	cmp     *oracle.Comparison
	stored  []float64
	session *auth.Session
}

// Verify runs one login attempt to a terminal state. Exactly one audit
// entry is written per call. The returned error is nil only for
// StateAuthenticated.
func (s *BiometricService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	req.Email = common.NormalizeEmail(req.Email)
	v := &verification{svc: s, req: req, start: s.now(), state: StateChallengeIssued}
	defer v.wipe()

	steps := []func(context.Context) *outcome{
		v.consumeChallenge,
		v.loadIdentity,
		v.checkLock,
		v.extract,
		v.checkLiveness,
		v.checkQuality,
		v.openTemplate,
		v.compare,
		v.authenticate,
	}

	for _, step := range steps {
		if out := step(ctx); out != nil {
			return v.finish(ctx, out)
		}
	}

	return v.finish(ctx, errored("verification ended without outcome", common.ErrorInternal))
}

func (v *verification) wipe() {
	common.WipeFloats(v.stored)
	if v.ext != nil {
		common.WipeFloats(v.ext.Encoding)
	}
}

func (v *verification) consumeChallenge(ctx context.Context) *outcome {
	c, err := v.svc.challenges.Consume(ctx, v.req.Token, v.req.Email)
	if err != nil {
		if errors.Is(err, common.ErrChallengeNotFound) || errors.Is(err, common.ErrChallengeExpired) {
			return rejected(err.Error(), err)
		}
		return errored("challenge ledger: "+err.Error(), common.ErrorInternal)
	}
	if c.Operation != models.OperationLogin {
		return rejected("challenge issued for "+string(c.Operation), common.ErrChallengeNotFound)
	}

	v.state = StateImageSubmitted
	return nil
}

func (v *verification) loadIdentity(ctx context.Context) *outcome {
	user, err := v.svc.users().GetByEmail(ctx, v.req.Email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return rejected("unknown identity", common.ErrVerificationFailed)
		}
		return errored("user lookup: "+err.Error(), common.ErrorInternal)
	}
	v.user = user
	if !user.IsActive() {
		return rejected("account disabled", common.ErrVerificationFailed)
	}

	tpl, err := v.svc.templates.Find(ctx, user.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return rejected("no biometric template", common.ErrVerificationFailed)
		}
		return errored("template lookup: "+err.Error(), common.ErrorInternal)
	}
	if !tpl.IsActive {
		return rejected("biometric template deactivated", common.ErrVerificationFailed)
	}
	v.tpl = tpl
	return nil
}

func (v *verification) checkLock(ctx context.Context) *outcome {
	now := v.svc.now()
	if v.tpl.IsLocked(now) {
		return v.locked(now)
	}
	if !v.tpl.LockExpired(now) {
		return nil
	}

	cleared, err := v.svc.templates.ClearExpiredLock(ctx, v.tpl)
	switch {
	case err == nil:
		v.tpl = cleared
	case errors.Is(err, common.ErrVersionConflict):
		// A parallel attempt moved the counters first; judge by its result.
		fresh, err := v.svc.templates.FindActive(ctx, v.user.ID)
		if err != nil {
			return errored("reload template: "+err.Error(), common.ErrorInternal)
		}
		v.tpl = fresh
		if v.tpl.IsLocked(now) {
			return v.locked(now)
		}
	default:
		return errored("clear expired lock: "+err.Error(), common.ErrorInternal)
	}
	return nil
}

func (v *verification) locked(now time.Time) *outcome {
	return &outcome{
		state:  StateLocked,
		result: models.AuditFailure,
		reason: fmt.Sprintf("account locked, %d second(s) remaining", v.tpl.RemainingLockSeconds(now)),
		err:    common.ErrAccountLocked,
	}
}

func (v *verification) extract(ctx context.Context) *outcome {
	img := v.req.Image
	ext, err := v.svc.oracle.ExtractFeatures(ctx, img.Data, img.Filename, img.ContentType)
	if err != nil {
		return oracleFailed(ctx, v.svc.logger, "feature extraction", err)
	}
	v.ext = ext
	v.state = StateFeaturesExtracted

	if !ext.FaceDetected {
		return v.reject(ctx, "no face detected")
	}
	return nil
}

func (v *verification) checkLiveness(ctx context.Context) *outcome {
	if v.ext.LivenessScore < v.svc.policy.LoginLiveness {
		return v.reject(ctx, fmt.Sprintf("liveness %.2f below %.2f", v.ext.LivenessScore, v.svc.policy.LoginLiveness))
	}
	v.state = StateLivenessChecked
	return nil
}

func (v *verification) checkQuality(ctx context.Context) *outcome {
	if v.ext.QualityScore < v.svc.policy.LoginQuality {
		return v.reject(ctx, fmt.Sprintf("quality %.2f below %.2f", v.ext.QualityScore, v.svc.policy.LoginQuality))
	}
	v.state = StateQualityChecked
	return nil
}

func (v *verification) openTemplate(ctx context.Context) *outcome {
	stored, err := v.svc.templates.Open(v.tpl)
	if err != nil {
		return errored("template decryption: "+err.Error(), common.ErrDecryptionFailed)
	}
	v.stored = stored
	v.state = StateTemplateDecrypted
	return nil
}

func (v *verification) compare(ctx context.Context) *outcome {
	cmp, err := v.svc.oracle.CompareFaces(ctx, v.ext.Encoding, v.stored, v.svc.policy.MatchThreshold)
	if err != nil {
		return oracleFailed(ctx, v.svc.logger, "face comparison", err)
	}
	v.cmp = cmp
	v.state = StateCompared

	if !cmp.Match {
		return v.reject(ctx, fmt.Sprintf("no match (distance %.3f)", cmp.Distance))
	}
	return nil
}

func (v *verification) authenticate(ctx context.Context) *outcome {
	if err := v.svc.templates.ResetFailures(ctx, v.user.ID); err != nil {
		return errored("reset failures: "+err.Error(), common.ErrorInternal)
	}
	v.tpl.FailedAttempts = 0
	v.tpl.LockedUntil = nil

	session, err := auth.GenerateToken(auth.Identity{
		UserID: v.user.ID,
		Email:  v.user.Email,
		Role:   string(v.user.Role),
	}, auth.MethodBiometric, v.svc.jwtSecret, v.svc.sessionTTL)
	if err != nil {
		return errored("issue session: "+err.Error(), common.ErrorInternal)
	}
	v.session = session

	return &outcome{state: StateAuthenticated, result: models.AuditSuccess, reason: "identity verified"}
}

// reject counts a failed proof against the template and ends the attempt.
func (v *verification) reject(ctx context.Context, reason string) *outcome {
	updated, err := v.svc.templates.RecordFailure(ctx, v.user.ID, v.svc.now())
	if err != nil {
		return errored(reason+"; failure not recorded: "+err.Error(), common.ErrorInternal)
	}
	v.tpl.FailedAttempts = updated.FailedAttempts
	v.tpl.LockedUntil = updated.LockedUntil
	v.tpl.LastFailedAttempt = updated.LastFailedAttempt
	return rejected(reason, common.ErrVerificationFailed)
}

func (v *verification) finish(ctx context.Context, out *outcome) (*VerifyResult, error) {
	s := v.svc
	now := s.now()
	v.state = out.state

	res := &VerifyResult{State: out.state}
	if out.state == StateAuthenticated {
		res.Session = v.session
		res.User = v.user
	}
	if v.cmp != nil {
		res.Confidence = v.cmp.Confidence
	}
	if v.tpl != nil {
		res.FailedAttempts = v.tpl.FailedAttempts
		res.LockedUntil = v.tpl.LockedUntil
		res.RemainingLockSeconds = v.tpl.RemainingLockSeconds(now)
	}

	entry := &models.AuditEntry{
		Email:            v.req.Email,
		Operation:        models.AuditLoginAttempt,
		Result:           out.result,
		Reason:           out.reason,
		Metrics:          metricsFor(v.ext, v.cmp),
		ClientIP:         v.req.Client.IP,
		UserAgent:        v.req.Client.UserAgent,
		ProcessingTimeMs: now.Sub(v.start).Milliseconds(),
	}
	if v.user != nil {
		entry.UserID = v.user.ID
	}
	if v.tpl != nil {
		entry.Metrics.FailedAttempts = models.Int(v.tpl.FailedAttempts)
		if res.RemainingLockSeconds > 0 {
			entry.Metrics.RemainingLockSeconds = models.Int(res.RemainingLockSeconds)
		}
	}
	s.audit.Record(ctx, entry)

	switch out.state {
	case StateAuthenticated:
		s.logger.Info(ctx, "biometric login succeeded", "user_id", v.user.ID, "confidence", res.Confidence)
	case StateErrored:
		s.logger.Error(ctx, "biometric login errored", "reason", out.reason)
	default:
		s.logger.Warn(ctx, "biometric login refused", "state", out.state, "reason", out.reason)
		if v.user != nil {
			s.flagSuspicious(ctx, v.user.ID)
		}
	}

	return res, out.err
}

func (s *BiometricService) flagSuspicious(ctx context.Context, userID string) {
	suspicious, n, err := s.audit.Suspicious(ctx, userID)
	if err != nil {
		s.logger.Warn(ctx, "suspicious activity check failed", "user_id", userID, "err", err)
		return
	}
	if suspicious {
		s.logger.Warn(ctx, "suspicious biometric activity", "user_id", userID, "failures", n, "window", SuspiciousWindow)
	}
}

func metricsFor(ext *oracle.Extraction, cmp *oracle.Comparison) models.AuditMetrics {
	var m models.AuditMetrics
	if ext != nil && ext.FaceDetected {
		m.LivenessScore = models.Float(ext.LivenessScore)
		m.QualityScore = models.Float(ext.QualityScore)
	}
	if cmp != nil {
		m.Confidence = models.Float(cmp.Confidence)
		m.MatchDistance = models.Float(cmp.Distance)
	}
	return m
}

// capture runs the enrolment checks on img: extraction, the stricter
// liveness and quality thresholds, and the duplicate scan over every
// active template except excludeUserID. When the scan itself fails,
// failOpen decides whether capture proceeds (skipped is then true) or
// ends in ERRORED.
func (s *BiometricService) capture(ctx context.Context, img Image, excludeUserID string, failOpen bool) (ext *oracle.Extraction, skipped bool, out *outcome) {
	ext, err := s.oracle.ExtractFeatures(ctx, img.Data, img.Filename, img.ContentType)
	if err != nil {
		return nil, false, oracleFailed(ctx, s.logger, "feature extraction", err)
	}
	if !ext.FaceDetected {
		return ext, false, rejected("no face detected", fmt.Errorf("%w: no face detected", common.ErrFaceRejected))
	}
	if ext.LivenessScore < s.policy.EnrolLiveness {
		return ext, false, rejected(fmt.Sprintf("liveness %.2f below %.2f", ext.LivenessScore, s.policy.EnrolLiveness),
			fmt.Errorf("%w: liveness check failed", common.ErrFaceRejected))
	}
	if ext.QualityScore < s.policy.EnrolQuality {
		return ext, false, rejected(fmt.Sprintf("quality %.2f below %.2f", ext.QualityScore, s.policy.EnrolQuality),
			fmt.Errorf("%w: image quality too low", common.ErrFaceRejected))
	}

	dup, err := s.scanDuplicates(ctx, ext.Encoding, excludeUserID)
	if err != nil {
		if !failOpen {
			s.logger.Error(ctx, "duplicate scan failed", "err", err)
			return ext, false, errored("duplicate scan failed", common.ErrorInternal)
		}
		s.logger.Warn(ctx, "duplicate scan failed, continuing without it", "err", err)
		return ext, true, nil
	}
	if dup != nil {
		return ext, false, rejected(fmt.Sprintf("duplicate of %s (similarity %.2f)", dup.OwnerID, dup.Similarity),
			&DuplicateError{Match: *dup})
	}
	return ext, false, nil
}

// scanDuplicates compares probe with active templates. A template that
// cannot be decrypted is skipped; a listing or oracle failure fails the
// whole scan.
func (s *BiometricService) scanDuplicates(ctx context.Context, probe []float64, excludeUserID string) (*DuplicateMatch, error) {
	candidates, err := s.templates.ListActiveExcept(ctx, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	for _, t := range candidates {
		stored, err := s.templates.Open(t)
		if err != nil {
			s.logger.Warn(ctx, "duplicate scan: skipping unreadable template", "template_id", t.ID, "err", err)
			continue
		}

		cmp, err := s.oracle.CompareFaces(ctx, probe, stored, s.policy.DuplicateThreshold)
		common.WipeFloats(stored)
		if err != nil {
			return nil, err
		}
		if !cmp.Match {
			continue
		}

		m := &DuplicateMatch{OwnerID: common.RedactID(t.UserID), Similarity: cmp.Confidence}
		if owner, err := s.users().GetByID(ctx, t.UserID); err == nil {
			m.OwnerEmail = common.RedactEmail(owner.Email)
		}
		return m, nil
	}
	return nil, nil
}

// RegisterTemplate enrols or replaces the face of an authenticated user.
// A failing duplicate scan does not block registration.
func (s *BiometricService) RegisterTemplate(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	start := s.now()
	entry := &models.AuditEntry{
		UserID:    req.UserID,
		Operation: models.AuditRegisterBiometric,
		ClientIP:  req.Client.IP,
		UserAgent: req.Client.UserAgent,
	}

	res := &RegisterResult{}
	var ext *oracle.Extraction
	out := func() *outcome {
		user, err := s.users().GetByID(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return rejected("unknown user", common.ErrorUnauthorized)
			}
			return errored("user lookup: "+err.Error(), common.ErrorInternal)
		}
		entry.Email = user.Email

		if _, err := s.templates.Find(ctx, req.UserID); err == nil {
			res.Updated = true
			entry.Operation = models.AuditUpdateBiometric
		} else if !errors.Is(err, common.ErrorNotFound) {
			return errored("template lookup: "+err.Error(), common.ErrorInternal)
		}

		var o *outcome
		ext, res.DuplicateScanSkipped, o = s.capture(ctx, req.Image, req.UserID, true)
		if o != nil {
			return o
		}

		tpl, err := s.templates.Save(ctx, req.UserID, ext.Encoding, ext.QualityScore, ext.LivenessScore)
		if err != nil {
			return errored("store template: "+err.Error(), common.ErrorInternal)
		}
		res.Template = tpl

		reason := "template registered"
		if res.Updated {
			reason = "template updated"
		}
		if res.DuplicateScanSkipped {
			reason += "; duplicate scan skipped"
		}
		return &outcome{state: StateAuthenticated, result: models.AuditSuccess, reason: reason}
	}()
	if ext != nil {
		defer common.WipeFloats(ext.Encoding)
	}

	entry.Result = out.result
	entry.Reason = out.reason
	entry.Metrics = metricsFor(ext, nil)
	entry.ProcessingTimeMs = s.now().Sub(start).Milliseconds()
	s.audit.Record(ctx, entry)

	if out.err != nil {
		s.logger.Warn(ctx, "biometric registration refused", "user_id", req.UserID, "reason", out.reason)
		return nil, out.err
	}
	s.logger.Info(ctx, "biometric template stored", "user_id", req.UserID, "updated", res.Updated)
	return res, nil
}

// ValidateFaceUniqueness checks a face before an account exists. Unlike
// registration it refuses to answer when the duplicate scan fails.
func (s *BiometricService) ValidateFaceUniqueness(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	start := s.now()

	ext, _, out := s.capture(ctx, req.Image, "", false)
	if ext != nil {
		defer common.WipeFloats(ext.Encoding)
	}
	if out == nil {
		out = &outcome{state: StateAuthenticated, result: models.AuditSuccess, reason: "face is unique"}
	}

	s.audit.Record(ctx, &models.AuditEntry{
		Operation:        models.AuditVerifyIdentity,
		Result:           out.result,
		Reason:           out.reason,
		Metrics:          metricsFor(ext, nil),
		ClientIP:         req.Client.IP,
		UserAgent:        req.Client.UserAgent,
		ProcessingTimeMs: s.now().Sub(start).Milliseconds(),
	})

	if out.err != nil {
		return nil, out.err
	}
	return &ValidateResult{
		LivenessScore: ext.LivenessScore,
		QualityScore:  ext.QualityScore,
		Confidence:    ext.Confidence,
	}, nil
}

// Status reports the caller's template without exposing any of its
// encrypted fields.
func (s *BiometricService) Status(ctx context.Context, userID string) (*TemplateStatus, error) {
	tpl, err := s.templates.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &TemplateStatus{Registered: false}, nil
		}
		return nil, common.ErrorInternal
	}

	registered, updated := tpl.RegisteredAt, tpl.LastUpdated
	st := &TemplateStatus{
		Registered:     true,
		IsActive:       tpl.IsActive,
		QualityScore:   tpl.QualityScore,
		RegisteredAt:   &registered,
		LastUpdated:    &updated,
		FailedAttempts: tpl.FailedAttempts,
	}
	if tpl.IsLocked(s.now()) {
		st.LockedUntil = tpl.LockedUntil
	}
	return st, nil
}

// Deactivate disables a user's template; it stays stored but can no
// longer be used to log in or match duplicates.
func (s *BiometricService) Deactivate(ctx context.Context, userID string, client ClientInfo) error {
	start := s.now()
	err := s.templates.Deactivate(ctx, userID)

	entry := &models.AuditEntry{
		UserID:           userID,
		Operation:        models.AuditDeactivate,
		Result:           models.AuditSuccess,
		Reason:           "template deactivated",
		ClientIP:         client.IP,
		UserAgent:        client.UserAgent,
		ProcessingTimeMs: s.now().Sub(start).Milliseconds(),
	}

	switch {
	case errors.Is(err, common.ErrorNotFound):
		return common.ErrorNotFound
	case err != nil:
		entry.Result = models.AuditError
		entry.Reason = "deactivate: " + err.Error()
		s.audit.Record(ctx, entry)
		return common.ErrorInternal
	}

	s.audit.Record(ctx, entry)
	return nil
}

// Stats returns audit aggregates for userID over the last days days.
func (s *BiometricService) Stats(ctx context.Context, userID string, days int) ([]models.AuditStat, error) {
	if days <= 0 {
		days = 30
	}
	stats, err := s.audit.Stats(ctx, userID, days)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return stats, nil
}

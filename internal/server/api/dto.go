package api

import (
	"time"

	"github.com/dmitrijs2005/facegate/internal/server/models"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func summarize(u *models.User) userSummary {
	return userSummary{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role)}
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      userSummary `json:"user"`
}

type challengeRequest struct {
	Email     string `json:"email"`
	Operation string `json:"operation"`
}

type challengeResponse struct {
	ChallengeToken string `json:"challengeToken"`
	ExpiresIn      int    `json:"expiresIn"`
	Operation      string `json:"operation"`
}

type verificationSummary struct {
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

type verifyResponse struct {
	Token        string              `json:"token"`
	ExpiresAt    time.Time           `json:"expiresAt"`
	User         userSummary         `json:"user"`
	Verification verificationSummary `json:"verification"`
}

type lockedResponse struct {
	Success          bool      `json:"success"`
	Message          string    `json:"message"`
	LockedUntil      time.Time `json:"lockedUntil"`
	RemainingSeconds int       `json:"remainingSeconds"`
	FailedAttempts   int       `json:"failedAttempts"`
}

// rejectedResponse is a failed verify against a known template. It tells
// the caller how close the account is to a lockout.
type rejectedResponse struct {
	Success          bool       `json:"success"`
	Message          string     `json:"message"`
	FailedAttempts   int        `json:"failedAttempts"`
	LockedUntil      *time.Time `json:"lockedUntil,omitempty"`
	RemainingSeconds int        `json:"remainingSeconds,omitempty"`
}

type registerResponse struct {
	Registered           bool    `json:"registered"`
	Updated              bool    `json:"updated"`
	QualityScore         float64 `json:"qualityScore"`
	LivenessScore        float64 `json:"livenessScore"`
	DuplicateScanSkipped bool    `json:"duplicateScanSkipped,omitempty"`
}

type duplicateResponse struct {
	Success         bool    `json:"success"`
	Message         string  `json:"message"`
	IsDuplicate     bool    `json:"isDuplicate"`
	SimilarityScore float64 `json:"similarityScore"`
	Owner           string  `json:"owner,omitempty"`
}

type faceMetrics struct {
	QualityScore  float64 `json:"qualityScore"`
	LivenessScore float64 `json:"livenessScore"`
	Confidence    float64 `json:"confidence"`
}

type validateResponse struct {
	Valid   bool        `json:"valid"`
	Metrics faceMetrics `json:"metrics"`
}

type statusResponse struct {
	Registered     bool       `json:"registered"`
	IsActive       bool       `json:"isActive"`
	QualityScore   float64    `json:"qualityScore,omitempty"`
	RegisteredAt   *time.Time `json:"registeredAt,omitempty"`
	LastUpdated    *time.Time `json:"lastUpdated,omitempty"`
	FailedAttempts int        `json:"failedAttempts,omitempty"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
}

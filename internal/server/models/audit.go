package models

import "time"

type AuditOperation string

const (
	AuditLoginAttempt      AuditOperation = "LOGIN_ATTEMPT"
	AuditRegisterBiometric AuditOperation = "REGISTER_BIOMETRIC"
	AuditUpdateBiometric   AuditOperation = "UPDATE_BIOMETRIC"
	AuditVerifyIdentity    AuditOperation = "VERIFY_IDENTITY"

	// AuditDeactivate records an administrator switching a template off.
	AuditDeactivate AuditOperation = "DEACTIVATE_BIOMETRIC"
)

type AuditResult string

const (
	AuditSuccess AuditResult = "SUCCESS"
	AuditFailure AuditResult = "FAILURE"
	AuditError   AuditResult = "ERROR"
)

// AuditMetrics holds the optional numbers attached to an audit entry.
// Nil fields are stored as NULL.
type AuditMetrics struct {
	LivenessScore        *float64 `json:"livenessScore,omitempty"`
	QualityScore         *float64 `json:"qualityScore,omitempty"`
	Confidence           *float64 `json:"confidence,omitempty"`
	MatchDistance        *float64 `json:"matchDistance,omitempty"`
	FailedAttempts       *int     `json:"failedAttempts,omitempty"`
	RemainingLockSeconds *int     `json:"remainingLockSeconds,omitempty"`
}

// AuditEntry is an append-only record of one biometric operation.
type AuditEntry struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId,omitempty"`
	Email            string         `json:"email,omitempty"`
	Operation        AuditOperation `json:"operation"`
	Result           AuditResult    `json:"result"`
	Reason           string         `json:"reason,omitempty"`
	Metrics          AuditMetrics   `json:"metrics"`
	ClientIP         string         `json:"ipAddress,omitempty"`
	UserAgent        string         `json:"userAgent,omitempty"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	Timestamp        time.Time      `json:"timestamp"`
}

// AuditStat aggregates entries by operation and result.
type AuditStat struct {
	Operation         AuditOperation `json:"operation"`
	Result            AuditResult    `json:"result"`
	Count             int            `json:"count"`
	AvgConfidence     *float64       `json:"avgConfidence,omitempty"`
	AvgProcessingTime float64        `json:"avgProcessingTimeMs"`
}

func Float(v float64) *float64 { return &v }
func Int(v int) *int           { return &v }

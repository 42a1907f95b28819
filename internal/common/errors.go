// Package common defines shared constants and sentinel errors used across
// the repository, service and transport layers of facegate. Callers should
// use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrorForbidden     = errors.New("forbidden")
	ErrVersionConflict = errors.New("version conflict")

	// Validation errors.
	ErrorValidation = errors.New("validation error")

	// Identity errors.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")
	ErrAccountLocked      = errors.New("account temporarily locked")

	// Challenge ledger errors.
	ErrChallengeNotFound = errors.New("invalid challenge")
	ErrChallengeExpired  = errors.New("challenge expired")

	// Biometric errors.
	ErrVerificationFailed = errors.New("face verification failed")
	ErrFaceRejected       = errors.New("face image rejected")
	ErrDuplicateFace      = errors.New("face already registered")
	ErrDecryptionFailed   = errors.New("template decryption failed")
	ErrOracleUnavailable  = errors.New("face match oracle unavailable")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")
)

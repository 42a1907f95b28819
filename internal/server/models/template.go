package models

import "time"

// Template is the encrypted biometric record of one identity together with
// its lockout counters. At most one template exists per user.
type Template struct {
	ID     string
	UserID string

	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
	Salt       []byte

	QualityScore  float64
	LivenessScore float64

	IsActive          bool
	FailedAttempts    int
	LockedUntil       *time.Time
	LastFailedAttempt *time.Time

	RegisteredAt time.Time
	LastUpdated  time.Time
	Version      int64
}

// IsLocked reports whether the template is inside a lock window at now.
func (t *Template) IsLocked(now time.Time) bool {
	return t.LockedUntil != nil && t.LockedUntil.After(now)
}

// LockExpired reports whether a lock was set but its window has passed.
func (t *Template) LockExpired(now time.Time) bool {
	return t.LockedUntil != nil && !t.LockedUntil.After(now)
}

// RemainingLockSeconds rounds the rest of the lock window up to whole
// seconds; zero when not locked.
func (t *Template) RemainingLockSeconds(now time.Time) int {
	if !t.IsLocked(now) {
		return 0
	}
	d := t.LockedUntil.Sub(now)
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// Package models defines server-side data models persisted in the database.
package models

import "time"

type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is an identity that can own a biometric template. PasswordHash is
// empty for accounts created without a password.
type User struct {
	ID           string     `db:"id"`
	Email        string     `db:"email"`
	Name         string     `db:"name"`
	PasswordHash string     `db:"password_hash"`
	Role         Role       `db:"role"`
	Status       UserStatus `db:"status"`
	CreatedAt    time.Time  `db:"created_at"`
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

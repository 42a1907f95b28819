// Package auth mints and parses session tokens (HS256 JWTs).
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/facegate/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const (
	MethodBiometric = "biometric"
	MethodPassword  = "password"

	issuer = "facegate"
)

// Claims is the session payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	AuthMethod string `json:"authMethod"`
}

// Identity is what a session is issued for.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// Session is a signed token and its expiry.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

func GenerateToken(id Identity, method string, secretKey []byte, validityDuration time.Duration) (*Session, error) {
	now := time.Now()
	expires := now.Add(validityDuration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID:     id.UserID,
		Email:      id.Email,
		Role:       id.Role,
		AuthMethod: method,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return nil, err
	}

	return &Session{Token: tokenString, ExpiresAt: expires}, nil
}

// ParseToken validates signature, algorithm and expiry.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

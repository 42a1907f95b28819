// Package common contains shared constants and sentinel errors used across
// facegate components.
package common

const (
	// AuthorizationHeader carries the bearer session token on inbound requests.
	AuthorizationHeader = "Authorization"

	// BearerPrefix precedes the session token in AuthorizationHeader.
	BearerPrefix = "Bearer "

	// InternalTokenHeader authenticates facegate to the face match oracle.
	InternalTokenHeader = "X-Internal-Token"
)

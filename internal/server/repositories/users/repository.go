// Package users is the credential store: identity records keyed by a
// lower-cased email.
package users

import (
	"context"

	"github.com/dmitrijs2005/facegate/internal/server/models"
)

// Repository returns common.ErrorNotFound for unknown users and
// common.ErrorAlreadyExists on a duplicate email.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

package auth

import (
	"context"
	"errors"

	"medsales/internal/model"
	"medsales/pkg/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserLookup loads a user by id. Soft-deleted users must come back as gorm.ErrRecordNotFound.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Verifier accepts a token only while the user it names still exists and is active.
type Verifier struct {
	tokens *Tokens
	users  UserLookup
}

func NewVerifier(tokens *Tokens, users UserLookup) *Verifier {
	return &Verifier{tokens: tokens, users: users}
}

// Verify returns the caller's id, an Unauthorized error, or an Infrastructure error when the
// user store fails.
func (v *Verifier) Verify(ctx context.Context, raw string) (uuid.UUID, error) {
	id, err := v.tokens.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("Invalid or expired token")
	}
	user, err := v.users.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, apperr.Unauthorized("User no longer exists")
	}
	if err != nil {
		return uuid.Nil, apperr.Infrastructure(err, "load authenticated user")
	}
	if !user.IsActive {
		return uuid.Nil, apperr.Unauthorized("Your account is not active. Please contact admin.")
	}
	return user.ID, nil
}

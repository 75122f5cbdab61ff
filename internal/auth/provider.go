package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/retail-console/internal/shared"
)

// IdentityProvider issues identities for credentials.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context, identity Identity) error
}

// PasswordProvider authenticates against locally stored bcrypt hashes.
type PasswordProvider struct {
	users UserRepository
}

// NewPasswordProvider constructs a PasswordProvider.
func NewPasswordProvider(users UserRepository) *PasswordProvider {
	return &PasswordProvider{users: users}
}

// SignInWithPassword validates email/password credentials.
func (p *PasswordProvider) SignInWithPassword(ctx context.Context, email, password string) (Identity, error) {
	user, err := p.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Identity{}, shared.ErrInvalidCredentials
		}
		return Identity{}, err
	}
	if !user.IsActive {
		return Identity{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Identity{}, shared.ErrInvalidCredentials
	}
	return user.Identity(), nil
}

// SignOut is a no-op; local sessions live only in the session store.
func (p *PasswordProvider) SignOut(ctx context.Context, identity Identity) error {
	return nil
}

var _ IdentityProvider = (*PasswordProvider)(nil)

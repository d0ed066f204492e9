package library

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator resolves credentials to the acting member.
type Authenticator interface {
	Authenticate(ctx context.Context, memberID, password string) (Actor, error)
}

// PasswordAuthenticator checks bcrypt password hashes stored on members.
type PasswordAuthenticator struct {
	store Store
}

var _ Authenticator = (*PasswordAuthenticator)(nil)

// NewPasswordAuthenticator creates an authenticator over store.
func NewPasswordAuthenticator(store Store) *PasswordAuthenticator {
	return &PasswordAuthenticator{store: store}
}

// Authenticate returns the actor for memberID when password matches. Unknown
// members and wrong passwords are indistinguishable to the caller. Suspended
// staff are refused; a suspended member may still sign in but cannot borrow.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, memberID, password string) (Actor, error) {
	var m *Member
	err := a.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		m, err = repo.GetMember(ctx, memberID)
		return orNotFound(err, ErrInvalidCredentials)
	})
	if err != nil {
		return Actor{}, err
	}
	if m.PasswordHash == "" {
		return Actor{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return Actor{}, ErrInvalidCredentials
	}
	actor := Actor{MemberID: m.ID, Role: m.Role}
	if actor.IsStaff() && m.Status != MemberActive {
		return Actor{}, ErrMemberInactive
	}
	return actor, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", Validationf("password must not exceed 72 bytes")
	}
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/unidesk/unidesk/internal/shared"
)

// dummyHash is compared against when the account does not exist so lookups
// for unknown usernames cost the same as wrong passwords.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOa8Bk6PnxZ6QeVqQbTeCeQ1FNEHb6Z5S")

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates credentials of the given account kind.
func (s *Service) Authenticate(ctx context.Context, kind shared.ActorKind, username, password string) (*Account, error) {
	var (
		acc *Account
		err error
	)
	switch kind {
	case shared.ActorAdmin:
		acc, err = s.repo.FindAdmin(ctx, username)
	case shared.ActorStudent:
		acc, err = s.repo.FindStudent(ctx, username)
	default:
		return nil, shared.ErrInvalidCredentials
	}
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !acc.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return acc, nil
}

// ResolveActor loads the active account bound to a session. Missing or
// deactivated accounts resolve to nil.
func (s *Service) ResolveActor(ctx context.Context, kind shared.ActorKind, id int64) (*shared.Actor, error) {
	acc, err := s.repo.GetAccount(ctx, kind, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !acc.IsActive {
		return nil, nil
	}
	return acc.Actor(), nil
}

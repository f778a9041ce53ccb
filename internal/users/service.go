package users

import (
	"context"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, filters ListFilters) ([]User, error)
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns admin users matching filters.
func (s *Service) ListUsers(ctx context.Context, filters ListFilters) ([]User, error) {
	users, err := s.repo.ListUsers(ctx, filters)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	for i := range users {
		if users[i].Roles == nil {
			users[i].Roles = []string{}
		}
	}
	return users, nil
}

package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/auth"
)

type UserStore struct {
	mu      sync.Mutex
	byEmail map[string]auth.User
}

func NewUserStore() *UserStore {
	return &UserStore{byEmail: make(map[string]auth.User)}
}

func (s *UserStore) Create(ctx context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[u.Email]; ok {
		return leadadmin.ErrDuplicatedUser
	}
	s.byEmail[u.Email] = u
	return nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byEmail[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for email, u := range s.byEmail {
		if u.ID == id {
			u.PasswordHash = passwordHash
			s.byEmail[email] = u
			return nil
		}
	}
	return auth.ErrUserNotFound
}

func (s *UserStore) Confirm(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for email, u := range s.byEmail {
		if u.ID == id {
			u.ConfirmedAt = &at
			s.byEmail[email] = u
			return nil
		}
	}
	return auth.ErrUserNotFound
}

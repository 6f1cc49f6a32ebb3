// SPDX-License-Identifier: MPL-2.0

package account

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store.  Accounts are copied in and out so
// callers can't mutate stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*LocalAccount
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: map[string]*LocalAccount{}}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*LocalAccount, error) {
	const op = "MemoryStore.Get"
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, id, ErrNotFound)
	}
	return a.Clone(), nil
}

// FindBySubject implements Store.
func (s *MemoryStore) FindBySubject(_ context.Context, subject string) (*LocalAccount, error) {
	const op = "MemoryStore.FindBySubject"
	if subject == "" {
		return nil, fmt.Errorf("%s: subject is empty: %w", op, ErrInvalidParameter)
	}
	return s.find(op, func(a *LocalAccount) bool { return a.ExternalSubject == subject })
}

// FindByEmail implements Store.  Emails match case insensitively.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*LocalAccount, error) {
	const op = "MemoryStore.FindByEmail"
	if email == "" {
		return nil, fmt.Errorf("%s: email is empty: %w", op, ErrInvalidParameter)
	}
	return s.find(op, func(a *LocalAccount) bool { return strings.EqualFold(a.Email, email) })
}

// UsernameExists implements Store.  Usernames match case insensitively.
func (s *MemoryStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, a *LocalAccount) error {
	const op = "MemoryStore.Create"
	if a == nil {
		return fmt.Errorf("%s: account is nil: %w", op, ErrNilParameter)
	}
	if a.ID == "" || a.Username == "" {
		return fmt.Errorf("%s: id and username are required: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%s: id %q: %w", op, a.ID, ErrDuplicate)
	}
	if err := s.conflicts(a); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.accounts[a.ID] = a.Clone()
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, a *LocalAccount) error {
	const op = "MemoryStore.Update"
	if a == nil {
		return fmt.Errorf("%s: account is nil: %w", op, ErrNilParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return fmt.Errorf("%s: %q: %w", op, a.ID, ErrNotFound)
	}
	if err := s.conflicts(a); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.accounts[a.ID] = a.Clone()
	return nil
}

// conflicts requires s.mu to be held.
func (s *MemoryStore) conflicts(a *LocalAccount) error {
	for id, other := range s.accounts {
		if id == a.ID {
			continue
		}
		switch {
		case strings.EqualFold(other.Username, a.Username):
			return fmt.Errorf("username %q: %w", a.Username, ErrDuplicate)
		case a.Email != "" && strings.EqualFold(other.Email, a.Email):
			return fmt.Errorf("email %q: %w", a.Email, ErrDuplicate)
		case a.ExternalSubject != "" && other.ExternalSubject == a.ExternalSubject:
			return fmt.Errorf("external subject: %w", ErrDuplicate)
		}
	}
	return nil
}

func (s *MemoryStore) find(op string, match func(*LocalAccount) bool) (*LocalAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if match(a) {
			return a.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
}

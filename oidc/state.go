// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/nextidentity/rp/sdk/id"
)

// DefaultStateTTL is how long an issued state may be redeemed.
const DefaultStateTTL = 10 * time.Minute

// StateTokenBytes is the number of random bytes in a state token.
const StateTokenBytes = 32

// AuthState represents one pending authorization request.  Token is carried
// through the browser round-trip as the oauth "state" parameter.  RedirectTo is
// where the user goes after a successful login and is consumed with the state.
type AuthState struct {
	Token      string
	RedirectTo *string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// NewAuthState creates a state with a fresh random token which expires ttl
// after now.
func NewAuthState(redirectTo *string, now time.Time, ttl time.Duration) (*AuthState, error) {
	const op = "oidc.NewAuthState"
	if ttl <= 0 {
		return nil, fmt.Errorf("%s: ttl not greater than zero: %w", op, ErrInvalidParameter)
	}
	tok, err := NewStateToken()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &AuthState{
		Token:      tok,
		RedirectTo: copyString(redirectTo),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

// IsExpired returns true if the state can no longer be redeemed at now.
func (s *AuthState) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NewStateToken returns StateTokenBytes of randomness, base64url encoded.
func NewStateToken() (string, error) {
	const op = "oidc.NewStateToken"
	tok, err := id.Token(StateTokenBytes)
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", op, err, ErrIdGeneratorFailed)
	}
	return tok, nil
}

// StateStore issues and redeems single use states.  Redeem must be atomic:
// when callers race to redeem the same token exactly one of them gets
// ok == true.
type StateStore interface {
	// Issue stores a new state carrying the optional redirect and returns its
	// token.
	Issue(ctx context.Context, redirectTo *string) (string, error)

	// Redeem looks up and deletes the state.  ok is false when the token is
	// unknown, already redeemed or expired.
	Redeem(ctx context.Context, token string) (redirectTo *string, ok bool)
}

// MemoryStateStore is an in-process StateStore.  It's safe for concurrent use
// but states aren't shared between processes; see redisstate.Store for that.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*AuthState

	ttl    time.Duration
	logger hclog.Logger
	clock  clockwork.Clock
}

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore creates an empty store.
// Supported options:
//
//	WithTTL
//	WithLogger
//	WithClock
func NewMemoryStateStore(opt ...Option) *MemoryStateStore {
	opts := getStateStoreOpts(opt...)
	return &MemoryStateStore{
		states: map[string]*AuthState{},
		ttl:    opts.withTTL,
		logger: opts.withLogger.Named("state"),
		clock:  opts.withClock,
	}
}

// Issue implements StateStore.  Expired states are swept on each issue.
func (s *MemoryStateStore) Issue(_ context.Context, redirectTo *string) (string, error) {
	const op = "MemoryStateStore.Issue"
	now := s.clock.Now()
	st, err := NewAuthState(redirectTo, now, s.ttl)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.states {
		if v.IsExpired(now) {
			delete(s.states, k)
		}
	}
	s.states[st.Token] = st
	return st.Token, nil
}

// Redeem implements StateStore.
func (s *MemoryStateStore) Redeem(_ context.Context, token string) (*string, bool) {
	if token == "" {
		return nil, false
	}
	s.mu.Lock()
	st, found := s.states[token]
	delete(s.states, token)
	s.mu.Unlock()
	if !found {
		s.logger.Debug("state not found")
		return nil, false
	}
	if st.IsExpired(s.clock.Now()) {
		s.logger.Debug("state expired", "created_at", st.CreatedAt)
		return nil, false
	}
	return st.RedirectTo, true
}

// Len returns the number of states held, expired or not.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// stateStoreOptions is the set of available options for MemoryStateStore
type stateStoreOptions struct {
	withTTL    time.Duration
	withLogger hclog.Logger
	withClock  clockwork.Clock
}

// stateStoreDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func stateStoreDefaults() stateStoreOptions {
	return stateStoreOptions{
		withTTL:    DefaultStateTTL,
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
	}
}

// getStateStoreOpts gets the defaults and applies the opt overrides passed in
func getStateStoreOpts(opt ...Option) stateStoreOptions {
	opts := stateStoreDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

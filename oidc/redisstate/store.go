// SPDX-License-Identifier: MPL-2.0

// Package redisstate provides an oidc.StateStore backed by redis, so pending
// logins survive restarts and can be redeemed by any replica.
package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/nextidentity/rp/oidc"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces state keys.
const DefaultKeyPrefix = "rp:state:"

// maxIssueAttempts bounds retries when a generated token already exists.
const maxIssueAttempts = 3

type entry struct {
	RedirectTo *string   `json:"redirect_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store is a redis oidc.StateStore.  Issue uses SET NX with the state TTL as
// the key's expiry and Redeem uses GETDEL, so redemption is atomic across
// processes.
type Store struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	logger hclog.Logger
	clock  clockwork.Clock
}

var _ oidc.StateStore = (*Store)(nil)

// New creates a Store.
// Supported options:
//
//	WithTTL
//	WithKeyPrefix
//	WithLogger
//	WithClock
func New(rdb redis.Cmdable, opt ...Option) (*Store, error) {
	const op = "redisstate.New"
	if rdb == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Store{
		rdb:    rdb,
		prefix: opts.withKeyPrefix,
		ttl:    opts.withTTL,
		logger: opts.withLogger.Named("redis-state"),
		clock:  opts.withClock,
	}, nil
}

// Issue implements oidc.StateStore.
func (s *Store) Issue(ctx context.Context, redirectTo *string) (string, error) {
	const op = "Store.Issue"
	for i := 0; i < maxIssueAttempts; i++ {
		st, err := oidc.NewAuthState(redirectTo, s.clock.Now(), s.ttl)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		payload, err := json.Marshal(entry{RedirectTo: st.RedirectTo, CreatedAt: st.CreatedAt, ExpiresAt: st.ExpiresAt})
		if err != nil {
			return "", fmt.Errorf("%s: unable to encode state: %w", op, err)
		}
		ok, err := s.rdb.SetNX(ctx, s.key(st.Token), payload, s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("%s: unable to store state: %w", op, err)
		}
		if ok {
			return st.Token, nil
		}
		s.logger.Warn("state token collision, retrying")
	}
	return "", fmt.Errorf("%s: unable to store a unique state: %w", op, oidc.ErrIdGeneratorFailed)
}

// Redeem implements oidc.StateStore.  Redis errors are logged and reported as
// a failed redemption.
func (s *Store) Redeem(ctx context.Context, token string) (*string, bool) {
	if token == "" {
		return nil, false
	}
	payload, err := s.rdb.GetDel(ctx, s.key(token)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		s.logger.Debug("state not found")
		return nil, false
	case err != nil:
		s.logger.Error("unable to redeem state", "error", err)
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(payload, &e); err != nil {
		s.logger.Error("unable to decode state", "error", err)
		return nil, false
	}
	if !s.clock.Now().Before(e.ExpiresAt) {
		s.logger.Debug("state expired", "created_at", e.CreatedAt)
		return nil, false
	}
	return e.RedirectTo, true
}

func (s *Store) key(token string) string {
	return s.prefix + token
}

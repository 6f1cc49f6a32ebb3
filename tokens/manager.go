// SPDX-License-Identifier: MPL-2.0

// Package tokens hands out valid provider access tokens for local accounts,
// refreshing them on demand.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/oidc"
	"golang.org/x/sync/singleflight"
)

// MetadataSource supplies provider metadata.  *oidc.DiscoveryCache
// implements it.
type MetadataSource interface {
	GetMetadata(ctx context.Context, providerBaseURL string) (*oidc.ProviderMetadata, error)
}

// Refresher redeems refresh tokens.  *oidc.TokenClient implements it.
type Refresher interface {
	RefreshToken(ctx context.Context, md *oidc.ProviderMetadata, refreshToken oidc.RefreshToken, clientID string, clientSecret oidc.ClientSecret) (*oidc.TokenSet, error)
}

// Manager reads and refreshes the provider tokens stored on accounts.  There
// is no background refresh; tokens are refreshed when asked for.
type Manager struct {
	store     account.Store
	discovery MetadataSource
	refresher Refresher
	config    *oidc.Config
	logger    hclog.Logger
	clock     clockwork.Clock
	skew      time.Duration

	refreshes singleflight.Group
}

// NewManager creates a Manager.
// Supported options:
//
//	WithLogger
//	WithClock
//	WithRefreshSkew
func NewManager(store account.Store, discovery MetadataSource, refresher Refresher, c *oidc.Config, opt ...Option) (*Manager, error) {
	const op = "tokens.NewManager"
	switch {
	case store == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	case discovery == nil:
		return nil, fmt.Errorf("%s: discovery is nil: %w", op, ErrNilParameter)
	case refresher == nil:
		return nil, fmt.Errorf("%s: refresher is nil: %w", op, ErrNilParameter)
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Manager{
		store:     store,
		discovery: discovery,
		refresher: refresher,
		config:    c,
		logger:    opts.withLogger.Named("tokens"),
		clock:     opts.withClock,
		skew:      opts.withRefreshSkew,
	}, nil
}

// GetAccessToken returns a usable access token for the account, refreshing
// it when it has expired.  An empty token means the user has to
// re-authenticate: there are no tokens, the token expired without a refresh
// token, or the refresh failed.  The error is only for account lookups.
func (m *Manager) GetAccessToken(ctx context.Context, accountID string) (string, error) {
	const op = "Manager.GetAccessToken"
	a, err := m.store.Get(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if m.usable(a.Tokens) {
		return string(a.Tokens.AccessToken), nil
	}
	if !a.Tokens.CanRefresh() {
		m.logger.Debug("access token expired and no refresh token", "account_id", accountID)
		return "", nil
	}

	v, err, shared := m.refreshes.Do(accountID, func() (interface{}, error) {
		return m.refresh(ctx, accountID)
	})
	if err != nil {
		m.logger.Warn("unable to refresh access token", "account_id", accountID, "error", err)
		if errors.Is(err, account.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		return "", nil
	}
	if shared {
		m.logger.Trace("shared access token refresh", "account_id", accountID)
	}
	return v.(string), nil
}

// refresh re-reads the account so a caller arriving after another refresh
// finished doesn't spend the refresh token again.
func (m *Manager) refresh(ctx context.Context, accountID string) (string, error) {
	const op = "Manager.refresh"
	a, err := m.store.Get(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if m.usable(a.Tokens) {
		return string(a.Tokens.AccessToken), nil
	}
	if !a.Tokens.CanRefresh() {
		return "", fmt.Errorf("%s: no refresh token: %w", op, oidc.ErrRefreshFailed)
	}
	md, err := m.discovery.GetMetadata(ctx, m.config.ProviderURL)
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", op, err, oidc.ErrRefreshFailed)
	}
	next, err := m.refresher.RefreshToken(ctx, md, a.Tokens.RefreshToken, m.config.ClientID, m.config.ClientSecret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	a.Tokens = account.MergeTokens(a.Tokens, next)
	a.UpdatedAt = m.clock.Now()
	if err := m.store.Update(ctx, a); err != nil {
		return "", fmt.Errorf("%s: unable to persist refreshed tokens: %s: %w", op, err, oidc.ErrRefreshFailed)
	}
	m.logger.Debug("refreshed access token", "account_id", accountID, "expires_at", a.Tokens.ExpiresAt)
	return string(a.Tokens.AccessToken), nil
}

func (m *Manager) usable(t *oidc.TokenSet) bool {
	return t != nil && t.AccessToken != "" && !t.Expired(m.clock.Now().Add(m.skew))
}

// GetIDToken returns the stored ID token, which may be empty.
func (m *Manager) GetIDToken(ctx context.Context, accountID string) (oidc.IDToken, error) {
	const op = "Manager.GetIDToken"
	a, err := m.store.Get(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if a.Tokens == nil {
		return "", nil
	}
	return a.Tokens.IDToken, nil
}

// GetCachedClaims returns the claims recorded at the last login.
func (m *Manager) GetCachedClaims(ctx context.Context, accountID string) (map[string]interface{}, error) {
	const op = "Manager.GetCachedClaims"
	a, err := m.store.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a.Claims, nil
}

// AvatarURL returns the picture recorded from the provider, if any.
func (m *Manager) AvatarURL(ctx context.Context, accountID string) (string, error) {
	const op = "Manager.AvatarURL"
	a, err := m.store.Get(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return a.AvatarURL, nil
}

// IsLinked reports whether the account is linked to a provider user.  Lookup
// failures report false.
func (m *Manager) IsLinked(ctx context.Context, accountID string) bool {
	a, err := m.store.Get(ctx, accountID)
	if err != nil {
		m.logger.Debug("unable to read account", "account_id", accountID, "error", err)
		return false
	}
	return a.IsLinked()
}

// Unlink removes everything the provider contributed to the account: the
// subject link, tokens, cached claims and avatar.  The account itself stays.
func (m *Manager) Unlink(ctx context.Context, accountID string) error {
	const op = "Manager.Unlink"
	a, err := m.store.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	a.ExternalSubject = ""
	a.Tokens = nil
	a.Claims = nil
	a.AvatarURL = ""
	a.UpdatedAt = m.clock.Now()
	if err := m.store.Update(ctx, a); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Info("unlinked account", "account_id", accountID)
	return nil
}

// SPDX-License-Identifier: MPL-2.0

package tokens

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	tp      *oidc.TestProvider
	store   *account.MemoryStore
	clock   clockwork.FakeClock
	manager *Manager
}

func newTestEnv(t *testing.T, opt ...Option) *testEnv {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	clientID, secret := tp.ClientCreds()
	c, err := oidc.NewConfig(tp.Addr(), clientID, oidc.ClientSecret(secret), "https://site.example.com/?auth=callback")
	require.NoError(err)

	clock := clockwork.NewFakeClockAt(time.Now())
	store := account.NewMemoryStore()
	discovery := oidc.NewDiscoveryCache(oidc.WithHTTPClient(tp.HttpClient()), oidc.WithClock(clock))
	client := oidc.NewTokenClient(oidc.WithHTTPClient(tp.HttpClient()), oidc.WithClock(clock))
	m, err := NewManager(store, discovery, client, c, append([]Option{WithClock(clock)}, opt...)...)
	require.NoError(err)
	return &testEnv{tp: tp, store: store, clock: clock, manager: m}
}

func (e *testEnv) createAccount(t *testing.T, tokens *oidc.TokenSet) string {
	t.Helper()
	require.NoError(t, e.store.Create(context.Background(), &account.LocalAccount{
		ID:              "acct-1",
		Username:        "alice",
		Email:           "alice@example.com",
		ExternalSubject: "sub-1",
		Tokens:          tokens,
		Claims:          map[string]interface{}{"sub": "sub-1"},
		AvatarURL:       "https://example.com/alice.png",
	}))
	return "acct-1"
}

func TestNewManager(t *testing.T) {
	t.Parallel()
	store := account.NewMemoryStore()
	discovery := oidc.NewDiscoveryCache()
	client := oidc.NewTokenClient()
	c := &oidc.Config{}
	tests := []struct {
		name      string
		store     account.Store
		discovery MetadataSource
		refresher Refresher
		config    *oidc.Config
	}{
		{name: "nil-store", discovery: discovery, refresher: client, config: c},
		{name: "nil-discovery", store: store, refresher: client, config: c},
		{name: "nil-refresher", store: store, discovery: discovery, config: c},
		{name: "nil-config", store: store, discovery: discovery, refresher: client},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			_, err := NewManager(tt.store, tt.discovery, tt.refresher, tt.config)
			assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
		})
	}
}

func TestManager_GetAccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unexpired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)
		id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", RefreshToken: "test-refresh-token", ExpiresAt: env.clock.Now().Add(time.Minute)})
		got, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		assert.Equal("at", got)
		assert.Equal(0, env.tp.Count(oidc.TestTokenPath))
	})
	t.Run("expired-refreshes-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)
		id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", RefreshToken: "test-refresh-token", IDToken: "idt", ExpiresAt: env.clock.Now().Add(-time.Second)})

		got, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		assert.NotEmpty(got)
		assert.NotEqual("at", got)
		assert.Equal(1, env.tp.Count(oidc.TestTokenPath))
		assert.Equal("refresh_token", env.tp.LastTokenForm().Get("grant_type"))

		a, err := env.store.Get(ctx, id)
		require.NoError(err)
		assert.Equal(oidc.AccessToken(got), a.Tokens.AccessToken)
		assert.Equal(oidc.RefreshToken("test-refresh-token"), a.Tokens.RefreshToken)
		assert.True(a.Tokens.ExpiresAt.After(env.clock.Now()))
		assert.NotEqual(oidc.IDToken("idt"), a.Tokens.IDToken)

		again, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		assert.Equal(got, again)
		assert.Equal(1, env.tp.Count(oidc.TestTokenPath))
	})
	t.Run("concurrent-callers-share-refresh", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t)
		id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", RefreshToken: "test-refresh-token", ExpiresAt: env.clock.Now().Add(-time.Second)})

		const callers = 10
		var wg sync.WaitGroup
		got := make([]string, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got[i], _ = env.manager.GetAccessToken(ctx, id)
			}(i)
		}
		wg.Wait()
		assert.Equal(1, env.tp.Count(oidc.TestTokenPath))
		for _, tk := range got {
			assert.Equal(got[0], tk)
			assert.NotEmpty(tk)
		}
	})
	t.Run("rotated-refresh-token-kept", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)
		env.tp.RotateRefreshTokens()
		id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", RefreshToken: "test-refresh-token", ExpiresAt: env.clock.Now().Add(-time.Second)})
		_, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		a, err := env.store.Get(ctx, id)
		require.NoError(err)
		assert.Equal(oidc.RefreshToken("test-refresh-token-r"), a.Tokens.RefreshToken)
	})
	t.Run("skew", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t, WithRefreshSkew(time.Minute))
		id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", RefreshToken: "test-refresh-token", ExpiresAt: env.clock.Now().Add(30 * time.Second)})
		got, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		assert.NotEqual("at", got)
		assert.Equal(1, env.tp.Count(oidc.TestTokenPath))
	})
	t.Run("expired-without-refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)
		id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", ExpiresAt: env.clock.Now().Add(-time.Second)})
		got, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		assert.Empty(got)
		assert.Equal(0, env.tp.Count(oidc.TestTokenPath))
		assert.Equal(0, env.tp.Count(oidc.TestDiscoveryPath))
	})
	t.Run("no-tokens", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)
		id := env.createAccount(t, nil)
		got, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		assert.Empty(got)
	})
	t.Run("refresh-rejected", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)
		prev := &oidc.TokenSet{AccessToken: "at", RefreshToken: "revoked", ExpiresAt: env.clock.Now().Add(-time.Second)}
		id := env.createAccount(t, prev)
		got, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		assert.Empty(got)
		a, err := env.store.Get(ctx, id)
		require.NoError(err)
		assert.Equal(prev, a.Tokens)
	})
	t.Run("token-endpoint-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)
		env.tp.SetStatus(oidc.TestTokenPath, http.StatusInternalServerError)
		id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", RefreshToken: "test-refresh-token", ExpiresAt: env.clock.Now().Add(-time.Second)})
		got, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		assert.Empty(got)
	})
	t.Run("discovery-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)
		env.tp.SetStatus(oidc.TestDiscoveryPath, http.StatusServiceUnavailable)
		id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", RefreshToken: "test-refresh-token", ExpiresAt: env.clock.Now().Add(-time.Second)})
		got, err := env.manager.GetAccessToken(ctx, id)
		require.NoError(err)
		assert.Empty(got)
		assert.Equal(0, env.tp.Count(oidc.TestTokenPath))
	})
	t.Run("unknown-account", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t)
		_, err := env.manager.GetAccessToken(ctx, "nope")
		assert.Truef(errors.Is(err, account.ErrNotFound), "wanted \"%s\" but got \"%s\"", account.ErrNotFound, err)
	})
}

func TestManager_reads(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", IDToken: "idt"})

	idt, err := env.manager.GetIDToken(ctx, id)
	require.NoError(err)
	assert.Equal(oidc.IDToken("idt"), idt)

	claims, err := env.manager.GetCachedClaims(ctx, id)
	require.NoError(err)
	assert.Equal(map[string]interface{}{"sub": "sub-1"}, claims)

	avatar, err := env.manager.AvatarURL(ctx, id)
	require.NoError(err)
	assert.Equal("https://example.com/alice.png", avatar)

	assert.True(env.manager.IsLinked(ctx, id))
	assert.False(env.manager.IsLinked(ctx, "nope"))

	_, err = env.manager.GetIDToken(ctx, "nope")
	assert.True(errors.Is(err, account.ErrNotFound))
	assert.Equal(0, env.tp.Count(oidc.TestDiscoveryPath))
}

func TestManager_Unlink(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	id := env.createAccount(t, &oidc.TokenSet{AccessToken: "at", RefreshToken: "rt", IDToken: "idt"})

	require.NoError(env.manager.Unlink(ctx, id))
	assert.False(env.manager.IsLinked(ctx, id))

	a, err := env.store.Get(ctx, id)
	require.NoError(err)
	assert.Nil(a.Tokens)
	assert.Nil(a.Claims)
	assert.Empty(a.AvatarURL)
	assert.Equal("alice", a.Username)

	got, err := env.manager.GetAccessToken(ctx, id)
	require.NoError(err)
	assert.Empty(got)

	assert.True(errors.Is(env.manager.Unlink(ctx, "nope"), account.ErrNotFound))
}

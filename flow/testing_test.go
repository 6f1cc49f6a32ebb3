// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/oidc"
	"github.com/nextidentity/rp/tokens"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSiteURL  = "https://site.example.com/"
	testCallback = "https://site.example.com/?auth=callback"
)

type testEnv struct {
	tp         *oidc.TestProvider
	config     *Config
	states     *oidc.MemoryStateStore
	store      *account.MemoryStore
	controller *Controller
	notified   *recordingNotifier
}

type recordingNotifier struct {
	mu     sync.Mutex
	logins []string
}

func (n *recordingNotifier) LoginOccurred(_ context.Context, a *account.LocalAccount, _ *oidc.ExternalIdentity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logins = append(n.logins, a.ID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.logins)
}

func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	tp.SetAllowedRedirectURIs([]string{testCallback})
	clientID, secret := tp.ClientCreds()
	provider, err := oidc.NewConfig(tp.Addr(), clientID, oidc.ClientSecret(secret), testCallback)
	require.NoError(err)

	c := &Config{
		Provider:   provider,
		Resolution: account.DefaultResolutionConfig(),
		SiteURL:    testSiteURL,
	}
	for _, fn := range configure {
		fn(c)
	}

	clock := clockwork.NewFakeClockAt(time.Now())
	states := oidc.NewMemoryStateStore(oidc.WithClock(clock))
	discovery := oidc.NewDiscoveryCache(oidc.WithHTTPClient(tp.HttpClient()), oidc.WithClock(clock))
	client := oidc.NewTokenClient(oidc.WithHTTPClient(tp.HttpClient()), oidc.WithClock(clock))
	store := account.NewMemoryStore()
	resolver, err := account.NewResolver(store, account.WithBcryptCost(bcrypt.MinCost), account.WithClock(clock))
	require.NoError(err)
	manager, err := tokens.NewManager(store, discovery, client, provider, tokens.WithClock(clock))
	require.NoError(err)

	notified := &recordingNotifier{}
	ctrl, err := NewController(c, states, discovery, client, resolver, manager, WithLoginNotifier(notified))
	require.NoError(err)
	return &testEnv{
		tp:         tp,
		config:     c,
		states:     states,
		store:      store,
		controller: ctrl,
		notified:   notified,
	}
}

func query(kv ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	return q
}

// startLogin runs a login and returns the state sent to the provider.
func (e *testEnv) startLogin(t *testing.T, kv ...string) string {
	t.Helper()
	resp := e.controller.Handle(context.Background(), Request{Query: query(append([]string{QueryParam, string(ActionLogin)}, kv...)...)})
	require.Empty(t, resp.Code)
	u, err := url.Parse(resp.Location)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func (e *testEnv) callback(kv ...string) Response {
	return e.controller.Handle(context.Background(), Request{Query: query(append([]string{QueryParam, string(ActionCallback)}, kv...)...)})
}

func loginError(t *testing.T, location string) string {
	t.Helper()
	u, err := url.Parse(location)
	require.NoError(t, err)
	return u.Query().Get(LoginErrorParam)
}

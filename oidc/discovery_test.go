// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryCache_GetMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("cached-within-ttl", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		clock := clockwork.NewFakeClock()
		c := NewDiscoveryCache(WithHTTPClient(tp.HttpClient()), WithClock(clock))

		md, err := c.GetMetadata(ctx, tp.Addr())
		require.NoError(err)
		assert.Equal(tp.Addr()+TestAuthPath, md.AuthorizationEndpoint)
		assert.Equal(tp.Addr()+TestTokenPath, md.TokenEndpoint)
		assert.Equal(tp.Addr()+TestUserInfoPath, md.UserInfoEndpoint)
		assert.Equal(tp.Addr()+TestEndSessionPath, md.EndSessionEndpoint)
		assert.Equal(1, tp.Count(TestDiscoveryPath))

		clock.Advance(DefaultDiscoveryTTL - time.Second)
		again, err := c.GetMetadata(ctx, tp.Addr()+"/")
		require.NoError(err)
		assert.Equal(md, again)
		assert.Equal(1, tp.Count(TestDiscoveryPath))
	})
	t.Run("refetched-after-ttl", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		clock := clockwork.NewFakeClock()
		c := NewDiscoveryCache(WithHTTPClient(tp.HttpClient()), WithClock(clock), WithTTL(time.Minute))

		_, err := c.GetMetadata(ctx, tp.Addr())
		require.NoError(err)
		clock.Advance(time.Minute)
		_, err = c.GetMetadata(ctx, tp.Addr())
		require.NoError(err)
		assert.Equal(2, tp.Count(TestDiscoveryPath))
	})
	t.Run("invalidate", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := NewDiscoveryCache(WithHTTPClient(tp.HttpClient()))

		_, err := c.GetMetadata(ctx, tp.Addr())
		require.NoError(err)
		c.Invalidate(tp.Addr() + "/")
		_, err = c.GetMetadata(ctx, tp.Addr())
		require.NoError(err)
		assert.Equal(2, tp.Count(TestDiscoveryPath))
	})
	t.Run("failure-not-cached", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := NewDiscoveryCache(WithHTTPClient(tp.HttpClient()))

		tp.SetStatus(TestDiscoveryPath, http.StatusInternalServerError)
		_, err := c.GetMetadata(ctx, tp.Addr())
		require.Error(err)
		assert.Truef(errors.Is(err, ErrDiscoveryFailed), "wanted \"%s\" but got \"%s\"", ErrDiscoveryFailed, err)

		tp.SetStatus(TestDiscoveryPath, 0)
		_, err = c.GetMetadata(ctx, tp.Addr())
		require.NoError(err)
		assert.Equal(2, tp.Count(TestDiscoveryPath))
	})
	t.Run("empty-url", func(t *testing.T) {
		assert := assert.New(t)
		c := NewDiscoveryCache()
		_, err := c.GetMetadata(ctx, "")
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestDiscoveryCache_badDocuments(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed-json", body: `{"authorization_endpoint":`},
		{name: "not-an-object", body: `["https://idp/auth"]`},
		{name: "missing-token-endpoint", body: `{"authorization_endpoint":"https://idp/auth"}`},
		{name: "missing-auth-endpoint", body: `{"token_endpoint":"https://idp/token"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				assert.Equal("/"+WellKnownPath, r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewDiscoveryCache(WithHTTPClient(srv.Client()))
			_, err := c.GetMetadata(context.Background(), srv.URL)
			require.Error(err)
			assert.Truef(errors.Is(err, ErrDiscoveryFailed), "wanted \"%s\" but got \"%s\"", ErrDiscoveryFailed, err)
			_, err = c.GetMetadata(context.Background(), srv.URL)
			require.Error(err)
			assert.Equal(int32(2), atomic.LoadInt32(&hits))
		})
	}
}

func TestDiscoveryCache_transportError(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewDiscoveryCache(WithHTTPClient(&http.Client{Timeout: time.Second}))
	_, err := c.GetMetadata(context.Background(), addr)
	require.Error(err)
	assert.True(errors.Is(err, ErrDiscoveryFailed))
}

// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSecret_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedClientSecret
		secret := ClientSecret("bob's phone number")
		assert.Equalf(want, secret.String(), "ClientSecret.String() = %v, want %v", secret.String(), want)
	})
}

func TestClientSecret_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := fmt.Sprintf(`"%s"`, RedactedClientSecret)
		secret := ClientSecret("bob's phone number")
		got, err := secret.MarshalJSON()
		require.NoError(err)
		assert.Equalf([]byte(want), got, "ClientSecret.MarshalJSON() = %s, want %s", got, want)
	})
}

func TestNewConfig(t *testing.T) {
	t.Parallel()
	testCaPem := TestGenerateCA(t, []string{"localhost"})

	type args struct {
		providerURL  string
		clientID     string
		clientSecret ClientSecret
		redirectURL  string
		opt          []Option
	}
	tests := []struct {
		name      string
		args      args
		want      *Config
		wantErr   bool
		wantIsErr error
	}{
		{
			name: "valid-with-all-valid-opts",
			args: args{
				providerURL:  "https://YOUR_PROVIDER/",
				clientID:     "YOUR_CLIENT_ID",
				clientSecret: "YOUR_CLIENT_SECRET",
				redirectURL:  "https://YOUR_SITE/?auth=callback",
				opt: []Option{
					WithScopes("openid", "email"),
					WithProviderCA(testCaPem),
					WithSkipUserInfo(),
					WithHTTPTimeout(5 * time.Second),
				},
			},
			want: &Config{
				ProviderURL:  "https://YOUR_PROVIDER/",
				ClientID:     "YOUR_CLIENT_ID",
				ClientSecret: "YOUR_CLIENT_SECRET",
				RedirectURL:  "https://YOUR_SITE/?auth=callback",
				Scopes:       []string{"openid", "email"},
				ProviderCA:   testCaPem,
				SkipUserInfo: true,
				HTTPTimeout:  5 * time.Second,
			},
		},
		{
			name: "valid-default-scopes",
			args: args{
				providerURL:  "https://YOUR_PROVIDER",
				clientID:     "YOUR_CLIENT_ID",
				clientSecret: "YOUR_CLIENT_SECRET",
				redirectURL:  "https://YOUR_SITE/?auth=callback",
			},
			want: &Config{
				ProviderURL:  "https://YOUR_PROVIDER",
				ClientID:     "YOUR_CLIENT_ID",
				ClientSecret: "YOUR_CLIENT_SECRET",
				RedirectURL:  "https://YOUR_SITE/?auth=callback",
				Scopes:       []string{"openid", "profile", "email"},
			},
		},
		{
			name: "empty-provider-url",
			args: args{
				clientID:     "YOUR_CLIENT_ID",
				clientSecret: "YOUR_CLIENT_SECRET",
				redirectURL:  "https://YOUR_SITE/?auth=callback",
			},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name: "bad-provider-scheme",
			args: args{
				providerURL:  "ftp://YOUR_PROVIDER",
				clientID:     "YOUR_CLIENT_ID",
				clientSecret: "YOUR_CLIENT_SECRET",
				redirectURL:  "https://YOUR_SITE/?auth=callback",
			},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name: "missing-client-id",
			args: args{
				providerURL:  "https://YOUR_PROVIDER",
				clientSecret: "YOUR_CLIENT_SECRET",
				redirectURL:  "https://YOUR_SITE/?auth=callback",
			},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name: "missing-client-secret",
			args: args{
				providerURL: "https://YOUR_PROVIDER",
				clientID:    "YOUR_CLIENT_ID",
				redirectURL: "https://YOUR_SITE/?auth=callback",
			},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name: "missing-redirect",
			args: args{
				providerURL:  "https://YOUR_PROVIDER",
				clientID:     "YOUR_CLIENT_ID",
				clientSecret: "YOUR_CLIENT_SECRET",
			},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name: "scopes-without-openid",
			args: args{
				providerURL:  "https://YOUR_PROVIDER",
				clientID:     "YOUR_CLIENT_ID",
				clientSecret: "YOUR_CLIENT_SECRET",
				redirectURL:  "https://YOUR_SITE/?auth=callback",
				opt:          []Option{WithScopes("email")},
			},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.args.providerURL, tt.args.clientID, tt.args.clientSecret, tt.args.redirectURL, tt.args.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestConfig_Validate_reportsAll(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c := &Config{}
	err := c.Validate()
	require.Error(err)
	assert.Contains(err.Error(), "client id is empty")
	assert.Contains(err.Error(), "client secret is empty")
	assert.Contains(err.Error(), "provider URL is empty")
	assert.Contains(err.Error(), "redirect URL is empty")

	var nilConfig *Config
	err = nilConfig.Validate()
	require.Error(err)
	assert.True(errors.Is(err, ErrNilParameter))
}

func TestConfig_IsConfigured(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var nilConfig *Config
	assert.False(nilConfig.IsConfigured())
	assert.False((&Config{ProviderURL: "https://p", ClientID: "id"}).IsConfigured())
	assert.True((&Config{ProviderURL: "https://p", ClientID: "id", ClientSecret: "s"}).IsConfigured())
}

func TestConfig_HttpClient(t *testing.T) {
	t.Parallel()
	t.Run("invalid-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := &Config{ProviderCA: "bad"}
		_, err := c.HttpClient()
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidCACert))
	})
	t.Run("timeout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := &Config{HTTPTimeout: 2 * time.Second}
		client, err := c.HttpClient()
		require.NoError(err)
		assert.Equal(2*time.Second, client.Timeout)
	})
}

func TestCallbackURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		site string
		want string
	}{
		{site: "https://example.com", want: "https://example.com/?auth=callback"},
		{site: "https://example.com/", want: "https://example.com/?auth=callback"},
		{site: "https://example.com/blog/", want: "https://example.com/blog/?auth=callback"},
		{site: "https://example.com/?foo=bar#frag", want: "https://example.com/?auth=callback"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.site, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := CallbackURL(tt.site)
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestParseScopes(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal([]string{"openid", "profile", "email"}, ParseScopes(DefaultScopes))
	assert.Equal([]string{"openid", "offline_access"}, ParseScopes("  openid   offline_access "))
	assert.Empty(ParseScopes(""))
}

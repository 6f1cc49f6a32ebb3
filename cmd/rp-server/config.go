// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/flow"
	"github.com/nextidentity/rp/oidc"
)

// serverConfig is read from RP_* environment variables, after loading an
// optional .env file.
type serverConfig struct {
	Addr     string `env:"RP_ADDR" envDefault:":8080"`
	SiteURL  string `env:"RP_SITE_URL,required"`
	LogLevel string `env:"RP_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"RP_LOG_JSON"`

	ProviderURL  string        `env:"RP_PROVIDER_URL"`
	ClientID     string        `env:"RP_CLIENT_ID"`
	ClientSecret string        `env:"RP_CLIENT_SECRET"`
	Scopes       string        `env:"RP_SCOPES" envDefault:"openid profile email"`
	SkipUserInfo bool          `env:"RP_SKIP_USERINFO"`
	ProviderCA   string        `env:"RP_PROVIDER_CA_FILE,file"`
	HTTPTimeout  time.Duration `env:"RP_HTTP_TIMEOUT" envDefault:"10s"`

	AutoRegister bool   `env:"RP_AUTO_REGISTER" envDefault:"true"`
	DefaultRole  string `env:"RP_DEFAULT_ROLE" envDefault:"subscriber"`

	LoginURL       string `env:"RP_LOGIN_URL"`
	LoginRedirect  string `env:"RP_LOGIN_REDIRECT"`
	LogoutRedirect string `env:"RP_LOGOUT_REDIRECT"`

	DatabasePath  string        `env:"RP_DATABASE_PATH" envDefault:"rp.db"`
	RedisAddr     string        `env:"RP_REDIS_ADDR"`
	RedisPassword string        `env:"RP_REDIS_PASSWORD"`
	StateTTL      time.Duration `env:"RP_STATE_TTL" envDefault:"10m"`
	DiscoveryTTL  time.Duration `env:"RP_DISCOVERY_TTL" envDefault:"1h"`

	SessionSecret string        `env:"RP_SESSION_SECRET,required"`
	SessionTTL    time.Duration `env:"RP_SESSION_TTL" envDefault:"24h"`
	SecureCookies bool          `env:"RP_SECURE_COOKIES" envDefault:"true"`
}

// loadConfig reads dotenvFiles (missing files are skipped) and then the
// environment.  Variables already set win over the files.
func loadConfig(dotenvFiles ...string) (*serverConfig, error) {
	const op = "main.loadConfig"
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: unable to load %s: %w", op, f, err)
		}
	}
	var c serverConfig
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("%s: parse env: %w", op, err)
	}
	return &c, nil
}

// providerConfig builds the provider config.  With any of the provider
// settings missing the returned config is unconfigured and the flows refuse
// to start.
func (c *serverConfig) providerConfig() (*oidc.Config, error) {
	const op = "main.providerConfig"
	redirect, err := oidc.CallbackURL(c.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	partial := &oidc.Config{
		ProviderURL:  c.ProviderURL,
		ClientID:     c.ClientID,
		ClientSecret: oidc.ClientSecret(c.ClientSecret),
		RedirectURL:  redirect,
		Scopes:       oidc.ParseScopes(c.Scopes),
		SkipUserInfo: c.SkipUserInfo,
		ProviderCA:   c.ProviderCA,
		HTTPTimeout:  c.HTTPTimeout,
	}
	if !partial.IsConfigured() {
		return partial, nil
	}
	opts := []oidc.Option{
		oidc.WithScopes(partial.Scopes...),
		oidc.WithProviderCA(c.ProviderCA),
		oidc.WithHTTPTimeout(c.HTTPTimeout),
	}
	if c.SkipUserInfo {
		opts = append(opts, oidc.WithSkipUserInfo())
	}
	pc, err := oidc.NewConfig(c.ProviderURL, c.ClientID, oidc.ClientSecret(c.ClientSecret), redirect, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pc, nil
}

func (c *serverConfig) flowConfig(provider *oidc.Config) *flow.Config {
	return &flow.Config{
		Provider: provider,
		Resolution: account.ResolutionConfig{
			AutoRegister: c.AutoRegister,
			DefaultRole:  c.DefaultRole,
		},
		SiteURL:        c.SiteURL,
		LoginURL:       c.LoginURL,
		LoginRedirect:  c.LoginRedirect,
		LogoutRedirect: c.LogoutRedirect,
	}
}

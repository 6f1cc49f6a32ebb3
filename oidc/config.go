// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
	sdkHttp "github.com/nextidentity/rp/sdk/http"
)

// DefaultScopes are requested when a Config has no scopes.
const DefaultScopes = "openid profile email"

// CallbackQuery is the query appended to the site URL to form the redirect
// URI registered with the provider.
const CallbackQuery = "auth=callback"

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the relying party's configuration for the authorization
// code flow against a single provider.
type Config struct {
	// ProviderURL is the provider's base URL.  The discovery document is
	// expected at ProviderURL + "/.well-known/openid-configuration".
	ProviderURL string

	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the relying party secret
	ClientSecret ClientSecret

	// Scopes requested of the provider.  Defaults to DefaultScopes.
	Scopes []string

	// RedirectURL is the callback URL registered with the provider.  See
	// CallbackURL.
	RedirectURL string

	// SkipUserInfo sources claims from the id_token payload instead of calling
	// the provider's userinfo endpoint.
	SkipUserInfo bool

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// HTTPTimeout bounds each request to the provider.  Zero means
	// sdk/http.DefaultTimeout.
	HTTPTimeout time.Duration
}

// NewConfig composes a new config for a provider.
// Supported options:
//
//	WithScopes
//	WithProviderCA
//	WithSkipUserInfo
//	WithHTTPTimeout
func NewConfig(providerURL, clientID string, clientSecret ClientSecret, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ProviderURL:  providerURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       opts.withScopes,
		SkipUserInfo: opts.withSkipUserInfo,
		ProviderCA:   opts.withProviderCA,
		HTTPTimeout:  opts.withHTTPTimeout,
	}
	if len(c.Scopes) == 0 {
		c.Scopes = ParseScopes(DefaultScopes)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// IsConfigured reports whether the provider URL and client credentials are
// all set.  Flows must not be started for an unconfigured relying party.
func (c *Config) IsConfigured() bool {
	if c == nil {
		return false
	}
	return c.ProviderURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Validate the provider configuration.  It does not verify the provider is
// discoverable via an http request.  Every problem found is reported.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("provider config is nil: %w", ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.ClientSecret == "" {
		result = multierror.Append(result, fmt.Errorf("client secret is empty: %w", ErrInvalidParameter))
	}
	if err := validateHTTPURL("provider URL", c.ProviderURL); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateHTTPURL("redirect URL", c.RedirectURL); err != nil {
		result = multierror.Append(result, err)
	}
	if len(c.Scopes) > 0 && !contains(c.Scopes, oidc.ScopeOpenID) {
		result = multierror.Append(result, fmt.Errorf("scopes must include %q: %w", oidc.ScopeOpenID, ErrInvalidParameter))
	}
	return result.ErrorOrNil()
}

// HttpClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HttpClient() (*http.Client, error) {
	client, err := sdkHttp.NewClient(c.ProviderCA, c.HTTPTimeout)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("could not parse CA PEM value: %w", ErrInvalidCACert)
		}
		return nil, fmt.Errorf("could not get an http client: %w", err)
	}
	return client, nil
}

// CallbackURL derives the redirect URI from the site's base URL.
func CallbackURL(siteURL string) (string, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return "", fmt.Errorf("site URL %q is invalid: %w", siteURL, ErrInvalidParameter)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = CallbackQuery
	u.Fragment = ""
	return u.String(), nil
}

// ParseScopes splits a space separated scope list.
func ParseScopes(s string) []string {
	return strings.Fields(s)
}

func validateHTTPURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is empty: %w", name, ErrInvalidParameter)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q is invalid: %w", name, raw, ErrInvalidParameter)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s %q scheme is not http or https: %w", name, raw, ErrInvalidParameter)
	}
	if u.Host == "" {
		return fmt.Errorf("%s %q has no host: %w", name, raw, ErrInvalidParameter)
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// configOptions is the set of available options
type configOptions struct {
	withScopes       []string
	withProviderCA   string
	withSkipUserInfo bool
	withHTTPTimeout  time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the provider's config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithSkipUserInfo sources claims from the id_token instead of the
// provider's userinfo endpoint.
func WithSkipUserInfo() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSkipUserInfo = true
		}
	}
}

// WithHTTPTimeout provides an optional timeout for requests to the provider.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withHTTPTimeout = d
		}
	}
}

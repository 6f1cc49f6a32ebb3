// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Prompt values sent as the "prompt" authorization parameter.
const (
	PromptCreate = "create"
	PromptEdit   = "edit"
)

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with the provider.  The state must come from a
// StateStore so it can be redeemed on the callback.
// Supported options:
//
//	WithPrompt
func AuthURL(md *ProviderMetadata, c *Config, state string, opt ...Option) (string, error) {
	const op = "oidc.AuthURL"
	if md == nil {
		return "", fmt.Errorf("%s: provider metadata is nil: %w", op, ErrNilParameter)
	}
	if c == nil {
		return "", fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if state == "" {
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	if md.AuthorizationEndpoint == "" {
		return "", fmt.Errorf("%s: authorization_endpoint: %w", op, ErrMissingEndpoint)
	}
	opts := getAuthURLOpts(opt...)
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = ParseScopes(DefaultScopes)
	}
	oauth2Config := oauth2Config(md, c.ClientID, c.ClientSecret, c.RedirectURL, scopes)
	var authCodeOpts []oauth2.AuthCodeOption
	if opts.withPrompt != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", opts.withPrompt))
	}
	return oauth2Config.AuthCodeURL(state, authCodeOpts...), nil
}

// oauth2Config builds an oauth2 client for the provider's endpoints.  Clients
// authenticate to the token endpoint with HTTP Basic auth.
func oauth2Config(md *ProviderMetadata, clientID string, clientSecret ClientSecret, redirectURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: string(clientSecret),
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// goOIDCProvider adapts already discovered metadata into a go-oidc Provider,
// without making any http requests.
func goOIDCProvider(ctx context.Context, md *ProviderMetadata) *oidc.Provider {
	pc := &oidc.ProviderConfig{
		IssuerURL:   md.Issuer,
		AuthURL:     md.AuthorizationEndpoint,
		TokenURL:    md.TokenEndpoint,
		UserInfoURL: md.UserInfoEndpoint,
		JWKSURL:     md.JWKSURI,
		Algorithms:  md.IDTokenSigningAlgs,
	}
	return pc.NewProvider(ctx)
}

// authURLOptions is the set of available options for AuthURL
type authURLOptions struct {
	withPrompt string
}

func authURLDefaults() authURLOptions {
	return authURLOptions{}
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrompt provides an optional "prompt" parameter for AuthURL, used to hint
// the provider toward registration (PromptCreate) or profile editing
// (PromptEdit).
func WithPrompt(prompt string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withPrompt = prompt
		}
	}
}

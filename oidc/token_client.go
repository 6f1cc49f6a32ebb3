// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
)

// DefaultExpiresIn is assumed when a token response has no expires_in.
const DefaultExpiresIn = 3600 * time.Second

// TokenClient makes the token endpoint and userinfo calls against discovered
// provider metadata.  Calls are never retried.
type TokenClient struct {
	logger hclog.Logger
	clock  clockwork.Clock
	client *http.Client
}

// NewTokenClient creates a client.
// Supported options:
//
//	WithLogger
//	WithClock
//	WithHTTPClient
func NewTokenClient(opt ...Option) *TokenClient {
	opts := getTokenClientOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}
	return &TokenClient{
		logger: opts.withLogger.Named("token-client"),
		clock:  opts.withClock,
		client: client,
	}
}

// ExchangeCode redeems an authorization code at the token endpoint using
// HTTP Basic client authentication.  Errors wrap ErrTokenExchangeFailed.
func (c *TokenClient) ExchangeCode(ctx context.Context, md *ProviderMetadata, code, clientID string, clientSecret ClientSecret, redirectURI string) (*TokenSet, error) {
	const op = "TokenClient.ExchangeCode"
	switch {
	case md == nil:
		return nil, fmt.Errorf("%s: provider metadata is nil: %s: %w", op, ErrNilParameter, ErrTokenExchangeFailed)
	case md.TokenEndpoint == "":
		return nil, fmt.Errorf("%s: token_endpoint: %s: %w", op, ErrMissingEndpoint, ErrTokenExchangeFailed)
	case code == "":
		return nil, fmt.Errorf("%s: code is empty: %s: %w", op, ErrInvalidParameter, ErrTokenExchangeFailed)
	}
	cfg := oauth2Config(md, clientID, clientSecret, redirectURI, nil)
	tk, err := cfg.Exchange(c.tokenCtx(ctx), code)
	if err != nil {
		c.logTokenError("code exchange failed", err)
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrTokenExchangeFailed)
	}
	return c.tokenSet(tk), nil
}

// RefreshToken trades a refresh token for a new token set.  When the
// provider doesn't rotate the refresh token the one passed in is kept.  Errors
// wrap ErrRefreshFailed.
func (c *TokenClient) RefreshToken(ctx context.Context, md *ProviderMetadata, refreshToken RefreshToken, clientID string, clientSecret ClientSecret) (*TokenSet, error) {
	const op = "TokenClient.RefreshToken"
	switch {
	case md == nil:
		return nil, fmt.Errorf("%s: provider metadata is nil: %s: %w", op, ErrNilParameter, ErrRefreshFailed)
	case md.TokenEndpoint == "":
		return nil, fmt.Errorf("%s: token_endpoint: %s: %w", op, ErrMissingEndpoint, ErrRefreshFailed)
	case refreshToken == "":
		return nil, fmt.Errorf("%s: refresh token is empty: %s: %w", op, ErrInvalidParameter, ErrRefreshFailed)
	}
	cfg := oauth2Config(md, clientID, clientSecret, "", nil)
	// an expired token forces the source to refresh
	tk, err := cfg.TokenSource(c.tokenCtx(ctx), &oauth2.Token{RefreshToken: string(refreshToken)}).Token()
	if err != nil {
		c.logTokenError("refresh failed", err)
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrRefreshFailed)
	}
	ts := c.tokenSet(tk)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

// FetchUserInfo gets the claims from the provider's userinfo endpoint using
// the access token as a bearer token.  Errors wrap ErrUserInfoFailed.
func (c *TokenClient) FetchUserInfo(ctx context.Context, md *ProviderMetadata, accessToken AccessToken) (map[string]interface{}, error) {
	const op = "TokenClient.FetchUserInfo"
	switch {
	case md == nil:
		return nil, fmt.Errorf("%s: provider metadata is nil: %s: %w", op, ErrNilParameter, ErrUserInfoFailed)
	case md.UserInfoEndpoint == "":
		return nil, fmt.Errorf("%s: userinfo_endpoint: %s: %w", op, ErrMissingEndpoint, ErrUserInfoFailed)
	case accessToken == "":
		return nil, fmt.Errorf("%s: access token is empty: %s: %w", op, ErrInvalidParameter, ErrUserInfoFailed)
	}
	ctx = c.ctx(ctx)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(accessToken), TokenType: "Bearer"})
	ui, err := goOIDCProvider(ctx, md).UserInfo(ctx, ts)
	if err != nil {
		c.logger.Warn("userinfo request failed", "error", err)
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrUserInfoFailed)
	}
	var raw json.RawMessage
	if err := ui.Claims(&raw); err != nil {
		return nil, fmt.Errorf("%s: unable to read userinfo: %s: %w", op, err, ErrUserInfoFailed)
	}
	claims, err := decodeClaims(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: userinfo is not a json object: %s: %w", op, err, ErrUserInfoFailed)
	}
	return claims, nil
}

// IDTokenClaims sources claims from the id_token payload, for providers
// configured to skip userinfo.  The audience and expiry are always checked.
// The signature is only checked when the provider publishes a jwks_uri, and
// the issuer only when the provider publishes one.  Errors wrap
// ErrUserInfoFailed.
func (c *TokenClient) IDTokenClaims(ctx context.Context, md *ProviderMetadata, idToken IDToken, clientID string) (map[string]interface{}, error) {
	const op = "TokenClient.IDTokenClaims"
	switch {
	case md == nil:
		return nil, fmt.Errorf("%s: provider metadata is nil: %s: %w", op, ErrNilParameter, ErrUserInfoFailed)
	case idToken == "":
		return nil, fmt.Errorf("%s: id_token is empty: %s: %w", op, ErrInvalidParameter, ErrUserInfoFailed)
	}
	ctx = c.ctx(ctx)
	verifier := goOIDCProvider(ctx, md).Verifier(&oidc.Config{
		ClientID:                   clientID,
		SkipIssuerCheck:            md.Issuer == "",
		InsecureSkipSignatureCheck: md.JWKSURI == "",
		Now:                        c.clock.Now,
	})
	tk, err := verifier.Verify(ctx, string(idToken))
	if err != nil {
		c.logger.Warn("id_token verification failed", "error", err)
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrUserInfoFailed)
	}
	var raw json.RawMessage
	if err := tk.Claims(&raw); err != nil {
		return nil, fmt.Errorf("%s: unable to read id_token claims: %s: %w", op, err, ErrUserInfoFailed)
	}
	claims, err := decodeClaims(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: id_token claims are not a json object: %s: %w", op, err, ErrUserInfoFailed)
	}
	return claims, nil
}

func (c *TokenClient) ctx(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.client)
}

// decodeClaims decodes a claim bag keeping numbers as json.Number, so large
// numeric subjects aren't rounded through float64.
func decodeClaims(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var claims map[string]interface{}
	if err := dec.Decode(&claims); err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, errors.New("claims are null")
	}
	return claims, nil
}

// tokenCtx is ctx for token endpoint calls.  oauth2 accepts any 2xx, but a
// token response is only taken from a 200.
func (c *TokenClient) tokenCtx(ctx context.Context) context.Context {
	base := c.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.client
	hc.Transport = okOnlyTransport{base: base}
	return oidc.ClientContext(ctx, &hc)
}

// okOnlyTransport fails 2xx responses other than 200.  Error statuses pass
// through so oauth2 can parse the provider's error body.
type okOnlyTransport struct {
	base http.RoundTripper
}

func (t okOnlyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("token endpoint returned status %d: %w", resp.StatusCode, ErrUnexpectedStatus)
	}
	return resp, nil
}

// tokenSet converts an oauth2 token; expires_at is computed against the
// client's clock.
func (c *TokenClient) tokenSet(tk *oauth2.Token) *TokenSet {
	now := c.clock.Now()
	expiresAt := now.Add(DefaultExpiresIn)
	switch {
	case tk.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(tk.ExpiresIn) * time.Second)
	case !tk.Expiry.IsZero():
		expiresAt = tk.Expiry
	}
	ts := &TokenSet{
		AccessToken:  AccessToken(tk.AccessToken),
		RefreshToken: RefreshToken(tk.RefreshToken),
		ExpiresAt:    expiresAt,
	}
	if idToken, ok := tk.Extra("id_token").(string); ok {
		ts.IDToken = IDToken(idToken)
	}
	return ts
}

// logTokenError logs what the provider said, which is never shown to end
// users.
func (c *TokenClient) logTokenError(msg string, err error) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		args := []interface{}{"error_code", re.ErrorCode, "error_description", re.ErrorDescription}
		if re.Response != nil {
			args = append(args, "status", re.Response.StatusCode)
		}
		c.logger.Warn(msg, args...)
		return
	}
	c.logger.Warn(msg, "error", err)
}

// tokenClientOptions is the set of available options for TokenClient
type tokenClientOptions struct {
	withLogger     hclog.Logger
	withClock      clockwork.Clock
	withHTTPClient *http.Client
}

// tokenClientDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenClientDefaults() tokenClientOptions {
	return tokenClientOptions{
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
	}
}

// getTokenClientOpts gets the defaults and applies the opt overrides passed in
func getTokenClientOpts(opt ...Option) tokenClientOptions {
	opts := tokenClientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/oidc"
)

// MetadataSource supplies provider metadata.  *oidc.DiscoveryCache
// implements it.
type MetadataSource interface {
	GetMetadata(ctx context.Context, providerBaseURL string) (*oidc.ProviderMetadata, error)
}

// TokenClient makes the provider calls of the callback.  *oidc.TokenClient
// implements it.
type TokenClient interface {
	ExchangeCode(ctx context.Context, md *oidc.ProviderMetadata, code, clientID string, clientSecret oidc.ClientSecret, redirectURI string) (*oidc.TokenSet, error)
	FetchUserInfo(ctx context.Context, md *oidc.ProviderMetadata, accessToken oidc.AccessToken) (map[string]interface{}, error)
	IDTokenClaims(ctx context.Context, md *oidc.ProviderMetadata, idToken oidc.IDToken, clientID string) (map[string]interface{}, error)
}

// Resolver maps identities to accounts.  *account.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, identity *oidc.ExternalIdentity, tokens *oidc.TokenSet, cfg account.ResolutionConfig) (*account.LocalAccount, error)
}

// IDTokenSource reads an account's stored id token for logout.
// *tokens.Manager implements it.
type IDTokenSource interface {
	GetIDToken(ctx context.Context, accountID string) (oidc.IDToken, error)
}

// Request is one browser request to the flow.
type Request struct {
	// Query is the request's query string.
	Query url.Values

	// AccountID is the authenticated account, empty when anonymous.
	AccountID string
}

// SessionAction tells the caller what to do with the browser session.
type SessionAction int

const (
	SessionUnchanged SessionAction = iota
	SessionEstablish
	SessionDestroy
)

// Response is the outcome of a Request.  An empty Location means the
// request wasn't a flow request.
type Response struct {
	// Location to redirect the browser to.
	Location string

	// Session is the session change to apply before redirecting.
	Session SessionAction

	// AccountID is the account to establish a session for.
	AccountID string

	// Code is set when the flow failed.
	Code Code

	// login is the completed login awaiting SessionEstablished.
	login *loginEvent
}

type loginEvent struct {
	account  *account.LocalAccount
	identity *oidc.ExternalIdentity
}

// Handled reports whether the request was a flow request.
func (r Response) Handled() bool { return r.Location != "" }

// Controller runs the authorization code flow: starting logins, completing
// callbacks and logging out.  It holds no per-request state.
type Controller struct {
	config    *Config
	states    oidc.StateStore
	discovery MetadataSource
	client    TokenClient
	resolver  Resolver
	idTokens  IDTokenSource
	notifier  LoginNotifier
	logger    hclog.Logger
}

// NewController creates a Controller.
// Supported options:
//
//	WithLogger
//	WithLoginNotifier
func NewController(c *Config, states oidc.StateStore, discovery MetadataSource, client TokenClient, resolver Resolver, idTokens IDTokenSource, opt ...Option) (*Controller, error) {
	const op = "flow.NewController"
	switch {
	case states == nil:
		return nil, fmt.Errorf("%s: state store is nil: %w", op, ErrNilParameter)
	case discovery == nil:
		return nil, fmt.Errorf("%s: discovery is nil: %w", op, ErrNilParameter)
	case client == nil:
		return nil, fmt.Errorf("%s: token client is nil: %w", op, ErrNilParameter)
	case resolver == nil:
		return nil, fmt.Errorf("%s: resolver is nil: %w", op, ErrNilParameter)
	case idTokens == nil:
		return nil, fmt.Errorf("%s: id token source is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid flow config: %w", op, err)
	}
	opts := getOpts(opt...)
	return &Controller{
		config:    c,
		states:    states,
		discovery: discovery,
		client:    client,
		resolver:  resolver,
		idTokens:  idTokens,
		notifier:  Chain(opts.withNotifiers...),
		logger:    opts.withLogger.Named("flow"),
	}, nil
}

// Handle dispatches on the request's QueryParam.  Requests without a known
// action return an unhandled Response.
func (c *Controller) Handle(ctx context.Context, req Request) Response {
	switch Action(req.Query.Get(QueryParam)) {
	case ActionLogin:
		return c.Login(ctx, req, "")
	case ActionRegister:
		return c.Login(ctx, req, oidc.PromptCreate)
	case ActionEditProfile:
		return c.EditProfile(ctx, req)
	case ActionCallback:
		return c.Callback(ctx, req)
	case ActionLogout:
		return c.Logout(ctx, req)
	default:
		return Response{}
	}
}

// Login starts a flow.  Authenticated requests go home instead.  A non-empty
// prompt is sent to the provider.
func (c *Controller) Login(ctx context.Context, req Request, prompt string) Response {
	if req.AccountID != "" {
		return Response{Location: c.config.home()}
	}
	return c.start(ctx, req, prompt)
}

// EditProfile sends authenticated requests to the provider's profile editor.
// Anonymous requests are sent to log in first and come back here.
func (c *Controller) EditProfile(ctx context.Context, req Request) Response {
	if req.AccountID == "" {
		return Response{Location: withQuery(c.config.loginURL(), RedirectToParam, c.config.actionURL(ActionEditProfile))}
	}
	return c.start(ctx, req, oidc.PromptEdit)
}

func (c *Controller) start(ctx context.Context, req Request, prompt string) Response {
	if !c.config.Provider.IsConfigured() {
		c.logger.Warn("flow requested but the provider is not configured")
		return c.fail(CodeNotConfigured)
	}
	md, err := c.discovery.GetMetadata(ctx, c.config.Provider.ProviderURL)
	if err != nil {
		c.logger.Error("unable to discover provider", "error", err)
		return c.fail(CodeDiscoveryFailed)
	}

	var redirectTo *string
	if raw := req.Query.Get(RedirectToParam); raw != "" {
		if redirectTo = c.config.safeRedirect(raw); redirectTo == nil {
			c.logger.Warn("ignoring off-site redirect_to", "redirect_to", raw)
		}
	}
	state, err := c.states.Issue(ctx, redirectTo)
	if err != nil {
		c.logger.Error("unable to issue state", "error", err)
		return c.fail(CodeStateFailed)
	}

	var opts []oidc.Option
	if prompt != "" {
		opts = append(opts, oidc.WithPrompt(prompt))
	}
	authURL, err := oidc.AuthURL(md, c.config.Provider, state, opts...)
	if err != nil {
		c.logger.Error("unable to build authorization url", "error", err)
		return c.fail(CodeDiscoveryFailed)
	}
	return Response{Location: authURL}
}

// Callback completes a flow.  Checks happen in order and the first failure
// ends the request.
func (c *Controller) Callback(ctx context.Context, req Request) Response {
	q := req.Query
	if providerErr := q.Get("error"); providerErr != "" {
		c.logger.Warn("provider returned an error", "error", providerErr, "error_description", q.Get("error_description"))
		return c.fail(SanitizeCode(providerErr))
	}
	code := q.Get("code")
	if code == "" {
		return c.fail(CodeNoCode)
	}
	state := q.Get("state")
	if state == "" {
		return c.fail(CodeNoState)
	}
	redirectTo, ok := c.states.Redeem(ctx, state)
	if !ok {
		c.logger.Warn("state rejected")
		return c.fail(CodeInvalidState)
	}
	if !c.config.Provider.IsConfigured() {
		return c.fail(CodeNotConfigured)
	}
	p := c.config.Provider

	md, err := c.discovery.GetMetadata(ctx, p.ProviderURL)
	if err != nil {
		c.logger.Error("unable to discover provider", "error", err)
		return c.fail(CodeDiscoveryFailed)
	}
	tokens, err := c.client.ExchangeCode(ctx, md, code, p.ClientID, p.ClientSecret, p.RedirectURL)
	if err != nil {
		c.logger.Error("code exchange failed", "error", err)
		return c.fail(CodeTokenExchangeFailed)
	}

	var claims map[string]interface{}
	if p.SkipUserInfo {
		claims, err = c.client.IDTokenClaims(ctx, md, tokens.IDToken, p.ClientID)
	} else {
		claims, err = c.client.FetchUserInfo(ctx, md, tokens.AccessToken)
	}
	if err != nil {
		c.logger.Error("unable to get claims", "skip_userinfo", p.SkipUserInfo, "error", err)
		return c.fail(CodeUserInfoFailed)
	}
	identity, err := oidc.NewExternalIdentity(claims)
	if err != nil {
		return c.fail(CodeNoSubject)
	}

	a, err := c.resolver.Resolve(ctx, identity, tokens, c.config.Resolution)
	if err != nil {
		failure := CodeFor(err)
		if errors.Is(err, account.ErrRegistrationDisabled) || errors.Is(err, account.ErrNoEmail) {
			c.logger.Info("login refused", "code", failure)
		} else {
			c.logger.Error("unable to resolve account", "error", err)
		}
		return c.fail(failure)
	}

	location := c.config.loginRedirect()
	if redirectTo != nil && *redirectTo != "" {
		location = *redirectTo
	}
	return Response{
		Location:  location,
		Session:   SessionEstablish,
		AccountID: a.ID,
		login:     &loginEvent{account: a, identity: identity},
	}
}

// SessionEstablished notifies the login listeners of a successful callback.
// Call it once the session in resp has been set; it does nothing for any
// other response.
func (c *Controller) SessionEstablished(ctx context.Context, resp Response) {
	if resp.Session != SessionEstablish || resp.login == nil {
		return
	}
	c.logger.Info("login", "account_id", resp.AccountID)
	c.notifier.LoginOccurred(ctx, resp.login.account, resp.login.identity)
}

// Logout always destroys the session.  With a stored id token and a provider
// end_session_endpoint the browser goes through the provider's logout.
func (c *Controller) Logout(ctx context.Context, req Request) Response {
	resp := Response{Location: c.config.logoutRedirect(), Session: SessionDestroy}
	if req.AccountID == "" || !c.config.Provider.IsConfigured() {
		return resp
	}
	idToken, err := c.idTokens.GetIDToken(ctx, req.AccountID)
	if err != nil {
		c.logger.Warn("unable to read id token for logout", "account_id", req.AccountID, "error", err)
		return resp
	}
	if idToken == "" {
		return resp
	}
	md, err := c.discovery.GetMetadata(ctx, c.config.Provider.ProviderURL)
	if err != nil {
		c.logger.Warn("unable to discover provider for logout", "error", err)
		return resp
	}
	if endSession, ok := md.EndSessionURL(idToken, resp.Location); ok {
		resp.Location = endSession
	}
	return resp
}

func (c *Controller) fail(code Code) Response {
	return Response{Location: withQuery(c.config.loginURL(), LoginErrorParam, string(code)), Code: code}
}

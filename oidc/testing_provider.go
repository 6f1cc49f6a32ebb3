// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	sdkHttp "github.com/nextidentity/rp/sdk/http"
	"github.com/stretchr/testify/require"
)

// Paths served by a TestProvider.
const (
	TestDiscoveryPath  = "/" + WellKnownPath
	TestAuthPath       = "/auth"
	TestTokenPath      = "/token"
	TestUserInfoPath   = "/userinfo"
	TestJWKSPath       = "/certs"
	TestEndSessionPath = "/logout"
)

const testKeyID = "test-provider-key"

// TestProvider is a local https identity provider which makes writing tests
// much easier.  It serves discovery, authorization, token (authorization_code
// and refresh_token grants), userinfo, jwks and end session endpoints, and
// counts the requests made to each path.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	client     *http.Client

	privKey *ecdsa.PrivateKey
	jwks    *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	idTokenClaims       map[string]interface{}
	replyExpiry         time.Duration
	omitExpiresIn       bool
	omitIDToken         bool
	omitAccessToken     bool
	refreshToken        string
	rotateRefreshToken  bool
	disableUserInfo     bool
	disableEndSession   bool
	disableJWKS         bool
	statusOverrides     map[string]int
	counts              map[string]int
	tokenSeq            int
	lastBearer          string
	lastTokenForm       url.Values
}

// StartTestProvider creates a disposable TestProvider.  It's stopped when the
// test completes.
// Supported options:
//
//	WithTestPort
func StartTestProvider(t *testing.T, opt ...Option) *TestProvider {
	t.Helper()
	require := require.New(t)
	opts := getTestProviderOpts(opt...)

	p := &TestProvider{
		clientID:         "test-client-id",
		clientSecret:     "test-client-secret",
		expectedAuthCode: "test-auth-code",
		replySubject:     "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		replyExpiry:      time.Hour,
		refreshToken:     "test-refresh-token",
		statusOverrides:  map[string]int{},
		counts:           map[string]int{},
	}
	p.replyUserinfo = map[string]interface{}{
		"sub":         p.replySubject,
		"email":       "alice@example.com",
		"name":        "Alice Liddell",
		"given_name":  "Alice",
		"family_name": "Liddell",
		"picture":     "https://example.com/alice.png",
	}
	p.idTokenClaims = map[string]interface{}{
		"email": "alice@example.com",
		"name":  "Alice Liddell",
	}

	_, priv := TestGenerateKeys(t)
	key, err := parseECPrivateKey(priv)
	require.NoError(err)
	p.privKey = key
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: key.Public(), KeyID: testKeyID, Algorithm: string(jose.ES256), Use: "sig"},
		},
	}

	if opts.withPort != 0 {
		p.httpServer = httptestNewUnstartedServerWithPort(t, p, opts.withPort)
	} else {
		p.httpServer = httptest.NewUnstartedServer(p)
	}
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	p.client, err = sdkHttp.NewClient(p.caCert, 0)
	require.NoError(err)
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HttpClient returns an http client which trusts the provider's CA.
func (p *TestProvider) HttpClient() *http.Client { return p.client }

// SetClientCreds configures the client credentials the token endpoint
// requires.  The defaults are "test-client-id" and "test-client-secret".
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// ClientCreds returns the configured client credentials.
func (p *TestProvider) ClientCreds() (clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// ExpectedAuthCode returns the auth code /token accepts.
func (p *TestProvider) ExpectedAuthCode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expectedAuthCode
}

// SetAllowedRedirectURIs restricts the redirect_uri values /auth and /token
// accept.  When empty, any redirect_uri is accepted.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetUserInfoReply replaces the json returned by /userinfo.  It's returned
// as given, so leaving out "sub" is a way to test a missing subject.
func (p *TestProvider) SetUserInfoReply(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// SetIDTokenClaims replaces the private claims added to issued id_tokens.
func (p *TestProvider) SetIDTokenClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenClaims = claims
}

// SetSubject sets the "sub" of issued id_tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetExpectedExpiry sets the expires_in of token responses.
func (p *TestProvider) SetExpectedExpiry(exp time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiry = exp
}

// OmitExpiresIn leaves expires_in out of token responses.
func (p *TestProvider) OmitExpiresIn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitExpiresIn = true
}

// OmitIDTokens leaves id_token out of token responses.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitAccessTokens leaves access_token out of otherwise successful token
// responses.
func (p *TestProvider) OmitAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = true
}

// SetRefreshToken sets the refresh token issued by, and required for the
// refresh_token grant at, /token.  Empty means no refresh token is issued.
func (p *TestProvider) SetRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshToken = rt
}

// RotateRefreshTokens makes refresh_token grants return a new refresh token
// instead of omitting it.
func (p *TestProvider) RotateRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery config.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableEndSession omits end_session_endpoint from the discovery config.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// DisableJWKS omits jwks_uri from the discovery config.
func (p *TestProvider) DisableJWKS() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableJWKS = true
}

// SetStatus forces every request to path to fail with the status code.  A
// zero status clears the override.
func (p *TestProvider) SetStatus(path string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == 0 {
		delete(p.statusOverrides, path)
		return
	}
	p.statusOverrides[path] = status
}

// Count returns how many requests have been made to path.
func (p *TestProvider) Count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[path]
}

// LastBearer returns the bearer token of the last userinfo request.
func (p *TestProvider) LastBearer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBearer
}

// LastTokenForm returns the form of the last request to /token.
func (p *TestProvider) LastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenForm
}

// IssueIDToken signs an id_token for the configured subject and client.
func (p *TestProvider) IssueIDToken(t *testing.T) IDToken {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := p.signIDToken()
	require.NoError(t, err)
	return IDToken(raw)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri")
	if redirectURI == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rq := u.Query()
	rq.Set("state", qv.Get("state"))
	rq.Set("error", errorCode)
	if errorMessage != "" {
		rq.Set("error_description", errorMessage)
	}
	u.RawQuery = rq.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(&body)
}

func (p *TestProvider) redirectAllowed(uri string) bool {
	if len(p.allowedRedirectURIs) == 0 {
		return uri != ""
	}
	for _, v := range p.allowedRedirectURIs {
		if v == uri {
			return true
		}
	}
	return false
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[req.URL.Path]++
	if status, ok := p.statusOverrides[req.URL.Path]; ok {
		p.writeTokenErrorResponse(w, status, "server_error", "forced failure")
		return
	}

	switch req.URL.Path {
	case TestDiscoveryPath:
		p.serveDiscovery(w, req)
	case TestAuthPath:
		p.serveAuth(w, req)
	case TestTokenPath:
		p.serveToken(w, req)
	case TestUserInfoPath:
		p.serveUserInfo(w, req)
	case TestJWKSPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.jwks)
	case TestEndSessionPath:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveDiscovery(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reply := ProviderMetadata{
		Issuer:                p.Addr(),
		AuthorizationEndpoint: p.Addr() + TestAuthPath,
		TokenEndpoint:         p.Addr() + TestTokenPath,
		UserInfoEndpoint:      p.Addr() + TestUserInfoPath,
		EndSessionEndpoint:    p.Addr() + TestEndSessionPath,
		JWKSURI:               p.Addr() + TestJWKSPath,
		IDTokenSigningAlgs:    []string{string(jose.ES256)},
	}
	if p.disableUserInfo {
		reply.UserInfoEndpoint = ""
	}
	if p.disableEndSession {
		reply.EndSessionEndpoint = ""
	}
	if p.disableJWKS {
		reply.JWKSURI = ""
	}
	p.writeJSON(w, &reply)
}

func (p *TestProvider) serveAuth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	switch {
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	case !strings.Contains(" "+qv.Get("scope")+" ", " openid "):
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
		return
	case p.expectedAuthCode == "":
		p.writeAuthErrorResponse(w, req, "access_denied", "")
		return
	case qv.Get("state") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case !p.redirectAllowed(qv.Get("redirect_uri")):
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	u, err := url.Parse(qv.Get("redirect_uri"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rq := u.Query()
	rq.Set("state", qv.Get("state"))
	rq.Set("code", p.expectedAuthCode)
	u.RawQuery = rq.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad form")
		return
	}
	p.lastTokenForm = req.PostForm

	user, pass, ok := req.BasicAuth()
	if ok {
		// oauth2 form-encodes basic auth credentials
		user, _ = url.QueryUnescape(user)
		pass, _ = url.QueryUnescape(pass)
	}
	if !ok || user != p.clientID || pass != p.clientSecret {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
		return
	}

	issueRefresh := p.refreshToken
	switch req.PostForm.Get("grant_type") {
	case "authorization_code":
		switch {
		case req.PostForm.Get("code") != p.expectedAuthCode:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		case !p.redirectAllowed(req.PostForm.Get("redirect_uri")):
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		}
	case "refresh_token":
		if p.refreshToken == "" || req.PostForm.Get("refresh_token") != p.refreshToken {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh token")
			return
		}
		issueRefresh = ""
		if p.rotateRefreshToken {
			p.refreshToken = p.refreshToken + "-r"
			issueRefresh = p.refreshToken
		}
	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	}

	p.tokenSeq++
	reply := map[string]interface{}{
		"token_type":   "Bearer",
		"access_token": "test-access-token-" + strconv.Itoa(p.tokenSeq),
	}
	if p.omitAccessToken {
		delete(reply, "access_token")
	}
	if issueRefresh != "" {
		reply["refresh_token"] = issueRefresh
	}
	if !p.omitExpiresIn {
		reply["expires_in"] = int64(p.replyExpiry / time.Second)
	}
	if !p.omitIDToken {
		idToken, err := p.signIDToken()
		if err != nil {
			p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		reply["id_token"] = idToken
	}
	p.writeJSON(w, reply)
}

func (p *TestProvider) serveUserInfo(w http.ResponseWriter, req *http.Request) {
	if p.disableUserInfo {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	bearer := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	if bearer == "" || bearer == req.Header.Get("Authorization") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p.lastBearer = bearer
	p.writeJSON(w, p.replyUserinfo)
}

// signIDToken requires p.mu to be held.
func (p *TestProvider) signIDToken() (string, error) {
	now := time.Now()
	claims := jwt.Claims{
		Subject:  p.replySubject,
		Issuer:   p.Addr(),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Audience: jwt.Audience{p.clientID},
	}
	return signJWT(p.privKey, claims, p.idTokenClaims)
}

// testProviderOptions is the set of available options for StartTestProvider
type testProviderOptions struct {
	withPort int
}

// testProviderDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func testProviderDefaults() testProviderOptions {
	return testProviderOptions{}
}

// getTestProviderOpts gets the defaults and applies the opt overrides passed
// in
func getTestProviderOpts(opt ...Option) testProviderOptions {
	opts := testProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTestPort provides an optional port for the test provider.
func WithTestPort(port int) Option {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withPort = port
		}
	}
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)
	require.NotEmpty(port)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}

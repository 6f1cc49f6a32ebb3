// SPDX-License-Identifier: MPL-2.0

// Package session keeps the browser's authenticated account in an HS256
// signed cookie.
package session

import (
	"fmt"
	"net/http"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/nextidentity/rp/sdk/id"
)

const (
	// DefaultCookieName names the session cookie.
	DefaultCookieName = "rp_session"

	// DefaultTTL is how long a session lasts.
	DefaultTTL = 24 * time.Hour

	// MinSecretLength is the shortest accepted signing secret.
	MinSecretLength = 32

	issuer = "rp"
)

type claims struct {
	gojwt.RegisteredClaims
}

// Manager issues and reads session cookies.  It's safe for concurrent use.
type Manager struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	logger     hclog.Logger
	clock      clockwork.Clock
}

// NewManager creates a Manager signing with secret.
// Supported options:
//
//	WithLogger
//	WithClock
//	WithTTL
//	WithCookieName
//	WithSecureCookies
func NewManager(secret []byte, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%s: secret must be at least %d bytes: %w", op, MinSecretLength, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	return &Manager{
		secret:     append([]byte(nil), secret...),
		cookieName: opts.withCookieName,
		ttl:        opts.withTTL,
		secure:     opts.withSecureCookies,
		logger:     opts.withLogger.Named("session"),
		clock:      opts.withClock,
	}, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookieName }

// Token signs a session for the account.
func (m *Manager) Token(accountID string) (string, error) {
	const op = "Manager.Token"
	if accountID == "" {
		return "", fmt.Errorf("%s: account id is empty: %w", op, ErrInvalidParameter)
	}
	jti, err := id.Token(16)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	now := m.clock.Now()
	tk := gojwt.NewWithClaims(gojwt.SigningMethodHS256, &claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   accountID,
			ID:        jti,
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	signed, err := tk.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign session: %w", op, err)
	}
	return signed, nil
}

// Parse verifies a session token and returns its account id.
func (m *Manager) Parse(token string) (string, error) {
	const op = "Manager.Parse"
	var c claims
	_, err := gojwt.ParseWithClaims(token, &c, func(*gojwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(issuer),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", op, err, ErrInvalidSession)
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%s: no subject: %w", op, ErrInvalidSession)
	}
	return c.Subject, nil
}

// Establish sets the session cookie for the account.
func (m *Manager) Establish(w http.ResponseWriter, accountID string) error {
	const op = "Manager.Establish"
	token, err := m.Token(accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  m.clock.Now().Add(m.ttl),
		MaxAge:   int(m.ttl / time.Second),
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy expires the session cookie.
func (m *Manager) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// AccountID returns the account of the request's session.  A missing or
// invalid cookie reports false.
func (m *Manager) AccountID(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return "", false
	}
	accountID, err := m.Parse(c.Value)
	if err != nil {
		m.logger.Debug("ignoring invalid session cookie", "error", err)
		return "", false
	}
	return accountID, true
}

// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
	"strings"
)

// WellKnownPath is appended to a provider's base URL to locate its discovery
// document.
const WellKnownPath = ".well-known/openid-configuration"

// ProviderMetadata is the subset of a provider's discovery document used by
// the relying party.  It's immutable once fetched.
type ProviderMetadata struct {
	Issuer                string `json:"issuer,omitempty"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri,omitempty"`

	// IDTokenSigningAlgs are the algs the provider signs id_tokens with.
	// When empty, RS256 is assumed.
	IDTokenSigningAlgs []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// Validate checks that the endpoints required to start a login and exchange
// a code are present and absolute.  Optional endpoints are only checked when
// set.
func (m *ProviderMetadata) Validate() error {
	const op = "ProviderMetadata.Validate"
	if m == nil {
		return fmt.Errorf("%s: metadata is nil: %w", op, ErrNilParameter)
	}
	required := []struct{ name, value string }{
		{"authorization_endpoint", m.AuthorizationEndpoint},
		{"token_endpoint", m.TokenEndpoint},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s: %s: %w", op, r.name, ErrMissingEndpoint)
		}
		if !isAbsoluteURL(r.value) {
			return fmt.Errorf("%s: %s %q is not an absolute URL: %w", op, r.name, r.value, ErrInvalidParameter)
		}
	}
	optional := []struct{ name, value string }{
		{"userinfo_endpoint", m.UserInfoEndpoint},
		{"end_session_endpoint", m.EndSessionEndpoint},
		{"jwks_uri", m.JWKSURI},
	}
	for _, o := range optional {
		if o.value != "" && !isAbsoluteURL(o.value) {
			return fmt.Errorf("%s: %s %q is not an absolute URL: %w", op, o.name, o.value, ErrInvalidParameter)
		}
	}
	return nil
}

// EndSessionURL builds the provider logout URL.  ok is false when the
// provider has no end_session_endpoint or there's no id token to hint with.
func (m *ProviderMetadata) EndSessionURL(idToken IDToken, postLogoutRedirect string) (string, bool) {
	if m == nil || m.EndSessionEndpoint == "" || idToken == "" {
		return "", false
	}
	u, err := url.Parse(m.EndSessionEndpoint)
	if err != nil {
		return "", false
	}
	q := u.Query()
	q.Set("id_token_hint", string(idToken))
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}

// DiscoveryURL returns the discovery document URL for a provider base URL.
// The base always gets exactly one trailing "/" before WellKnownPath.
func DiscoveryURL(providerBaseURL string) string {
	return strings.TrimRight(providerBaseURL, "/") + "/" + WellKnownPath
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

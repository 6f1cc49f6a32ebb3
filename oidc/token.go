// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import "time"

// TokenSet is the credential triple issued by the provider for one account,
// along with the absolute time the access token expires.
type TokenSet struct {
	AccessToken  AccessToken
	RefreshToken RefreshToken
	IDToken      IDToken
	ExpiresAt    time.Time
}

// Expired reports whether the access token is no longer usable at now.  A
// zero ExpiresAt is treated as expired.
func (t *TokenSet) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	return !now.Before(t.ExpiresAt)
}

// Valid reports whether there's an unexpired access token at now.
func (t *TokenSet) Valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return !t.Expired(now)
}

// CanRefresh reports whether a refresh token is held.
func (t *TokenSet) CanRefresh() bool {
	return t != nil && t.RefreshToken != ""
}

// Clone returns a copy of the set; nil in, nil out.
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

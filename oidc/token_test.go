// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenSet_Expired(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		ts          *TokenSet
		wantExpired bool
		wantValid   bool
	}{
		{name: "nil", ts: nil, wantExpired: true},
		{name: "zero-expiry", ts: &TokenSet{AccessToken: "a"}, wantExpired: true},
		{name: "future", ts: &TokenSet{AccessToken: "a", ExpiresAt: now.Add(time.Second)}, wantValid: true},
		{name: "exactly-now", ts: &TokenSet{AccessToken: "a", ExpiresAt: now}, wantExpired: true},
		{name: "past", ts: &TokenSet{AccessToken: "a", ExpiresAt: now.Add(-time.Second)}, wantExpired: true},
		{name: "future-no-access-token", ts: &TokenSet{ExpiresAt: now.Add(time.Hour)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tt.wantExpired, tt.ts.Expired(now))
			assert.Equal(tt.wantValid, tt.ts.Valid(now))
		})
	}
}

func TestTokenSet_CanRefresh(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var nilSet *TokenSet
	assert.False(nilSet.CanRefresh())
	assert.False((&TokenSet{AccessToken: "a"}).CanRefresh())
	assert.True((&TokenSet{RefreshToken: "r"}).CanRefresh())
}

func TestTokenSet_Clone(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var nilSet *TokenSet
	assert.Nil(nilSet.Clone())

	orig := &TokenSet{AccessToken: "a", RefreshToken: "r", IDToken: "i", ExpiresAt: time.Now()}
	cp := orig.Clone()
	assert.Equal(orig, cp)
	cp.AccessToken = "b"
	assert.Equal(AccessToken("a"), orig.AccessToken)
}

func TestTokens_redacted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		v    interface {
			String() string
			MarshalJSON() ([]byte, error)
		}
		want string
	}{
		{name: "access-token", v: AccessToken("secret"), want: RedactedAccessToken},
		{name: "refresh-token", v: RefreshToken("secret"), want: RedactedRefreshToken},
		{name: "id-token", v: IDToken("secret"), want: RedactedIDToken},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tt.want, tt.v.String())
			got, err := tt.v.MarshalJSON()
			assert.NoError(err)
			assert.Equal(`"`+tt.want+`"`, string(got))
		})
	}
}

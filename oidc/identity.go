// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ExternalIdentity is the user as described by the provider's claims.  It's
// built per callback and never persisted as its own record; Subject becomes the
// link key on the local account.
type ExternalIdentity struct {
	Subject           string
	Email             string
	PreferredUsername string
	GivenName         string
	FamilyName        string
	Name              string
	Picture           string

	// RawClaims is every claim the provider returned.
	RawClaims map[string]interface{}
}

// NewExternalIdentity lifts the well known claims out of a claim set.  It
// returns ErrNoSubject when "sub" is missing or empty.
func NewExternalIdentity(claims map[string]interface{}) (*ExternalIdentity, error) {
	const op = "oidc.NewExternalIdentity"
	sub := claimString(claims, "sub")
	if sub == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSubject)
	}
	raw := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		raw[k] = v
	}
	return &ExternalIdentity{
		Subject:           sub,
		Email:             claimString(claims, "email"),
		PreferredUsername: claimString(claims, "preferred_username"),
		GivenName:         claimString(claims, "given_name"),
		FamilyName:        claimString(claims, "family_name"),
		Name:              claimString(claims, "name"),
		Picture:           claimString(claims, "picture"),
		RawClaims:         raw,
	}, nil
}

// DisplayName picks the best human readable name available.
func (i *ExternalIdentity) DisplayName() string {
	switch {
	case i.Name != "":
		return i.Name
	case i.GivenName != "" && i.FamilyName != "":
		return i.GivenName + " " + i.FamilyName
	case i.GivenName != "":
		return i.GivenName
	case i.PreferredUsername != "":
		return i.PreferredUsername
	default:
		return i.Email
	}
}

// claimString reads a claim as a string.  Numeric subjects are seen in the
// wild, so numbers are formatted rather than dropped.
func claimString(claims map[string]interface{}, name string) string {
	switch v := claims[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
)

// IDToken is an oidc id_token.  It is opaque to this package except when
// claims are sourced from it (see TokenClient.IDTokenClaims) and when it is
// sent back to the provider as a logout hint.
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"errors"
	"strings"

	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/oidc"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
)

// Code is the error code reported to the browser as login_error.  Codes
// never carry provider detail.
type Code string

const (
	CodeNotConfigured         Code = "not_configured"
	CodeProviderError         Code = "provider_error"
	CodeNoCode                Code = "no_code"
	CodeNoState               Code = "no_state"
	CodeInvalidState          Code = "invalid_state"
	CodeDiscoveryFailed       Code = "discovery_failed"
	CodeTokenExchangeFailed   Code = "token_exchange_failed"
	CodeUserInfoFailed        Code = "userinfo_failed"
	CodeNoSubject             Code = "no_subject"
	CodeRegistrationDisabled  Code = "registration_disabled"
	CodeNoEmail               Code = "no_email"
	CodeAccountCreationFailed Code = "account_creation_failed"
	CodeStateFailed           Code = "state_failed"
	CodeSessionFailed         Code = "session_failed"
)

// maxCodeLen bounds provider supplied codes.
const maxCodeLen = 64

// CodeFor classifies err.  Unclassified errors report
// CodeAccountCreationFailed since they can only come from account
// resolution.
func CodeFor(err error) Code {
	switch {
	case errors.Is(err, oidc.ErrDiscoveryFailed):
		return CodeDiscoveryFailed
	case errors.Is(err, oidc.ErrTokenExchangeFailed):
		return CodeTokenExchangeFailed
	case errors.Is(err, oidc.ErrUserInfoFailed):
		return CodeUserInfoFailed
	case errors.Is(err, oidc.ErrNoSubject):
		return CodeNoSubject
	case errors.Is(err, account.ErrRegistrationDisabled):
		return CodeRegistrationDisabled
	case errors.Is(err, account.ErrNoEmail):
		return CodeNoEmail
	default:
		return CodeAccountCreationFailed
	}
}

// SanitizeCode keeps only [A-Za-z0-9_.-] of a provider's error code.  An
// empty result is CodeProviderError.
func SanitizeCode(raw string) Code {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		}
		return -1
	}, raw)
	if len(clean) > maxCodeLen {
		clean = clean[:maxCodeLen]
	}
	if clean == "" {
		return CodeProviderError
	}
	return Code(clean)
}

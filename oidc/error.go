// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrNilParameter        = errors.New("nil parameter")
	ErrInvalidCACert       = errors.New("invalid CA certificate")
	ErrIdGeneratorFailed   = errors.New("id generation failed")
	ErrNotFound            = errors.New("not found")
	ErrDiscoveryFailed     = errors.New("discovery failed")
	ErrMissingEndpoint     = errors.New("provider endpoint is missing")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrRefreshFailed       = errors.New("refresh failed")
	ErrUserInfoFailed      = errors.New("user info failed")
	ErrNoSubject           = errors.New("subject claim is missing")
	ErrUnexpectedStatus    = errors.New("unexpected response status")
)

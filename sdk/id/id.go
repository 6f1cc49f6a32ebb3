// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// New generates an account ID with an optional prefix.
func New(optionalPrefix string) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}

// Token returns n random bytes encoded as unpadded base64url, which makes it
// safe to use as a query parameter value.
func Token(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be greater than zero")
	}
	b, err := uuid.GenerateRandomBytes(n)
	if err != nil {
		return "", fmt.Errorf("unable to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Alnum returns a random string of n characters drawn from [a-zA-Z0-9].
func Alnum(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("length must be greater than zero")
	}
	b, err := uuid.GenerateRandomBytes(n)
	if err != nil {
		return "", fmt.Errorf("unable to generate random string: %w", err)
	}
	out := make([]byte, n)
	for i, v := range b {
		// modulo bias: not for key material, use Token for that
		out[i] = alnum[int(v)%len(alnum)]
	}
	return string(out), nil
}

// SPDX-License-Identifier: MPL-2.0

package account

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/nextidentity/rp/oidc"
	"github.com/nextidentity/rp/sdk/id"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// maxUsernameSuffix is the last numeric suffix tried on the email local
	// part before falling back to a random username.
	maxUsernameSuffix = 9

	randomUsernamePrefix = "user_"
	randomUsernameLen    = 12
)

// UsernameChecker reports whether a username is taken.  Store implements it.
type UsernameChecker interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// SanitizeUsername strips accents and drops every character other than
// letters, digits, space, "_", ".", "-" and "@".  Runs of spaces are
// collapsed and the result is trimmed.
func SanitizeUsername(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '.', r == '-', r == '@', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// GenerateUsername derives an unused username for a new account.  In order
// it tries: preferred_username, the local part of the email, the local part
// with a suffix of 1 through 9, and finally "user_" plus 12 random
// characters.
func GenerateUsername(ctx context.Context, c UsernameChecker, identity *oidc.ExternalIdentity) (string, error) {
	const op = "account.GenerateUsername"
	if c == nil {
		return "", fmt.Errorf("%s: username checker is nil: %w", op, ErrNilParameter)
	}
	if identity == nil {
		return "", fmt.Errorf("%s: identity is nil: %w", op, ErrNilParameter)
	}
	free := func(name string) (bool, error) {
		if name == "" {
			return false, nil
		}
		taken, err := c.UsernameExists(ctx, name)
		if err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		return !taken, nil
	}

	if name := SanitizeUsername(identity.PreferredUsername); name != "" {
		ok, err := free(name)
		if err != nil {
			return "", err
		}
		if ok {
			return name, nil
		}
	}

	if local, _, _ := strings.Cut(identity.Email, "@"); local != "" {
		if base := SanitizeUsername(local); base != "" {
			candidates := []string{base}
			for i := 1; i <= maxUsernameSuffix; i++ {
				candidates = append(candidates, base+strconv.Itoa(i))
			}
			for _, name := range candidates {
				ok, err := free(name)
				if err != nil {
					return "", err
				}
				if ok {
					return name, nil
				}
			}
		}
	}

	return RandomUsername()
}

// RandomUsername returns "user_" plus 12 random alphanumerics.
func RandomUsername() (string, error) {
	const op = "account.RandomUsername"
	s, err := id.Alnum(randomUsernameLen)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return randomUsernamePrefix + s, nil
}

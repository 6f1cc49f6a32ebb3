// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/base64"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	t.Run("no-prefix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := New("")
		require.NoError(err)
		assert.Len(got, 36)
	})
	t.Run("prefix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := New("acct")
		require.NoError(err)
		assert.True(strings.HasPrefix(got, "acct_"))
	})
	t.Run("unique", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a, err := New("")
		require.NoError(err)
		b, err := New("")
		require.NoError(err)
		assert.NotEqual(a, b)
	})
}

func TestToken(t *testing.T) {
	t.Parallel()
	t.Run("url-safe", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := Token(32)
		require.NoError(err)
		assert.NotContains(got, "+")
		assert.NotContains(got, "/")
		assert.NotContains(got, "=")
		raw, err := base64.RawURLEncoding.DecodeString(got)
		require.NoError(err)
		assert.Len(raw, 32)
	})
	t.Run("zero-length", func(t *testing.T) {
		_, err := Token(0)
		require.Error(t, err)
	})
}

func TestAlnum(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	got, err := Alnum(12)
	require.NoError(err)
	assert.Len(got, 12)
	assert.Regexp(regexp.MustCompile(`^[a-zA-Z0-9]{12}$`), got)

	_, err = Alnum(-1)
	require.Error(err)
}

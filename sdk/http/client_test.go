// SPDX-License-Identifier: MPL-2.0

package http

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewClient(t *testing.T) {
	t.Parallel()
	t.Run("defaults", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewClient("", 0)
		require.NoError(err)
		assert.Equal(DefaultTimeout, c.Timeout)
		tr, ok := c.Transport.(*http.Transport)
		require.True(ok)
		assert.Nil(tr.TLSClientConfig)
	})
	t.Run("timeout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewClient("", 3*time.Second)
		require.NoError(err)
		assert.Equal(3*time.Second, c.Timeout)
	})
	t.Run("invalid-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewClient("not a pem", 0)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrInvalidCertificatePem), "wanted \"%s\" but got \"%s\"", ErrInvalidCertificatePem, err)
	})
}

func TestOidcClientContext(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	c := &http.Client{}
	ctx := OidcClientContext(context.Background(), c)
	assert.Equal(c, ctx.Value(oauth2.HTTPClient))
	assert.Equal(c, oidc.ClientContext(context.Background(), c).Value(oauth2.HTTPClient))
}

// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

var (
	ErrInvalidCertificatePem = errors.New("invalid certificate PEM")
)

// DefaultTimeout bounds every request made by a client from NewClient when
// no timeout is given.
const DefaultTimeout = 10 * time.Second

// NewClient creates a new http client which will use the optional CA certificate PEM
// if provided, otherwise it will use the installed system CA chain.  A zero
// timeout means DefaultTimeout.
func NewClient(caPEM string, timeout time.Duration) (*http.Client, error) {
	tr := cleanhttp.DefaultPooledTransport()

	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, ErrInvalidCertificatePem
		}

		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// OidcClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func OidcClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	sdkHttp "github.com/nextidentity/rp/sdk/http"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger for: DiscoveryCache, MemoryStateStore,
// TokenClient
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *discoveryOptions:
			v.withLogger = l
		case *stateStoreOptions:
			v.withLogger = l
		case *tokenClientOptions:
			v.withLogger = l
		}
	}
}

// WithClock provides an optional clock for: DiscoveryCache, MemoryStateStore,
// TokenClient
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if c == nil {
			return
		}
		switch v := o.(type) {
		case *discoveryOptions:
			v.withClock = c
		case *stateStoreOptions:
			v.withClock = c
		case *tokenClientOptions:
			v.withClock = c
		}
	}
}

// WithHTTPClient provides an optional http client for: DiscoveryCache,
// TokenClient
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if c == nil {
			return
		}
		switch v := o.(type) {
		case *discoveryOptions:
			v.withHTTPClient = c
		case *tokenClientOptions:
			v.withHTTPClient = c
		}
	}
}

// WithTTL provides an optional time-to-live for: DiscoveryCache (cached
// metadata), MemoryStateStore (issued states)
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if d <= 0 {
			return
		}
		switch v := o.(type) {
		case *discoveryOptions:
			v.withTTL = d
		case *stateStoreOptions:
			v.withTTL = d
		}
	}
}

// defaultHTTPClient is used by components given no WithHTTPClient.
func defaultHTTPClient() *http.Client {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = sdkHttp.DefaultTimeout
	return c
}

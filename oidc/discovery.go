// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// DefaultDiscoveryTTL is how long fetched metadata is served from the cache.
const DefaultDiscoveryTTL = time.Hour

// maxDiscoveryBody bounds how much of a discovery response is read.
const maxDiscoveryBody = 1 << 20

type discoveryEntry struct {
	md        ProviderMetadata
	expiresAt time.Time
}

// DiscoveryCache fetches and caches provider metadata keyed by provider base
// URL.  Failed fetches are never cached.  Concurrent misses for the same
// provider may each fetch; the last one to finish wins.  It's safe for
// concurrent use.
type DiscoveryCache struct {
	mu      sync.Mutex
	entries map[string]discoveryEntry

	ttl    time.Duration
	logger hclog.Logger
	clock  clockwork.Clock
	client *http.Client
}

// NewDiscoveryCache creates an empty cache.
// Supported options:
//
//	WithTTL
//	WithLogger
//	WithClock
//	WithHTTPClient
func NewDiscoveryCache(opt ...Option) *DiscoveryCache {
	opts := getDiscoveryOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}
	return &DiscoveryCache{
		entries: map[string]discoveryEntry{},
		ttl:     opts.withTTL,
		logger:  opts.withLogger.Named("discovery"),
		clock:   opts.withClock,
		client:  client,
	}
}

// GetMetadata returns the provider's metadata, from the cache when an
// unexpired entry exists and otherwise via an http GET of the discovery
// document.  Errors wrap ErrDiscoveryFailed.
func (c *DiscoveryCache) GetMetadata(ctx context.Context, providerBaseURL string) (*ProviderMetadata, error) {
	const op = "DiscoveryCache.GetMetadata"
	if providerBaseURL == "" {
		return nil, fmt.Errorf("%s: provider URL is empty: %w", op, ErrInvalidParameter)
	}
	key := DiscoveryURL(providerBaseURL)

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.clock.Now().Before(e.expiresAt) {
		md := e.md
		return &md, nil
	}

	md, err := c.fetch(ctx, key)
	if err != nil {
		c.logger.Warn("discovery failed", "url", key, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	c.entries[key] = discoveryEntry{md: *md, expiresAt: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()
	c.logger.Debug("cached provider metadata", "url", key, "ttl", c.ttl)
	return md, nil
}

// Invalidate drops any cached metadata for the provider.
func (c *DiscoveryCache) Invalidate(providerBaseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, DiscoveryURL(providerBaseURL))
}

func (c *DiscoveryCache) fetch(ctx context.Context, discoveryURL string) (*ProviderMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %s: %w", err, ErrDiscoveryFailed)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %s: %w", err, ErrDiscoveryFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBody))
	if err != nil {
		return nil, fmt.Errorf("unable to read response: %s: %w", err, ErrDiscoveryFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %w", resp.StatusCode, ErrDiscoveryFailed)
	}
	var md ProviderMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("malformed discovery document: %s: %w", err, ErrDiscoveryFailed)
	}
	if err := md.Validate(); err != nil {
		return nil, fmt.Errorf("invalid discovery document: %s: %w", err, ErrDiscoveryFailed)
	}
	return &md, nil
}

// discoveryOptions is the set of available options for DiscoveryCache
type discoveryOptions struct {
	withTTL        time.Duration
	withLogger     hclog.Logger
	withClock      clockwork.Clock
	withHTTPClient *http.Client
}

// discoveryDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func discoveryDefaults() discoveryOptions {
	return discoveryOptions{
		withTTL:    DefaultDiscoveryTTL,
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
	}
}

// getDiscoveryOpts gets the defaults and applies the opt overrides passed in
func getDiscoveryOpts(opt ...Option) discoveryOptions {
	opts := discoveryDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

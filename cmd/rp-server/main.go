// SPDX-License-Identifier: MPL-2.0

// Command rp-server runs the relying party: the ?auth= flow endpoints on the
// site URL, backed by a SQLite account store and an in-memory or Redis state
// store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/account/sqlite"
	"github.com/nextidentity/rp/flow"
	"github.com/nextidentity/rp/oidc"
	"github.com/nextidentity/rp/oidc/redisstate"
	"github.com/nextidentity/rp/session"
	"github.com/nextidentity/rp/tokens"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rp-server: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	c, err := loadConfig(".env")
	if err != nil {
		return err
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "rp-server",
		Level:      hclog.LevelFromString(c.LogLevel),
		JSONFormat: c.LogJSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := c.providerConfig()
	if err != nil {
		return err
	}
	if !provider.IsConfigured() {
		logger.Warn("provider is not configured, login is disabled")
	}
	httpClient, err := provider.HttpClient()
	if err != nil {
		return err
	}

	store, err := sqlite.Open(ctx, c.DatabasePath, sqlite.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	states, closeStates, err := stateStore(ctx, c, logger)
	if err != nil {
		return err
	}
	defer closeStates()

	discovery := oidc.NewDiscoveryCache(oidc.WithHTTPClient(httpClient), oidc.WithTTL(c.DiscoveryTTL), oidc.WithLogger(logger))
	client := oidc.NewTokenClient(oidc.WithHTTPClient(httpClient), oidc.WithLogger(logger))
	resolver, err := account.NewResolver(store, account.WithLogger(logger))
	if err != nil {
		return err
	}
	manager, err := tokens.NewManager(store, discovery, client, provider, tokens.WithLogger(logger))
	if err != nil {
		return err
	}
	controller, err := flow.NewController(c.flowConfig(provider), states, discovery, client, resolver, manager,
		flow.WithLogger(logger),
		flow.WithLoginNotifier(flow.NotifierFunc(func(_ context.Context, a *account.LocalAccount, _ *oidc.ExternalIdentity) {
			logger.Info("user logged in", "account_id", a.ID, "username", a.Username)
		})),
	)
	if err != nil {
		return err
	}
	sessions, err := session.NewManager([]byte(c.SessionSecret),
		session.WithTTL(c.SessionTTL),
		session.WithSecureCookies(c.SecureCookies),
		session.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	s := &server{controller: controller, sessions: sessions, tokens: manager, logger: logger}
	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", c.Addr, "site_url", c.SiteURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// stateStore uses Redis when RP_REDIS_ADDR is set, so several instances can
// share pending logins, and memory otherwise.
func stateStore(ctx context.Context, c *serverConfig, logger hclog.Logger) (oidc.StateStore, func(), error) {
	if c.RedisAddr == "" {
		return oidc.NewMemoryStateStore(oidc.WithTTL(c.StateTTL), oidc.WithLogger(logger)), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("unable to reach redis at %s: %w", c.RedisAddr, err)
	}
	store, err := redisstate.New(rdb, redisstate.WithTTL(c.StateTTL), redisstate.WithLogger(logger))
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return store, func() { _ = rdb.Close() }, nil
}

// SPDX-License-Identifier: MPL-2.0

package redisstate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nextidentity/rp/oidc"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, opt ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s, err := New(rdb, opt...)
	require.NoError(t, err)
	return s, mini
}

func TestNew(t *testing.T) {
	t.Parallel()
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, oidc.ErrNilParameter))
}

func TestStore_Redeem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("single-use", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, mini := testStore(t)
		redirect := "https://site/after"
		tok, err := s.Issue(ctx, &redirect)
		require.NoError(err)
		assert.True(mini.Exists(DefaultKeyPrefix + tok))
		assert.Equal(oidc.DefaultStateTTL, mini.TTL(DefaultKeyPrefix+tok))

		got, ok := s.Redeem(ctx, tok)
		require.True(ok)
		require.NotNil(got)
		assert.Equal(redirect, *got)
		assert.False(mini.Exists(DefaultKeyPrefix + tok))

		_, ok = s.Redeem(ctx, tok)
		assert.False(ok)
	})
	t.Run("no-redirect", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, _ := testStore(t)
		tok, err := s.Issue(ctx, nil)
		require.NoError(err)
		got, ok := s.Redeem(ctx, tok)
		assert.True(ok)
		assert.Nil(got)
	})
	t.Run("expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, mini := testStore(t, WithTTL(time.Minute))
		tok, err := s.Issue(ctx, nil)
		require.NoError(err)
		mini.FastForward(time.Minute + time.Second)
		_, ok := s.Redeem(ctx, tok)
		assert.False(ok)
	})
	t.Run("unknown", func(t *testing.T) {
		assert := assert.New(t)
		s, _ := testStore(t)
		_, ok := s.Redeem(ctx, "not-issued")
		assert.False(ok)
		_, ok = s.Redeem(ctx, "")
		assert.False(ok)
	})
	t.Run("prefix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, mini := testStore(t, WithKeyPrefix("custom:"))
		tok, err := s.Issue(ctx, nil)
		require.NoError(err)
		assert.True(mini.Exists("custom:" + tok))
	})
	t.Run("redis-down", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, mini := testStore(t)
		tok, err := s.Issue(ctx, nil)
		require.NoError(err)
		mini.Close()
		_, ok := s.Redeem(ctx, tok)
		assert.False(ok)
		_, err = s.Issue(ctx, nil)
		assert.Error(err)
	})
}

func TestStore_concurrentRedeem(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s, _ := testStore(t)
	tok, err := s.Issue(ctx, nil)
	require.NoError(err)

	const racers = 20
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Redeem(ctx, tok); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(int32(1), wins)
}

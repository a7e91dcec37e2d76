// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis starts an in-process Redis and a cache wired to it.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := &RedisCache{
		client: client,
		logger: zerolog.Nop(),
	}
	t.Cleanup(func() { _ = c.Close() })

	return mr, c
}

func TestRedisCacheSetGet(t *testing.T) {
	_, c := setupMiniRedis(t)

	key := Key("hm2g-BidCos-RF", "NEQ1234567:1", "STATE")
	c.Set(key, true, 5*time.Minute)

	val, found := c.Get(key)
	require.True(t, found)
	assert.Equal(t, true, val)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestRedisCacheGetMissing(t *testing.T) {
	_, c := setupMiniRedis(t)

	val, found := c.Get("dp:none:none:none")
	assert.False(t, found)
	assert.Nil(t, val)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestRedisCacheTTL(t *testing.T) {
	mr, c := setupMiniRedis(t)

	c.Set("dp:a:b:c", 0.75, 100*time.Millisecond)

	val, found := c.Get("dp:a:b:c")
	require.True(t, found)
	assert.Equal(t, 0.75, val)

	mr.FastForward(200 * time.Millisecond)

	_, found = c.Get("dp:a:b:c")
	assert.False(t, found, "expected value to be expired")
}

func TestRedisCacheIgnoresNonPositiveTTL(t *testing.T) {
	_, c := setupMiniRedis(t)

	c.Set("dp:a:b:c", 1, 0)

	_, found := c.Get("dp:a:b:c")
	assert.False(t, found)
	assert.Equal(t, int64(0), c.Stats().Sets)
}

func TestRedisCacheDelete(t *testing.T) {
	_, c := setupMiniRedis(t)

	c.Set("dp:a:b:c", 1, 5*time.Minute)
	_, found := c.Get("dp:a:b:c")
	require.True(t, found)

	c.Delete("dp:a:b:c")

	_, found = c.Get("dp:a:b:c")
	assert.False(t, found)
}

func TestRedisCacheClear(t *testing.T) {
	_, c := setupMiniRedis(t)

	c.Set("dp:a:b:c", 1, 5*time.Minute)
	c.Set("dp:a:b:d", 2, 5*time.Minute)
	require.Equal(t, 2, c.Stats().CurrentSize)

	c.Clear()

	assert.Equal(t, 0, c.Stats().CurrentSize)
	_, found := c.Get("dp:a:b:c")
	assert.False(t, found)
}

func TestRedisCacheDatapointValueShapes(t *testing.T) {
	_, c := setupMiniRedis(t)

	// JSON round trip: ints come back as float64, bools and strings
	// keep their type.
	c.Set("dp:a:b:int", 21, 5*time.Minute)
	c.Set("dp:a:b:bool", true, 5*time.Minute)
	c.Set("dp:a:b:str", "LOWBAT", 5*time.Minute)

	val, found := c.Get("dp:a:b:int")
	require.True(t, found)
	assert.Equal(t, float64(21), val)

	val, found = c.Get("dp:a:b:bool")
	require.True(t, found)
	assert.Equal(t, true, val)

	val, found = c.Get("dp:a:b:str")
	require.True(t, found)
	assert.Equal(t, "LOWBAT", val)
}

func TestRedisCacheHealthCheck(t *testing.T) {
	mr, c := setupMiniRedis(t)

	require.NoError(t, c.HealthCheck(context.Background()))

	mr.Close()

	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestNewRedisBackendUnreachable(t *testing.T) {
	_, err := New("redis", 0, RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis connection failed")
}

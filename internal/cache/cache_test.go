// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestKeyLayout(t *testing.T) {
	key := Key("hm2g-BidCos-RF", "NEQ1234567:1", "STATE")
	assert.Equal(t, "dp:hm2g-BidCos-RF:NEQ1234567:1:STATE", key)
}

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache(0)

	key := Key("hm2g-BidCos-RF", "NEQ1234567:1", "LEVEL")
	c.Set(key, 0.75, 5*time.Minute)

	val, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 0.75, val)

	_, ok = c.Get(Key("hm2g-BidCos-RF", "NEQ1234567:1", "STATE"))
	assert.False(t, ok)
}

func TestMemoryCacheExpiration(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("dp:x:y:z", true, 50*time.Millisecond)

	val, ok := c.Get("dp:x:y:z")
	require.True(t, ok)
	assert.Equal(t, true, val)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get("dp:x:y:z")
	assert.False(t, ok, "expected entry to be expired")
}

func TestMemoryCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("dp:x:y:z", 1, 0)
	c.Set("dp:x:y:w", 2, -time.Second)

	_, ok := c.Get("dp:x:y:z")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().Sets)
}

func TestMemoryCacheDeleteAndClear(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("dp:a:b:c", 1, 5*time.Minute)
	c.Set("dp:a:b:d", 2, 5*time.Minute)

	c.Delete("dp:a:b:c")
	_, ok := c.Get("dp:a:b:c")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCacheStats(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("dp:a:b:c", 1, 5*time.Minute)
	c.Set("dp:a:b:d", 2, 5*time.Minute)

	c.Get("dp:a:b:c") // hit
	c.Get("dp:a:b:c") // hit
	c.Get("dp:a:b:x") // miss

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, 2, stats.CurrentSize)
}

func TestMemoryCacheJanitor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewMemoryCache(50 * time.Millisecond)
	defer func() { _ = c.Close() }()

	c.Set("dp:a:b:c", 1, 30*time.Millisecond)
	c.Set("dp:a:b:d", 2, 30*time.Millisecond)
	c.Set("dp:a:b:keep", 3, 10*time.Second)

	require.Eventually(t, func() bool {
		return c.Stats().CurrentSize == 1
	}, time.Second, 10*time.Millisecond, "janitor should remove expired entries")

	assert.Greater(t, c.Stats().Evictions, int64(0))

	_, ok := c.Get("dp:a:b:keep")
	assert.True(t, ok)
}

func TestMemoryCacheCloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewMemoryCache(time.Minute)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// Close without a janitor must also be safe.
	c2 := NewMemoryCache(0)
	require.NoError(t, c2.Close())
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()

	c.Set("dp:a:b:c", 1, 5*time.Minute)
	_, ok := c.Get("dp:a:b:c")
	assert.False(t, ok)

	c.Delete("dp:a:b:c")
	c.Clear()
	assert.Equal(t, Stats{}, c.Stats())
}

func TestNewSelectsBackend(t *testing.T) {
	mem, err := New("", time.Minute, RedisConfig{})
	require.NoError(t, err)
	memCache, ok := mem.(*MemoryCache)
	require.True(t, ok)
	_ = memCache.Close()

	off, err := New("none", 0, RedisConfig{})
	require.NoError(t, err)
	_, ok = off.(*noOpCache)
	assert.True(t, ok)

	_, err = New("memcached", 0, RedisConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cache backend")
}

func BenchmarkMemoryCacheGet(b *testing.B) {
	c := NewMemoryCache(0)
	c.Set("dp:a:b:c", 0.5, 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get("dp:a:b:c")
	}
}

func BenchmarkMemoryCacheSet(b *testing.B) {
	c := NewMemoryCache(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set("dp:a:b:c", 0.5, 5*time.Minute)
	}
}

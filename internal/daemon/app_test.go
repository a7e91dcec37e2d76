// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/hm2g/internal/config"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Name = "test-ccu"
	cfg.DataDir = t.TempDir()
	cfg.RPC.BindAddr = "127.0.0.1"
	cfg.RPC.Port = 0
	cfg.Operator.ListenAddr = ""
	cfg.Version = "test"
	return cfg
}

func newTestHolder(t *testing.T, cfg config.AppConfig) *config.Holder {
	t.Helper()
	return config.NewHolder(cfg, config.NewLoader("", "test"))
}

func TestNew_RequiresHolder(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrMissingConfig)
}

func TestApp_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	holder := newTestHolder(t, testConfig(t))
	app, err := New(holder)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return app.RPCServer().Started()
	}, 5*time.Second, 10*time.Millisecond, "rpc server did not start")

	// The health endpoint answers while running.
	resp, err := http.Get(fmt.Sprintf("http://%s/health", app.RPCServer().ListenAddr()))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	assert.False(t, app.RPCServer().Started())
	assert.Zero(t, app.RPCServer().ActiveBackgroundTasks())
}

func TestApp_OperatorEndpoints(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t)
	// ListenAndServe with port 0 binds an ephemeral port we cannot
	// learn back through net/http, so pin one for the test.
	cfg.Operator.ListenAddr = "127.0.0.1:19394"
	holder := newTestHolder(t, cfg)
	app, err := New(holder)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:19394/healthz")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "operator listener did not start")

	resp, err := http.Get("http://127.0.0.1:19394/healthz")
	require.NoError(t, err)
	var health operatorHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.RPCStarted)

	metricsResp, err := http.Get("http://127.0.0.1:19394/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	_ = metricsResp.Body.Close()

	exportResp, err := http.Post("http://127.0.0.1:19394/export", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, exportResp.StatusCode)
	_ = exportResp.Body.Close()

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestApp_CreateTask(t *testing.T) {
	holder := newTestHolder(t, testConfig(t))
	app, err := New(holder)
	require.NoError(t, err)
	defer func() {
		closeCache(app.cache)
		_ = app.store.Close()
	}()

	var ran atomic.Bool
	done := make(chan struct{})
	app.CreateTask("test", func(ctx context.Context) error {
		ran.Store(true)
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.True(t, ran.Load())
	app.tasks.Wait()
}

func TestApp_CreateTaskErrorIsLoggedNotFatal(t *testing.T) {
	holder := newTestHolder(t, testConfig(t))
	app, err := New(holder)
	require.NoError(t, err)
	defer func() {
		closeCache(app.cache)
		_ = app.store.Close()
	}()

	done := make(chan struct{})
	app.CreateTask("failing", func(ctx context.Context) error {
		close(done)
		return errors.New("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	app.tasks.Wait()
}

func TestApp_ApplyDynamic(t *testing.T) {
	holder := newTestHolder(t, testConfig(t))
	app, err := New(holder)
	require.NoError(t, err)
	defer func() {
		closeCache(app.cache)
		_ = app.store.Close()
	}()

	cfg := holder.Get()
	cfg.Cache.ValueTTL = 90 * time.Second
	cfg.LogLevel = "debug"
	app.applyDynamic(cfg)

	assert.Equal(t, 90*time.Second, app.Unit().ValueTTL())
}

func TestCallbackURL(t *testing.T) {
	cfg := config.Default()
	cfg.RPC.Port = 9293
	assert.Equal(t, "http://127.0.0.1:9293", callbackURL(cfg))

	cfg.CallbackURL = "http://192.168.1.5:9293"
	assert.Equal(t, "http://192.168.1.5:9293", callbackURL(cfg))
}

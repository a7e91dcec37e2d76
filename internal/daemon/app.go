// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon composes the hm2g runtime: the central unit, the
// inbound RPC server, the self-healing coordinator and the operator
// listener, all under one errgroup lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/hm2g/internal/cache"
	"github.com/ManuGH/hm2g/internal/central"
	"github.com/ManuGH/hm2g/internal/config"
	"github.com/ManuGH/hm2g/internal/eventbus"
	"github.com/ManuGH/hm2g/internal/healing"
	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/resilience"
	"github.com/ManuGH/hm2g/internal/rpcserver"
	"github.com/ManuGH/hm2g/internal/store"
	"github.com/ManuGH/hm2g/internal/telemetry"
)

const shutdownGrace = 10 * time.Second

// App owns every long-lived component and runs them until the root
// context is cancelled. Construction wires the object graph; Run starts
// it and tears it down in reverse order.
type App struct {
	holder *config.Holder
	logger zerolog.Logger

	bus      *eventbus.Bus
	breakers *resilience.Registry
	store    *store.Store
	cache    cache.Cache
	unit     *central.Unit
	servers  *rpcserver.Registry
	rpc      *rpcserver.Server
	healer   *healing.Coordinator

	reloadSignal os.Signal

	taskMu  sync.RWMutex
	taskCtx context.Context
	tasks   sync.WaitGroup
}

var _ healing.TaskScheduler = (*App)(nil)

// New builds the full object graph from the held configuration. The
// returned App owns the store, cache and server registry; Run releases
// them on shutdown.
func New(holder *config.Holder) (*App, error) {
	if holder == nil {
		return nil, ErrMissingConfig
	}
	cfg := holder.Get()

	bus := eventbus.New()
	breakers := resilience.NewRegistry(resilience.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		Cooldown:          cfg.Breaker.Cooldown,
		HalfOpenSuccesses: cfg.Breaker.HalfOpenSuccesses,
	}, resilience.WithBus(bus))

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	ca, err := cache.New(cfg.Cache.Backend, cfg.Cache.CleanupInterval, cache.RedisConfig{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create value cache: %w", err)
	}

	unit, err := central.New(central.Config{
		Name:        cfg.Name,
		CallbackURL: callbackURL(cfg),
		ValueTTL:    cfg.Cache.ValueTTL,
	}, bus, st, ca, breakers)
	if err != nil {
		closeCache(ca)
		_ = st.Close()
		return nil, fmt.Errorf("create central unit: %w", err)
	}

	servers := rpcserver.NewRegistry()
	rpc := servers.GetOrCreate(rpcserver.Config{
		BindAddr:        cfg.RPC.BindAddr,
		Port:            cfg.RPC.Port,
		MaxConns:        cfg.RPC.MaxConns,
		HealthRateLimit: cfg.RPC.HealthRateLimit,
		ReadTimeout:     cfg.RPC.ReadTimeout,
		WriteTimeout:    cfg.RPC.WriteTimeout,
		IdleTimeout:     cfg.RPC.IdleTimeout,
		ShutdownTimeout: cfg.RPC.ShutdownTimeout,
		Tracing:         cfg.Telemetry.Enabled,
	})
	rpc.Attach(unit)

	a := &App{
		holder:       holder,
		logger:       log.WithComponent("daemon"),
		bus:          bus,
		breakers:     breakers,
		store:        st,
		cache:        ca,
		unit:         unit,
		servers:      servers,
		rpc:          rpc,
		reloadSignal: syscall.SIGHUP,
	}
	a.healer = healing.New(bus, a, unit)
	return a, nil
}

// callbackURL is what the init handshake hands the CCU. Without an
// explicit configuration the loopback address only works for a CCU on
// the same host, so deployments bridging a real CCU set callbackUrl.
func callbackURL(cfg config.AppConfig) string {
	if cfg.CallbackURL != "" {
		return cfg.CallbackURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.RPC.Port)
}

// Unit exposes the central unit, mainly for tests.
func (a *App) Unit() *central.Unit { return a.unit }

// RPCServer exposes the inbound listener handle, mainly for tests.
func (a *App) RPCServer() *rpcserver.Server { return a.rpc }

// CreateTask runs deferred work on a tracked goroutine bound to the
// daemon lifetime. It satisfies the healing coordinator's scheduler
// contract; Run waits for all tasks before returning.
func (a *App) CreateTask(name string, run func(ctx context.Context) error) {
	a.taskMu.RLock()
	ctx := a.taskCtx
	a.taskMu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	a.tasks.Add(1)
	go func() {
		defer a.tasks.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "daemon.task_failed").
				Str("task", name).
				Msg("scheduled task failed")
		}
	}()
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails fatally. Shutdown is orderly and bounded: healer off
// the bus first, then the listeners, then the unit's deinit handshakes,
// then storage.
func (a *App) Run(ctx context.Context) error {
	cfg := a.holder.Get()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "hm2g",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		Protocol:       cfg.Telemetry.Protocol,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.taskMu.Lock()
	a.taskCtx = runCtx
	a.taskMu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)

	// Config watcher is best-effort: startup must not fail on a
	// missing inotify budget.
	if err := a.holder.StartWatcher(gctx); err != nil {
		a.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "config.watcher_start_failed").
			Msg("config watcher not running, reload via SIGHUP only")
	}

	// Apply the dynamic subset on every config swap.
	applyCh := make(chan config.AppConfig, 1)
	a.holder.RegisterListener(applyCh)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case newCfg := <-applyCh:
				a.applyDynamic(newCfg)
			}
		}
	})

	// SIGHUP triggers a manual reload.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, a.reloadSignal)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				a.logger.Info().
					Str(log.FieldEvent, "config.reload_signal").
					Msg("received reload signal")
				if err := a.holder.Reload(context.Background()); err != nil {
					a.logger.Warn().
						Err(err).
						Str(log.FieldEvent, "config.reload_failed").
						Msg("configuration unchanged")
				}
			}
		}
	})

	if err := a.rpc.Start(gctx); err != nil {
		cancel()
		_ = g.Wait()
		a.release(provider)
		return fmt.Errorf("start rpc server: %w", err)
	}

	// Register configured interfaces before the init handshakes so the
	// routing predicate answers the CCU's first callbacks.
	for _, ifCfg := range cfg.Interfaces {
		if err := a.unit.RegisterInterface(gctx, central.InterfaceConfig{
			ID:        ifCfg.ID,
			URL:       ifCfg.URL,
			Timeout:   ifCfg.Timeout,
			RateLimit: ifCfg.RateLimit,
			RateBurst: ifCfg.RateBurst,
		}); err != nil {
			a.logger.Error().
				Err(err).
				Str(log.FieldEvent, "daemon.interface_rejected").
				Str(log.FieldInterfaceID, ifCfg.ID).
				Msg("interface configuration rejected")
		}
	}
	if err := a.unit.Start(gctx); err != nil {
		a.logger.Error().
			Err(err).
			Str(log.FieldEvent, "daemon.unit_start_failed").
			Msg("central unit failed to start")
	}
	a.healer.Start()

	if cfg.Operator.ListenAddr != "" {
		operator := a.newOperatorServer(cfg.Operator.ListenAddr)
		g.Go(func() error { return a.runOperator(gctx, operator) })
	}

	a.logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str(log.FieldListenAddr, a.rpc.ListenAddr()).
		Int("interfaces", len(cfg.Interfaces)).
		Msg("daemon running")

	runErr := g.Wait()

	shutdownCtx, release := context.WithTimeout(context.Background(), shutdownGrace)
	defer release()

	a.healer.Stop()
	var errs []error
	if err := a.servers.StopAll(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop rpc servers: %w", err))
	}
	if err := a.unit.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop central unit: %w", err))
	}

	// Scheduled refresh tasks hold store and client references; drain
	// them before storage goes away.
	done := make(chan struct{})
	go func() {
		a.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn().
			Str(log.FieldEvent, "daemon.task_drain_timeout").
			Msg("scheduled tasks did not drain before deadline")
	}

	a.holder.Stop()
	errs = append(errs, a.release(provider)...)

	a.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon shut down")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		errs = append([]error{runErr}, errs...)
	}
	return errors.Join(errs...)
}

// applyDynamic pushes the reloadable subset of a fresh configuration
// into the running components.
func (a *App) applyDynamic(cfg config.AppConfig) {
	log.SetLevel(cfg.LogLevel)
	a.breakers.Retune(resilience.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		Cooldown:          cfg.Breaker.Cooldown,
		HalfOpenSuccesses: cfg.Breaker.HalfOpenSuccesses,
	})
	a.unit.SetValueTTL(cfg.Cache.ValueTTL)
	a.logger.Info().
		Str(log.FieldEvent, "daemon.config_applied").
		Str("log_level", cfg.LogLevel).
		Dur("value_ttl", cfg.Cache.ValueTTL).
		Msg("dynamic configuration applied")
}

// release closes the resources New acquired. Safe to call once, from
// the Run teardown path only.
func (a *App) release(provider *telemetry.Provider) []error {
	var errs []error
	closeCache(a.cache)
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if provider != nil {
		shutdownCtx, release := context.WithTimeout(context.Background(), 5*time.Second)
		defer release()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errs
}

func closeCache(c cache.Cache) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

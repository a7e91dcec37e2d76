// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package central ties the gateway together. A Unit represents one CCU:
// it owns the per-interface XML-RPC clients, the device store, the
// value cache and the event bus. The RPC server routes inbound
// callbacks into it as a session, and the self-healing coordinator
// drives it as a refresher.
package central

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hm2g/internal/cache"
	"github.com/ManuGH/hm2g/internal/ccu"
	"github.com/ManuGH/hm2g/internal/eventbus"
	"github.com/ManuGH/hm2g/internal/healing"
	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/metrics"
	"github.com/ManuGH/hm2g/internal/resilience"
	"github.com/ManuGH/hm2g/internal/rpcserver"
	"github.com/ManuGH/hm2g/internal/store"
)

// InterfaceConfig describes one CCU interface to bridge.
type InterfaceConfig struct {
	// ID is the interface id registered with the CCU. Inbound callbacks
	// carry it and route here.
	ID string
	// URL is the interface's XML-RPC endpoint.
	URL string
	// Timeout bounds each outbound HTTP request.
	Timeout time.Duration
	// RateLimit and RateBurst pace outbound calls; zero disables.
	RateLimit float64
	RateBurst int
}

// Config configures a Unit.
type Config struct {
	// Name identifies this unit; the RPC server reports it under
	// centrals in the health response.
	Name string
	// CallbackURL is what the init handshake hands the CCU, the
	// address of the local RPC listener.
	CallbackURL string
	// ValueTTL is how long event and read values stay servable from
	// the cache. Zero disables serving from cache.
	ValueTTL time.Duration
}

// Unit is the top-level session object for one CCU.
type Unit struct {
	cfg      Config
	bus      *eventbus.Bus
	store    *store.Store
	cache    cache.Cache
	breakers *resilience.Registry
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*ccu.Client

	started  atomic.Bool
	valueTTL atomic.Int64
}

var (
	_ rpcserver.Session = (*Unit)(nil)
	_ healing.Refresher = (*Unit)(nil)
)

// New builds a Unit. The store, cache and breaker registry are owned by
// the caller; the Unit never closes them.
func New(cfg Config, bus *eventbus.Bus, st *store.Store, ca cache.Cache, breakers *resilience.Registry) (*Unit, error) {
	if cfg.Name == "" {
		return nil, errors.New("central: name must not be empty")
	}
	if cfg.CallbackURL == "" {
		return nil, errors.New("central: callback URL must not be empty")
	}
	if bus == nil || st == nil || ca == nil || breakers == nil {
		return nil, errors.New("central: bus, store, cache and breakers are required")
	}
	u := &Unit{
		cfg:      cfg,
		bus:      bus,
		store:    st,
		cache:    ca,
		breakers: breakers,
		logger: log.WithComponent("central").With().
			Str(log.FieldSessionID, cfg.Name).Logger(),
		clients: make(map[string]*ccu.Client),
	}
	u.valueTTL.Store(int64(cfg.ValueTTL))
	return u, nil
}

// ValueTTL is the current cache freshness window.
func (u *Unit) ValueTTL() time.Duration {
	return time.Duration(u.valueTTL.Load())
}

// SetValueTTL retunes the cache freshness window at runtime.
func (u *Unit) SetValueTTL(ttl time.Duration) {
	u.valueTTL.Store(int64(ttl))
	u.logger.Info().
		Str(log.FieldEvent, "central.value_ttl_changed").
		Dur("ttl", ttl).
		Msg("value cache TTL changed")
}

// ID implements rpcserver.Session.
func (u *Unit) ID() string { return u.cfg.Name }

// HasClient implements the routing predicate the RPC server resolves
// interface ids against.
func (u *Unit) HasClient(interfaceID string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.clients[interfaceID]
	return ok
}

// Client returns the outbound client for an interface, or nil.
func (u *Unit) Client(interfaceID string) *ccu.Client {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.clients[interfaceID]
}

// InterfaceIDs lists the registered interfaces.
func (u *Unit) InterfaceIDs() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	ids := make([]string, 0, len(u.clients))
	for id := range u.clients {
		ids = append(ids, id)
	}
	return ids
}

// RegisterInterface creates the outbound client for one interface. When
// the unit is already running the init handshake happens immediately;
// a failed handshake keeps the interface registered (the breaker and
// the healing loop take over from there).
func (u *Unit) RegisterInterface(ctx context.Context, ifCfg InterfaceConfig) error {
	if ifCfg.ID == "" {
		return errors.New("central: interface id must not be empty")
	}

	client, err := ccu.New(ccu.Config{
		InterfaceID: ifCfg.ID,
		URL:         ifCfg.URL,
		Timeout:     ifCfg.Timeout,
		RateLimit:   ifCfg.RateLimit,
		RateBurst:   ifCfg.RateBurst,
	}, u.breakers.Get(ifCfg.ID), ccu.WithBus(u.bus))
	if err != nil {
		return fmt.Errorf("central: interface %s: %w", ifCfg.ID, err)
	}

	u.mu.Lock()
	if _, exists := u.clients[ifCfg.ID]; exists {
		u.mu.Unlock()
		return fmt.Errorf("central: interface %s already registered", ifCfg.ID)
	}
	u.clients[ifCfg.ID] = client
	u.mu.Unlock()

	u.logger.Info().
		Str(log.FieldEvent, "central.interface_registered").
		Str(log.FieldInterfaceID, ifCfg.ID).
		Str(log.FieldURL, client.Endpoint()).
		Msg("interface registered")

	if u.started.Load() {
		u.initInterface(ctx, client)
	}
	return nil
}

// DeregisterInterface deinits the interface (best effort), resolves its
// pending coalesced reads and drops its stored records.
func (u *Unit) DeregisterInterface(ctx context.Context, interfaceID string) error {
	u.mu.Lock()
	client, ok := u.clients[interfaceID]
	if !ok {
		u.mu.Unlock()
		return fmt.Errorf("central: interface %s not registered", interfaceID)
	}
	delete(u.clients, interfaceID)
	u.mu.Unlock()

	if u.started.Load() {
		if err := client.Deinit(ctx, u.cfg.CallbackURL); err != nil {
			u.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "central.deinit_failed").
				Str(log.FieldInterfaceID, interfaceID).
				Msg("deinit handshake failed")
		}
	}
	client.ClearPending()

	metrics.SetDevicesKnown(interfaceID, 0)
	if err := u.store.DeleteInterface(ctx, interfaceID); err != nil {
		return fmt.Errorf("central: delete interface records: %w", err)
	}

	u.logger.Info().
		Str(log.FieldEvent, "central.interface_deregistered").
		Str(log.FieldInterfaceID, interfaceID).
		Msg("interface deregistered")
	return nil
}

// Start performs the init handshake for every registered interface. A
// failed handshake logs and continues; the interface stays degraded
// until the breaker closes again. Starting twice is a no-op.
func (u *Unit) Start(ctx context.Context) error {
	if !u.started.CompareAndSwap(false, true) {
		return nil
	}

	u.mu.RLock()
	clients := make([]*ccu.Client, 0, len(u.clients))
	for _, c := range u.clients {
		clients = append(clients, c)
	}
	u.mu.RUnlock()

	for _, client := range clients {
		u.initInterface(ctx, client)
	}

	u.logger.Info().
		Str(log.FieldEvent, "central.started").
		Int("interfaces", len(clients)).
		Msg("central unit started")
	return nil
}

func (u *Unit) initInterface(ctx context.Context, client *ccu.Client) {
	if err := client.Init(ctx, u.cfg.CallbackURL, client.InterfaceID()); err != nil {
		u.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "central.init_failed").
			Str(log.FieldInterfaceID, client.InterfaceID()).
			Msg("init handshake failed, interface starts degraded")
	}
}

// Stop deinits every interface best effort and resolves pending reads.
// Stopping a unit that never started is a no-op.
func (u *Unit) Stop(ctx context.Context) error {
	if !u.started.CompareAndSwap(true, false) {
		return nil
	}

	u.mu.RLock()
	clients := make([]*ccu.Client, 0, len(u.clients))
	for _, c := range u.clients {
		clients = append(clients, c)
	}
	u.mu.RUnlock()

	for _, client := range clients {
		if err := client.Deinit(ctx, u.cfg.CallbackURL); err != nil {
			u.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "central.deinit_failed").
				Str(log.FieldInterfaceID, client.InterfaceID()).
				Msg("deinit handshake failed")
		}
		client.ClearPending()
	}

	u.logger.Info().
		Str(log.FieldEvent, "central.stopped").
		Msg("central unit stopped")
	return nil
}

// GetValue serves a datapoint read, from the cache when fresh,
// otherwise through the interface client (coalesced there). Fetched
// values refill the cache.
func (u *Unit) GetValue(ctx context.Context, interfaceID, channelAddress, parameter string) (any, error) {
	key := cache.Key(interfaceID, channelAddress, parameter)
	ttl := u.ValueTTL()
	if ttl > 0 {
		if val, ok := u.cache.Get(key); ok {
			return val, nil
		}
	}

	client := u.Client(interfaceID)
	if client == nil {
		return nil, fmt.Errorf("central: interface %s not registered", interfaceID)
	}
	val, err := client.GetValue(ctx, channelAddress, parameter)
	if err != nil {
		return nil, err
	}
	u.cache.Set(key, val, ttl)
	return val, nil
}

// SetValue writes a datapoint and updates the cache write-through.
func (u *Unit) SetValue(ctx context.Context, interfaceID, channelAddress, parameter string, value any) error {
	client := u.Client(interfaceID)
	if client == nil {
		return fmt.Errorf("central: interface %s not registered", interfaceID)
	}
	if err := client.SetValue(ctx, channelAddress, parameter, value); err != nil {
		return err
	}
	u.cache.Set(cache.Key(interfaceID, channelAddress, parameter), value, u.ValueTTL())
	return nil
}

// DataPointEvent implements the event sink: the pushed value refreshes
// the cache so subsequent reads skip the CCU.
func (u *Unit) DataPointEvent(ctx context.Context, interfaceID, channelAddress, parameter string, value any) error {
	u.cache.Set(cache.Key(interfaceID, channelAddress, parameter), value, u.ValueTTL())
	metrics.IncDatapointEvent(interfaceID)

	u.logger.Debug().
		Str(log.FieldEvent, "central.datapoint_event").
		Str(log.FieldInterfaceID, interfaceID).
		Str(log.FieldChannel, channelAddress).
		Str(log.FieldParameter, parameter).
		Interface("value", value).
		Msg("datapoint event received")
	return nil
}

// NewDevices persists pushed device descriptions.
func (u *Unit) NewDevices(ctx context.Context, interfaceID string, descriptions []map[string]any) error {
	if err := u.store.PutDevices(ctx, interfaceID, descriptions); err != nil {
		return fmt.Errorf("central: store new devices: %w", err)
	}
	u.refreshDeviceGauge(ctx, interfaceID)

	u.logger.Info().
		Str(log.FieldEvent, "central.devices_added").
		Str(log.FieldInterfaceID, interfaceID).
		Int("count", len(descriptions)).
		Msg("device descriptions stored")
	return nil
}

// DeleteDevices drops pushed device removals from the store.
func (u *Unit) DeleteDevices(ctx context.Context, interfaceID string, addresses []string) error {
	if err := u.store.DeleteDevices(ctx, interfaceID, addresses); err != nil {
		return fmt.Errorf("central: delete devices: %w", err)
	}
	u.refreshDeviceGauge(ctx, interfaceID)

	u.logger.Info().
		Str(log.FieldEvent, "central.devices_deleted").
		Str(log.FieldInterfaceID, interfaceID).
		Int("count", len(addresses)).
		Msg("device descriptions deleted")
	return nil
}

// ListDevices answers the CCU's inventory probe with the stored
// descriptions, so the CCU only pushes what this unit does not know.
func (u *Unit) ListDevices(ctx context.Context, interfaceID string) ([]map[string]any, error) {
	return u.store.ListDevices(ctx, interfaceID)
}

// ReaddedDevice notes devices the CCU deleted and re-added; their fresh
// descriptions follow as a newDevices push.
func (u *Unit) ReaddedDevice(ctx context.Context, interfaceID string, addresses []string) error {
	u.logger.Info().
		Str(log.FieldEvent, "central.devices_readded").
		Str(log.FieldInterfaceID, interfaceID).
		Strs("addresses", addresses).
		Msg("devices re-added by the CCU")
	return nil
}

// ReplaceDevice drops the replaced device's records; the replacement
// arrives as a newDevices push.
func (u *Unit) ReplaceDevice(ctx context.Context, interfaceID, oldAddress, newAddress string) error {
	if err := u.store.DeleteDevices(ctx, interfaceID, []string{oldAddress}); err != nil {
		return fmt.Errorf("central: replace device: %w", err)
	}
	u.refreshDeviceGauge(ctx, interfaceID)

	u.logger.Info().
		Str(log.FieldEvent, "central.device_replaced").
		Str(log.FieldInterfaceID, interfaceID).
		Str("old_address", oldAddress).
		Str("new_address", newAddress).
		Msg("device replaced")
	return nil
}

// UpdateDevice notes a device update hint from the CCU.
func (u *Unit) UpdateDevice(ctx context.Context, interfaceID, address string, hint int) error {
	u.logger.Info().
		Str(log.FieldEvent, "central.device_updated").
		Str(log.FieldInterfaceID, interfaceID).
		Str(log.FieldAddress, address).
		Int("hint", hint).
		Msg("device update reported")
	return nil
}

// ErrorReported implements the system error sink: count, log and
// publish so subscribers can react.
func (u *Unit) ErrorReported(ctx context.Context, interfaceID string, code int, message string) error {
	metrics.IncCCUReportedError(interfaceID)

	u.logger.Warn().
		Str(log.FieldEvent, "central.ccu_error").
		Str(log.FieldInterfaceID, interfaceID).
		Int("code", code).
		Str("message", message).
		Msg("CCU reported an error")

	u.bus.Publish(ctx, eventbus.SystemErrorEvent{
		InterfaceID: interfaceID,
		Code:        code,
		Message:     message,
		At:          time.Now(),
	})
	return nil
}

// RefreshInterface implements healing.Refresher: re-read the device
// inventory and the VALUES paramset descriptions after a breaker
// recovered, so state drift from the outage window heals.
func (u *Unit) RefreshInterface(ctx context.Context, interfaceID string) error {
	client := u.Client(interfaceID)
	if client == nil {
		return fmt.Errorf("central: interface %s not registered", interfaceID)
	}

	descriptions, err := client.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("central: refresh device list: %w", err)
	}
	if err := u.store.PutDevices(ctx, interfaceID, descriptions); err != nil {
		return fmt.Errorf("central: store refreshed devices: %w", err)
	}

	for _, desc := range descriptions {
		addr, _ := desc["ADDRESS"].(string)
		// VALUES paramsets exist on channels; a device root answers
		// with a fault.
		if !strings.Contains(addr, ":") {
			continue
		}
		pset, err := client.GetParamsetDescription(ctx, addr, ccu.ParamsetValues)
		if err != nil {
			return fmt.Errorf("central: refresh paramset %s: %w", addr, err)
		}
		if err := u.store.PutParamsetDescription(ctx, interfaceID, addr, ccu.ParamsetValues, pset); err != nil {
			return fmt.Errorf("central: store refreshed paramset %s: %w", addr, err)
		}
	}

	u.refreshDeviceGauge(ctx, interfaceID)

	u.logger.Info().
		Str(log.FieldEvent, "central.interface_refreshed").
		Str(log.FieldInterfaceID, interfaceID).
		Int("devices", len(descriptions)).
		Msg("interface data refreshed")
	return nil
}

func (u *Unit) refreshDeviceGauge(ctx context.Context, interfaceID string) {
	addrs, err := u.store.DeviceAddresses(ctx, interfaceID)
	if err != nil {
		return
	}
	metrics.SetDevicesKnown(interfaceID, len(addrs))
}

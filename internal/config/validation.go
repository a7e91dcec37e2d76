// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"

	"github.com/ManuGH/hm2g/internal/validate"
)

// Validate checks the resolved configuration and reports every problem
// at once rather than stopping at the first.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.NotEmpty("name", cfg.Name)
	v.Directory("dataDir", cfg.DataDir, false)
	v.OneOf("logLevel", cfg.LogLevel, []string{"trace", "debug", "info", "warn", "error"})

	// Port 0 binds an ephemeral port, which integration setups rely on.
	v.Range("rpc.port", cfg.RPC.Port, 0, 65535)
	v.NonNegative("rpc.maxConns", cfg.RPC.MaxConns)
	v.NonNegative("rpc.healthRateLimit", cfg.RPC.HealthRateLimit)

	if cfg.Operator.ListenAddr != "" {
		v.HostPort("operator.listenAddr", cfg.Operator.ListenAddr)
	}

	v.Positive("breaker.failureThreshold", cfg.Breaker.FailureThreshold)
	if cfg.Breaker.Cooldown <= 0 {
		v.AddError("breaker.cooldown", "cooldown must be positive", cfg.Breaker.Cooldown.String())
	}
	v.Positive("breaker.halfOpenSuccesses", cfg.Breaker.HalfOpenSuccesses)

	v.OneOf("cache.backend", cfg.Cache.Backend, []string{"memory", "redis", "none"})
	if cfg.Cache.Backend == "redis" {
		v.NotEmpty("cache.redis.addr", cfg.Cache.Redis.Addr)
	}
	if cfg.Cache.ValueTTL < 0 {
		v.AddError("cache.valueTtl", "TTL cannot be negative", cfg.Cache.ValueTTL.String())
	}
	if cfg.Cache.CleanupInterval < 0 {
		v.AddError("cache.cleanupInterval", "interval cannot be negative", cfg.Cache.CleanupInterval.String())
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.protocol", cfg.Telemetry.Protocol, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate",
				fmt.Sprintf("sampling rate must be between 0 and 1, got %v", cfg.Telemetry.SamplingRate),
				cfg.Telemetry.SamplingRate)
		}
	}

	// The callback URL is what the CCU dials back; it is only needed
	// once interfaces are configured.
	if len(cfg.Interfaces) > 0 {
		v.URL("callbackUrl", cfg.CallbackURL, []string{"http", "https"})
	}

	seen := make(map[string]bool, len(cfg.Interfaces))
	for i, ifCfg := range cfg.Interfaces {
		field := fmt.Sprintf("interfaces[%d]", i)
		v.NotEmpty(field+".id", ifCfg.ID)
		v.URL(field+".url", ifCfg.URL, []string{"http", "https"})
		if ifCfg.Timeout < 0 {
			v.AddError(field+".timeout", "timeout cannot be negative", ifCfg.Timeout.String())
		}
		if ifCfg.RateLimit < 0 {
			v.AddError(field+".rateLimit",
				fmt.Sprintf("rate limit cannot be negative, got %v", ifCfg.RateLimit),
				ifCfg.RateLimit)
		}
		v.NonNegative(field+".rateBurst", ifCfg.RateBurst)
		if ifCfg.ID != "" && seen[ifCfg.ID] {
			v.AddError(field+".id", fmt.Sprintf("duplicate interface id %q", ifCfg.ID), ifCfg.ID)
		}
		seen[ifCfg.ID] = true
	}

	return v.Err()
}

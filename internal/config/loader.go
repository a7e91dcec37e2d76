// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves the configuration with precedence ENV > file >
// defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a loader. An empty configPath means ENV-only
// operation.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath: configPath,
		version:    version,
	}
}

// Load resolves the configuration: defaults, then the YAML file
// (strict), then HM2G_* environment overrides, then validation. The
// returned config is only usable when the error is nil.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFile(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge config file: %w", err)
		}
	}

	if err := mergeEnv(&cfg); err != nil {
		return cfg, err
	}

	// The store and export paths derive from DataDir; resolve it once
	// so a relative working directory cannot move them later.
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile parses the YAML file in strict mode; unknown fields and
// trailing documents are errors.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the configuration file path is provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

// mergeFile overlays file values onto the defaults. Empty strings and
// nil pointers leave the current value untouched.
func mergeFile(cfg *AppConfig, file *FileConfig) error {
	if file.Name != "" {
		cfg.Name = file.Name
	}
	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if file.CallbackURL != "" {
		cfg.CallbackURL = file.CallbackURL
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}

	if rpc := file.RPC; rpc != nil {
		if rpc.BindAddr != "" {
			cfg.RPC.BindAddr = rpc.BindAddr
		}
		if rpc.Port != nil {
			cfg.RPC.Port = *rpc.Port
		}
		if rpc.MaxConns != nil {
			cfg.RPC.MaxConns = *rpc.MaxConns
		}
		if rpc.HealthRateLimit != nil {
			cfg.RPC.HealthRateLimit = *rpc.HealthRateLimit
		}
		if err := setDuration(&cfg.RPC.ReadTimeout, "rpc.readTimeout", rpc.ReadTimeout); err != nil {
			return err
		}
		if err := setDuration(&cfg.RPC.WriteTimeout, "rpc.writeTimeout", rpc.WriteTimeout); err != nil {
			return err
		}
		if err := setDuration(&cfg.RPC.IdleTimeout, "rpc.idleTimeout", rpc.IdleTimeout); err != nil {
			return err
		}
		if err := setDuration(&cfg.RPC.ShutdownTimeout, "rpc.shutdownTimeout", rpc.ShutdownTimeout); err != nil {
			return err
		}
	}

	if op := file.Operator; op != nil && op.ListenAddr != nil {
		cfg.Operator.ListenAddr = *op.ListenAddr
	}

	if br := file.Breaker; br != nil {
		if br.FailureThreshold != nil {
			cfg.Breaker.FailureThreshold = *br.FailureThreshold
		}
		if err := setDuration(&cfg.Breaker.Cooldown, "breaker.cooldown", br.Cooldown); err != nil {
			return err
		}
		if br.HalfOpenSuccesses != nil {
			cfg.Breaker.HalfOpenSuccesses = *br.HalfOpenSuccesses
		}
	}

	if ca := file.Cache; ca != nil {
		if ca.Backend != "" {
			cfg.Cache.Backend = ca.Backend
		}
		if ca.ValueTTL != nil {
			if err := setDuration(&cfg.Cache.ValueTTL, "cache.valueTtl", *ca.ValueTTL); err != nil {
				return err
			}
		}
		if err := setDuration(&cfg.Cache.CleanupInterval, "cache.cleanupInterval", ca.CleanupInterval); err != nil {
			return err
		}
		if redis := ca.Redis; redis != nil {
			if redis.Addr != "" {
				cfg.Cache.Redis.Addr = redis.Addr
			}
			if redis.Password != "" {
				cfg.Cache.Redis.Password = redis.Password
			}
			if redis.DB != nil {
				cfg.Cache.Redis.DB = *redis.DB
			}
		}
	}

	if tel := file.Telemetry; tel != nil {
		if tel.Enabled != nil {
			cfg.Telemetry.Enabled = *tel.Enabled
		}
		if tel.Endpoint != "" {
			cfg.Telemetry.Endpoint = tel.Endpoint
		}
		if tel.Protocol != "" {
			cfg.Telemetry.Protocol = tel.Protocol
		}
		if tel.SamplingRate != nil {
			cfg.Telemetry.SamplingRate = *tel.SamplingRate
		}
		if tel.Insecure != nil {
			cfg.Telemetry.Insecure = *tel.Insecure
		}
		if tel.Environment != "" {
			cfg.Telemetry.Environment = tel.Environment
		}
	}

	if len(file.Interfaces) > 0 {
		interfaces := make([]InterfaceConfig, 0, len(file.Interfaces))
		for i, entry := range file.Interfaces {
			ifCfg := InterfaceConfig{
				ID:        entry.ID,
				URL:       entry.URL,
				RateLimit: entry.RateLimit,
				RateBurst: entry.RateBurst,
			}
			field := fmt.Sprintf("interfaces[%d].timeout", i)
			if err := setDuration(&ifCfg.Timeout, field, entry.Timeout); err != nil {
				return err
			}
			interfaces = append(interfaces, ifCfg)
		}
		cfg.Interfaces = interfaces
	}

	return nil
}

// mergeEnv overlays HM2G_* environment variables, the highest
// precedence source.
func mergeEnv(cfg *AppConfig) error {
	cfg.Name = ParseString("HM2G_NAME", cfg.Name)
	cfg.DataDir = ParseString("HM2G_DATA_DIR", cfg.DataDir)
	cfg.CallbackURL = ParseString("HM2G_CALLBACK_URL", cfg.CallbackURL)
	cfg.LogLevel = ParseString("HM2G_LOG_LEVEL", cfg.LogLevel)

	cfg.RPC.BindAddr = ParseString("HM2G_RPC_BIND", cfg.RPC.BindAddr)
	cfg.RPC.Port = ParseInt("HM2G_RPC_PORT", cfg.RPC.Port)
	cfg.RPC.MaxConns = ParseInt("HM2G_RPC_MAX_CONNS", cfg.RPC.MaxConns)
	cfg.RPC.HealthRateLimit = ParseInt("HM2G_RPC_HEALTH_RATE_LIMIT", cfg.RPC.HealthRateLimit)
	cfg.RPC.ReadTimeout = ParseDuration("HM2G_RPC_READ_TIMEOUT", cfg.RPC.ReadTimeout)
	cfg.RPC.WriteTimeout = ParseDuration("HM2G_RPC_WRITE_TIMEOUT", cfg.RPC.WriteTimeout)
	cfg.RPC.IdleTimeout = ParseDuration("HM2G_RPC_IDLE_TIMEOUT", cfg.RPC.IdleTimeout)
	cfg.RPC.ShutdownTimeout = ParseDuration("HM2G_RPC_SHUTDOWN_TIMEOUT", cfg.RPC.ShutdownTimeout)

	if v, ok := os.LookupEnv("HM2G_OPERATOR_ADDR"); ok {
		// An explicitly empty value disables the operator listener.
		cfg.Operator.ListenAddr = v
	}

	cfg.Breaker.FailureThreshold = ParseInt("HM2G_BREAKER_FAILURE_THRESHOLD", cfg.Breaker.FailureThreshold)
	cfg.Breaker.Cooldown = ParseDuration("HM2G_BREAKER_COOLDOWN", cfg.Breaker.Cooldown)
	cfg.Breaker.HalfOpenSuccesses = ParseInt("HM2G_BREAKER_HALF_OPEN_SUCCESSES", cfg.Breaker.HalfOpenSuccesses)

	cfg.Cache.Backend = ParseString("HM2G_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.ValueTTL = ParseDuration("HM2G_CACHE_VALUE_TTL", cfg.Cache.ValueTTL)
	cfg.Cache.CleanupInterval = ParseDuration("HM2G_CACHE_CLEANUP_INTERVAL", cfg.Cache.CleanupInterval)
	cfg.Cache.Redis.Addr = ParseString("HM2G_REDIS_ADDR", cfg.Cache.Redis.Addr)
	cfg.Cache.Redis.Password = ParseString("HM2G_REDIS_PASSWORD", cfg.Cache.Redis.Password)
	cfg.Cache.Redis.DB = ParseInt("HM2G_REDIS_DB", cfg.Cache.Redis.DB)

	cfg.Telemetry.Enabled = ParseBool("HM2G_TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString("HM2G_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Protocol = ParseString("HM2G_OTLP_PROTOCOL", cfg.Telemetry.Protocol)
	cfg.Telemetry.SamplingRate = ParseFloat("HM2G_TRACE_SAMPLE_RATIO", cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Insecure = ParseBool("HM2G_OTLP_INSECURE", cfg.Telemetry.Insecure)
	cfg.Telemetry.Environment = ParseString("HM2G_ENVIRONMENT", cfg.Telemetry.Environment)

	if raw, ok := os.LookupEnv("HM2G_INTERFACES"); ok {
		interfaces, err := ParseInterfaces(raw)
		if err != nil {
			return fmt.Errorf("HM2G_INTERFACES: %w", err)
		}
		cfg.Interfaces = interfaces
	}

	// Global outbound knobs fill in whatever the per-interface entries
	// left unset.
	timeout := ParseDuration("HM2G_CCU_TIMEOUT", DefaultCCUTimeout)
	rateLimit := ParseFloat("HM2G_CCU_RATE_LIMIT", 0)
	rateBurst := ParseInt("HM2G_CCU_RATE_BURST", 0)
	for i := range cfg.Interfaces {
		if cfg.Interfaces[i].Timeout <= 0 {
			cfg.Interfaces[i].Timeout = timeout
		}
		if cfg.Interfaces[i].RateLimit == 0 {
			cfg.Interfaces[i].RateLimit = rateLimit
		}
		if cfg.Interfaces[i].RateBurst == 0 {
			cfg.Interfaces[i].RateBurst = rateBurst
		}
	}

	return nil
}

// setDuration parses a duration string from the file into dst. Empty
// strings keep the current value.
func setDuration(dst *time.Duration, field, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	*dst = d
	return nil
}

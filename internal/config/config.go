// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration with precedence
// ENV (HM2G_*) > YAML file > defaults. Files are parsed strictly,
// unknown keys fail the load. A Holder keeps the active configuration
// and reloads it on file changes or on demand; only the dynamic subset
// (log level, breaker tuning, cache TTL) takes effect without restart.
package config

import (
	"time"

	"github.com/ManuGH/hm2g/internal/resilience"
)

// Defaults applied before file and environment merging.
const (
	DefaultName            = "ccu"
	DefaultDataDir         = "./data"
	DefaultLogLevel        = "info"
	DefaultRPCBindAddr     = "0.0.0.0"
	DefaultRPCPort         = 9293
	DefaultOperatorAddr    = "127.0.0.1:9394"
	DefaultCacheBackend    = "memory"
	DefaultValueTTL        = 30 * time.Second
	DefaultCleanupInterval = time.Minute
	DefaultCCUTimeout      = 30 * time.Second
	DefaultOTLPEndpoint    = "localhost:4317"
	DefaultOTLPProtocol    = "grpc"
)

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	// Name identifies the central unit; it appears as session id in
	// health output and logs.
	Name string
	// DataDir is the root for the device store. Resolved to an
	// absolute path during Load.
	DataDir string
	// CallbackURL is handed to each interface in the init handshake.
	CallbackURL string
	// LogLevel is dynamic: a reload applies it via the log package.
	LogLevel string

	RPC        RPCConfig
	Operator   OperatorConfig
	Breaker    BreakerConfig
	Cache      CacheConfig
	Telemetry  TelemetryConfig
	Interfaces []InterfaceConfig

	// Version is stamped from the binary, never from file or env.
	Version string
}

// RPCConfig configures the inbound XML-RPC listener.
type RPCConfig struct {
	BindAddr        string
	Port            int
	MaxConns        int
	HealthRateLimit int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// OperatorConfig configures the operator listener (health, metrics,
// export). An empty ListenAddr disables it.
type OperatorConfig struct {
	ListenAddr string
}

// BreakerConfig is dynamic: a reload retunes all live breakers.
type BreakerConfig struct {
	FailureThreshold  int
	Cooldown          time.Duration
	HalfOpenSuccesses int
}

// CacheConfig selects and tunes the datapoint value cache. ValueTTL is
// dynamic; switching the backend requires a restart.
type CacheConfig struct {
	Backend         string
	ValueTTL        time.Duration
	CleanupInterval time.Duration
	Redis           RedisConfig
}

// RedisConfig holds the Redis cache backend connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled      bool
	Endpoint     string
	Protocol     string
	SamplingRate float64
	Insecure     bool
	Environment  string
}

// InterfaceConfig describes one CCU interface to bridge.
type InterfaceConfig struct {
	ID        string
	URL       string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
}

// Default returns the built-in configuration before file and env
// merging.
func Default() AppConfig {
	return AppConfig{
		Name:     DefaultName,
		DataDir:  DefaultDataDir,
		LogLevel: DefaultLogLevel,
		RPC: RPCConfig{
			BindAddr: DefaultRPCBindAddr,
			Port:     DefaultRPCPort,
		},
		Operator: OperatorConfig{
			ListenAddr: DefaultOperatorAddr,
		},
		Breaker: BreakerConfig{
			FailureThreshold:  resilience.DefaultFailureThreshold,
			Cooldown:          resilience.DefaultCooldown,
			HalfOpenSuccesses: resilience.DefaultHalfOpenSuccesses,
		},
		Cache: CacheConfig{
			Backend:         DefaultCacheBackend,
			ValueTTL:        DefaultValueTTL,
			CleanupInterval: DefaultCleanupInterval,
		},
		Telemetry: TelemetryConfig{
			Endpoint:     DefaultOTLPEndpoint,
			Protocol:     DefaultOTLPProtocol,
			SamplingRate: 1.0,
			Insecure:     true,
		},
	}
}

// FileConfig is the YAML file shape. Durations are strings in Go
// syntax (e.g. "30s"); pointer fields distinguish "not set" from an
// explicit zero or false.
type FileConfig struct {
	Name        string `yaml:"name,omitempty"`
	DataDir     string `yaml:"dataDir,omitempty"`
	CallbackURL string `yaml:"callbackUrl,omitempty"`
	LogLevel    string `yaml:"logLevel,omitempty"`

	RPC        *RPCFileConfig        `yaml:"rpc,omitempty"`
	Operator   *OperatorFileConfig   `yaml:"operator,omitempty"`
	Breaker    *BreakerFileConfig    `yaml:"breaker,omitempty"`
	Cache      *CacheFileConfig      `yaml:"cache,omitempty"`
	Telemetry  *TelemetryFileConfig  `yaml:"telemetry,omitempty"`
	Interfaces []InterfaceFileConfig `yaml:"interfaces,omitempty"`
}

// RPCFileConfig holds listener settings in the YAML file.
type RPCFileConfig struct {
	BindAddr        string `yaml:"bindAddr,omitempty"`
	Port            *int   `yaml:"port,omitempty"`
	MaxConns        *int   `yaml:"maxConns,omitempty"`
	HealthRateLimit *int   `yaml:"healthRateLimit,omitempty"`
	ReadTimeout     string `yaml:"readTimeout,omitempty"`     // e.g. "30s"
	WriteTimeout    string `yaml:"writeTimeout,omitempty"`    // e.g. "30s"
	IdleTimeout     string `yaml:"idleTimeout,omitempty"`     // e.g. "2m"
	ShutdownTimeout string `yaml:"shutdownTimeout,omitempty"` // e.g. "5s"
}

// OperatorFileConfig holds operator listener settings. ListenAddr is a
// pointer so an explicit empty string disables the listener.
type OperatorFileConfig struct {
	ListenAddr *string `yaml:"listenAddr,omitempty"`
}

// BreakerFileConfig holds circuit breaker tuning.
type BreakerFileConfig struct {
	FailureThreshold  *int   `yaml:"failureThreshold,omitempty"`
	Cooldown          string `yaml:"cooldown,omitempty"` // e.g. "30s"
	HalfOpenSuccesses *int   `yaml:"halfOpenSuccesses,omitempty"`
}

// CacheFileConfig holds cache settings. ValueTTL is a pointer so an
// explicit "0s" disables caching.
type CacheFileConfig struct {
	Backend         string           `yaml:"backend,omitempty"`
	ValueTTL        *string          `yaml:"valueTtl,omitempty"`        // e.g. "30s", "0s" disables
	CleanupInterval string           `yaml:"cleanupInterval,omitempty"` // e.g. "1m"
	Redis           *RedisFileConfig `yaml:"redis,omitempty"`
}

// RedisFileConfig holds Redis backend settings.
type RedisFileConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       *int   `yaml:"db,omitempty"`
}

// TelemetryFileConfig holds tracing settings.
type TelemetryFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	Protocol     string   `yaml:"protocol,omitempty"` // "grpc" or "http"
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
	Insecure     *bool    `yaml:"insecure,omitempty"`
	Environment  string   `yaml:"environment,omitempty"`
}

// InterfaceFileConfig describes one CCU interface in the YAML file.
type InterfaceFileConfig struct {
	ID        string  `yaml:"id"`
	URL       string  `yaml:"url"`
	Timeout   string  `yaml:"timeout,omitempty"` // e.g. "30s"
	RateLimit float64 `yaml:"rateLimit,omitempty"`
	RateBurst int     `yaml:"rateBurst,omitempty"`
}

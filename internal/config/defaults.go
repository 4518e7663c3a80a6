package config

import (
	"time"

	"github.com/dawsonblock/ds-router/internal/types"
)

// DefaultConfig returns a complete, conservative configuration with one
// provider per tier, suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Routing:   DefaultRoutingConfig(),
		Budget:    DefaultBudgetConfig(),
		Breaker:   DefaultBreakerConfig(),
		Cache:     DefaultCacheConfig(),
		Guard:     DefaultGuardConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Audit:     DefaultAuditConfig(),
		Admin:     DefaultAdminConfig(),
		Log:       DefaultLogConfig(),
		Database:  DefaultDatabaseConfig(),
		Providers: DefaultProviders(),
	}
}

// DefaultServerConfig returns default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9090,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       60 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       50,
		RateLimitBurst:     100,
		CORSAllowedOrigins: nil,
	}
}

// DefaultRoutingConfig is the routing section's default in YAML form. Its
// ConfThreshold and MaxCoTTokens differ from router.DefaultThresholds.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		ConfThreshold:    0.55,
		SupportThreshold: 0.5,
		MaxCoTTokens:     2048,
		ForcedOverride:   "",
	}
}

// DefaultBudgetConfig returns a generous hard-mode daily budget.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		DailyTokenCap:       1_000_000,
		DailyCreditCapMicro: 1_000_000_000,
		Mode:                string(types.BudgetModeHard),
		OvershootAllowance:  0,
	}
}

// DefaultBreakerConfig mirrors circuitbreaker.DefaultConfig in YAML form.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FOpen:      5,
		ROpen:      0.5,
		WindowMs:   60_000,
		SMax:       100,
		NMin:       10,
		CooldownMs: 30_000,
	}
}

// DefaultCacheConfig points at a local Redis instance.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		DefaultTTL:          10 * time.Minute,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig disables Budget State persistence by default,
// leaving DSN empty; an operator opts in by setting a sqlite path.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		DSN:                 "",
		MaxIdleConns:        5,
		MaxOpenConns:        20,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultGuardConfig returns the safety sandwich's conservative defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		BlockOnInjection:       true,
		ToxicityBlockThreshold: 0.7,
		SafeReplacement:        "[response withheld by safety filter]",
	}
}

// DefaultPipelineConfig buffers a 256-byte safety prefix before the
// first streaming PostGuard checkpoint, then re-checks every further
// 256 bytes.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{SafetyPrefixBytes: 256}
}

// DefaultAuditConfig uses the bounded in-memory log, suitable for
// development; production deployments should set sink to "file".
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Sink:       "memory",
		FilePath:   "",
		MemorySize: 10000,
	}
}

// DefaultAdminConfig returns a one-hour admin token lifetime. JWTSecret
// is intentionally left empty: operators must set it explicitly.
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		JWTSecret: "",
		TokenTTL:  time.Hour,
	}
}

// DefaultLogConfig uses a structured JSON-to-stdout default.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultProviders returns one provider per tier, wired to placeholder
// endpoints an operator is expected to override.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:            "fast-1",
			Tier:            types.TierFast,
			BaseURL:         "http://localhost:9101/v1",
			Model:           "fast-default",
			CostPer1kPrompt: 0.0005,
			CostPer1kOutput: 0.0015,
			MaxOutputTokens: 2048,
			Timeout:         15 * time.Second,
		},
		{
			Name:            "reasoning-1",
			Tier:            types.TierReasoning,
			BaseURL:         "http://localhost:9102/v1",
			Model:           "reasoning-default",
			CostPer1kPrompt: 0.003,
			CostPer1kOutput: 0.015,
			MaxOutputTokens: 4096,
			Timeout:         30 * time.Second,
		},
		{
			Name:            "advanced-1",
			Tier:            types.TierAdvanced,
			BaseURL:         "http://localhost:9103/v1",
			Model:           "advanced-default",
			CostPer1kPrompt: 0.015,
			CostPer1kOutput: 0.075,
			MaxOutputTokens: 8192,
			Timeout:         60 * time.Second,
		},
		{
			Name:            "local-cpu",
			Tier:            types.TierLocal,
			MaxOutputTokens: 256,
		},
	}
}

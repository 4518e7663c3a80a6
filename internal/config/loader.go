// Package config loads DS-Router's configuration.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DSROUTER").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dawsonblock/ds-router/internal/budget"
	"github.com/dawsonblock/ds-router/internal/cache"
	"github.com/dawsonblock/ds-router/internal/circuitbreaker"
	"github.com/dawsonblock/ds-router/internal/database"
	"github.com/dawsonblock/ds-router/internal/guard"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/types"
)

// Config is DS-Router's complete configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Routing   RoutingConfig   `yaml:"routing" env:"ROUTING"`
	Budget    BudgetConfig    `yaml:"budget" env:"BUDGET"`
	Breaker   BreakerConfig   `yaml:"breaker" env:"BREAKER"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Guard     GuardConfig     `yaml:"guard" env:"GUARD"`
	Pipeline  PipelineConfig  `yaml:"pipeline" env:"PIPELINE"`
	Audit     AuditConfig     `yaml:"audit" env:"AUDIT"`
	Admin     AdminConfig     `yaml:"admin" env:"ADMIN"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Providers []ProviderConfig `yaml:"providers" env:"-"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	HTTPPort          int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort       int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS      float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	CORSAllowedOrigins []string     `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// RoutingConfig is the YAML-facing shape of router.Thresholds.
type RoutingConfig struct {
	ConfThreshold    float64 `yaml:"conf_threshold" env:"CONF_THRESHOLD"`
	SupportThreshold float64 `yaml:"support_threshold" env:"SUPPORT_THRESHOLD"`
	MaxCoTTokens     int     `yaml:"max_cot_tokens" env:"MAX_COT_TOKENS"`
	ForcedOverride   string  `yaml:"forced_override" env:"FORCED_OVERRIDE"`
}

// Thresholds converts to the router package's runtime type.
func (r RoutingConfig) Thresholds() router.Thresholds {
	return router.Thresholds{
		ConfThreshold:    r.ConfThreshold,
		SupportThreshold: r.SupportThreshold,
		MaxCoTTokens:     r.MaxCoTTokens,
		ForcedOverride:   r.ForcedOverride,
	}
}

// BudgetConfig is the YAML-facing shape of budget.Config.
type BudgetConfig struct {
	DailyTokenCap        int64  `yaml:"daily_token_cap" env:"DAILY_TOKEN_CAP"`
	DailyCreditCapMicro  int64  `yaml:"daily_credit_cap_micro" env:"DAILY_CREDIT_CAP_MICRO"`
	Mode                 string `yaml:"mode" env:"MODE"`
	OvershootAllowance   int64  `yaml:"overshoot_allowance" env:"OVERSHOOT_ALLOWANCE"`
}

// Tracker converts to the budget package's runtime type.
func (b BudgetConfig) Tracker() budget.Config {
	mode := types.BudgetMode(b.Mode)
	if mode == "" {
		mode = types.BudgetModeHard
	}
	return budget.Config{
		TokensCap:          b.DailyTokenCap,
		CreditsCapMicro:    b.DailyCreditCapMicro,
		Mode:               mode,
		OvershootAllowance: b.OvershootAllowance,
		Location:           time.UTC,
	}
}

// BreakerConfig is the YAML-facing shape of circuitbreaker.Config,
// applied uniformly to every provider unless a provider overrides it.
type BreakerConfig struct {
	FOpen      int     `yaml:"f_open" env:"F_OPEN"`
	ROpen      float64 `yaml:"r_open" env:"R_OPEN"`
	WindowMs   int64   `yaml:"window_ms" env:"WINDOW_MS"`
	SMax       int     `yaml:"s_max" env:"S_MAX"`
	NMin       int     `yaml:"n_min" env:"N_MIN"`
	CooldownMs int64   `yaml:"cooldown_ms" env:"COOLDOWN_MS"`
}

// Breaker converts to the circuitbreaker package's runtime type.
func (b BreakerConfig) Breaker() circuitbreaker.Config {
	return circuitbreaker.Config{
		FOpen:      b.FOpen,
		ROpen:      b.ROpen,
		WindowMs:   b.WindowMs,
		SMax:       b.SMax,
		NMin:       b.NMin,
		CooldownMs: b.CooldownMs,
	}
}

// CacheConfig configures the Redis-backed response cache.
type CacheConfig struct {
	Addr                string        `yaml:"addr" env:"ADDR"`
	Password            string        `yaml:"password" env:"PASSWORD"`
	DB                  int           `yaml:"db" env:"DB"`
	DefaultTTL          time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	MaxRetries          int           `yaml:"max_retries" env:"MAX_RETRIES"`
	PoolSize            int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns        int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// Manager converts to the cache package's connection-manager config.
func (c CacheConfig) Manager() cache.Config {
	return cache.Config{
		Addr:                c.Addr,
		Password:            c.Password,
		DB:                  c.DB,
		DefaultTTL:          c.DefaultTTL,
		MaxRetries:          c.MaxRetries,
		PoolSize:            c.PoolSize,
		MinIdleConns:        c.MinIdleConns,
		HealthCheckInterval: c.HealthCheckInterval,
	}
}

// DatabaseConfig configures optional Budget State persistence. An empty
// DSN disables persistence entirely; the Budget Tracker then runs
// purely in memory and resets on every restart.
type DatabaseConfig struct {
	DSN                 string        `yaml:"dsn" env:"DSN"`
	MaxIdleConns        int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns        int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime     time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// Pool converts to the database package's connection-pool config.
func (d DatabaseConfig) Pool() database.PoolConfig {
	return database.PoolConfig{
		MaxIdleConns:        d.MaxIdleConns,
		MaxOpenConns:        d.MaxOpenConns,
		ConnMaxLifetime:     d.ConnMaxLifetime,
		ConnMaxIdleTime:     d.ConnMaxIdleTime,
		HealthCheckInterval: d.HealthCheckInterval,
	}
}

// GuardConfig configures the safety sandwich.
type GuardConfig struct {
	BlockOnInjection        bool    `yaml:"block_on_injection" env:"BLOCK_ON_INJECTION"`
	ToxicityBlockThreshold  float64 `yaml:"toxicity_block_threshold" env:"TOXICITY_BLOCK_THRESHOLD"`
	SafeReplacement         string  `yaml:"safe_replacement" env:"SAFE_REPLACEMENT"`
}

// PreGuard converts to the guard package's runtime type.
func (g GuardConfig) PreGuard() guard.PreGuardConfig {
	return guard.PreGuardConfig{BlockOnInjection: g.BlockOnInjection}
}

// PostGuard converts to the guard package's runtime type.
func (g GuardConfig) PostGuard() guard.PostGuardConfig {
	return guard.PostGuardConfig{
		ToxicityBlockThreshold: g.ToxicityBlockThreshold,
		SafeReplacement:        g.SafeReplacement,
	}
}

// PipelineConfig configures the streaming request lifecycle.
type PipelineConfig struct {
	// SafetyPrefixBytes is how many bytes of generated text the
	// Pipeline Orchestrator buffers before its first PostGuard
	// checkpoint, and the interval between the periodic re-checks that
	// follow. Zero disables buffering: the first checkpoint runs after
	// every byte generated so far, i.e. as soon as any text exists.
	SafetyPrefixBytes int `yaml:"safety_prefix_bytes" env:"SAFETY_PREFIX_BYTES"`
}

// AuditConfig configures the audit trail sink.
type AuditConfig struct {
	// Sink selects the audit backend: "memory" or "file".
	Sink       string `yaml:"sink" env:"SINK"`
	FilePath   string `yaml:"file_path" env:"FILE_PATH"`
	MemorySize int    `yaml:"memory_size" env:"MEMORY_SIZE"`
}

// AdminConfig configures the admin boundary credential.
type AdminConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// ProviderConfig describes one provider instance to wire at startup.
// The local tier needs only Name and MaxOutputTokens; remote tiers need
// the rest.
type ProviderConfig struct {
	Name            string     `yaml:"name"`
	Tier            types.Tier `yaml:"tier"`
	BaseURL         string     `yaml:"base_url"`
	Model           string     `yaml:"model"`
	APIKey          string     `yaml:"api_key"`
	AuthHeader      string     `yaml:"auth_header"`
	CostPer1kPrompt float64    `yaml:"cost_per_1k_prompt"`
	CostPer1kOutput float64    `yaml:"cost_per_1k_output"`
	MaxOutputTokens int        `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Loader builds and loads a Config (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DSROUTER",
		validators: []func(*Config) error{},
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers an additional validation function.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration: defaults, then YAML file, then env vars.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively overrides struct fields carrying an "env"
// tag from the corresponding DSROUTER_<PATH>_<TAG> environment variable.
// Fields tagged "-" (Providers, a slice of structs) are left to YAML
// only, since a flat env var can't express a provider list.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration at path, panicking on failure. Meant
// for cmd/dsrouter's composition root, where a bad config is fatal.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the loaded configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "server.http_port out of range")
	}
	if c.Routing.ConfThreshold < 0 || c.Routing.ConfThreshold > 1 {
		errs = append(errs, "routing.conf_threshold must be in [0,1]")
	}
	if c.Routing.SupportThreshold < 0 || c.Routing.SupportThreshold > 1 {
		errs = append(errs, "routing.support_threshold must be in [0,1]")
	}
	if c.Budget.DailyTokenCap <= 0 {
		errs = append(errs, "budget.daily_token_cap must be positive")
	}
	if c.Budget.Mode != "" && c.Budget.Mode != string(types.BudgetModeHard) && c.Budget.Mode != string(types.BudgetModeWarn) {
		errs = append(errs, "budget.mode must be hard or warn")
	}
	if c.Audit.Sink != "memory" && c.Audit.Sink != "file" {
		errs = append(errs, "audit.sink must be memory or file")
	}
	if c.Audit.Sink == "file" && c.Audit.FilePath == "" {
		errs = append(errs, "audit.file_path is required when audit.sink is file")
	}
	if c.Database.DSN != "" && c.Database.MaxOpenConns <= 0 {
		errs = append(errs, "database.max_open_conns must be positive when database.dsn is set")
	}
	if c.Pipeline.SafetyPrefixBytes < 0 {
		errs = append(errs, "pipeline.safety_prefix_bytes must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

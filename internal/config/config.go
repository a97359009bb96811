package config

import (
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lobbyharvest/internal/adapter"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// Config holds the full application configuration.
type Config struct {
	Log      LogConfig               `yaml:"log" mapstructure:"log"`
	Server   ServerConfig            `yaml:"server" mapstructure:"server"`
	Harvest  HarvestConfig           `yaml:"harvest" mapstructure:"harvest"`
	HTTP     HTTPConfig              `yaml:"http" mapstructure:"http"`
	Circuit  CircuitConfig           `yaml:"circuit" mapstructure:"circuit"`
	Defaults SourceConfig            `yaml:"defaults" mapstructure:"defaults"`
	Sources  map[string]SourceConfig `yaml:"sources" mapstructure:"sources"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// HarvestConfig configures query execution.
type HarvestConfig struct {
	QueryTimeout time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
	// MaxConcurrent caps in-flight source tasks per query. 0 runs one task
	// per selected source.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// HTTPConfig configures the registry HTTP clients.
type HTTPConfig struct {
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CircuitConfig configures per-source circuit breakers.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a
	// source's breaker. 0 disables breaking.
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
}

// SourceConfig is the policy block shared by `defaults` and each entry of
// `sources`. Pointer fields tell an explicit zero or false apart from an
// unset value that inherits from defaults.
type SourceConfig struct {
	Timeout      time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	MaxRetries   *int          `yaml:"max_retries,omitempty" mapstructure:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty" mapstructure:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff,omitempty" mapstructure:"max_backoff"`
	RateLimit    *float64      `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Burst        int           `yaml:"burst,omitempty" mapstructure:"burst"`
	Enabled      *bool         `yaml:"enabled,omitempty" mapstructure:"enabled"`
	BaseURL      string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// sourceKeys are the keys of a SourceConfig block.
var sourceKeys = []string{"timeout", "max_retries", "retry_backoff", "max_backoff", "rate_limit", "burst", "enabled", "base_url"}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LOBBYHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Per-source keys live under a map, which AutomaticEnv cannot see until
	// they are bound: LOBBYHARVEST_SOURCES_FARA_ENABLED=false.
	for _, id := range adapter.IDs() {
		for _, k := range sourceKeys {
			if err := v.BindEnv("sources." + id + "." + k); err != nil {
				return nil, eris.Wrap(err, "config: bind env")
			}
		}
	}

	// Defaults
	def := source.DefaultPolicy()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("harvest.query_timeout", "2m")
	v.SetDefault("harvest.max_concurrent", 0)
	v.SetDefault("http.user_agent", "lobbyharvest/1.0 (+https://github.com/sells-group/lobbyharvest)")
	v.SetDefault("http.timeout", "45s")
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout", "60s")
	v.SetDefault("defaults.timeout", def.Timeout)
	v.SetDefault("defaults.max_retries", def.MaxRetries)
	v.SetDefault("defaults.retry_backoff", def.RetryBackoff)
	v.SetDefault("defaults.max_backoff", def.MaxBackoff)
	v.SetDefault("defaults.rate_limit", def.RateLimit)
	v.SetDefault("defaults.burst", def.Burst)
	v.SetDefault("defaults.enabled", def.Enabled)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode
// ("harvest", "sources" or "serve"). Every problem found is reported.
func (c *Config) Validate(mode string) error {
	var errs []string

	known := make(map[string]bool)
	for _, id := range adapter.IDs() {
		known[id] = true
	}
	for id := range c.Sources {
		if !known[id] {
			errs = append(errs, fmt.Sprintf("sources.%s: unknown source (valid: %s)", id, strings.Join(adapter.IDs(), ", ")))
		}
	}
	for _, id := range adapter.IDs() {
		p, err := c.Policy(id)
		if err == nil {
			err = p.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("sources.%s: %v", id, err))
		}
	}
	if c.Harvest.MaxConcurrent < 0 {
		errs = append(errs, "harvest.max_concurrent must be >= 0")
	}
	if c.Circuit.FailureThreshold < 0 {
		errs = append(errs, "circuit.failure_threshold must be >= 0")
	}

	switch mode {
	case "harvest", "sources":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Effective returns a source's configuration with unset fields inherited
// from defaults. Set pointer fields replace the default pointer rather than
// being merged through it, so an explicit 0 or false wins.
func (c *Config) Effective(id string) (SourceConfig, error) {
	out := c.Defaults
	if err := mergo.Merge(&out, c.Sources[id], mergo.WithOverride, mergo.WithoutDereference); err != nil {
		return SourceConfig{}, eris.Wrapf(err, "config: merge source %s", id)
	}
	// Base URLs are per registry and never inherited.
	out.BaseURL = c.Sources[id].BaseURL
	return out, nil
}

// Policy returns the dispatcher policy for a source. Values missing from
// both the source entry and defaults fall back to source.DefaultPolicy.
func (c *Config) Policy(id string) (source.Policy, error) {
	sc, err := c.Effective(id)
	if err != nil {
		return source.Policy{}, err
	}
	p := source.DefaultPolicy()
	if sc.Timeout > 0 {
		p.Timeout = sc.Timeout
	}
	if sc.MaxRetries != nil {
		p.MaxRetries = *sc.MaxRetries
	}
	if sc.RetryBackoff > 0 {
		p.RetryBackoff = sc.RetryBackoff
	}
	if sc.MaxBackoff > 0 {
		p.MaxBackoff = sc.MaxBackoff
	}
	if sc.RateLimit != nil {
		p.RateLimit = *sc.RateLimit
	}
	if sc.Burst > 0 {
		p.Burst = sc.Burst
	}
	if sc.Enabled != nil {
		p.Enabled = *sc.Enabled
	}
	return p, nil
}

// EffectiveSources returns the effective configuration of every built-in
// source, shaped like the `sources:` block of config.yaml.
func (c *Config) EffectiveSources() (map[string]SourceConfig, error) {
	out := make(map[string]SourceConfig, len(adapter.IDs()))
	for _, e := range adapter.Catalog() {
		sc, err := c.Effective(e.ID)
		if err != nil {
			return nil, err
		}
		if sc.BaseURL == "" {
			sc.BaseURL = e.BaseURL
		}
		out[e.ID] = sc
	}
	return out, nil
}

// BaseURLs returns the configured base URL overrides by source id.
func (c *Config) BaseURLs() map[string]string {
	out := make(map[string]string)
	for id, sc := range c.Sources {
		if sc.BaseURL != "" {
			out[id] = sc.BaseURL
		}
	}
	return out
}

// InitLogger initializes the global zap logger. Logs go to stderr so report
// output on stdout stays clean.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.OutputPaths = []string{"stderr"}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

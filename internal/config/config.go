// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Fingerprint() FingerprintConfig
	Cache() CacheConfig
	Optimizer() OptimizerConfig
	Selector() SelectorConfig
	Engine() EngineConfig
	Templates() TemplatesConfig
	Prewarm() PrewarmConfig
	Server() ServerConfig

	// Setters for values that CLI flags may override.
	SetCacheCapacity(int)
	SetEngineConcurrency(int)
	SetServerAddr(string)
}

// Config holds the entire application configuration. Every section is loaded
// once at process start and treated as immutable afterwards.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	FingerprintCfg FingerprintConfig `mapstructure:"fingerprint" yaml:"fingerprint"`
	CacheCfg       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	OptimizerCfg   OptimizerConfig   `mapstructure:"optimizer" yaml:"optimizer"`
	SelectorCfg    SelectorConfig    `mapstructure:"selector" yaml:"selector"`
	EngineCfg      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	TemplatesCfg   TemplatesConfig   `mapstructure:"templates" yaml:"templates"`
	PrewarmCfg     PrewarmConfig     `mapstructure:"prewarm" yaml:"prewarm"`
	ServerCfg      ServerConfig      `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Fingerprint() FingerprintConfig { return c.FingerprintCfg }
func (c *Config) Cache() CacheConfig             { return c.CacheCfg }
func (c *Config) Optimizer() OptimizerConfig     { return c.OptimizerCfg }
func (c *Config) Selector() SelectorConfig       { return c.SelectorCfg }
func (c *Config) Engine() EngineConfig           { return c.EngineCfg }
func (c *Config) Templates() TemplatesConfig     { return c.TemplatesCfg }
func (c *Config) Prewarm() PrewarmConfig         { return c.PrewarmCfg }
func (c *Config) Server() ServerConfig           { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetCacheCapacity(n int)     { c.CacheCfg.Capacity = n }
func (c *Config) SetEngineConcurrency(n int) { c.EngineCfg.Concurrency = n }
func (c *Config) SetServerAddr(addr string)  { c.ServerCfg.Addr = addr }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the ledger connection details. An empty URL disables
// persistence entirely. Supported schemes: postgres://, postgresql://, sqlite://.
type DatabaseConfig struct {
	URL              string `mapstructure:"url" yaml:"url"`
	RestoreOnStart   bool   `mapstructure:"restore_on_start" yaml:"restore_on_start"`
	SnapshotOnExit   bool   `mapstructure:"snapshot_on_exit" yaml:"snapshot_on_exit"`
	RecordDecisions  bool   `mapstructure:"record_decisions" yaml:"record_decisions"`
	SnapshotMaxItems int    `mapstructure:"snapshot_max_items" yaml:"snapshot_max_items"`
}

// FingerprintConfig tunes percept quantization.
type FingerprintConfig struct {
	// PerceptBucketWidth is the width of one quantization bucket for numeric percepts.
	PerceptBucketWidth float64 `mapstructure:"percept_bucket_width" yaml:"percept_bucket_width"`
	// MaxBucket bounds the key space; buckets are clamped to [-MaxBucket, MaxBucket].
	MaxBucket int `mapstructure:"max_bucket" yaml:"max_bucket"`
}

// CacheConfig configures the scenario prediction cache.
type CacheConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
	Shards   int `mapstructure:"shards" yaml:"shards"`
	// SimilarityThreshold is the maximum signature distance (in buckets) for an approximate hit.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	// MaxAge bounds how old an entry may be to serve an approximate hit.
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// WeightsConfig holds the objective weights of one category.
type WeightsConfig struct {
	Retention float64 `mapstructure:"retention" yaml:"retention"`
	Penalty   float64 `mapstructure:"penalty" yaml:"penalty"`
	Cost      float64 `mapstructure:"cost" yaml:"cost"`
}

// OptimizerConfig configures the profit optimizer and the projection inputs
// shared with the template store.
type OptimizerConfig struct {
	HorizonDays         int                      `mapstructure:"horizon_days" yaml:"horizon_days"`
	DefaultOrderValue   float64                  `mapstructure:"default_order_value" yaml:"default_order_value"`
	CustomerAnnualValue float64                  `mapstructure:"customer_annual_value" yaml:"customer_annual_value"`
	HistorySize         int                      `mapstructure:"history_size" yaml:"history_size"`
	DefaultWeights      WeightsConfig            `mapstructure:"default_weights" yaml:"default_weights"`
	Weights             map[string]WeightsConfig `mapstructure:"weights" yaml:"weights"`
}

// WeightsFor returns the weights configured for a category, falling back to
// the default weights.
func (o OptimizerConfig) WeightsFor(category string) WeightsConfig {
	if w, ok := o.Weights[strings.ToLower(category)]; ok {
		return w
	}
	return o.DefaultWeights
}

// SelectorConfig configures the decision selector.
type SelectorConfig struct {
	// ConfidenceThreshold is the score the top candidate must exceed to be auto-committed.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	// Alternatives is how many candidates a low-confidence decision offers for review.
	Alternatives int `mapstructure:"alternatives" yaml:"alternatives"`
}

// EngineConfig configures the decision engine.
type EngineConfig struct {
	WriteBackQueueSize int `mapstructure:"write_back_queue_size" yaml:"write_back_queue_size"`
	// Concurrency bounds batch decisions (replay, prewarm).
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// TemplatesConfig points at the template catalog. An empty path selects the
// built-in catalog.
type TemplatesConfig struct {
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"`
}

// PrewarmConfig configures predictive pre-computation.
type PrewarmConfig struct {
	ForecastPath   string  `mapstructure:"forecast_path" yaml:"forecast_path"`
	MinProbability float64 `mapstructure:"min_probability" yaml:"min_probability"`
	RatePerSecond  float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst          int     `mapstructure:"burst" yaml:"burst"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr          string        `mapstructure:"addr" yaml:"addr"`
	DecideTimeout time.Duration `mapstructure:"decide_timeout" yaml:"decide_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "synapse")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.restore_on_start", true)
	v.SetDefault("database.snapshot_on_exit", true)
	v.SetDefault("database.record_decisions", true)
	v.SetDefault("database.snapshot_max_items", 5000)

	// -- Fingerprint --
	v.SetDefault("fingerprint.percept_bucket_width", 0.1)
	v.SetDefault("fingerprint.max_bucket", 1000)

	// -- Cache --
	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.similarity_threshold", 2.0)
	v.SetDefault("cache.max_age", "2h")

	// -- Optimizer --
	v.SetDefault("optimizer.horizon_days", 30)
	v.SetDefault("optimizer.default_order_value", 25.0)
	v.SetDefault("optimizer.customer_annual_value", 500.0)
	v.SetDefault("optimizer.history_size", 1000)
	v.SetDefault("optimizer.default_weights.retention", 1.0)
	v.SetDefault("optimizer.default_weights.penalty", 1.0)
	v.SetDefault("optimizer.default_weights.cost", 1.0)
	v.SetDefault("optimizer.weights", map[string]interface{}{
		"customer-complaint": map[string]interface{}{"retention": 1.5, "penalty": 0.8, "cost": 1.0},
		"traffic":            map[string]interface{}{"retention": 0.8, "penalty": 1.2, "cost": 1.0},
		"weather":            map[string]interface{}{"retention": 0.9, "penalty": 1.1, "cost": 1.0},
	})

	// -- Selector --
	v.SetDefault("selector.confidence_threshold", 5.0)
	v.SetDefault("selector.alternatives", 2)

	// -- Engine --
	v.SetDefault("engine.write_back_queue_size", 256)
	v.SetDefault("engine.concurrency", 8)

	// -- Templates --
	v.SetDefault("templates.catalog_path", "")

	// -- Prewarm --
	v.SetDefault("prewarm.forecast_path", "")
	v.SetDefault("prewarm.min_probability", 0.3)
	v.SetDefault("prewarm.rate_per_second", 50.0)
	v.SetDefault("prewarm.burst", 10)

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.decide_timeout", "300ms")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "5s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "SYNAPSE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in every file path setting.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.TemplatesCfg.CatalogPath,
		&c.PrewarmCfg.ForecastPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.FingerprintCfg.Validate(); err != nil {
		return fmt.Errorf("fingerprint configuration invalid: %w", err)
	}
	if err := c.CacheCfg.Validate(); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}
	if err := c.OptimizerCfg.Validate(); err != nil {
		return fmt.Errorf("optimizer configuration invalid: %w", err)
	}
	if c.SelectorCfg.Alternatives < 2 {
		return fmt.Errorf("selector.alternatives must be at least 2")
	}
	if c.EngineCfg.WriteBackQueueSize <= 0 {
		return fmt.Errorf("engine.write_back_queue_size must be a positive integer")
	}
	if c.EngineCfg.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be a positive integer")
	}
	if err := c.PrewarmCfg.Validate(); err != nil {
		return fmt.Errorf("prewarm configuration invalid: %w", err)
	}
	if c.ServerCfg.DecideTimeout <= 0 {
		return fmt.Errorf("server.decide_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the fingerprint settings.
func (f *FingerprintConfig) Validate() error {
	if f.PerceptBucketWidth <= 0 {
		return fmt.Errorf("percept_bucket_width must be greater than 0")
	}
	if f.MaxBucket <= 0 {
		return fmt.Errorf("max_bucket must be greater than 0")
	}
	return nil
}

// Validate checks the cache settings.
func (cc *CacheConfig) Validate() error {
	if cc.Capacity <= 0 {
		return fmt.Errorf("capacity must be a positive integer")
	}
	if cc.Shards <= 0 {
		return fmt.Errorf("shards must be a positive integer")
	}
	if cc.SimilarityThreshold < 0 {
		return fmt.Errorf("similarity_threshold must not be negative")
	}
	if cc.MaxAge <= 0 {
		return fmt.Errorf("max_age must be a positive duration")
	}
	return nil
}

// Validate checks the optimizer settings.
func (o *OptimizerConfig) Validate() error {
	if o.HorizonDays <= 0 {
		return fmt.Errorf("horizon_days must be greater than 0")
	}
	if o.DefaultOrderValue < 0 || o.CustomerAnnualValue < 0 {
		return fmt.Errorf("default_order_value and customer_annual_value must not be negative")
	}
	if err := o.DefaultWeights.Validate(); err != nil {
		return fmt.Errorf("default_weights: %w", err)
	}
	for category, w := range o.Weights {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("weights.%s: %w", category, err)
		}
	}
	return nil
}

// Validate checks one weight set.
func (w WeightsConfig) Validate() error {
	if w.Retention < 0 || w.Penalty < 0 || w.Cost < 0 {
		return fmt.Errorf("weights must not be negative")
	}
	if w.Retention == 0 && w.Penalty == 0 {
		return fmt.Errorf("at least one of retention or penalty must be positive")
	}
	return nil
}

// Validate checks the prewarm settings.
func (p *PrewarmConfig) Validate() error {
	if p.MinProbability < 0.0 || p.MinProbability > 1.0 {
		return fmt.Errorf("min_probability must be between 0.0 and 1.0")
	}
	if p.RatePerSecond <= 0 {
		return fmt.Errorf("rate_per_second must be greater than 0")
	}
	if p.Burst <= 0 {
		return fmt.Errorf("burst must be a positive integer")
	}
	return nil
}

// Package config assembles the engine configuration from defaults, an
// optional YAML file and MEMFLOW_-prefixed environment variables.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("memflow.yaml").
//	    Load()
//
// Precedence: defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/memflow/cache"
	"github.com/BaSui01/memflow/dedup"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/extraction"
	"github.com/BaSui01/memflow/internal/pool"
	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/retrieval"
	"github.com/BaSui01/memflow/store"
)

// Config is the complete engine configuration. Each section is the config
// type of the package that consumes it, so a loaded Config can be handed
// to the constructors without translation.
type Config struct {
	Log LogConfig `yaml:"log" env:"LOG"`

	// Database backs the durable memory store.
	Database store.Config `yaml:"database" env:"DATABASE"`

	// Redis backs the profile and embedding caches. Leave Addr empty to
	// run without a cache tier.
	Redis cache.Config `yaml:"redis" env:"REDIS"`

	// Index configures the similarity index.
	Index IndexConfig `yaml:"index" env:"INDEX"`

	LLM       llm.Config       `yaml:"llm" env:"LLM"`
	Embedding embedding.Config `yaml:"embedding" env:"EMBEDDING"`

	Extraction extraction.Config `yaml:"extraction" env:"EXTRACTION"`
	Dedup      dedup.Config      `yaml:"dedup" env:"DEDUP"`
	Retrieval  retrieval.Config  `yaml:"retrieval" env:"RETRIEVAL"`

	Coordinator store.CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`
	Reconciler  store.ReconcilerConfig  `yaml:"reconciler" env:"RECONCILER"`

	// Workers sizes the background pool that runs ingestion pipelines
	// and access-count bumps.
	Workers pool.Config `yaml:"workers" env:"WORKERS"`
}

// IndexConfig selects and configures the similarity index backend.
type IndexConfig struct {
	// Backend is "chromem" or "memory".
	Backend string `yaml:"backend" env:"BACKEND"`

	// Path is the chromem persistence directory. Empty keeps the index
	// in memory; it is rebuilt from the durable store by the reconciler.
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs, e.g. stdout or file paths.
	OutputPaths  []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Database:    store.DefaultConfig(),
		Redis:       cache.Config{}, // cache tier off unless addressed
		Index:       IndexConfig{Backend: "chromem"},
		LLM:         llm.DefaultConfig(),
		Embedding:   embedding.DefaultConfig(),
		Extraction:  extraction.DefaultConfig(),
		Dedup:       dedup.DefaultConfig(),
		Retrieval:   retrieval.DefaultConfig(),
		Coordinator: store.DefaultCoordinatorConfig(),
		Reconciler:  store.DefaultReconcilerConfig(),
		Workers:     pool.DefaultConfig(),
	}
}

// Validate checks cross-field invariants the individual packages cannot
// see on their own.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q: want sqlite, postgres or mysql", c.Database.Driver))
	}

	switch c.Index.Backend {
	case "chromem", "memory":
	default:
		errs = append(errs, fmt.Sprintf("index.backend %q: want chromem or memory", c.Index.Backend))
	}

	if sum := c.Retrieval.Weights.Sum(); sum < 0.999 || sum > 1.001 {
		errs = append(errs, fmt.Sprintf("retrieval.weights: sum %.3f, want 1.0", sum))
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.TopM < c.Retrieval.TopK {
		errs = append(errs, "retrieval: need top_k > 0 and top_m >= top_k")
	}

	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("dedup.threshold %.3f: want (0, 1]", c.Dedup.Threshold))
	}
	if c.Extraction.ConfidenceFloor < 0 || c.Extraction.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Sprintf("extraction.confidence_floor %.3f: want [0, 1]", c.Extraction.ConfidenceFloor))
	}

	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, "embedding.dimensions must be positive")
	}
	if c.Workers.Workers <= 0 {
		errs = append(errs, "workers.workers must be positive")
	}
	if c.Coordinator.MaxIndexRetries <= 0 {
		errs = append(errs, "coordinator.max_index_retries must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BuildLogger constructs a zap logger from the Log section. It falls back
// to a production logger when the section cannot be built.
func (c *Config) BuildLogger() *zap.Logger {
	var level zapcore.Level
	switch c.Log.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if c.Log.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := c.Log.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if c.Log.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// Package config loads cashutrack settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, CASHUTRACK_*
// environment variables, then command-line flags (applied by the CLI).
// The merged result is checked against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cashutrack/internal/engine"
	"github.com/roach88/cashutrack/internal/oracle"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CASHUTRACK_"

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// Config holds every tunable of a cashutrack process.
type Config struct {
	PollInterval         time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	BackoffBase          time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"` // 0 follows PollInterval
	BackoffCap           time.Duration `yaml:"backoff_cap" env:"BACKOFF_CAP"`
	MaxTransientFailures int           `yaml:"max_transient_failures" env:"MAX_TRANSIENT_FAILURES"`
	CheckTimeout         time.Duration `yaml:"check_timeout" env:"CHECK_TIMEOUT"`
	StoreTimeout         time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT"`
	NotifyTimeout        time.Duration `yaml:"notify_timeout" env:"NOTIFY_TIMEOUT"`
	ClaimedDisposeAfter  time.Duration `yaml:"claimed_dispose_after" env:"CLAIMED_DISPOSE_AFTER"`
	StoreDriver          string        `yaml:"store_driver" env:"STORE_DRIVER"`
	StorePath            string        `yaml:"store_path" env:"STORE_PATH"`
	CheckPath            string        `yaml:"check_path" env:"CHECK_PATH"`
	Debug                bool          `yaml:"debug" env:"DEBUG"`
	LogFile              string        `yaml:"log_file" env:"LOG_FILE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PollInterval:         engine.DefaultPollInterval,
		BackoffCap:           engine.DefaultBackoffCap,
		MaxTransientFailures: engine.DefaultMaxTransientFailures,
		CheckTimeout:         engine.DefaultCheckTimeout,
		StoreTimeout:         engine.DefaultStoreTimeout,
		NotifyTimeout:        engine.DefaultNotifyTimeout,
		StoreDriver:          DriverSQLite,
		StorePath:            "data/pending_tokens.db",
		CheckPath:            oracle.DefaultCheckPath,
		LogFile:              "cashutrack.log",
	}
}

// Load merges defaults, the YAML file at path (skipped when path is empty)
// and the environment. The result is not validated; call Validate after
// applying flag overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// Validate checks cfg against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c.schemaFields()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EffectiveBackoffBase returns BackoffBase, or PollInterval when unset.
func (c Config) EffectiveBackoffBase() time.Duration {
	if c.BackoffBase > 0 {
		return c.BackoffBase
	}
	return c.PollInterval
}

// EngineOptions translates cfg into engine options.
func (c Config) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithPollInterval(c.PollInterval),
		engine.WithBackoff(c.EffectiveBackoffBase(), c.BackoffCap),
		engine.WithMaxTransientFailures(c.MaxTransientFailures),
		engine.WithCheckTimeout(c.CheckTimeout),
		engine.WithStoreTimeout(c.StoreTimeout),
		engine.WithNotifyTimeout(c.NotifyTimeout),
		engine.WithDisposeAfter(c.ClaimedDisposeAfter),
	}
}

func (c Config) schemaFields() map[string]any {
	return map[string]any{
		"poll_interval_ms":         c.PollInterval.Milliseconds(),
		"backoff_base_ms":          c.BackoffBase.Milliseconds(),
		"backoff_cap_ms":           c.BackoffCap.Milliseconds(),
		"max_transient_failures":   c.MaxTransientFailures,
		"check_timeout_ms":         c.CheckTimeout.Milliseconds(),
		"store_timeout_ms":         c.StoreTimeout.Milliseconds(),
		"notify_timeout_ms":        c.NotifyTimeout.Milliseconds(),
		"claimed_dispose_after_ms": c.ClaimedDisposeAfter.Milliseconds(),
		"store_driver":             c.StoreDriver,
		"store_path":               c.StorePath,
		"check_path":               c.CheckPath,
		"debug":                    c.Debug,
		"log_file":                 c.LogFile,
	}
}

// Package config loads the listsync application configuration from YAML,
// JSON or TOML files with LISTSYNC_* environment overrides.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/reconcile"
	"github.com/c0deZ3R0/listsync/synckit"
)

const component = "config"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Duration is a time.Duration written as "30s" or "1m" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the application configuration.
type Config struct {
	Store   StoreConfig    `json:"store" yaml:"store" toml:"store"`
	Remote  RemoteConfig   `json:"remote" yaml:"remote" toml:"remote"`
	Sync    SyncConfig     `json:"sync" yaml:"sync" toml:"sync"`
	Log     logging.Config `json:"log" yaml:"log" toml:"log"`
	Metrics MetricsConfig  `json:"metrics" yaml:"metrics" toml:"metrics"`
	Server  ServerConfig   `json:"server" yaml:"server" toml:"server"`
}

type StoreConfig struct {
	// Driver is sqlite, postgres or memory.
	Driver string `json:"driver" yaml:"driver" toml:"driver"`

	// DSN is the database file for sqlite and the connection string for
	// postgres.
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

type RemoteConfig struct {
	URL      string   `json:"url" yaml:"url" toml:"url"`
	DeviceID string   `json:"device_id" yaml:"device_id" toml:"device_id"`
	Timeout  Duration `json:"timeout" yaml:"timeout" toml:"timeout"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst" toml:"burst"`
}

type SyncConfig struct {
	PollInterval Duration    `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	Strategy     string      `json:"strategy" yaml:"strategy" toml:"strategy"`
	Retry        RetryConfig `json:"retry" yaml:"retry" toml:"retry"`

	// Rules override Strategy for the conflicts they match, first match
	// wins.
	Rules []RuleConfig `json:"rules,omitempty" yaml:"rules,omitempty" toml:"rules,omitempty"`
}

// RuleConfig routes matching conflicts to a strategy. Empty match fields
// match everything.
type RuleConfig struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	Kind     string `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind,omitempty"`
	Entity   string `json:"entity,omitempty" yaml:"entity,omitempty" toml:"entity,omitempty"`
	Field    string `json:"field,omitempty" yaml:"field,omitempty" toml:"field,omitempty"`
	Strategy string `json:"strategy" yaml:"strategy" toml:"strategy"`
}

type RetryConfig struct {
	BaseDelay   Duration `json:"base_delay" yaml:"base_delay" toml:"base_delay"`
	MaxDelay    Duration `json:"max_delay" yaml:"max_delay" toml:"max_delay"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	Multiplier  float64  `json:"multiplier" yaml:"multiplier" toml:"multiplier"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	retry := synckit.DefaultRetryConfig()
	return &Config{
		Store: StoreConfig{Driver: DriverSQLite, DSN: "listsync.db"},
		Remote: RemoteConfig{
			Timeout: Duration(30 * time.Second),
			Burst:   1,
		},
		Sync: SyncConfig{
			PollInterval: Duration(time.Minute),
			Strategy:     reconcile.StrategyLastWriteWins,
			Retry: RetryConfig{
				BaseDelay:   Duration(retry.InitialDelay),
				MaxDelay:    Duration(retry.MaxDelay),
				MaxAttempts: retry.MaxAttempts,
				Multiplier:  retry.Multiplier,
			},
		},
		Log:    logging.DefaultConfig,
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapOpComponentKind(fmt.Errorf("read config file %s: %w", path, err),
				string(errors.OpConfig), component, errors.KindInvalid)
		}
		if err := cfg.decode(data, detectFormat(path)); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in format (yaml, json or toml) over the defaults and
// validates it. Environment variables are not consulted.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, format); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte, format string) error {
	var err error
	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, c)
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(c)
	case "toml":
		_, err = toml.Decode(string(data), c)
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return errors.WrapOpComponentKind(fmt.Errorf("parse %s config: %w", format, err),
			string(errors.OpConfig), component, errors.KindInvalid)
	}
	return nil
}

// detectFormat determines file format from extension.
func detectFormat(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "json":
		return "json"
	case "toml":
		return "toml"
	default:
		return "yaml"
	}
}

// ApplyEnv overlays LISTSYNC_* variables read through lookup, then the
// logging package's LOG_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var bad errors.ValidationError
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				bad.Add(key, "invalid duration %q", v)
			}
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				bad.Add(key, "invalid integer %q", v)
				return
			}
			*dst = n
		}
	}

	str("LISTSYNC_STORE_DRIVER", &c.Store.Driver)
	str("LISTSYNC_STORE_DSN", &c.Store.DSN)
	str("LISTSYNC_REMOTE_URL", &c.Remote.URL)
	str("LISTSYNC_DEVICE_ID", &c.Remote.DeviceID)
	dur("LISTSYNC_REMOTE_TIMEOUT", &c.Remote.Timeout)
	if v, ok := lookup("LISTSYNC_REMOTE_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			bad.Add("LISTSYNC_REMOTE_RATE_LIMIT", "invalid number %q", v)
		} else {
			c.Remote.RateLimit = f
		}
	}
	num("LISTSYNC_REMOTE_BURST", &c.Remote.Burst)
	dur("LISTSYNC_POLL_INTERVAL", &c.Sync.PollInterval)
	str("LISTSYNC_STRATEGY", &c.Sync.Strategy)
	num("LISTSYNC_RETRY_MAX_ATTEMPTS", &c.Sync.Retry.MaxAttempts)
	str("LISTSYNC_METRICS_ADDR", &c.Metrics.Addr)
	str("LISTSYNC_SERVER_ADDR", &c.Server.Addr)

	if err := bad.Err(); err != nil {
		return errors.WrapOpComponentKind(err, string(errors.OpConfig), component, errors.KindInvalid)
	}
	c.Log = logging.ApplyEnv(c.Log)
	return nil
}

// Validate reports every invalid setting in one KindInvalid error.
func (c *Config) Validate() error {
	var v errors.ValidationError

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			v.Add("store.dsn", "required for driver %s", c.Store.Driver)
		}
	default:
		v.Add("store.driver", "unknown driver %q", c.Store.Driver)
	}

	if c.Remote.URL != "" && c.Remote.DeviceID == "" {
		v.Add("remote.device_id", "required when remote.url is set")
	}
	if c.Remote.Timeout < 0 {
		v.Add("remote.timeout", "must not be negative")
	}
	if c.Remote.RateLimit < 0 {
		v.Add("remote.rate_limit", "must not be negative")
	}
	if c.Remote.RateLimit > 0 && c.Remote.Burst < 1 {
		v.Add("remote.burst", "must be at least 1 when rate_limit is set")
	}

	if c.Sync.PollInterval <= 0 {
		v.Add("sync.poll_interval", "must be positive")
	}
	if _, err := reconcile.StrategyByName(c.Sync.Strategy); err != nil {
		v.Add("sync.strategy", "unknown strategy %q", c.Sync.Strategy)
	}
	for i, r := range c.Sync.Rules {
		path := fmt.Sprintf("sync.rules[%d]", i)
		if _, err := reconcile.StrategyByName(r.Strategy); err != nil || r.Strategy == "" {
			v.Add(path+".strategy", "unknown strategy %q", r.Strategy)
		}
		if r.Kind != "" && !slices.Contains(conflictKinds, reconcile.ConflictKind(r.Kind)) {
			v.Add(path+".kind", "unknown conflict kind %q", r.Kind)
		}
		switch model.Kind(r.Entity) {
		case "", model.KindList, model.KindItem, model.KindImage:
		default:
			v.Add(path+".entity", "unknown entity %q", r.Entity)
		}
	}
	retry := c.RetryConfig()
	if err := retry.Validate(); err != nil {
		v.Add("sync.retry", "%v", err)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		v.Add("log.format", "unknown format %q", c.Log.Format)
	}

	if err := v.Err(); err != nil {
		return errors.WrapOpComponentKind(err, string(errors.OpConfig), component, errors.KindInvalid)
	}
	return nil
}

// RetryConfig converts the retry section for the orchestrator.
func (c *Config) RetryConfig() synckit.RetryConfig {
	return synckit.RetryConfig{
		MaxAttempts:  c.Sync.Retry.MaxAttempts,
		InitialDelay: c.Sync.Retry.BaseDelay.Std(),
		MaxDelay:     c.Sync.Retry.MaxDelay.Std(),
		Multiplier:   c.Sync.Retry.Multiplier,
	}
}

var conflictKinds = []reconcile.ConflictKind{
	reconcile.ListRenamed,
	reconcile.ListArchiveStateChanged,
	reconcile.ItemModified,
	reconcile.ItemDeleted,
	reconcile.ImageSetChanged,
}

// Strategy builds the configured strategy, wrapping it in reconcile.Rules
// when sync.rules is set.
func (c *Config) Strategy() (reconcile.Strategy, error) {
	base, err := reconcile.StrategyByName(c.Sync.Strategy)
	if err != nil || len(c.Sync.Rules) == 0 {
		return base, err
	}
	rules := make([]reconcile.Rule, 0, len(c.Sync.Rules))
	for _, rc := range c.Sync.Rules {
		s, err := reconcile.StrategyByName(rc.Strategy)
		if err != nil {
			return nil, err
		}
		match := reconcile.Spec(func(reconcile.Conflict) bool { return true })
		if rc.Kind != "" {
			match = reconcile.And(match, reconcile.KindIs(reconcile.ConflictKind(rc.Kind)))
		}
		if rc.Entity != "" {
			match = reconcile.And(match, reconcile.EntityIs(model.Kind(rc.Entity)))
		}
		if rc.Field != "" {
			match = reconcile.And(match, reconcile.FieldIn(rc.Field))
		}
		rules = append(rules, reconcile.Rule{Name: rc.Name, Match: match, Strategy: s})
	}
	return reconcile.NewRules(base, rules...)
}

// SyncOptions returns the orchestrator options the configuration implies.
func (c *Config) SyncOptions() []synckit.Option {
	strategy := func(o *synckit.Options) error {
		s, err := c.Strategy()
		if err != nil {
			return err
		}
		o.Strategy = s
		return nil
	}
	return []synckit.Option{
		strategy,
		synckit.WithPollInterval(c.Sync.PollInterval.Std()),
		synckit.WithTimeout(c.Remote.Timeout.Std()),
		synckit.WithRetry(c.RetryConfig()),
	}
}

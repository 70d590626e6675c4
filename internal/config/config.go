// Package config loads the YAML configuration of the offline sync daemon.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
)

// Store backends.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendSQLite  = "sqlite"
)

// Probe modes.
const (
	ProbeHTTP = "http"
	ProbePush = "push"
)

// Config is the daemon configuration.
type Config struct {
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Store struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"store"`

	Queue struct {
		MaxRetries     int    `yaml:"max_retries"`
		ReplayInterval string `yaml:"replay_interval"`
		StorageKey     string `yaml:"storage_key"`
		DroppedHistory int    `yaml:"dropped_history"`
	} `yaml:"queue"`

	Connectivity struct {
		Probe         string `yaml:"probe"`
		ProbeURL      string `yaml:"probe_url"`
		ProbeInterval string `yaml:"probe_interval"`
		ProbeTimeout  string `yaml:"probe_timeout"`
		ProbeAttempts int    `yaml:"probe_attempts"`
		Debounce      string `yaml:"debounce"`
	} `yaml:"connectivity"`

	Cache struct {
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"cache"`

	Remote struct {
		BaseURL       string            `yaml:"base_url"`
		Timeout       string            `yaml:"timeout"`
		MaxAttempts   int               `yaml:"max_attempts"`
		RatePerSecond float64           `yaml:"rate_per_second"`
		Burst         int               `yaml:"burst"`
		Headers       map[string]string `yaml:"headers"`
	} `yaml:"remote"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		ServiceName  string `yaml:"service_name"`
	} `yaml:"telemetry"`

	// compiled
	replayInterval time.Duration
	probeInterval  time.Duration
	probeTimeout   time.Duration
	debounce       time.Duration
	remoteTimeout  time.Duration
}

// Default returns a configuration with every default applied.
func Default() Config {
	cfg := defaults()
	if err := cfg.compile(); err != nil {
		// defaults are static and always parse
		panic(err)
	}
	return cfg
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, apperrors.Wrap(apperrors.ErrConfigInvalid, "read config", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes over the defaults and validates. Keys present in
// the document win, so an explicit zero such as remote.rate_per_second: 0
// is kept.
func Parse(b []byte) (Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, apperrors.Wrap(apperrors.ErrConfigInvalid, "parse config", err)
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	var c Config
	c.Logging.Level = "info"
	c.Store.Backend = BackendLevelDB
	c.Store.Path = "./data"
	c.Queue.MaxRetries = 3
	c.Queue.ReplayInterval = "5m"
	c.Queue.StorageKey = "offline_queue"
	c.Queue.DroppedHistory = 50
	c.Connectivity.Probe = ProbeHTTP
	c.Connectivity.ProbeInterval = "30s"
	c.Connectivity.ProbeTimeout = "5s"
	c.Connectivity.ProbeAttempts = 2
	c.Connectivity.Debounce = "0s"
	c.Cache.KeyPrefix = "cache:"
	c.Remote.Timeout = "15s"
	c.Remote.MaxAttempts = 2
	c.Remote.RatePerSecond = 10
	c.Remote.Burst = 5
	c.Server.Addr = "127.0.0.1:8090"
	c.Telemetry.ServiceName = "offlinesyncd"
	return c
}

// compile normalizes string fields and parses the durations.
func (c *Config) compile() error {
	c.Remote.BaseURL = strings.TrimRight(c.Remote.BaseURL, "/")

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"queue.replay_interval", c.Queue.ReplayInterval, &c.replayInterval},
		{"connectivity.probe_interval", c.Connectivity.ProbeInterval, &c.probeInterval},
		{"connectivity.probe_timeout", c.Connectivity.ProbeTimeout, &c.probeTimeout},
		{"connectivity.debounce", c.Connectivity.Debounce, &c.debounce},
		{"remote.timeout", c.Remote.Timeout, &c.remoteTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfigInvalid, d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendLevelDB, BackendSQLite:
		if c.Store.Path == "" {
			return apperrors.Newf(apperrors.ErrConfigInvalid, "store.path is required for the %s backend", c.Store.Backend)
		}
	default:
		return apperrors.Newf(apperrors.ErrConfigInvalid, "store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Queue.MaxRetries < 1 {
		return apperrors.New(apperrors.ErrConfigInvalid, "queue.max_retries must be >= 1")
	}
	if c.Queue.DroppedHistory < 0 {
		return apperrors.New(apperrors.ErrConfigInvalid, "queue.dropped_history must be >= 0")
	}
	if c.Queue.StorageKey == "" {
		return apperrors.New(apperrors.ErrConfigInvalid, "queue.storage_key is required")
	}
	if c.Cache.KeyPrefix == "" {
		return apperrors.New(apperrors.ErrConfigInvalid, "cache.key_prefix is required")
	}
	// clearing the cache namespace must never reach the persisted queue
	if strings.HasPrefix(c.Queue.StorageKey, c.Cache.KeyPrefix) {
		return apperrors.Newf(apperrors.ErrConfigInvalid, "queue.storage_key %q is inside cache.key_prefix %q", c.Queue.StorageKey, c.Cache.KeyPrefix)
	}
	if c.replayInterval <= 0 {
		return apperrors.New(apperrors.ErrConfigInvalid, "queue.replay_interval must be > 0")
	}
	switch c.Connectivity.Probe {
	case ProbeHTTP:
		if c.Connectivity.ProbeURL == "" {
			return apperrors.New(apperrors.ErrConfigInvalid, "connectivity.probe_url is required for the http probe")
		}
		if c.probeInterval <= 0 {
			return apperrors.New(apperrors.ErrConfigInvalid, "connectivity.probe_interval must be > 0")
		}
	case ProbePush:
	default:
		return apperrors.Newf(apperrors.ErrConfigInvalid, "connectivity.probe: unknown probe %q", c.Connectivity.Probe)
	}
	if c.debounce < 0 {
		return apperrors.New(apperrors.ErrConfigInvalid, "connectivity.debounce must be >= 0")
	}
	if c.Remote.BaseURL == "" {
		return apperrors.New(apperrors.ErrConfigInvalid, "remote.base_url is required")
	}
	if c.Remote.MaxAttempts < 1 {
		return apperrors.New(apperrors.ErrConfigInvalid, "remote.max_attempts must be >= 1")
	}
	// rate_per_second 0 disables pacing
	if c.Remote.RatePerSecond < 0 || c.Remote.Burst < 1 {
		return apperrors.New(apperrors.ErrConfigInvalid, "remote.rate_per_second must be >= 0 and remote.burst >= 1")
	}
	return nil
}

// ReplayInterval is the periodic replay backstop interval.
func (c Config) ReplayInterval() time.Duration { return c.replayInterval }

// ProbeInterval is the HTTP probe polling interval.
func (c Config) ProbeInterval() time.Duration { return c.probeInterval }

// ProbeTimeout bounds a single probe request.
func (c Config) ProbeTimeout() time.Duration { return c.probeTimeout }

// Debounce is the connectivity debounce window.
func (c Config) Debounce() time.Duration { return c.debounce }

// RemoteTimeout bounds a single remote call attempt.
func (c Config) RemoteTimeout() time.Duration { return c.remoteTimeout }

// String renders the config for startup logs.
func (c Config) String() string {
	return fmt.Sprintf("store=%s:%s probe=%s remote=%s max_retries=%d replay_interval=%s",
		c.Store.Backend, c.Store.Path, c.Connectivity.Probe, c.Remote.BaseURL, c.Queue.MaxRetries, c.replayInterval)
}

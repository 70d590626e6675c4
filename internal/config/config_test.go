package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
)

const minimalYAML = `
connectivity:
  probe_url: https://auth.example.com/health
remote:
  base_url: https://auth.example.com/api/v1/
`

func TestParse_defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, BackendLevelDB, cfg.Store.Backend)
	assert.Equal(t, "./data", cfg.Store.Path)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.ReplayInterval())
	assert.Equal(t, "offline_queue", cfg.Queue.StorageKey)
	assert.Equal(t, 50, cfg.Queue.DroppedHistory)
	assert.Equal(t, ProbeHTTP, cfg.Connectivity.Probe)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval())
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, time.Duration(0), cfg.Debounce())
	assert.Equal(t, "cache:", cfg.Cache.KeyPrefix)
	assert.Equal(t, "https://auth.example.com/api/v1", cfg.Remote.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.RemoteTimeout())
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Addr)
	assert.Equal(t, "offlinesyncd", cfg.Telemetry.ServiceName)
}

func TestParse_overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
logging: {level: debug}
store: {backend: sqlite, path: /var/lib/offlinesync}
queue: {max_retries: 5, replay_interval: 90s, dropped_history: 10}
connectivity: {probe: push, debounce: 2s}
remote:
  base_url: http://localhost:8000
  headers: {X-Client: flutter}
`))
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.ReplayInterval())
	assert.Equal(t, ProbePush, cfg.Connectivity.Probe)
	assert.Equal(t, 2*time.Second, cfg.Debounce())
	assert.Equal(t, "flutter", cfg.Remote.Headers["X-Client"])
}

func TestParse_invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "queue: [",
		"bad duration":    minimalYAML + "queue: {replay_interval: soon}\n",
		"bad backend":     minimalYAML + "store: {backend: redis}\n",
		"negative retry":  minimalYAML + "queue: {max_retries: -1}\n",
		"missing base":    "connectivity: {probe: push}\n",
		"missing probe":   "remote: {base_url: http://x}\n",
		"unknown probe":   "connectivity: {probe: icmp}\nremote: {base_url: http://x}\n",
		"negative burst":  "connectivity: {probe: push}\nremote: {base_url: http://x, burst: -1}\n",
		"negative window": "connectivity: {probe: push, debounce: -1s}\nremote: {base_url: http://x}\n",
		"zero retries":    minimalYAML + "queue: {max_retries: 0}\n",
		"queue in cache":  minimalYAML + "queue: {storage_key: \"cache:queue\"}\n",
		"empty prefix":    minimalYAML + "cache: {key_prefix: \"\"}\n",
		"missing path":    minimalYAML + "store: {backend: sqlite, path: \"\"}\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrConfigInvalid), "got %v", err)
		})
	}
}

// TestParse_explicitZeros keeps zero values that switch features off.
func TestParse_explicitZeros(t *testing.T) {
	cfg, err := Parse([]byte(`
connectivity: {probe: push}
queue: {dropped_history: 0}
remote: {base_url: "http://x", rate_per_second: 0}
`))
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Queue.DroppedHistory)
	assert.Equal(t, float64(0), cfg.Remote.RatePerSecond)
	assert.Equal(t, 3, cfg.Queue.MaxRetries, "absent keys keep their defaults")
	assert.Equal(t, 5, cfg.Remote.Burst)
}

func TestParse_cachePrefixCollision(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "queue: {storage_key: resp/queue}\ncache: {key_prefix: resp/}\n"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigInvalid))

	cfg, err := Parse([]byte(minimalYAML + "queue: {storage_key: queue/pending}\ncache: {key_prefix: resp/}\n"))
	require.NoError(t, err)
	assert.Equal(t, "queue/pending", cfg.Queue.StorageKey)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offlinesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/health", cfg.Connectivity.ProbeURL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigInvalid))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5*time.Minute, cfg.ReplayInterval())
	assert.Error(t, cfg.Validate(), "default config has no base_url")
}

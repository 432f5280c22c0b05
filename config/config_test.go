package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/reconcile"
	"github.com/c0deZ3R0/listsync/synckit"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, synckit.DefaultRetryConfig(), cfg.RetryConfig())
	assert.Equal(t, time.Minute, cfg.Sync.PollInterval.Std())
}

const yamlConfig = `
store:
  driver: postgres
  dsn: postgres://localhost/listsync?sslmode=disable
remote:
  url: http://localhost:8080
  device_id: phone
  timeout: 10s
  rate_limit: 5
  burst: 2
sync:
  poll_interval: 30s
  strategy: serverWins
  retry:
    base_delay: 500ms
    max_delay: 10s
    max_attempts: 3
    multiplier: 2
log:
  level: debug
  format: json
metrics:
  addr: ":9090"
`

const jsonConfig = `{
  "store": {"driver": "memory"},
  "remote": {"url": "http://localhost:8080", "device_id": "tablet", "timeout": "5s"},
  "sync": {"poll_interval": "2m", "strategy": "userChoice"}
}`

const tomlConfig = `
[store]
driver = "sqlite"
dsn = "/tmp/lists.db"

[remote]
url = "http://localhost:8080"
device_id = "laptop"

[sync]
poll_interval = "45s"
strategy = "clientWins"

[sync.retry]
max_attempts = 2
`

func TestParse_Formats(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		cfg, err := Parse([]byte(yamlConfig), "yaml")
		require.NoError(t, err)
		assert.Equal(t, DriverPostgres, cfg.Store.Driver)
		assert.Equal(t, "phone", cfg.Remote.DeviceID)
		assert.Equal(t, 10*time.Second, cfg.Remote.Timeout.Std())
		assert.Equal(t, 5.0, cfg.Remote.RateLimit)
		assert.Equal(t, 30*time.Second, cfg.Sync.PollInterval.Std())
		assert.Equal(t, synckit.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		}, cfg.RetryConfig())
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, ":9090", cfg.Metrics.Addr)
	})

	t.Run("json", func(t *testing.T) {
		cfg, err := Parse([]byte(jsonConfig), "json")
		require.NoError(t, err)
		assert.Equal(t, DriverMemory, cfg.Store.Driver)
		assert.Equal(t, 2*time.Minute, cfg.Sync.PollInterval.Std())
		assert.Equal(t, "userChoice", cfg.Sync.Strategy)
		// Unset sections keep their defaults.
		assert.Equal(t, synckit.DefaultRetryConfig().MaxAttempts, cfg.Sync.Retry.MaxAttempts)
	})

	t.Run("toml", func(t *testing.T) {
		cfg, err := Parse([]byte(tomlConfig), "toml")
		require.NoError(t, err)
		assert.Equal(t, "/tmp/lists.db", cfg.Store.DSN)
		assert.Equal(t, 45*time.Second, cfg.Sync.PollInterval.Std())
		assert.Equal(t, 2, cfg.Sync.Retry.MaxAttempts)
	})
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
		issue  string
	}{
		{"unknown format", "a = 1", "ini", "unsupported config format"},
		{"bad yaml", "store: [", "yaml", "parse yaml config"},
		{"unknown json field", `{"stroe": {}}`, "json", "unknown field"},
		{"bad duration", `{"sync": {"poll_interval": "soon"}}`, "json", "parse json config"},
		{"unknown driver", "store:\n  driver: mongo\n", "yaml", "store.driver"},
		{"missing dsn", "store:\n  driver: postgres\n  dsn: \"\"\n", "yaml", "store.dsn"},
		{"unknown strategy", "sync:\n  strategy: coinFlip\n", "yaml", "sync.strategy"},
		{"zero poll", "sync:\n  poll_interval: 0s\n", "yaml", "sync.poll_interval"},
		{"device required", "remote:\n  url: http://x\n", "yaml", "remote.device_id"},
		{"bad retry", "sync:\n  retry:\n    max_attempts: 0\n", "yaml", "sync.retry"},
		{"bad log format", "log:\n  format: xml\n", "yaml", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalid))
			assert.Contains(t, err.Error(), tt.issue)
		})
	}
}

func TestValidate_ReportsAllIssues(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "mongo"
	cfg.Sync.Strategy = "coinFlip"

	err := cfg.Validate()
	require.Error(t, err)
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Issues, 2)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"LISTSYNC_STORE_DRIVER":       "memory",
		"LISTSYNC_REMOTE_URL":         "http://remote:8080",
		"LISTSYNC_DEVICE_ID":          "watch",
		"LISTSYNC_POLL_INTERVAL":      "15s",
		"LISTSYNC_STRATEGY":           "serverWins",
		"LISTSYNC_REMOTE_RATE_LIMIT":  "2.5",
		"LISTSYNC_RETRY_MAX_ATTEMPTS": "7",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "watch", cfg.Remote.DeviceID)
	assert.Equal(t, 15*time.Second, cfg.Sync.PollInterval.Std())
	assert.Equal(t, "serverWins", cfg.Sync.Strategy)
	assert.Equal(t, 2.5, cfg.Remote.RateLimit)
	assert.Equal(t, 7, cfg.Sync.Retry.MaxAttempts)
}

func TestApplyEnv_Invalid(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"LISTSYNC_POLL_INTERVAL": "often",
		"LISTSYNC_REMOTE_BURST":  "lots",
	}))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
	assert.Contains(t, err.Error(), "LISTSYNC_POLL_INTERVAL")
	assert.Contains(t, err.Error(), "LISTSYNC_REMOTE_BURST")

	require.NoError(t, Default().ApplyEnv(noEnv))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlConfig), 0o600))

	t.Setenv("LISTSYNC_DEVICE_ID", "override")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.Remote.DeviceID)
	assert.Equal(t, "clientWins", cfg.Sync.Strategy)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
}

func TestSyncOptions(t *testing.T) {
	cfg, err := Parse([]byte(yamlConfig), "yaml")
	require.NoError(t, err)

	opts := synckit.DefaultOptions()
	for _, opt := range cfg.SyncOptions() {
		require.NoError(t, opt(&opts))
	}
	assert.Equal(t, 30*time.Second, opts.PollInterval)
	assert.Equal(t, 10*time.Second, opts.Timeout)
	require.NotNil(t, opts.Retry)
	assert.Equal(t, 3, opts.Retry.MaxAttempts)
	assert.NotNil(t, opts.Strategy)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, "json", detectFormat("a/b.JSON"))
	assert.Equal(t, "toml", detectFormat("c.toml"))
	assert.Equal(t, "yaml", detectFormat("c.yml"))
	assert.Equal(t, "yaml", detectFormat("noext"))
}

const rulesYAML = `
sync:
  strategy: serverWins
  rules:
    - name: keep-local-deletes
      kind: itemDeleted
      strategy: clientWins
    - name: ask-about-renames
      entity: list
      field: name
      strategy: userChoice
`

func TestStrategy_Rules(t *testing.T) {
	cfg, err := Parse([]byte(rulesYAML), "yaml")
	require.NoError(t, err)

	s, err := cfg.Strategy()
	require.NoError(t, err)
	assert.Equal(t, reconcile.StrategyRules, s.Name())

	ctx := context.Background()
	res, err := s.Resolve(ctx, reconcile.Conflict{Kind: reconcile.ItemDeleted, EntityKind: model.KindItem})
	require.NoError(t, err)
	assert.Equal(t, reconcile.SideLocal, res.Winner)

	res, err = s.Resolve(ctx, reconcile.Conflict{Kind: reconcile.ListRenamed, EntityKind: model.KindList, Field: reconcile.FieldName})
	require.NoError(t, err)
	assert.True(t, res.Pending)

	res, err = s.Resolve(ctx, reconcile.Conflict{Kind: reconcile.ItemModified, EntityKind: model.KindItem, Field: reconcile.FieldQuantity})
	require.NoError(t, err)
	assert.Equal(t, reconcile.SideIncoming, res.Winner, "falls back to sync.strategy")
}

func TestValidate_Rules(t *testing.T) {
	cfg := Default()
	cfg.Sync.Rules = []RuleConfig{
		{Name: "a", Kind: "itemExploded", Strategy: "clientWins"},
		{Name: "b", Entity: "folder", Strategy: "clientWins"},
		{Name: "c", Strategy: ""},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.rules[0].kind")
	assert.Contains(t, err.Error(), "sync.rules[1].entity")
	assert.Contains(t, err.Error(), "sync.rules[2].strategy")
}

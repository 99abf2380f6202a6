package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	require.Equal(t, "http://localhost:8000", cfg.Analysis.BaseURL)
	require.Equal(t, "http://localhost:5678/webhook/moderation", cfg.Analysis.ModerationWebhookURL)
	require.Equal(t, "http://localhost:5678/webhook/factcheck", cfg.Analysis.FactCheckWebhookURL)
	require.Equal(t, 5*time.Second, cfg.Analysis.Timeout.Duration())
	require.Equal(t, []string{"toxic"}, cfg.Analysis.Denylist)
	require.Equal(t, 256, cfg.Channel.BufferSize)
	require.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: 127.0.0.1
  port: 9090
analysis:
  base_url: http://analysis:8000
  timeout: 750ms
  denylist: [slur, insult]
channel:
  buffer_size: 16
  max_event_bytes: 64KB
  max_backoff: 10s
archive:
  enabled: true
  cron: "0 4 * * *"
  period: 48h
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.ApplyDefaults()

	require.Equal(t, "127.0.0.1:9090", cfg.Addr())
	require.Equal(t, "http://analysis:8000", cfg.Analysis.BaseURL)
	require.Equal(t, 750*time.Millisecond, cfg.Analysis.Timeout.Duration())
	require.Equal(t, []string{"slur", "insult"}, cfg.Analysis.Denylist)
	require.Equal(t, int64(64_000), cfg.Channel.MaxEventBytes.Int64())
	require.Equal(t, 10*time.Second, cfg.Channel.MaxBackoff.Duration())
	require.True(t, cfg.Archive.Enabled)
	require.Equal(t, 48*time.Hour, cfg.Archive.Period.Duration())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://env-analysis:9000")
	t.Setenv("MODERATION_WEBHOOK_URL", "http://env-hooks/moderation")
	t.Setenv("FACTCHECK_WEBHOOK_URL", "http://env-hooks/factcheck")
	t.Setenv("PUBLICSQUARE_ADDR", "0.0.0.0:7000")
	t.Setenv("PUBLICSQUARE_DB_PATH", "/tmp/ps-db")
	t.Setenv("PUBLICSQUARE_DENYLIST", "toxic, hateful")

	var cfg Config
	require.True(t, LoadEnvOverrides(&cfg))
	cfg.ApplyDefaults()

	require.Equal(t, "http://env-analysis:9000", cfg.Analysis.BaseURL)
	require.Equal(t, "http://env-hooks/moderation", cfg.Analysis.ModerationWebhookURL)
	require.Equal(t, "http://env-hooks/factcheck", cfg.Analysis.FactCheckWebhookURL)
	require.Equal(t, "0.0.0.0:7000", cfg.Addr())
	require.Equal(t, "/tmp/ps-db", cfg.Storage.DBPath)
	require.Equal(t, []string{"toxic", "hateful"}, cfg.Analysis.Denylist)
}

func TestDurationAndSizeParsing(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`1.5`), &d))
	require.Equal(t, 1500*time.Millisecond, d.Duration())

	var s SizeBytes
	require.NoError(t, yaml.Unmarshal([]byte(`"1MB"`), &s))
	require.Equal(t, int64(1000*1000), s.Int64())

	require.Error(t, yaml.Unmarshal([]byte(`"not-a-size"`), &s))
}

func TestResolveConfigPath(t *testing.T) {
	require.Equal(t, "/explicit.yaml", ResolveConfigPath("/explicit.yaml", true))
	t.Setenv("PUBLICSQUARE_CONFIG", "/from-env.yaml")
	require.Equal(t, "/from-env.yaml", ResolveConfigPath("./config.yaml", false))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("RTDB_STREAM_AUTO_RESTART", "-1")

	path := filepath.Join(t.TempDir(), "rtdb.yaml")
	content := []byte(`
database:
  url: https://demo.example-rtdb.com
  auth: secret
stream:
  path: /rooms
  auto_restart: 2
  restart_delay: 250ms
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://demo.example-rtdb.com", cfg.Database.URL)
	assert.Equal(t, "secret", cfg.Database.Auth)
	assert.Equal(t, "/rooms", cfg.Stream.Path)
	assert.Equal(t, -1, cfg.Stream.AutoRestart)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.RestartDelay)
	assert.Equal(t, 10*time.Second, cfg.Stream.InitialTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtdb.toml")
	content := []byte(`
[database]
url = "http://127.0.0.1:9000"

[snapshot]
path = "/var/lib/rtdb/snapshots.db"

[metrics]
listen = ":9090"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/rtdb/snapshots.db", cfg.Snapshot.Path)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
	assert.Equal(t, "/", cfg.Stream.Path)
	assert.Equal(t, time.Second, cfg.Stream.RestartDelay)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("RTDB_DATABASE_URL", "https://env.example-rtdb.com")
	t.Setenv("RTDB_STREAM_INITIAL_TIMEOUT", "3s")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example-rtdb.com", cfg.Database.URL)
	assert.Equal(t, 3*time.Second, cfg.Stream.InitialTimeout)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("RTDB_DATABASE_URL", "https://env.example-rtdb.com")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("database.url", "", "")
	flags.String("stream.path", "/", "")
	require.NoError(t, flags.Parse([]string{"--database.url=https://flag.example-rtdb.com"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example-rtdb.com", cfg.Database.URL)
	assert.Equal(t, "/", cfg.Stream.Path)
}

func TestLoadIgnoresNonKeyFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("database.url", "", "")
	flags.String("snapshot.path", "", "")
	flags.Bool("snapshot", false, "")
	flags.StringP("config", "c", "", "")
	require.NoError(t, flags.Parse([]string{
		"--database.url=https://flag.example-rtdb.com",
		"--snapshot.path=/tmp/rtdb.db",
		"--snapshot",
	}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example-rtdb.com", cfg.Database.URL)
	assert.Equal(t, "/tmp/rtdb.db", cfg.Snapshot.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Database: DatabaseConfig{URL: "https://demo.example-rtdb.com"},
		Stream:   StreamConfig{RestartDelay: time.Second, InitialTimeout: time.Second},
		Log:      LogConfig{Level: "info"},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.Database.URL = "" }},
		{"bad scheme", func(c *Config) { c.Database.URL = "ftp://demo" }},
		{"negative delay", func(c *Config) { c.Stream.RestartDelay = -time.Second }},
		{"zero timeout", func(c *Config) { c.Stream.InitialTimeout = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOptions(t *testing.T) {
	cfg := Config{Database: DatabaseConfig{URL: "https://demo.example-rtdb.com"}}
	assert.Empty(t, cfg.ClientOptions())

	cfg.Database.Auth = "secret"
	assert.Len(t, cfg.ClientOptions(), 1)
	assert.Len(t, cfg.StreamOptions(), 3)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listener = "0.0.0.0:4222"

[log]
level = "debug"

[limits]
max_connections = 42
mailbox_size = 8
command_queue_size = 16
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4222", cfg.Listener)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 42, cfg.Limits.MaxConnections)
	assert.Equal(t, 8, cfg.Limits.MailboxSize)
	assert.Equal(t, 16, cfg.Limits.CommandQueueSize)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `listener = "127.0.0.1:9000"`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listener)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10000, cfg.Limits.MaxConnections)
	assert.Equal(t, 100, cfg.Limits.MailboxSize)
	assert.Equal(t, 1024, cfg.Limits.CommandQueueSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to read config file")
}

func TestLoadUnparseableFile(t *testing.T) {
	path := writeConfig(t, `listener = [not toml`)

	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `listener = "127.0.0.1:9000"`)

	t.Setenv("BROKER_LISTENER", "127.0.0.1:9001")
	t.Setenv("BROKER_LOG__LEVEL", "warn")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9001", cfg.Listener)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFlagOverride(t *testing.T) {
	path := writeConfig(t, `listener = "127.0.0.1:9000"`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listener", "", "listen address")
	flags.String("log.level", "", "log level")
	require.NoError(t, flags.Parse([]string{"--listener", "127.0.0.1:9002"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9002", cfg.Listener)
}

func TestLoadEmptyListener(t *testing.T) {
	path := writeConfig(t, `listener = ""`)

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener address is required")
}

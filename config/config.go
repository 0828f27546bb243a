package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// DefaultPath is the config file used when none is given on the command
// line
const DefaultPath = "config.toml"

// envPrefix prefixes environment overrides; nesting uses a double
// underscore (BROKER_LIMITS__MAX_CONNECTIONS)
const envPrefix = "BROKER_"

// Config holds the broker configuration.
type Config struct {
	Listener string       `koanf:"listener"`
	Log      LogConfig    `koanf:"log"`
	Limits   LimitsConfig `koanf:"limits"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `koanf:"level"`
}

// LimitsConfig bounds per-process and per-client resources.
type LimitsConfig struct {
	MaxConnections   int `koanf:"max_connections"`
	MailboxSize      int `koanf:"mailbox_size"`
	CommandQueueSize int `koanf:"command_queue_size"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"listener":                  "127.0.0.1:4222",
		"log.level":                 "info",
		"limits.max_connections":    10000,
		"limits.mailbox_size":       100,
		"limits.command_queue_size": 1024,
	}
}

// Load reads configuration in precedence order: defaults, the TOML file
// at path, BROKER_-prefixed environment variables, then flags. An
// unreadable or unparseable file is an error; startup treats it as fatal.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("unable to read config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Listener == "" {
		return nil, fmt.Errorf("listener address is required")
	}

	return &cfg, nil
}

func envKey(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

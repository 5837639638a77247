package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"idbpersist/internal/logging"
)

// Storage engines selectable in [database].engine.
const (
	EngineBolt   = "bolt"
	EngineMemory = "memory"
)

const defaultPath = "~/.idbstore/config.toml"

var (
	ErrEmptyName     = errors.New("database name and store name are required")
	ErrUnknownEngine = errors.New("unknown storage engine")
	ErrLogLevel      = errors.New("unknown log level")
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
}

type DatabaseConfig struct {
	Name    string `toml:"name"     env:"IDBSTORE_DATABASE"`
	Store   string `toml:"store"    env:"IDBSTORE_STORE"`
	DataDir string `toml:"data_dir" env:"IDBSTORE_DATA_DIR"`
	Engine  string `toml:"engine"   env:"IDBSTORE_ENGINE"`
}

type LogConfig struct {
	Level  string `toml:"level"  env:"IDBSTORE_LOG_LEVEL"`
	Format string `toml:"format" env:"IDBSTORE_LOG_FORMAT"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Name:    "default",
			Store:   "keyval",
			DataDir: "~/.idbstore",
			Engine:  EngineBolt,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file, then applies IDBSTORE_* environment
// overrides. If path is empty the default location is tried and a
// missing file means defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome(defaultPath)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings needed to open storage.
func (c *Config) Validate() error {
	if c.Database.Name == "" || c.Database.Store == "" {
		return ErrEmptyName
	}
	switch c.Database.Engine {
	case EngineBolt:
		if c.Database.DataDir == "" {
			return errors.New("data_dir is required for the bolt engine")
		}
	case EngineMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.Database.Engine)
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("%w: %q", ErrLogLevel, c.Log.Level)
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

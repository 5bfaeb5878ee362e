package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the settings of vstorectl. Values come from, in increasing
// precedence: defaults, the TOML config file, environment variables (a .env
// file in the working directory is loaded first) and command-line flags.
type Config struct {
	Database string `toml:"database"`
	Codec    string `toml:"codec"`
	LogLevel string `toml:"log_level"`
	Listen   string `toml:"listen"`
}

const (
	defaultConfigPath = "vstorectl.toml"
	defaultDatabase   = "vstore.db"
	defaultCodec      = "json"
	defaultLogLevel   = "info"
	defaultListen     = "127.0.0.1:8787"
)

func defaultConfig() Config {
	return Config{
		Database: defaultDatabase,
		Codec:    defaultCodec,
		LogLevel: defaultLogLevel,
		Listen:   defaultListen,
	}
}

// LoadConfig reads the config file at path and applies environment
// overrides. A missing file at the default location is not an error; a
// missing file that was asked for explicitly is.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = defaultConfigPath
	}

	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	godotenv.Load() // Load .env file if present
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw Config
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	c.merge(raw)
	return nil
}

func (c *Config) applyEnv() {
	c.merge(Config{
		Database: os.Getenv("VSTORE_DATABASE"),
		Codec:    os.Getenv("VSTORE_CODEC"),
		LogLevel: os.Getenv("VSTORE_LOG_LEVEL"),
		Listen:   os.Getenv("VSTORE_LISTEN"),
	})
}

// merge overwrites the fields of c that are set in other.
func (c *Config) merge(other Config) {
	if v := strings.TrimSpace(other.Database); v != "" {
		c.Database = v
	}
	if v := strings.TrimSpace(other.Codec); v != "" {
		c.Codec = v
	}
	if v := strings.TrimSpace(other.LogLevel); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(other.Listen); v != "" {
		c.Listen = v
	}
}

// Validate checks that the configuration can be used.
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("database is required")
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q (debug, info, warn, error)", c.LogLevel)
	}
	return level, nil
}

// Logger builds the slog logger for the configured level. Logs go to w so
// that command output on stdout stays machine-readable.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Package config loads server settings from defaults, an optional YAML file, the environment and flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"github.com/tecu23/pvp-server/pkg/clock"
)

// Config holds the server settings
type Config struct {
	Port  string `yaml:"port"`
	Debug bool   `yaml:"debug"`

	APIKeys        []string `yaml:"api_keys"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// DefaultTimeControlMinutes applies when a request names no time control. Zero or less means unlimited.
	DefaultTimeControlMinutes float64       `yaml:"default_time_control_minutes"`
	TickInterval              time.Duration `yaml:"tick_interval"`
	SendBuffer                int           `yaml:"send_buffer"`
	ShutdownTimeout           time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Port:                      "8080",
		DefaultTimeControlMinutes: 10,
		TickInterval:              100 * time.Millisecond,
		SendBuffer:                256,
		ShutdownTimeout:           20 * time.Second,
	}
}

// Load parses args (without the program name) and builds the configuration
func Load(args []string) (*Config, error) {
	flags := flag.NewFlagSet("pvp-server", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	envFile := flags.String("env-file", ".env", "path to a dotenv file")
	port := flags.String("port", "", "server port")
	debug := flags.Bool("debug", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := Default()

	path := *configPath
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "debug":
			cfg.Debug = *debug
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		c.Port = v
	}
	if v, ok := get("DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEBUG: %w", err)
		}
		c.Debug = b
	}
	if v, ok := get("API_KEYS"); ok {
		c.APIKeys = splitList(v)
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	} else if v, ok := get("FRONTEND_PATH"); ok {
		c.AllowedOrigins = []string{v}
	}
	if v, ok := get("DEFAULT_TIME_CONTROL_MINUTES"); ok {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("DEFAULT_TIME_CONTROL_MINUTES: %w", err)
		}
		c.DefaultTimeControlMinutes = m
	}
	if v, ok := get("TICK_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TICK_INTERVAL: %w", err)
		}
		c.TickInterval = d
	}
	if v, ok := get("SEND_BUFFER"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SEND_BUFFER: %w", err)
		}
		c.SendBuffer = n
	}

	return nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Port))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

// Addr is the listen address
func (c *Config) Addr() string {
	return ":" + c.Port
}

// DefaultTimeControl is applied to requests that name none
func (c *Config) DefaultTimeControl() clock.TimeControl {
	return clock.Minutes(c.DefaultTimeControlMinutes)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}

	return out
}

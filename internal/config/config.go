// Package config provides configuration management for the swarm coordinator.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration values for the coordinator.
type Config struct {
	// HTTP control surface
	Port        string `yaml:"port"`
	Env         string `yaml:"env"`
	HTTPEnabled bool   `yaml:"http_enabled"`
	CORSOrigin  string `yaml:"cors_origin"`

	// Device directory
	DatabaseURL string `yaml:"database_url"`

	// Node network. DiscoveryPort 0 means BasePort+1.
	BasePort      int    `yaml:"base_port"`
	DiscoveryPort int    `yaml:"discovery_port"`
	SyncBroadcast string `yaml:"sync_broadcast"`
	NodeCapacity  int    `yaml:"node_capacity"`

	// Timing
	TickPeriod  time.Duration `yaml:"tick_period"`
	SendTimeout time.Duration `yaml:"send_timeout"`

	// Initial animation state
	Brightness int    `yaml:"brightness"`
	Pattern    int    `yaml:"pattern"`
	RandomSeed uint64 `yaml:"random_seed"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:          "4000",
		Env:           "development",
		HTTPEnabled:   true,
		CORSOrigin:    "http://localhost:3000",
		DatabaseURL:   "file:./swarm.db",
		BasePort:      5700,
		SyncBroadcast: "255.255.255.255",
		NodeCapacity:  18,
		TickPeriod:    33 * time.Millisecond,
		SendTimeout:   33 * time.Millisecond,
		Brightness:    3,
		Pattern:       2,
		LogLevel:      "info",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Keys missing from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func (c *Config) applyEnv() {
	// Server
	c.Port = getEnv("PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)
	c.HTTPEnabled = getEnvBool("HTTP_ENABLED", c.HTTPEnabled)
	c.CORSOrigin = getEnv("CORS_ORIGIN", c.CORSOrigin)

	// Database
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	// Node network
	c.BasePort = getEnvInt("BASE_PORT", c.BasePort)
	c.DiscoveryPort = getEnvInt("DISCOVERY_PORT", c.DiscoveryPort)
	c.SyncBroadcast = getEnv("SYNC_BROADCAST", c.SyncBroadcast)
	c.NodeCapacity = getEnvInt("NODE_CAPACITY", c.NodeCapacity)

	// Timing
	c.TickPeriod = getEnvMillis("TICK_PERIOD_MS", c.TickPeriod)
	c.SendTimeout = getEnvMillis("SEND_TIMEOUT_MS", c.SendTimeout)

	// Animation
	c.Brightness = getEnvInt("BRIGHTNESS", c.Brightness)
	c.Pattern = getEnvInt("PATTERN", c.Pattern)
	c.RandomSeed = getEnvUint("RANDOM_SEED", c.RandomSeed)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks every setting and reports the first problem.
func (c *Config) Validate() error {
	switch {
	case c.BasePort < 1 || c.BasePort > 65534:
		return fmt.Errorf("%w: BASE_PORT %d out of range", ErrInvalid, c.BasePort)
	case c.DiscoveryPort < 0 || c.DiscoveryPort > 65535:
		return fmt.Errorf("%w: DISCOVERY_PORT %d out of range", ErrInvalid, c.DiscoveryPort)
	case c.BeaconPort() == c.BasePort:
		return fmt.Errorf("%w: DISCOVERY_PORT must differ from BASE_PORT", ErrInvalid)
	case c.NodeCapacity < 1 || c.NodeCapacity > 255:
		return fmt.Errorf("%w: NODE_CAPACITY %d out of range 1..255", ErrInvalid, c.NodeCapacity)
	case c.TickPeriod <= 0:
		return fmt.Errorf("%w: TICK_PERIOD_MS must be positive", ErrInvalid)
	case c.SendTimeout < 0:
		return fmt.Errorf("%w: SEND_TIMEOUT_MS must not be negative", ErrInvalid)
	case c.Brightness < 0 || c.Brightness > 15:
		return fmt.Errorf("%w: BRIGHTNESS %d out of range 0..15", ErrInvalid, c.Brightness)
	case c.Pattern < 0 || c.Pattern > 3:
		return fmt.Errorf("%w: PATTERN %d out of range 0..3", ErrInvalid, c.Pattern)
	case c.SyncBroadcast == "":
		return fmt.Errorf("%w: SYNC_BROADCAST is empty", ErrInvalid)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// BeaconPort returns the discovery port.
func (c *Config) BeaconPort() int {
	if c.DiscoveryPort == 0 {
		return c.BasePort + 1
	}
	return c.DiscoveryPort
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvMillis reads a whole number of milliseconds.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// Package config loads the server configuration from a YAML or JSON file and
// the process environment, and watches the file for log level changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files that are not YAML or JSON.
var ErrUnsupportedFormat = errors.New("unsupported config file format")

// ErrMissingRequired is wrapped by Validate with the name of the first
// missing item.
var ErrMissingRequired = errors.New("Missing required configuration item")

// LevelCritical sits above slog.LevelError for CRITICAL log levels.
const LevelCritical = slog.LevelError + 4

type Config struct {
	VCenterHost     string `yaml:"vcenter_host"`
	VCenterUser     string `yaml:"vcenter_user"`
	VCenterPassword string `yaml:"vcenter_password"`
	Datacenter      string `yaml:"datacenter"`
	Cluster         string `yaml:"cluster"`
	Datastore       string `yaml:"datastore"`
	Network         string `yaml:"network"`
	Insecure        bool   `yaml:"insecure"`
	APIKey          string `yaml:"api_key"`
	LogFile         string `yaml:"log_file"`
	LogLevel        string `yaml:"log_level"`
}

// env holds the overrides read from the process environment. Empty values
// leave the file value untouched.
type env struct {
	VCenterHost     string `env:"VCENTER_HOST"`
	VCenterUser     string `env:"VCENTER_USER"`
	VCenterPassword string `env:"VCENTER_PASSWORD"`
	Datacenter      string `env:"VCENTER_DATACENTER"`
	Cluster         string `env:"VCENTER_CLUSTER"`
	Datastore       string `env:"VCENTER_DATASTORE"`
	Network         string `env:"VCENTER_NETWORK"`
	Insecure        string `env:"VCENTER_INSECURE"`
	APIKey          string `env:"MCP_API_KEY"`
	LogFile         string `env:"MCP_LOG_FILE"`
	LogLevel        string `env:"MCP_LOG_LEVEL"`
}

// Load reads path (when non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile decodes a .yaml, .yml or .json file. JSON is decoded by the YAML
// parser.
func (c *Config) readFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := envdecode.Decode(&e); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	override(&c.VCenterHost, e.VCenterHost)
	override(&c.VCenterUser, e.VCenterUser)
	override(&c.VCenterPassword, e.VCenterPassword)
	override(&c.Datacenter, e.Datacenter)
	override(&c.Cluster, e.Cluster)
	override(&c.Datastore, e.Datastore)
	override(&c.Network, e.Network)
	override(&c.APIKey, e.APIKey)
	override(&c.LogFile, e.LogFile)
	override(&c.LogLevel, e.LogLevel)
	if e.Insecure != "" {
		c.Insecure = parseBool(e.Insecure)
	}
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseBool accepts 1, true and yes in any case.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Validate reports the first missing required item.
func (c *Config) Validate() error {
	required := []struct {
		key, value string
	}{
		{"vcenter_host", c.VCenterHost},
		{"vcenter_user", c.VCenterUser},
		{"vcenter_password", c.VCenterPassword},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingRequired, r.key)
		}
	}
	return nil
}

// Level maps LogLevel onto a slog level. Unknown names map to Info.
func (c *Config) Level() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "CRITICAL":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

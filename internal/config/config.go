package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for propchat.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Webhook   WebhookConfig   `json:"webhook" yaml:"webhook"`
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Web       WebConfig       `json:"web" yaml:"web"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"` // "debug" | "info" | "warn" | "error"
	DataDir  string `json:"dataDir" yaml:"dataDir"`
}

// WebhookConfig points the client at the external assistant endpoint. The URL
// itself is validated at client construction (HTTPS, no dev hosts), not here.
type WebhookConfig struct {
	URL             string `json:"url" yaml:"url"`
	App             string `json:"app" yaml:"app"` // client name sent in the request context
	TimeoutSeconds  int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxMessageChars int    `json:"maxMessageChars" yaml:"maxMessageChars"`
}

type RateLimitConfig struct {
	WindowSeconds int `json:"windowSeconds" yaml:"windowSeconds"`
	MaxPerWindow  int `json:"maxPerWindow" yaml:"maxPerWindow"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" | "postgres"
	DSN    string `json:"dsn" yaml:"dsn"`       // file path for sqlite, connection string for postgres
}

type WebConfig struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.propchat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".propchat"
	}
	return filepath.Join(home, ".propchat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file (by extension), expands environment
// variables, overlays it on Defaults, and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	if cfg.Storage.Driver == "" || cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = ExpandPath(cfg.Storage.DSN)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes the config in the format matching the file extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Webhook.TimeoutSeconds < 1 {
		errs = append(errs, "webhook.timeoutSeconds must be >= 1")
	}
	if cfg.Webhook.MaxMessageChars < 1 {
		errs = append(errs, "webhook.maxMessageChars must be >= 1")
	}

	if cfg.RateLimit.WindowSeconds < 1 {
		errs = append(errs, "rateLimit.windowSeconds must be >= 1")
	}
	if cfg.RateLimit.MaxPerWindow < 1 {
		errs = append(errs, "rateLimit.maxPerWindow must be >= 1")
	}

	switch cfg.Storage.Driver {
	case "", "sqlite", "postgres":
		// valid
	default:
		errs = append(errs, "storage.driver must be one of: sqlite, postgres")
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		errs = append(errs, "web.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

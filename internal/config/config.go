package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/blebeacon/internal/ble"
	"github.com/chaz8081/blebeacon/internal/publish"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig    `yaml:"device"`
	Services []ServiceConfig `yaml:"services"`
	Publish  PublishConfig   `yaml:"publish"`
	LogLevel string          `yaml:"log_level"`
}

// DeviceConfig holds the peripheral identity and stack selection.
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"` // ble.BackendTinyGo or ble.BackendGoBLE
}

// ServiceConfig declares one GATT service and its characteristics.
type ServiceConfig struct {
	UUID            string   `yaml:"uuid"`
	Characteristics []string `yaml:"characteristics"`
}

// PublishConfig controls the periodic notification publisher.
type PublishConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Characteristic string        `yaml:"characteristic"`
	Schedule       string        `yaml:"schedule"` // cron expression or duration, e.g. "1s"
	Messages       []string      `yaml:"messages"`
	MaxChunk       int           `yaml:"max_chunk"` // 0 sends each message as one notification
	WaitPoll       time.Duration `yaml:"wait_poll"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blebeacon")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:    "ESP32Actividad",
			Backend: ble.BackendTinyGo,
		},
		Services: []ServiceConfig{
			{
				UUID:            ble.DefaultServiceUUID,
				Characteristics: []string{ble.DefaultCharacteristicUUID},
			},
		},
		Publish: PublishConfig{
			Enabled:        true,
			Characteristic: ble.DefaultCharacteristicUUID,
			Schedule:       "1s",
			Messages:       []string{"hola mundo", "adios mundo"},
			WaitPoll:       time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults; a services list in the file replaces the default one.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.Name) == "" {
		return fmt.Errorf("device.name must not be empty")
	}

	switch c.Device.Backend {
	case ble.BackendTinyGo, ble.BackendGoBLE:
	default:
		return fmt.Errorf("device.backend must be \"tinygo\" or \"goble\", got %q", c.Device.Backend)
	}

	chars := make(map[string]bool)
	services := make(map[string]bool)
	for i, svc := range c.Services {
		key := strings.ToLower(strings.TrimSpace(svc.UUID))
		if key == "" {
			return fmt.Errorf("services[%d].uuid must not be empty", i)
		}
		if services[key] {
			return fmt.Errorf("services[%d].uuid %q is declared twice", i, svc.UUID)
		}
		services[key] = true
		for j, ch := range svc.Characteristics {
			ck := strings.ToLower(strings.TrimSpace(ch))
			if ck == "" {
				return fmt.Errorf("services[%d].characteristics[%d] must not be empty", i, j)
			}
			if chars[ck] {
				return fmt.Errorf("characteristic %q is declared twice", ch)
			}
			chars[ck] = true
		}
	}

	if c.Publish.Enabled {
		if !chars[strings.ToLower(strings.TrimSpace(c.Publish.Characteristic))] {
			return fmt.Errorf("publish.characteristic %q is not declared in services", c.Publish.Characteristic)
		}
		if c.Publish.Schedule == "" {
			return fmt.Errorf("publish.schedule must not be empty")
		}
		if _, err := publish.ParseSchedule(c.Publish.Schedule); err != nil {
			return fmt.Errorf("publish.schedule: %w", err)
		}
		if len(c.Publish.Messages) == 0 {
			return fmt.Errorf("publish.messages must not be empty")
		}
		if c.Publish.MaxChunk < 0 {
			return fmt.Errorf("publish.max_chunk must be >= 0")
		}
		if c.Publish.WaitPoll <= 0 {
			return fmt.Errorf("publish.wait_poll must be > 0")
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level string to a slog level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# blebeacon configuration
#
# device.backend: "tinygo" (tinygo-org/bluetooth) or "goble" (go-ble/ble, Linux HCI)
# publish.schedule: cron expression ("*/5 * * * *", "@every 5s") or a Go duration ("1s")
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader+"\n"), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

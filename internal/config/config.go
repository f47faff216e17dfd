package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/hiremote/internal/remote"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Match    string         `yaml:"match"`   // "exact" or "substring"
	Pairing  string         `yaml:"pairing"` // "none" or "stereo"
	Targets  []TargetConfig `yaml:"targets"`
	Scan     ScanConfig     `yaml:"scan"`
	Display  DisplayConfig  `yaml:"display"`
	Hotkeys  HotkeyConfig   `yaml:"hotkeys"`
}

// TargetConfig names one hearing instrument. Its position in the list is
// its slot.
type TargetConfig struct {
	Name string `yaml:"name"`
}

// ScanConfig holds scan settings.
type ScanConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// DisplayConfig selects where status and controls are shown.
type DisplayConfig struct {
	Console bool   `yaml:"console"`
	Listen  string `yaml:"listen"` // websocket panel address; empty disables
}

// HotkeyConfig binds global key combos to remote actions.
type HotkeyConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Scan       []string `yaml:"scan"`
	Connect    []string `yaml:"connect"`
	Discover   []string `yaml:"discover"`
	Disconnect []string `yaml:"disconnect"`
	VolumeUp   []string `yaml:"volume_up"`
	VolumeDown []string `yaml:"volume_down"`
	Mute       []string `yaml:"mute"`
	VolumeStep int      `yaml:"volume_step"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hiremote")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values: a stereo pair,
// exact name matching and the console display.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Match:    "exact",
		Pairing:  "stereo",
		Targets: []TargetConfig{
			{Name: "HI Right"},
			{Name: "HI Left"},
		},
		Scan: ScanConfig{
			TimeoutSec: 10,
		},
		Display: DisplayConfig{
			Console: true,
			Listen:  "127.0.0.1:8642",
		},
		Hotkeys: HotkeyConfig{
			Enabled:    false,
			Scan:       []string{"ctrl", "alt", "s"},
			Connect:    []string{"ctrl", "alt", "c"},
			Discover:   []string{"ctrl", "alt", "d"},
			Disconnect: []string{"ctrl", "alt", "x"},
			VolumeUp:   []string{"ctrl", "alt", "up"},
			VolumeDown: []string{"ctrl", "alt", "down"},
			Mute:       []string{"ctrl", "alt", "m"},
			VolumeStep: 8,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	for i := range cfg.Targets {
		cfg.Targets[i].Name = strings.TrimSpace(cfg.Targets[i].Name)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.Match {
	case "exact", "substring":
	default:
		return fmt.Errorf("match must be \"exact\" or \"substring\", got %q", c.Match)
	}

	if len(c.Targets) == 0 {
		return fmt.Errorf("targets must not be empty")
	}
	seen := make(map[string]int, len(c.Targets))
	for i, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("targets[%d].name must not be empty", i)
		}
		if j, ok := seen[t.Name]; ok {
			return fmt.Errorf("targets[%d].name %q duplicates targets[%d]", i, t.Name, j)
		}
		seen[t.Name] = i
	}

	switch c.Pairing {
	case "none":
	case "stereo":
		if len(c.Targets) != 2 {
			return fmt.Errorf("pairing \"stereo\" needs exactly 2 targets (right, left), got %d", len(c.Targets))
		}
	default:
		return fmt.Errorf("pairing must be \"none\" or \"stereo\", got %q", c.Pairing)
	}

	if c.Scan.TimeoutSec <= 0 {
		return fmt.Errorf("scan.timeout_sec must be > 0")
	}

	if c.Display.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Display.Listen); err != nil {
			return fmt.Errorf("display.listen: %w", err)
		}
	}

	if c.Hotkeys.Enabled {
		if err := c.Hotkeys.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (h *HotkeyConfig) validate() error {
	bindings := []struct {
		name string
		keys []string
	}{
		{"scan", h.Scan},
		{"connect", h.Connect},
		{"discover", h.Discover},
		{"disconnect", h.Disconnect},
		{"volume_up", h.VolumeUp},
		{"volume_down", h.VolumeDown},
		{"mute", h.Mute},
	}
	var errs []error
	for _, b := range bindings {
		if len(b.keys) == 0 {
			errs = append(errs, fmt.Errorf("hotkeys.%s must not be empty", b.name))
		}
	}
	if h.VolumeStep <= 0 || h.VolumeStep > remote.VolumeMax {
		errs = append(errs, fmt.Errorf("hotkeys.volume_step must be in 1..%d, got %d", remote.VolumeMax, h.VolumeStep))
	}
	return errors.Join(errs...)
}

// RemoteTargets returns the configured targets with their slots.
func (c *Config) RemoteTargets() []remote.Target {
	targets := make([]remote.Target, len(c.Targets))
	for i, t := range c.Targets {
		targets[i] = remote.Target{Name: t.Name, Slot: remote.SlotID(i)}
	}
	return targets
}

// RemotePairing returns the pairing mode. In a stereo pair the first target
// is the right instrument and the second the left.
func (c *Config) RemotePairing() remote.Pairing {
	if c.Pairing == "stereo" {
		return remote.StereoPairing(0, 1)
	}
	return remote.NoPairing()
}

// MatchMode returns how advertised names are matched against targets.
func (c *Config) MatchMode() remote.MatchMode {
	if c.Match == "substring" {
		return remote.MatchSubstring
	}
	return remote.MatchExact
}

// ScanTimeout returns the scan timeout as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scan.TimeoutSec) * time.Second
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

const defaultHeader = `# hiremote configuration
#
# targets: advertised names of the hearing instruments, one per slot.
#   With pairing "stereo" the first target is the right ear, the second the left.
# match: "exact" (case-sensitive) or "substring" (case-insensitive).
# display.listen: address of the websocket control panel; empty disables it.
# hotkeys: global key combos, only active when enabled is true.

`

// WriteDefault writes a commented default config to DefaultConfigPath. It
// returns the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables understood by carbonara.
const (
	EnvRegistryPath = "CARBONARA_TOOLS_REGISTRY"
	EnvCLIPath      = "CARBONARA_CLI_PATH"
	EnvTestMode     = "CARBONARA_TEST_MODE"
	EnvLogLevel     = "CARBONARA_LOG_LEVEL"
)

// Settings holds user-level engine settings.
// Path: $XDG_CONFIG_HOME/carbonara/settings.yaml
type Settings struct {
	LogLevel         string        `yaml:"log_level"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	InstallTimeout   time.Duration `yaml:"install_timeout"`
	Concurrency      int           `yaml:"concurrency"`
	RefreshSchedule  string        `yaml:"refresh_schedule"`
	ServeAddr        string        `yaml:"serve_addr"`
	PuppeteerVersion string        `yaml:"puppeteer_version"`

	// RegistryPath and CLIPath are normally supplied through the environment.
	RegistryPath string `yaml:"registry_path,omitempty"`
	CLIPath      string `yaml:"cli_path,omitempty"`

	// TestMode is only ever set from the environment.
	TestMode bool `yaml:"-"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		LogLevel:        "info",
		ProbeTimeout:    15 * time.Second,
		InstallTimeout:  10 * time.Minute,
		Concurrency:     4,
		RefreshSchedule: "@every 10m",
		ServeAddr:       "127.0.0.1:8788",
	}
}

// LoadSettings reads settings from path and applies environment overrides.
// A missing file yields the defaults without error.
func LoadSettings(path string) (Settings, error) {
	s := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &s); err != nil {
				return Default(), fmt.Errorf("config: parsing %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return Default(), fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	s.applyEnv()
	s.fillDefaults()
	return s, s.Validate()
}

func (s *Settings) applyEnv() {
	if v := os.Getenv(EnvRegistryPath); v != "" {
		s.RegistryPath = v
	}
	if v := os.Getenv(EnvCLIPath); v != "" {
		s.CLIPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.LogLevel = v
	}
	s.TestMode = TestMode()
}

func (s *Settings) fillDefaults() {
	d := Default()
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	if s.InstallTimeout <= 0 {
		s.InstallTimeout = d.InstallTimeout
	}
	if s.Concurrency <= 0 {
		s.Concurrency = d.Concurrency
	}
	if strings.TrimSpace(s.RefreshSchedule) == "" {
		s.RefreshSchedule = d.RefreshSchedule
	}
	if strings.TrimSpace(s.ServeAddr) == "" {
		s.ServeAddr = d.ServeAddr
	}
}

// Validate checks settings values that cannot be defaulted.
func (s Settings) Validate() error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(s.LogLevel)) {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log_level %q", s.LogLevel))
	}
	if s.Concurrency > 64 {
		errs = append(errs, fmt.Errorf("config: concurrency %d is above the limit of 64", s.Concurrency))
	}
	return errors.Join(errs...)
}

// TestMode reports whether CARBONARA_TEST_MODE is set to a truthy value.
func TestMode() bool {
	v := strings.TrimSpace(os.Getenv(EnvTestMode))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

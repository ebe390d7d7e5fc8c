// Package config handles the daemon configuration file.
package config

import (
	"errors"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/instconfd/instconfd.yaml"

// Config represents the daemon configuration.
type Config struct {
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	System       System       `yaml:"system"`
	Network      Network      `yaml:"network"`
	Localization Localization `yaml:"localization"`
}

// System describes the environment the installer runs in.
type System struct {
	// SystemBusPresent makes daemon connection failures fatal instead of silently ignored.
	SystemBusPresent bool `yaml:"system_bus_present"`

	CanActivateKeyboard    bool `yaml:"can_activate_keyboard"`
	ProvidesLiveuser       bool `yaml:"provides_liveuser"`
	ProvidesResolverConfig bool `yaml:"provides_resolver_config"`
	CanConfigureNetwork    bool `yaml:"can_configure_network"`

	// S390 forces or disables s390 specific handling. Defaults to the running architecture.
	S390 *bool `yaml:"s390,omitempty"`

	// HostRoot prefixes every path read from the running installer environment.
	HostRoot    string `yaml:"host_root"`
	CmdlinePath string `yaml:"cmdline_path" validate:"required"`
}

// Network holds NetworkManager related tunables.
type Network struct {
	AddConnectionTimeout time.Duration `yaml:"add_connection_timeout" validate:"gt=0"`
	UpdateTimeout        time.Duration `yaml:"update_timeout"         validate:"gt=0"`
	DefaultOnBoot        string        `yaml:"default_on_boot"        validate:"oneof=NONE DEFAULT_ROUTE_DEVICE FIRST_WIRED_WITH_LINK"`
}

// Localization holds keyboard and language defaults.
type Localization struct {
	DefaultKeyboard string `yaml:"default_keyboard" validate:"required"`
	DefaultVCFont   string `yaml:"default_vc_font"  validate:"required"`
	CyrillicVCFont  string `yaml:"cyrillic_vc_font" validate:"required"`
	FallbackLocale  string `yaml:"fallback_locale"  validate:"required"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		System: System{
			SystemBusPresent:       true,
			CanActivateKeyboard:    true,
			ProvidesResolverConfig: true,
			CanConfigureNetwork:    true,
			CmdlinePath:            "/proc/cmdline",
		},
		Network: Network{
			AddConnectionTimeout: 5 * time.Second,
			UpdateTimeout:        5 * time.Second,
			DefaultOnBoot:        "NONE",
		},
		Localization: Localization{
			DefaultKeyboard: "us",
			DefaultVCFont:   "eurlatgr",
			CyrillicVCFont:  "latarcyrheb-sun16",
			FallbackLocale:  "C.UTF-8",
		},
	}
}

// Load reads the configuration at path on top of the defaults. A missing file isn't an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	content, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return nil, err
	}

	err = yaml.Unmarshal(content, cfg)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// IsS390 reports whether s390 specific network handling applies.
func (s System) IsS390() bool {
	if s.S390 != nil {
		return *s.S390
	}

	return runtime.GOARCH == "s390x"
}

// HostPath returns path inside the host root.
func (s System) HostPath(path string) string {
	if s.HostRoot == "" {
		return path
	}

	return s.HostRoot + path
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon settings. All fields can be set from a YAML
// file or overridden by command-line flags.
type Config struct {
	// Listen is the address the control server binds to.
	Listen string `yaml:"listen"`

	// Port is the control server TCP port.
	Port int `yaml:"port"`

	// ForceIPv6 makes the server listen on an IPv6 socket.
	ForceIPv6 bool `yaml:"force_ipv6"`

	// Workdir is where instance working files (console pipes, captures)
	// are placed. Empty means the system temporary directory.
	Workdir string `yaml:"workdir"`

	// MetricsAddr serves Prometheus metrics and health when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`

	// RequiredVersion is the minimum acceptable VirtualBox version.
	RequiredVersion string `yaml:"required_version"`

	// NoVBoxChecks skips the VirtualBox availability check at startup.
	// The server then answers protocol requests but VM operations fail.
	NoVBoxChecks bool `yaml:"no_vbox_checks"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the configuration used when no file or flags are given.
func Default() Config {
	return Config{
		Listen:          "0.0.0.0",
		Port:            11525,
		Workdir:         os.TempDir(),
		RequiredVersion: "4.1",
		LogLevel:        "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.Workdir != "" {
		if info, err := os.Stat(c.Workdir); err != nil || !info.IsDir() {
			return fmt.Errorf("workdir %s is not a directory", c.Workdir)
		}
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

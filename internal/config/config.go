// Package config holds the portreaper settings decoded by viper.
package config

import (
	"fmt"
	"time"

	"portreaper/internal/portscan"
	"portreaper/internal/portspec"
)

// Config is the merged view of flags, PORTREAPER_* environment variables and
// an optional config file. Keys match the flag names.
type Config struct {
	From        int           `mapstructure:"from"`
	To          int           `mapstructure:"to"`
	Force       bool          `mapstructure:"force"`
	Quiet       bool          `mapstructure:"quiet"`
	DryRun      bool          `mapstructure:"dry-run"`
	Concurrency int           `mapstructure:"concurrency"`
	Grace       time.Duration `mapstructure:"grace"`
	UDP         bool          `mapstructure:"udp"`
	ListenOnly  bool          `mapstructure:"listen-only"`
	Wait        time.Duration `mapstructure:"wait"`
	LogLevel    string        `mapstructure:"log-level"`
}

// Defaults returns the built-in settings: kill everything on 8000-8999.
func Defaults() Config {
	return Config{
		From:        8000,
		To:          9000,
		Force:       true,
		Quiet:       true,
		Concurrency: 16,
		LogLevel:    "warn",
	}
}

// Range validates and returns the configured half-open port range.
func (c Config) Range() (portspec.Range, error) {
	return portspec.NewRange(c.From, c.To)
}

// Filter returns the socket filter implied by the protocol settings.
func (c Config) Filter() portscan.Filter {
	f := portscan.Filter{
		Protocols:  []portscan.Proto{portscan.TCP},
		ListenOnly: c.ListenOnly,
	}
	if c.UDP {
		f.Protocols = append(f.Protocols, portscan.UDP)
	}
	return f
}

// Validate checks the settings that apply to every run. The port range is
// checked by Range, since positional ports replace it.
func (c Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Grace < 0 {
		return fmt.Errorf("grace must not be negative, got %s", c.Grace)
	}
	if c.Wait < 0 {
		return fmt.Errorf("wait must not be negative, got %s", c.Wait)
	}
	return nil
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/rs/zerolog"
)

// Config holds connection and protocol settings shared by all commands
type Config struct {
	Host        string
	TCPPort     int
	SerialPort  string
	Baud        int
	URL         string
	Username    string
	NoSSLVerify bool

	Timeout  time.Duration
	Tick     time.Duration
	LogLevel string

	Monitor MonitorConfig
}

// MonitorConfig holds the default poll list of the monitor command
type MonitorConfig struct {
	Objects  []string
	Interval time.Duration
}

// DefaultConfig returns the built-in settings
func DefaultConfig() Config {
	return Config{
		TCPPort:  rct.DefaultPort,
		Baud:     115200,
		Timeout:  2 * time.Second,
		Tick:     5 * time.Millisecond,
		LogLevel: "warn",
		Monitor: MonitorConfig{
			Objects:  []string{"soc", "battery", "grid", "load", "solar_a", "solar_b"},
			Interval: 5 * time.Second,
		},
	}
}

type fileConfig struct {
	Host        string        `toml:"host"`
	TCPPort     int           `toml:"tcp_port"`
	SerialPort  string        `toml:"port"`
	Baud        int           `toml:"baud"`
	URL         string        `toml:"url"`
	Username    string        `toml:"username"`
	NoSSLVerify bool          `toml:"no_ssl_verify"`
	Timeout     string        `toml:"timeout"`
	Tick        string        `toml:"tick"`
	LogLevel    string        `toml:"log_level"`
	Monitor     monitorConfig `toml:"monitor"`
}

type monitorConfig struct {
	Objects  []string `toml:"objects"`
	Interval string   `toml:"interval"`
}

// loadConfigFile lays the keys present in the TOML file at path over cfg
func loadConfigFile(path string, cfg Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("tcp_port") {
		cfg.TCPPort = raw.TCPPort
	}
	if meta.IsDefined("port") {
		cfg.SerialPort = strings.TrimSpace(raw.SerialPort)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("username") {
		cfg.Username = raw.Username
	}
	if meta.IsDefined("no_ssl_verify") {
		cfg.NoSSLVerify = raw.NoSSLVerify
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("tick") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Tick))
		if err != nil {
			return Config{}, fmt.Errorf("parse tick: %w", err)
		}
		cfg.Tick = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("monitor", "objects") {
		cfg.Monitor.Objects = normalizeObjects(raw.Monitor.Objects)
	}
	if meta.IsDefined("monitor", "interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Monitor.Interval))
		if err != nil {
			return Config{}, fmt.Errorf("parse monitor.interval: %w", err)
		}
		cfg.Monitor.Interval = d
	}

	return cfg, nil
}

// applyFlags copies every flag the user set from flags into cfg
func applyFlags(cfg *Config, flags Config, changed func(name string) bool) {
	if changed("host") {
		cfg.Host = flags.Host
	}
	if changed("tcp-port") {
		cfg.TCPPort = flags.TCPPort
	}
	if changed("port") {
		cfg.SerialPort = flags.SerialPort
	}
	if changed("baud") {
		cfg.Baud = flags.Baud
	}
	if changed("url") {
		cfg.URL = flags.URL
	}
	if changed("username") {
		cfg.Username = flags.Username
	}
	if changed("no-ssl-verify") {
		cfg.NoSSLVerify = flags.NoSSLVerify
	}
	if changed("timeout") {
		cfg.Timeout = flags.Timeout
	}
	if changed("tick") {
		cfg.Tick = flags.Tick
	}
	if changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
}

// resolveConfig builds the effective configuration: defaults, then the
// config file if any, then explicitly set flags.
func resolveConfig(path string, flags Config, changed func(name string) bool) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = loadConfigFile(path, cfg); err != nil {
			return Config{}, err
		}
	}
	applyFlags(&cfg, flags, changed)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no command can work with
func (c Config) Validate() error {
	if c.TCPPort <= 0 || c.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp port %d", c.TCPPort)
	}
	if c.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %v: must not be negative", c.Timeout)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("invalid tick %v: must be positive", c.Tick)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("invalid monitor interval %v: must be positive", c.Monitor.Interval)
	}
	for _, name := range c.Monitor.Objects {
		if _, err := rct.ParseObjectID(name); err != nil {
			return fmt.Errorf("monitor.objects: %w", err)
		}
	}

	transports := 0
	for _, set := range []bool{c.Host != "", c.SerialPort != "", c.URL != ""} {
		if set {
			transports++
		}
	}
	if transports > 1 {
		return fmt.Errorf("only one of --host, --port or --url may be specified")
	}
	return nil
}

func normalizeObjects(in []string) []string {
	out := make([]string, 0, len(in))
	for _, name := range in {
		v := strings.TrimSpace(name)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Package config loads the gateway's YAML configuration: listen
// address, default grid size, session timeout, and a table of named
// host shortcuts clients can reference instead of spelling out
// host/port/user on every connect.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Host describes a shortcut entry in the hosts table.
type Host struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	IdentityFile string `yaml:"identity_file,omitempty"`
}

// HostsField is the hosts table; its YAML unmarshaling accepts each
// entry either as a bare "user@host:port" scalar or as a full mapping.
type HostsField map[string]Host

func (h *HostsField) UnmarshalYAML(value *yaml.Node) error {
	raw := map[string]yaml.Node{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	out := make(HostsField, len(raw))
	for name, node := range raw {
		var entry Host
		if node.Kind == yaml.ScalarNode {
			parsed, err := parseHostScalar(node.Value)
			if err != nil {
				return fmt.Errorf("host %q: %w", name, err)
			}
			entry = parsed
		} else if err := node.Decode(&entry); err != nil {
			return fmt.Errorf("host %q: %w", name, err)
		}
		if entry.Port == 0 {
			entry.Port = 22
		}
		out[name] = entry
	}
	*h = out
	return nil
}

// parseHostScalar parses "user@host:port" (user and port optional).
func parseHostScalar(s string) (Host, error) {
	var h Host
	rest := s
	if at := indexByte(rest, '@'); at >= 0 {
		h.User = rest[:at]
		rest = rest[at+1:]
	}
	if colon := lastIndexByte(rest, ':'); colon >= 0 {
		h.Host = rest[:colon]
		var port int
		if _, err := fmt.Sscanf(rest[colon+1:], "%d", &port); err != nil {
			return h, fmt.Errorf("invalid port in %q: %w", s, err)
		}
		h.Port = port
	} else {
		h.Host = rest
	}
	if h.Host == "" {
		return h, fmt.Errorf("empty host in %q", s)
	}
	return h, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Config is the gateway's top-level configuration.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	DefaultCols    int           `yaml:"default_cols"`
	DefaultRows    int           `yaml:"default_rows"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	Hosts          HostsField    `yaml:"hosts"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		ListenAddr:     "127.0.0.1:9999",
		DefaultCols:    80,
		DefaultRows:    24,
		SessionTimeout: 300 * time.Second,
	}
}

// Load reads and parses a YAML config file, filling in defaults for any
// field left unset.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:9999"
	}
	if cfg.DefaultCols == 0 {
		cfg.DefaultCols = 80
	}
	if cfg.DefaultRows == 0 {
		cfg.DefaultRows = 24
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 300 * time.Second
	}
	return cfg, nil
}

// Resolve looks up a named host shortcut.
func (c *Config) Resolve(name string) (Host, bool) {
	h, ok := c.Hosts[name]
	return h, ok
}

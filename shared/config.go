package shared

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/goccy/go-yaml"
)

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type KeyServerConfig struct {
	Listen        string `yaml:"listen"`
	Model         string `yaml:"model"`
	Voice         string `yaml:"voice"`
	Instructions  string `yaml:"instructions"`
	AllowedOrigin string `yaml:"allowed_origin"`
}

// Config is shared by the CLI agent and the key server. Values come from
// flags first, then the YAML file, then DefaultConfig.
type Config struct {
	CredentialURL        string          `yaml:"credential_url"`
	CredentialTokenPaths []string        `yaml:"credential_token_paths"`
	RealtimeURL          string          `yaml:"realtime_url"`
	Model                string          `yaml:"model"`
	ICEServers           []string        `yaml:"ice_servers"`
	VolumeInterval       time.Duration   `yaml:"volume_interval"`
	NegotiationTimeout   time.Duration   `yaml:"negotiation_timeout"`
	Log                  LogConfig       `yaml:"log"`
	KeyServer            KeyServerConfig `yaml:"key_server"`
}

func DefaultConfig() Config {
	return Config{
		CredentialURL:        "http://localhost:8000/session",
		CredentialTokenPaths: []string{"ephemeral_key_value", "client_secret.value", "value"},
		RealtimeURL:          "https://api.openai.com/v1/realtime/calls",
		Model:                "gpt-realtime",
		ICEServers:           []string{"stun:stun.l.google.com:19302"},
		VolumeInterval:       100 * time.Millisecond,
		NegotiationTimeout:   30 * time.Second,
		Log: LogConfig{
			File:       "cli/cli.log",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
		},
		KeyServer: KeyServerConfig{
			Listen:        "127.0.0.1:8000",
			Model:         "gpt-realtime",
			Voice:         "alloy",
			Instructions:  "You are a helpful shopping assistant for an online store. Use the filter_products tool to look up products.",
			AllowedOrigin: "*",
		},
	}
}

func (c *Config) LoadFrom(r io.Reader) error {
	dec := yaml.NewDecoder(r, yaml.Strict(), yaml.DisallowUnknownField())
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) LoadFromFile(fn string, ignoreNotFound bool) error {
	f, err := os.Open(fn)
	if os.IsNotExist(err) && ignoreNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot open configuration file %q: %w", fn, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := c.LoadFrom(f); err != nil {
		return fmt.Errorf("cannot load configuration file %q: %w", fn, err)
	}
	return nil
}

// ResolveConfig layers fromFlags over fromFile over the defaults and
// validates the result.
func ResolveConfig(fromFlags, fromFile Config) (Config, error) {
	resolved := fromFlags
	if err := mergo.Merge(&resolved, fromFile); err != nil {
		return Config{}, fmt.Errorf("merging configuration file: %w", err)
	}
	if err := mergo.Merge(&resolved, DefaultConfig()); err != nil {
		return Config{}, fmt.Errorf("merging default configuration: %w", err)
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func (c *Config) Validate() error {
	if c.RealtimeURL == "" {
		return errors.New("realtime_url is required")
	}
	if len(c.CredentialTokenPaths) == 0 {
		return errors.New("at least one credential token path is required")
	}
	if c.VolumeInterval <= 0 {
		return fmt.Errorf("volume_interval must be positive, got %s", c.VolumeInterval)
	}
	if c.NegotiationTimeout <= 0 {
		return fmt.Errorf("negotiation_timeout must be positive, got %s", c.NegotiationTimeout)
	}
	return nil
}

func (c *Config) YAML() ([]byte, error) {
	return yaml.MarshalWithOptions(c, yaml.Indent(2))
}

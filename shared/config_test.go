package shared

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
credential_url: http://backend.test/session
model: gpt-realtime-mini
volume_interval: 250ms
log:
  file: /tmp/voice-shop.log
key_server:
  voice: ash
`

func TestLoadFrom(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.LoadFrom(strings.NewReader(sampleConfig)))
	assert.Equal(t, "http://backend.test/session", cfg.CredentialURL)
	assert.Equal(t, "gpt-realtime-mini", cfg.Model)
	assert.Equal(t, 250*time.Millisecond, cfg.VolumeInterval)
	assert.Equal(t, "/tmp/voice-shop.log", cfg.Log.File)
	assert.Equal(t, "ash", cfg.KeyServer.Voice)

	var empty Config
	require.NoError(t, empty.LoadFrom(strings.NewReader("")))

	var strict Config
	assert.Error(t, strict.LoadFrom(strings.NewReader("colour: red\n")))
}

func TestLoadFromFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	var cfg Config
	require.NoError(t, cfg.LoadFromFile(missing, true))
	assert.Error(t, cfg.LoadFromFile(missing, false))

	fn := filepath.Join(t.TempDir(), "voice-shop.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(sampleConfig), 0o600))
	require.NoError(t, cfg.LoadFromFile(fn, false))
	assert.Equal(t, "gpt-realtime-mini", cfg.Model)
}

func TestResolveConfig(t *testing.T) {
	var fromFile Config
	require.NoError(t, fromFile.LoadFrom(strings.NewReader(sampleConfig)))

	var fromFlags Config
	app := kingpin.New("test", "")
	fromFlags.RegisterClientFlags(app)
	_, err := app.Parse([]string{"--realtime.model=gpt-realtime", "--ice.server=stun:a", "--ice.server=stun:b"})
	require.NoError(t, err)

	cfg, err := ResolveConfig(fromFlags, fromFile)
	require.NoError(t, err)
	defaults := DefaultConfig()
	// flags win over the file, the file over the defaults
	assert.Equal(t, "gpt-realtime", cfg.Model)
	assert.Equal(t, []string{"stun:a", "stun:b"}, cfg.ICEServers)
	assert.Equal(t, "http://backend.test/session", cfg.CredentialURL)
	assert.Equal(t, 250*time.Millisecond, cfg.VolumeInterval)
	assert.Equal(t, "ash", cfg.KeyServer.Voice)
	assert.Equal(t, defaults.RealtimeURL, cfg.RealtimeURL)
	assert.Equal(t, defaults.CredentialTokenPaths, cfg.CredentialTokenPaths)
	assert.Equal(t, defaults.NegotiationTimeout, cfg.NegotiationTimeout)
	assert.Equal(t, defaults.KeyServer.Listen, cfg.KeyServer.Listen)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "credential_url: http://backend.test/session")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "realtime url", modify: func(c *Config) { c.RealtimeURL = "" }},
		{name: "token paths", modify: func(c *Config) { c.CredentialTokenPaths = nil }},
		{name: "volume interval", modify: func(c *Config) { c.VolumeInterval = -time.Second }},
		{name: "negotiation timeout", modify: func(c *Config) { c.NegotiationTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestGetenv(t *testing.T) {
	t.Setenv("VOICE_SHOP_TEST_INT", "42")
	t.Setenv("VOICE_SHOP_TEST_BAD", "forty-two")
	t.Setenv("VOICE_SHOP_TEST_EMPTY", "")

	v, err := Getenv(GetenvInt, "VOICE_SHOP_TEST_INT", true, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Getenv(GetenvInt, "VOICE_SHOP_TEST_BAD", false, 0)
	assert.Error(t, err)

	d, err := Getenv(GetenvDuration, "VOICE_SHOP_TEST_EMPTY", false, time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = Getenv(GetenvString, "VOICE_SHOP_TEST_EMPTY", true, "")
	assert.Error(t, err)
	assert.Panics(t, func() { MustGetenv(GetenvBool, "VOICE_SHOP_TEST_BAD", false, false) })
}

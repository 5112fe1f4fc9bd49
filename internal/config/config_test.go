package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "room.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "0.0.0.0:44444", cfg.Room.Listen)
	assert.Equal(t, BackendNone, cfg.Registry.Backend)
}

func TestFileThenFlags(t *testing.T) {
	path := writeConfig(t, `
room:
  name: friday
  admin: alice
  min_apm: 20
  max_apm: 80
  transport: websocket
  advertise: rooms.example.com:44444
  read_timeout: 250ms
registry:
  backend: redis
  redis:
    addr: localhost:6379
stats:
  backend: postgres
  postgres:
    dsn: postgres://gotris@localhost/gotris
  nats:
    url: nats://localhost:4222
log:
  level: debug
  format: json
`)

	cfg, err := Load([]string{"-config", path, "-name", "saturday", "-max-apm", "120", "-private"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "saturday", cfg.Room.Name)
	assert.Equal(t, "alice", cfg.Room.Admin)
	assert.Equal(t, 20, cfg.Room.MinAPM)
	assert.Equal(t, 120, cfg.Room.MaxAPM)
	assert.True(t, cfg.Room.Private)
	assert.Equal(t, "websocket", cfg.Room.Transport)
	assert.Equal(t, 250*time.Millisecond, cfg.Room.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Room.JoinTimeout, "unset keys keep their defaults")
	assert.Equal(t, "localhost:6379", cfg.Registry.Redis.Addr)
	assert.Equal(t, "rooms.example.com:44444", cfg.Room.Advertise)
	assert.Equal(t, "gotris.games.recorded", cfg.Stats.NATS.Subject)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing name", func(c *Config) { c.Room.Name = "" }, "Room.Name"},
		{"min above max", func(c *Config) { c.Room.MinAPM, c.Room.MaxAPM = 50, 10 }, "Room.MaxAPM"},
		{"bad listen", func(c *Config) { c.Room.Listen = "nowhere" }, "Room.Listen"},
		{"unknown transport", func(c *Config) { c.Room.Transport = "udp" }, "Room.Transport"},
		{"unknown registry", func(c *Config) { c.Registry.Backend = "etcd" }, "Registry.Backend"},
		{"http registry without url", func(c *Config) { c.Registry.Backend = BackendHTTP }, "Registry.URL"},
		{"redis registry without addr", func(c *Config) { c.Registry.Backend = BackendRedis }, "Redis.Addr"},
		{"published room without advertise", func(c *Config) {
			c.Registry.Backend = BackendHTTP
			c.Registry.URL = "http://profiles:8000"
		}, "Room.Advertise"},
		{"postgres stats without dsn", func(c *Config) { c.Stats.Backend = BackendPostgres }, "Postgres.DSN"},
		{"match port out of range", func(c *Config) { c.Room.MatchBasePort = 70000 }, "Room.MatchBasePort"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "Log.Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	assert.ErrorContains(t, err, "read config file")

	_, err = Load([]string{"-config", writeConfig(t, "room: [")}, io.Discard)
	assert.ErrorContains(t, err, "parse config")

	_, err = Load([]string{"-min-apm", "90", "-max-apm", "10"}, io.Discard)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load([]string{"-bogus"}, io.Discard)
	assert.Error(t, err)
}

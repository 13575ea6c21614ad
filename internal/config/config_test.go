package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	c := Defaults()

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, "kv_changed", c.Listener.Channel)
	assert.Equal(t, 5, c.Campaign.MaxTargets)
	assert.Equal(t, "instagram.com/", c.Campaign.HostPattern)
	assert.Equal(t, "local", c.Agent.Mode)
	assert.Equal(t, 30*time.Second, c.LoadTimeout())
	assert.Equal(t, 500*time.Millisecond, c.PollInterval())
	assert.Equal(t, 2*time.Second, c.Settle())
	assert.Equal(t, 5*time.Second, c.Backoff())
}

func TestLoad_NoFile(t *testing.T) {
	c := Load()
	assert.Equal(t, Defaults(), c)
}

func TestLoad_NestedEnv(t *testing.T) {
	t.Setenv("APP_STORAGE_DRIVER", "postgres")
	t.Setenv("APP_AGENT_MODE", "remote")
	t.Setenv("APP_AGENT_URL", "http://agent:8090")
	t.Setenv("APP_POSTGRES_PORT", "6543")
	t.Setenv("APP_BROWSER_HEADLESS", "true")
	t.Setenv("APP_CAMPAIGN_HOST_PATTERN", "example.com/")

	c := Load()
	assert.Equal(t, "postgres", c.Storage.Driver)
	assert.Equal(t, "remote", c.Agent.Mode)
	assert.Equal(t, "http://agent:8090", c.Agent.URL)
	assert.Equal(t, 6543, c.Postgres.Port)
	assert.True(t, c.Browser.Headless)
	assert.Equal(t, "example.com/", c.Campaign.HostPattern)
	assert.Equal(t, ":8080", c.Server.Addr)
}

func TestDSN(t *testing.T) {
	c := Defaults()
	c.Postgres.User = "u"
	c.Postgres.Password = "p"
	c.Postgres.Host = "db"
	c.Postgres.DBName = "outreach"

	assert.Equal(t, "postgres://u:p@db:5432/outreach?sslmode=disable", c.DSN())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

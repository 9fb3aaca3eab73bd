package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamly-chat/chatsync"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, 2*time.Second, cfg.Sync.SkewAllowance)
	assert.Equal(t, BackendBolt, cfg.Backend.Kind)
	assert.Equal(t, uint32(5), cfg.Backend.Breaker.MaxFailures)
	assert.NoError(t, Validate(cfg))
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"port": 9000},
		"sync": {"interval": "500ms", "page_size": 20, "cursor_policy": "wall_clock", "optimistic": true},
		"backend": {"kind": "supabase", "supabase": {"url": "https://demo.supabase.co", "api_key": "anon"}}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "team_messages", cfg.Backend.Supabase.Table)

	opts := cfg.Sync.SyncOptions()
	assert.Equal(t, 500*time.Millisecond, opts.Interval)
	assert.Equal(t, 20, opts.PageSize)
	assert.Equal(t, chatsync.CursorWallClock, opts.CursorPolicy)

	view := cfg.Sync.ViewOptions()
	assert.True(t, view.Optimistic)
	assert.Equal(t, "Europe/Rome", view.Location.String())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("TEAMLY_SYNC__PAGE_SIZE", "25")
	t.Setenv("TEAMLY_BACKEND__KIND", "sql")
	t.Setenv("TEAMLY_BACKEND__DATABASE__DRIVER", "sqlite3")
	t.Setenv("TEAMLY_BACKEND__DATABASE__DSN", "file:chat.db")

	cfg, err := LoadConfig(writeConfig(t, `{"sync": {"page_size": 10}}`))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 25, cfg.Sync.PageSize)
	assert.Equal(t, BackendSQL, cfg.Backend.Kind)
	assert.Equal(t, "file:chat.db", cfg.Backend.Database.GetDSN())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nessuno.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig(writeConfig(t, `{}`))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"porta", func(c *Config) { c.Server.Port = 0 }},
		{"intervallo", func(c *Config) { c.Sync.Interval = 0 }},
		{"cursor policy", func(c *Config) { c.Sync.CursorPolicy = "random" }},
		{"timezone", func(c *Config) { c.Sync.Timezone = "Marte/Olympus" }},
		{"log", func(c *Config) { c.Log.Level = "rumoroso" }},
		{"backend", func(c *Config) { c.Backend.Kind = "ftp" }},
		{"supabase senza url", func(c *Config) { c.Backend.Kind = BackendSupabase }},
		{"sql senza dsn", func(c *Config) { c.Backend.Kind = BackendSQL }},
		{"driver sconosciuto", func(c *Config) {
			c.Backend.Kind = BackendSQL
			c.Backend.Database.Driver = "oracle"
			c.Backend.Database.DSN = "x"
		}},
		{"bolt senza path", func(c *Config) { c.Backend.Bolt.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestGetDSN(t *testing.T) {
	mysql := DatabaseConfig{Driver: "mysql", Host: "localhost", Port: 3306, User: "chat", Password: "pw", DBName: "teamly"}
	assert.Equal(t, "chat:pw@tcp(localhost:3306)/teamly?parseTime=true", mysql.GetDSN())

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "chat", Password: "pw", DBName: "teamly"}
	assert.Equal(t, "host=db port=5432 user=chat password=pw dbname=teamly sslmode=disable", pg.GetDSN())

	sqlite := DatabaseConfig{Driver: "sqlite3", DBName: "chat.db"}
	assert.Equal(t, "chat.db", sqlite.GetDSN())
}

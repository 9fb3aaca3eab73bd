package utils

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"teamly-chat/chatsync"
	"teamly-chat/viewmodel"
)

const (
	DefaultConfigPath = "config.json"
	EnvPrefix         = "TEAMLY_"
)

const (
	BackendSupabase = "supabase"
	BackendSQL      = "sql"
	BackendBolt     = "bolt"
)

// Configurazione del server
type ServerConfig struct {
	Port      int    `koanf:"port"`
	PublicURL string `koanf:"public_url"`
}

// Configurazione del polling e della vista chat
type SyncConfig struct {
	Interval       time.Duration `koanf:"interval"`
	PageSize       int           `koanf:"page_size"`
	PollLimit      int           `koanf:"poll_limit"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	CursorPolicy   string        `koanf:"cursor_policy"`
	SkewAllowance  time.Duration `koanf:"skew_allowance"`
	Optimistic     bool          `koanf:"optimistic"`
	SendRate       float64       `koanf:"send_rate"`
	SendBurst      int           `koanf:"send_burst"`
	Timezone       string        `koanf:"timezone"`
}

type SupabaseConfig struct {
	URL         string        `koanf:"url"`
	APIKey      string        `koanf:"api_key"`
	AccessToken string        `koanf:"access_token"`
	Table       string        `koanf:"table"`
	Timeout     time.Duration `koanf:"timeout"`
}

// Configurazione del database
type DatabaseConfig struct {
	Driver   string `koanf:"driver"`
	DSN      string `koanf:"dsn"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"dbname"`
}

type BoltConfig struct {
	Path string `koanf:"path"`
}

type BreakerConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MaxFailures uint32        `koanf:"max_failures"`
	Interval    time.Duration `koanf:"interval"`
	Timeout     time.Duration `koanf:"timeout"`
}

type BackendConfig struct {
	Kind     string         `koanf:"kind"`
	Supabase SupabaseConfig `koanf:"supabase"`
	Database DatabaseConfig `koanf:"database"`
	Bolt     BoltConfig     `koanf:"bolt"`
	Breaker  BreakerConfig  `koanf:"breaker"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// Configurazione completa
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Sync    SyncConfig    `koanf:"sync"`
	Backend BackendConfig `koanf:"backend"`
	Log     LogConfig     `koanf:"log"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.port":                  8080,
		"sync.interval":                "3s",
		"sync.page_size":               50,
		"sync.poll_limit":              0,
		"sync.cursor_policy":           string(chatsync.CursorServerMax),
		"sync.skew_allowance":          "2s",
		"sync.optimistic":              false,
		"sync.send_rate":               2.0,
		"sync.send_burst":              5,
		"sync.timezone":                "Europe/Rome",
		"backend.kind":                 BackendBolt,
		"backend.supabase.table":       "team_messages",
		"backend.supabase.timeout":     "10s",
		"backend.database.driver":      "mysql",
		"backend.database.port":        3306,
		"backend.bolt.path":            "teamly.db",
		"backend.breaker.enabled":      true,
		"backend.breaker.max_failures": 5,
		"backend.breaker.timeout":      "30s",
		"log.level":                    "info",
		"log.pretty":                   true,
	}
}

// Carica la configurazione: valori predefiniti, poi il file JSON, poi le
// variabili d'ambiente TEAMLY_ (TEAMLY_SYNC__PAGE_SIZE -> sync.page_size)
func LoadConfig(filePath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("errore nel caricamento dei valori predefiniti: %w", err)
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), json.Parser()); err != nil {
			return nil, fmt.Errorf("errore nell'apertura del file di configurazione: %w", err)
		}
	} else if _, err := os.Stat(DefaultConfigPath); err == nil {
		if err := k.Load(file.Provider(DefaultConfigPath), json.Parser()); err != nil {
			return nil, fmt.Errorf("errore nella decodifica del file di configurazione: %w", err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("errore nella lettura delle variabili d'ambiente: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("errore nella decodifica della configurazione: %w", err)
	}

	return &config, nil
}

// Validate controlla la coerenza della configurazione
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("porta del server non valida: %d", config.Server.Port)
	}
	if config.Sync.Interval <= 0 {
		return fmt.Errorf("intervallo di polling non valido: %s", config.Sync.Interval)
	}
	switch chatsync.CursorPolicy(config.Sync.CursorPolicy) {
	case chatsync.CursorServerMax, chatsync.CursorWallClock:
	default:
		return fmt.Errorf("cursor_policy non valida: %q", config.Sync.CursorPolicy)
	}
	if _, err := time.LoadLocation(config.Sync.Timezone); err != nil {
		return fmt.Errorf("timezone non valida: %w", err)
	}
	if _, err := zerolog.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("livello di log non valido: %w", err)
	}

	switch config.Backend.Kind {
	case BackendSupabase:
		if config.Backend.Supabase.URL == "" {
			return fmt.Errorf("backend.supabase.url è obbligatorio")
		}
		if config.Backend.Supabase.APIKey == "" {
			return fmt.Errorf("backend.supabase.api_key è obbligatorio")
		}
	case BackendSQL:
		switch config.Backend.Database.Driver {
		case "mysql", "postgres", "sqlite3":
		default:
			return fmt.Errorf("driver del database non supportato: %q", config.Backend.Database.Driver)
		}
		if config.Backend.Database.GetDSN() == "" {
			return fmt.Errorf("backend.database.dsn o dbname è obbligatorio")
		}
	case BackendBolt:
		if config.Backend.Bolt.Path == "" {
			return fmt.Errorf("backend.bolt.path è obbligatorio")
		}
	default:
		return fmt.Errorf("backend non supportato: %q", config.Backend.Kind)
	}
	return nil
}

// Ottieni la stringa di connessione al database
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.DBName == "" {
		return ""
	}
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.DBName)
	case "sqlite3":
		return c.DBName
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// SyncOptions converte la configurazione nelle opzioni del sincronizzatore
func (c *SyncConfig) SyncOptions() chatsync.Options {
	return chatsync.Options{
		Interval:       c.Interval,
		PageSize:       c.PageSize,
		PollLimit:      c.PollLimit,
		RequestTimeout: c.RequestTimeout,
		CursorPolicy:   chatsync.CursorPolicy(c.CursorPolicy),
		SkewAllowance:  c.SkewAllowance,
	}
}

// ViewOptions converte la configurazione nelle opzioni della vista chat.
// SenderID va impostato dal chiamante.
func (c *SyncConfig) ViewOptions() viewmodel.Options {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc = time.Local
	}
	return viewmodel.Options{
		Optimistic: c.Optimistic,
		SendRate:   rate.Limit(c.SendRate),
		SendBurst:  c.SendBurst,
		Location:   loc,
	}
}

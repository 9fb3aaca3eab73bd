package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"teamly-chat/chatsync"
	"teamly-chat/db"
	"teamly-chat/persistence"
	"teamly-chat/remote"
	"teamly-chat/utils"
)

// openBackend crea il Source configurato. La funzione restituita chiude
// le risorse del backend.
func openBackend(ctx context.Context, cfg utils.BackendConfig) (chatsync.Source, func() error, error) {
	var (
		source chatsync.Source
		closer = func() error { return nil }
	)

	switch cfg.Kind {
	case utils.BackendSupabase:
		source = remote.NewSupabaseClient(remote.SupabaseConfig{
			URL:         cfg.Supabase.URL,
			APIKey:      cfg.Supabase.APIKey,
			AccessToken: cfg.Supabase.AccessToken,
			Table:       cfg.Supabase.Table,
			Timeout:     cfg.Supabase.Timeout,
		})

	case utils.BackendSQL:
		manager, err := db.NewSQLManager(cfg.Database.Driver, cfg.Database.GetDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("errore nella connessione al database: %w", err)
		}
		if _, err := manager.ApplyMigrations(ctx); err != nil {
			manager.Close()
			return nil, nil, err
		}
		source, closer = manager, manager.Close

	case utils.BackendBolt:
		pm, err := persistence.NewPersistenceManager(cfg.Bolt.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("errore nell'apertura dell'archivio locale: %w", err)
		}
		source, closer = pm, pm.Close

	default:
		return nil, nil, fmt.Errorf("backend non supportato: %q", cfg.Kind)
	}

	if cfg.Breaker.Enabled {
		source = remote.NewBreakerSource(source, cfg.Kind, remote.BreakerSettings{
			MaxFailures: cfg.Breaker.MaxFailures,
			Interval:    cfg.Breaker.Interval,
			Timeout:     cfg.Breaker.Timeout,
		})
	}

	log.Info().Str("backend", cfg.Kind).Bool("breaker", cfg.Breaker.Enabled).Msg("✅ Backend dei messaggi pronto")
	return source, closer, nil
}

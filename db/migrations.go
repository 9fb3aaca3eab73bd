package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Migration rappresenta una singola migration del database
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Tutte le migration disponibili in ordine di versione.
// Una sola istruzione per migration: il driver MySQL non accetta statement multipli.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
		CREATE TABLE IF NOT EXISTS team_messages (
			id VARCHAR(64) PRIMARY KEY,
			team_id VARCHAR(255) NOT NULL,
			sender_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
	},
	{
		Version:     2,
		Description: "Index messages by team and creation time",
		SQL:         `CREATE INDEX idx_team_messages_team_created ON team_messages(team_id, created_at)`,
	},
}

// ApplyMigrations applica tutte le migration necessarie
func (m *SQLManager) ApplyMigrations(ctx context.Context) (int, error) {
	log.Info().Str("driver", m.driver).Msg("🔄 Controllo migration del database...")

	// Crea la tabella delle migration se non esiste
	if err := m.createMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("errore nella creazione della tabella migrations: %w", err)
	}

	// Ottieni la versione attuale del database
	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("errore nel recupero della versione attuale: %w", err)
	}

	log.Info().Int("version", currentVersion).Msg("📊 Versione database attuale")

	// Applica tutte le migration necessarie
	applied := 0
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}
		log.Info().Int("version", migration.Version).Str("description", migration.Description).Msg("🔄 Applicando migration")

		if err := m.applyMigration(ctx, migration); err != nil {
			return applied, fmt.Errorf("errore nell'applicazione della migration %d: %w", migration.Version, err)
		}

		applied++
		log.Info().Int("version", migration.Version).Msg("✅ Migration applicata con successo")
	}

	if applied == 0 {
		log.Info().Msg("✅ Database aggiornato, nessuna migration necessaria")
	} else {
		log.Info().Int("count", applied).Msg("🎉 Migration applicate con successo")
	}

	return applied, nil
}

// createMigrationsTable crea la tabella per tracciare le migration
func (m *SQLManager) createMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description VARCHAR(255) NOT NULL,
			applied_at BIGINT NOT NULL
		)
	`)
	return err
}

// getCurrentVersion ottiene la versione corrente del database
func (m *SQLManager) getCurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// applyMigration applica una singola migration
func (m *SQLManager) applyMigration(ctx context.Context, migration Migration) error {
	// Inizia una transazione
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Rollback automatico se non viene fatto commit

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("errore nell'esecuzione SQL: %w", err)
	}

	// Registra la migration come applicata
	_, err = tx.ExecContext(ctx,
		m.rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
		migration.Version, migration.Description, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("errore nel registrare la migration: %w", err)
	}

	// Commit della transazione
	return tx.Commit()
}

// GetAppliedMigrations restituisce tutte le migration applicate
func (m *SQLManager) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT version, description
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appliedMigrations []Migration
	for rows.Next() {
		var migration Migration
		if err := rows.Scan(&migration.Version, &migration.Description); err != nil {
			return nil, err
		}
		appliedMigrations = append(appliedMigrations, migration)
	}

	return appliedMigrations, rows.Err()
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"teamly-chat/chatsync"
	"teamly-chat/models"
)

const (
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const messageColumns = "id, team_id, sender_id, content, created_at"

// SQLManager è il backend self-hosted dei messaggi su database SQL.
// created_at è salvato in microsecondi Unix per avere lo stesso ordinamento
// su tutti i driver.
type SQLManager struct {
	db     *sql.DB
	driver string
	now    func() time.Time

	mu         sync.Mutex
	lastMicros int64
}

// Crea una nuova istanza del gestore SQL
func NewSQLManager(driver, dsn string) (*SQLManager, error) {
	switch driver {
	case DriverMySQL, DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("driver SQL non supportato: %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	// Verifica la connessione
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Imposta i parametri di connessione
	if driver == DriverSQLite {
		// ogni connessione sqlite in memoria è un database diverso
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return &SQLManager{db: db, driver: driver, now: time.Now}, nil
}

func (m *SQLManager) FetchMessages(ctx context.Context, q chatsync.FetchQuery) ([]models.Message, error) {
	var (
		query strings.Builder
		args  = []interface{}{q.ConversationID}
	)
	query.WriteString("SELECT " + messageColumns + " FROM team_messages WHERE team_id = ?")

	tail := q.CreatedAfter == nil
	if tail {
		query.WriteString(" ORDER BY created_at DESC, id DESC")
	} else {
		query.WriteString(" AND created_at > ? ORDER BY created_at ASC, id ASC")
		args = append(args, q.CreatedAfter.UnixMicro())
	}
	if q.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := m.db.QueryContext(ctx, m.rebind(query.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chatsync.ErrNetwork, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			msg    models.Message
			micros int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &micros); err != nil {
			return nil, fmt.Errorf("lettura dei messaggi: %w", err)
		}
		msg.CreatedAt = time.UnixMicro(micros).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", chatsync.ErrNetwork, err)
	}

	if tail {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

// SendMessage salva un nuovo messaggio con ID e timestamp assegnati dal server
func (m *SQLManager) SendMessage(ctx context.Context, conversationID, senderID, body string) (models.Message, error) {
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.UnixMicro(m.nextMicros()).UTC(),
	}
	if err := m.SaveMessage(ctx, msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Salva un messaggio nel database così com'è (import, seed)
func (m *SQLManager) SaveMessage(ctx context.Context, msg models.Message) error {
	_, err := m.db.ExecContext(ctx,
		m.rebind("INSERT INTO team_messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?)"),
		msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.CreatedAt.UnixMicro(),
	)
	if err != nil {
		log.Error().Err(err).Str("conversation", msg.ConversationID).Msg("❌ Errore nel salvataggio del messaggio")
		return fmt.Errorf("salvataggio del messaggio %s: %w", msg.ID, err)
	}
	return nil
}

// Conta i messaggi di una conversazione
func (m *SQLManager) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, m.rebind("SELECT COUNT(*) FROM team_messages WHERE team_id = ?"), conversationID).Scan(&count)
	return count, err
}

// Chiude la connessione al database
func (m *SQLManager) Close() error {
	return m.db.Close()
}

// nextMicros restituisce timestamp strettamente crescenti anche a parità di orologio
func (m *SQLManager) nextMicros() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	micros := m.now().UnixMicro()
	if micros <= m.lastMicros {
		micros = m.lastMicros + 1
	}
	m.lastMicros = micros
	return micros
}

// rebind converte i segnaposto ? nel formato $n richiesto da Postgres
func (m *SQLManager) rebind(query string) string {
	if m.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

package chatsync

import (
	"context"
	"errors"
	"time"

	"teamly-chat/models"
)

var (
	// ErrNetwork indica un errore transitorio (timeout, connessione persa, 5xx)
	ErrNetwork = errors.New("errore di rete")
	// ErrAuth indica una sessione scaduta o non valida
	ErrAuth = errors.New("sessione non valida")

	ErrAlreadyRunning = errors.New("sincronizzatore già in esecuzione")
	ErrNotRunning     = errors.New("sincronizzatore non in esecuzione")
)

// FetchQuery descrive una richiesta di messaggi al backend.
//
// Con CreatedAfter nil il backend restituisce la coda della conversazione
// (gli ultimi Limit messaggi). Altrimenti restituisce i messaggi con
// CreatedAt strettamente maggiore, al massimo Limit (0 = nessun limite).
// In entrambi i casi l'ordine è crescente per CreatedAt.
type FetchQuery struct {
	ConversationID string
	CreatedAfter   *time.Time
	Limit          int
}

// Source è il backend remoto che conserva i messaggi
type Source interface {
	FetchMessages(ctx context.Context, q FetchQuery) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID, senderID, body string) (models.Message, error)
}

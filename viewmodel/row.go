package viewmodel

import (
	"time"

	"teamly-chat/models"
)

const (
	timeLayout = "15:04"
	dayLayout  = "02/01/2006"
)

// Row è una riga della lista chat pronta per la vista
type Row struct {
	MessageID string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sentAt"`
	TimeLabel string    `json:"time"`
	DayLabel  string    `json:"day,omitempty"` // solo sulla prima riga di ogni giorno
	IsOwn     bool      `json:"isOwn"`
}

type UpdateKind string

const (
	UpdateReplaceAll  UpdateKind = "replace"
	UpdateInsert      UpdateKind = "insert"
	UpdateAuthExpired UpdateKind = "auth_expired"
	UpdateLoadError   UpdateKind = "load_error"
)

// RowUpdate è l'aggiornamento che la vista deve applicare
type RowUpdate struct {
	Kind           UpdateKind `json:"kind"`
	ConversationID string     `json:"conversationId"`
	Rows           []Row      `json:"rows,omitempty"`
	ScrollToBottom bool       `json:"scrollToBottom"`
	Error          string     `json:"error,omitempty"`
}

// Renderer applica gli aggiornamenti alla vista (WebSocket, terminale, test).
// Render non deve richiamare il ChatViewModel.
type Renderer interface {
	Render(update RowUpdate)
}

type RendererFunc func(update RowUpdate)

func (f RendererFunc) Render(update RowUpdate) { f(update) }

func newRow(msg models.Message, ownSenderID string, loc *time.Location) Row {
	return Row{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		SentAt:    msg.CreatedAt,
		TimeLabel: msg.CreatedAt.In(loc).Format(timeLayout),
		IsOwn:     ownSenderID != "" && msg.SenderID == ownSenderID,
	}
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

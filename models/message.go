package models

import (
	"time"
)

// Message represents a team chat message as stored by the backend
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"team_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageIDs restituisce gli ID dei messaggi nello stesso ordine
func MessageIDs(messages []Message) []string {
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	return ids
}

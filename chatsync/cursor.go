package chatsync

import (
	"sync"
	"time"
)

// Cursor è il watermark temporale usato per chiedere solo i messaggi nuovi.
// Non torna mai indietro.
type Cursor struct {
	mu sync.RWMutex
	at time.Time
}

func NewCursor(at time.Time) *Cursor {
	return &Cursor{at: at}
}

func (c *Cursor) Current() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.at
}

// Advance sposta il cursore a "to" se è successivo al valore attuale e
// riporta se il cursore si è mosso
func (c *Cursor) Advance(to time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !to.After(c.at) {
		return false
	}
	c.at = to
	return true
}

package chatsync

import (
	"sync"
	"time"

	"teamly-chat/models"
)

// Store contiene i messaggi di una conversazione, ordinati per CreatedAt
// crescente e senza ID duplicati
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	ids      map[string]struct{}
}

func NewStore() *Store {
	return &Store{ids: make(map[string]struct{})}
}

// Initialize sostituisce il contenuto. L'input deve essere già ordinato:
// non viene riordinato. Un input vuoto non modifica nulla.
func (s *Store) Initialize(messages []models.Message) {
	if len(messages) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]models.Message, 0, len(messages))
	s.ids = make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		if _, dup := s.ids[msg.ID]; dup {
			continue
		}
		s.ids[msg.ID] = struct{}{}
		s.messages = append(s.messages, msg)
	}
}

// Merge accoda i messaggi con ID non ancora presenti, nell'ordine ricevuto,
// e restituisce quelli effettivamente aggiunti.
// Il chiamante deve fornire messaggi con CreatedAt non decrescente rispetto
// a quelli già presenti, altrimenti l'ordinamento si rompe (vedi Ordered).
func (s *Store) Merge(messages []models.Message) []models.Message {
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var appended []models.Message
	for _, msg := range messages {
		if _, dup := s.ids[msg.ID]; dup {
			continue
		}
		s.ids[msg.ID] = struct{}{}
		s.messages = append(s.messages, msg)
		appended = append(appended, msg)
	}
	return appended
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot restituisce una copia dei messaggi
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Last restituisce l'ultimo messaggio in ordine di inserimento
func (s *Store) Last() (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return models.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// MaxCreatedAt restituisce il CreatedAt più recente, anche se lo store
// non è più ordinato
func (s *Store) MaxCreatedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestCreatedAt(s.messages)
}

// Ordered riporta se i messaggi sono ancora in ordine crescente
func (s *Store) Ordered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 1; i < len(s.messages); i++ {
		if s.messages[i].CreatedAt.Before(s.messages[i-1].CreatedAt) {
			return false
		}
	}
	return true
}

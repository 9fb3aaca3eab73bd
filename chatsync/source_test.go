package chatsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"teamly-chat/models"
)

// fakeSource simula il backend: tiene i messaggi in memoria e conta le
// richieste in volo
type fakeSource struct {
	mu       sync.Mutex
	messages []models.Message
	calls    []FetchQuery
	sent     []models.Message

	// fetchFn, se impostata, sostituisce la risposta standard
	fetchFn func(ctx context.Context, q FetchQuery) ([]models.Message, error)
	sendErr error
	delay   time.Duration

	inFlight    int32
	maxInFlight int32
}

func (f *fakeSource) add(msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msgs...)
}

func (f *fakeSource) FetchMessages(ctx context.Context, q FetchQuery) ([]models.Message, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInFlight)
		if n <= prev || atomic.CompareAndSwapInt32(&f.maxInFlight, prev, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, q)
	fn := f.fetchFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, q)
	}
	return f.query(q), nil
}

func (f *fakeSource) query(q FetchQuery) []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []models.Message
	for _, msg := range f.messages {
		if msg.ConversationID != q.ConversationID {
			continue
		}
		if q.CreatedAfter != nil && !msg.CreatedAt.After(*q.CreatedAfter) {
			continue
		}
		matched = append(matched, msg)
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		if q.CreatedAfter == nil {
			matched = matched[len(matched)-q.Limit:]
		} else {
			matched = matched[:q.Limit]
		}
	}
	return matched
}

func (f *fakeSource) SendMessage(ctx context.Context, conversationID, senderID, body string) (models.Message, error) {
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := models.Message{
		ID:             "sent-" + body,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.Now(),
	}
	f.sent = append(f.sent, msg)
	return msg, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recorder struct {
	mu      sync.Mutex
	changes []ChangeSet
}

func (r *recorder) OnChange(cs ChangeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, cs)
}

func (r *recorder) all() []ChangeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeSet, len(r.changes))
	copy(out, r.changes)
	return out
}

func (r *recorder) count(kind ChangeKind) int {
	n := 0
	for _, cs := range r.all() {
		if cs.Kind == kind {
			n++
		}
	}
	return n
}

var base = time.Date(2025, 3, 14, 18, 30, 0, 0, time.UTC)

func msgAt(id string, offset time.Duration) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "team-1",
		SenderID:       "user-" + id,
		Body:           "body " + id,
		CreatedAt:      base.Add(offset),
	}
}

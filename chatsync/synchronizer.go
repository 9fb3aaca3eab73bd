package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"teamly-chat/models"
)

// CursorPolicy decide a quale valore avanzare il cursore dopo un tick riuscito
type CursorPolicy string

const (
	// CursorServerMax avanza al CreatedAt più recente ricevuto, e all'ora
	// locale (meno SkewAllowance) solo quando il tick non restituisce nulla
	CursorServerMax CursorPolicy = "server_max"
	// CursorWallClock avanza sempre all'ora locale di ricezione
	CursorWallClock CursorPolicy = "wall_clock"
)

// Options configura il polling di una conversazione
type Options struct {
	Interval       time.Duration
	PageSize       int // limite del caricamento iniziale
	PollLimit      int // limite per tick, 0 = nessun limite
	RequestTimeout time.Duration
	CursorPolicy   CursorPolicy
	SkewAllowance  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Interval:       3 * time.Second,
		PageSize:       50,
		PollLimit:      0,
		RequestTimeout: 2400 * time.Millisecond,
		CursorPolicy:   CursorServerMax,
		SkewAllowance:  2 * time.Second,
	}
}

// normalize completa i valori mancanti. Il timeout delle richieste resta
// sempre più corto dell'intervallo, così le richieste in volo non si accumulano.
func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.PollLimit < 0 {
		o.PollLimit = 0
	}
	if o.RequestTimeout <= 0 || o.RequestTimeout >= o.Interval {
		o.RequestTimeout = o.Interval * 4 / 5
	}
	if o.CursorPolicy != CursorWallClock {
		o.CursorPolicy = CursorServerMax
	}
	if o.SkewAllowance < 0 {
		o.SkewAllowance = 0
	}
	return o
}

type ChangeKind int

const (
	ChangeSnapshot ChangeKind = iota
	ChangeAppend
	ChangeAuthExpired
	ChangeReorder
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSnapshot:
		return "snapshot"
	case ChangeAppend:
		return "append"
	case ChangeAuthExpired:
		return "auth_expired"
	case ChangeReorder:
		return "reorder"
	default:
		return "unknown"
	}
}

// ChangeSet è l'evento emesso ai subscriber.
// Snapshot contiene l'intero store, Append solo i messaggi aggiunti.
// Reorder contiene l'intero contenuto quando un poll colloca messaggi
// prima di quelli inviati e non ancora confermati.
type ChangeSet struct {
	Kind           ChangeKind
	ConversationID string
	Messages       []models.Message
	Err            error
}

// Subscriber riceve i ChangeSet in ordine. OnChange non deve chiamare Stop.
type Subscriber interface {
	OnChange(cs ChangeSet)
}

type SubscriberFunc func(cs ChangeSet)

func (f SubscriberFunc) OnChange(cs ChangeSet) { f(cs) }

type state int

const (
	stateIdle state = iota
	stateStarting
	stateRunning
)

// Synchronizer mantiene aggiornato lo store di una conversazione
// interrogando periodicamente il backend
type Synchronizer struct {
	source  Source
	opts    Options
	metrics *Metrics
	now     func() time.Time

	mu             sync.Mutex
	state          state
	generation     uint64
	conversationID string
	store          *Store
	cursor         *Cursor
	pending        []models.Message // inviati, non ancora restituiti dal polling
	stopChan       chan struct{}
	done           chan struct{}
	pollNow        chan struct{}

	// emitMu serializza merge ed emissioni tra il loop, Ingest e Stop
	emitMu     sync.Mutex
	authFailed bool

	subMu       sync.RWMutex
	subscribers map[int]Subscriber
	nextSubID   int
}

func NewSynchronizer(source Source, opts Options, metrics *Metrics) *Synchronizer {
	done := make(chan struct{})
	close(done)
	return &Synchronizer{
		source:      source,
		opts:        opts.normalize(),
		metrics:     metrics,
		now:         time.Now,
		done:        done,
		subscribers: make(map[int]Subscriber),
	}
}

func (s *Synchronizer) Options() Options {
	return s.opts
}

// Subscribe registra un subscriber e restituisce la funzione per rimuoverlo
func (s *Synchronizer) Subscribe(sub Subscriber) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = sub
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

// Start esegue il caricamento iniziale e avvia il polling.
// Se il caricamento fallisce l'errore viene restituito e il sincronizzatore
// resta fermo: il chiamante può riprovare chiamando di nuovo Start.
func (s *Synchronizer) Start(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = stateStarting
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	initial, err := s.source.FetchMessages(ctx, FetchQuery{
		ConversationID: conversationID,
		Limit:          s.opts.PageSize,
	})
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.state = stateIdle
		}
		s.mu.Unlock()
		log.Error().Err(err).Str("conversation", conversationID).Msg("❌ Errore nel caricamento iniziale dei messaggi")
		return fmt.Errorf("caricamento iniziale della conversazione %s: %w", conversationID, err)
	}

	store := NewStore()
	store.Initialize(initial)
	cursor := NewCursor(s.initialCursor(initial))

	s.emitMu.Lock()
	s.mu.Lock()
	if s.generation != gen {
		// fermato durante il caricamento
		s.mu.Unlock()
		s.emitMu.Unlock()
		return ErrNotRunning
	}
	s.state = stateRunning
	s.conversationID = conversationID
	s.store = store
	s.cursor = cursor
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.pollNow = make(chan struct{}, 1)
	s.authFailed = false
	s.pending = nil
	stop, done, pollNow := s.stopChan, s.done, s.pollNow
	s.mu.Unlock()

	s.emit(ChangeSet{
		Kind:           ChangeSnapshot,
		ConversationID: conversationID,
		Messages:       store.Snapshot(),
	})
	s.emitMu.Unlock()

	log.Info().
		Str("conversation", conversationID).
		Int("count", store.Len()).
		Time("cursor", cursor.Current()).
		Dur("interval", s.opts.Interval).
		Msg("💬 Conversazione caricata, polling avviato")

	go s.loop(gen, conversationID, store, cursor, stop, done, pollNow)
	return nil
}

// Stop ferma il polling. Può essere chiamato più volte.
// Il risultato di una richiesta ancora in volo viene scartato.
func (s *Synchronizer) Stop() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateIdle:
		return
	case stateRunning:
		close(s.stopChan)
	}
	s.state = stateIdle
	s.generation++
	log.Info().Str("conversation", s.conversationID).Msg("Polling della conversazione fermato")
}

// Done si chiude quando la goroutine di polling dell'ultima Start termina
func (s *Synchronizer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// PollNow richiede un tick immediato. Non crea mai richieste concorrenti:
// il tick viene eseguito dal loop appena libero.
func (s *Synchronizer) PollNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return ErrNotRunning
	}
	select {
	case s.pollNow <- struct{}{}:
	default:
	}
	return nil
}

// Ingest mostra subito messaggi ottenuti fuori dal polling (per esempio
// la risposta di un invio). Restano in attesa in coda alla conversazione,
// fuori dallo store: entrano nello store solo quando il polling li
// restituisce, nella posizione decisa dal backend. Il cursore non viene toccato.
func (s *Synchronizer) Ingest(messages []models.Message) ([]models.Message, error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	conversationID := s.conversationID

	var accepted []models.Message
	for _, msg := range messages {
		if msg.ConversationID != conversationID {
			log.Warn().Str("conversation", conversationID).Str("message", msg.ID).Msg("Messaggio di un'altra conversazione ignorato")
			continue
		}
		if s.store.Contains(msg.ID) || containsID(s.pending, msg.ID) {
			continue
		}
		s.pending = append(s.pending, msg)
		accepted = append(accepted, msg)
	}
	s.mu.Unlock()

	if len(accepted) > 0 {
		s.emit(ChangeSet{Kind: ChangeAppend, ConversationID: conversationID, Messages: accepted})
	}
	return accepted, nil
}

func (s *Synchronizer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

func (s *Synchronizer) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Snapshot restituisce i messaggi dell'ultima conversazione avviata,
// seguiti da quelli inviati e non ancora confermati dal polling
func (s *Synchronizer) Snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return append(s.store.Snapshot(), s.pending...)
}

// Cursor restituisce il valore attuale del cursore
func (s *Synchronizer) Cursor() time.Time {
	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()
	if cursor == nil {
		return time.Time{}
	}
	return cursor.Current()
}

func (s *Synchronizer) loop(gen uint64, conversationID string, store *Store, cursor *Cursor, stop <-chan struct{}, done chan<- struct{}, pollNow <-chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		case <-pollNow:
		}

		s.tick(gen, conversationID, store, cursor)

		// Un tick arrivato mentre la richiesta era in volo viene scartato
		select {
		case <-ticker.C:
			s.metrics.skipped()
			log.Debug().Str("conversation", conversationID).Msg("Tick saltato, richiesta precedente ancora in corso")
		default:
		}
	}
}

func (s *Synchronizer) tick(gen uint64, conversationID string, store *Store, cursor *Cursor) {
	after := cursor.Current()

	// La richiesta non dipende da Stop: può terminare, ma il risultato
	// viene scartato se nel frattempo la generazione è cambiata
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	started := time.Now()
	messages, err := s.source.FetchMessages(ctx, FetchQuery{
		ConversationID: conversationID,
		CreatedAfter:   &after,
		Limit:          s.opts.PollLimit,
	})
	s.metrics.tick(time.Since(started))
	receivedAt := s.now()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if !s.isCurrent(gen) {
		log.Debug().Str("conversation", conversationID).Msg("Risultato del polling scartato, sincronizzatore fermato")
		return
	}

	if err != nil {
		s.handleTickError(conversationID, err)
		return
	}
	s.authFailed = false

	appended := store.Merge(messages)
	s.advanceCursor(cursor, messages, receivedAt)

	if len(appended) == 0 {
		return
	}
	s.metrics.merged(len(appended))
	log.Debug().
		Str("conversation", conversationID).
		Int("count", len(appended)).
		Time("cursor", cursor.Current()).
		Msg("📥 Nuovi messaggi")
	if cs, ok := s.reconcile(conversationID, store, appended); ok {
		s.emit(cs)
	}
}

// reconcile toglie dall'attesa i messaggi ora presenti nello store e
// decide cosa emettere. La vista mostra lo store precedente seguito dai
// messaggi in attesa: se il poll li ha restituiti per primi basta un
// Append del resto, altrimenti serve un Reorder con il contenuto completo.
func (s *Synchronizer) reconcile(conversationID string, store *Store, appended []models.Message) (ChangeSet, bool) {
	s.mu.Lock()
	pending := s.pending
	var remaining []models.Message
	for _, msg := range pending {
		if !store.Contains(msg.ID) {
			remaining = append(remaining, msg)
		}
	}
	s.pending = remaining
	s.mu.Unlock()

	if len(remaining) == 0 && hasPrefixIDs(appended, pending) {
		rest := appended[len(pending):]
		if len(rest) == 0 {
			return ChangeSet{}, false
		}
		return ChangeSet{Kind: ChangeAppend, ConversationID: conversationID, Messages: rest}, true
	}

	log.Debug().Str("conversation", conversationID).Int("pending", len(remaining)).Msg("Messaggi inviati riposizionati dal polling")
	return ChangeSet{
		Kind:           ChangeReorder,
		ConversationID: conversationID,
		Messages:       append(store.Snapshot(), remaining...),
	}, true
}

// handleTickError registra l'errore. Store e cursore restano invariati,
// quindi lo stesso intervallo verrà richiesto al prossimo tick.
func (s *Synchronizer) handleTickError(conversationID string, err error) {
	switch {
	case errors.Is(err, ErrAuth):
		s.metrics.failed("auth")
		log.Warn().Err(err).Str("conversation", conversationID).Msg("🔒 Sessione scaduta durante il polling")
		if !s.authFailed {
			s.authFailed = true
			s.emit(ChangeSet{Kind: ChangeAuthExpired, ConversationID: conversationID, Err: err})
		}
	case errors.Is(err, context.DeadlineExceeded):
		s.metrics.failed("timeout")
		log.Warn().Err(err).Str("conversation", conversationID).Msg("Timeout nel polling, riprovo al prossimo tick")
	default:
		s.metrics.failed("network")
		log.Warn().Err(err).Str("conversation", conversationID).Msg("Errore nel polling, riprovo al prossimo tick")
	}
}

func (s *Synchronizer) initialCursor(initial []models.Message) time.Time {
	now := s.now()
	if s.opts.CursorPolicy == CursorWallClock {
		return now
	}
	if latest, ok := latestCreatedAt(initial); ok {
		return latest
	}
	return now.Add(-s.opts.SkewAllowance)
}

func (s *Synchronizer) advanceCursor(cursor *Cursor, messages []models.Message, receivedAt time.Time) {
	if s.opts.CursorPolicy == CursorWallClock {
		cursor.Advance(receivedAt)
		return
	}
	if latest, ok := latestCreatedAt(messages); ok {
		cursor.Advance(latest)
		return
	}
	cursor.Advance(receivedAt.Add(-s.opts.SkewAllowance))
}

func (s *Synchronizer) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning && s.generation == gen
}

// emit va chiamato con emitMu acquisito
func (s *Synchronizer) emit(cs ChangeSet) {
	s.subMu.RLock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.OnChange(cs)
	}
}

func containsID(messages []models.Message, id string) bool {
	for _, msg := range messages {
		if msg.ID == id {
			return true
		}
	}
	return false
}

func hasPrefixIDs(messages, prefix []models.Message) bool {
	if len(prefix) > len(messages) {
		return false
	}
	for i := range prefix {
		if messages[i].ID != prefix[i].ID {
			return false
		}
	}
	return true
}

func latestCreatedAt(messages []models.Message) (time.Time, bool) {
	var latest time.Time
	for _, msg := range messages {
		if msg.CreatedAt.After(latest) {
			latest = msg.CreatedAt
		}
	}
	return latest, len(messages) > 0
}

package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"teamly-chat/chatsync"
	"teamly-chat/models"
)

var (
	ErrEmptyMessage = errors.New("contenuto del messaggio vuoto")
	ErrRateLimited  = errors.New("troppi messaggi, riprova tra poco")
	ErrNotOpen      = errors.New("nessuna conversazione aperta")
	ErrAlreadyOpen  = errors.New("conversazione già aperta")
)

// SendError è restituito quando il backend rifiuta un messaggio.
// Il messaggio non viene ritentato: Body serve per il reinvio manuale.
type SendError struct {
	ConversationID string
	Body           string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("invio del messaggio nella conversazione %s non riuscito: %v", e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Synchronizer è la parte di chatsync.Synchronizer usata dalla vista
type Synchronizer interface {
	Subscribe(sub chatsync.Subscriber) func()
	Start(ctx context.Context, conversationID string) error
	Stop()
	Done() <-chan struct{}
	Ingest(messages []models.Message) ([]models.Message, error)
}

// Options configura la vista chat
type Options struct {
	SenderID   string
	Optimistic bool       // inserisce subito il messaggio inviato
	SendRate   rate.Limit // messaggi al secondo, 0 = nessun limite
	SendBurst  int
	Location   *time.Location
}

// ChatViewModel trasforma i ChangeSet del sincronizzatore in righe per la vista
type ChatViewModel struct {
	syncer   Synchronizer
	source   chatsync.Source
	renderer Renderer
	opts     Options
	limiter  *rate.Limiter

	mu             sync.Mutex
	conversationID string
	rows           []Row
	atBottom       bool
	opened         bool
	unsubscribe    func()
}

func New(syncer Synchronizer, source chatsync.Source, renderer Renderer, opts Options) *ChatViewModel {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	limit, burst := rate.Inf, 0
	if opts.SendRate > 0 {
		limit = opts.SendRate
		burst = opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
	}
	return &ChatViewModel{
		syncer:   syncer,
		source:   source,
		renderer: renderer,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		atBottom: true,
	}
}

// Open avvia la sincronizzazione della conversazione. Se il caricamento
// iniziale fallisce la vista riceve UpdateLoadError e può chiamare Reload.
// Con una conversazione già aperta restituisce ErrAlreadyOpen: prima Close.
func (vm *ChatViewModel) Open(ctx context.Context, conversationID string) error {
	vm.mu.Lock()
	if vm.opened {
		vm.mu.Unlock()
		return ErrAlreadyOpen
	}
	previous := vm.conversationID
	vm.conversationID = conversationID
	if vm.unsubscribe == nil {
		vm.unsubscribe = vm.syncer.Subscribe(vm)
	}
	vm.mu.Unlock()

	if err := vm.syncer.Start(ctx, conversationID); err != nil {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		if errors.Is(err, chatsync.ErrAlreadyRunning) {
			// la conversazione aperta continua a sincronizzarsi
			vm.conversationID = previous
			return err
		}
		vm.renderer.Render(RowUpdate{
			Kind:           UpdateLoadError,
			ConversationID: conversationID,
			Error:          err.Error(),
		})
		return err
	}

	vm.mu.Lock()
	vm.opened = true
	vm.mu.Unlock()
	return nil
}

// Reload riavvia la conversazione da zero con un nuovo caricamento iniziale
func (vm *ChatViewModel) Reload(ctx context.Context) error {
	vm.mu.Lock()
	conversationID := vm.conversationID
	vm.mu.Unlock()
	if conversationID == "" {
		return ErrNotOpen
	}

	vm.syncer.Stop()
	<-vm.syncer.Done()

	vm.mu.Lock()
	vm.opened = false
	vm.mu.Unlock()
	return vm.Open(ctx, conversationID)
}

// Close ferma la sincronizzazione; lo stato della conversazione viene perso
func (vm *ChatViewModel) Close() {
	vm.syncer.Stop()

	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.opened = false
	if vm.unsubscribe != nil {
		vm.unsubscribe()
		vm.unsubscribe = nil
	}
}

// SetAtBottom è chiamato dalla vista quando l'utente scorre la lista
func (vm *ChatViewModel) SetAtBottom(atBottom bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.atBottom = atBottom
}

func (vm *ChatViewModel) AtBottom() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.atBottom
}

// Rows restituisce una copia delle righe visualizzate
func (vm *ChatViewModel) Rows() []Row {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]Row, len(vm.rows))
	copy(out, vm.rows)
	return out
}

// Send invia un messaggio. Di default non viene inserito nella lista:
// comparirà al prossimo tick di polling.
func (vm *ChatViewModel) Send(ctx context.Context, body string) (models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, ErrEmptyMessage
	}

	vm.mu.Lock()
	conversationID := vm.conversationID
	vm.mu.Unlock()
	if conversationID == "" {
		return models.Message{}, ErrNotOpen
	}

	if !vm.limiter.Allow() {
		return models.Message{}, ErrRateLimited
	}

	msg, err := vm.source.SendMessage(ctx, conversationID, vm.opts.SenderID, body)
	if err != nil {
		log.Error().Err(err).Str("conversation", conversationID).Msg("❌ Errore nell'invio del messaggio")
		return models.Message{}, &SendError{ConversationID: conversationID, Body: body, Err: err}
	}

	if vm.opts.Optimistic {
		if _, err := vm.syncer.Ingest([]models.Message{msg}); err != nil {
			log.Warn().Err(err).Str("message", msg.ID).Msg("Messaggio inviato ma non inserito nella lista")
		}
	}
	return msg, nil
}

// OnChange riceve i ChangeSet dal sincronizzatore
func (vm *ChatViewModel) OnChange(cs chatsync.ChangeSet) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if cs.ConversationID != vm.conversationID {
		return
	}

	switch cs.Kind {
	case chatsync.ChangeSnapshot:
		vm.rows = vm.buildRows(nil, cs.Messages)
		vm.atBottom = true
		vm.renderer.Render(RowUpdate{
			Kind:           UpdateReplaceAll,
			ConversationID: cs.ConversationID,
			Rows:           copyRows(vm.rows),
			ScrollToBottom: true,
		})

	case chatsync.ChangeReorder:
		// stesso contenuto in un ordine diverso: la posizione resta quella scelta dall'utente
		vm.rows = vm.buildRows(nil, cs.Messages)
		vm.renderer.Render(RowUpdate{
			Kind:           UpdateReplaceAll,
			ConversationID: cs.ConversationID,
			Rows:           copyRows(vm.rows),
			ScrollToBottom: vm.atBottom,
		})

	case chatsync.ChangeAppend:
		// la posizione va letta prima di inserire le nuove righe
		wasAtBottom := vm.atBottom
		var prev *Row
		if len(vm.rows) > 0 {
			prev = &vm.rows[len(vm.rows)-1]
		}
		added := vm.buildRows(prev, cs.Messages)
		vm.rows = append(vm.rows, added...)
		vm.renderer.Render(RowUpdate{
			Kind:           UpdateInsert,
			ConversationID: cs.ConversationID,
			Rows:           copyRows(added),
			ScrollToBottom: wasAtBottom,
		})

	case chatsync.ChangeAuthExpired:
		errText := ""
		if cs.Err != nil {
			errText = cs.Err.Error()
		}
		vm.renderer.Render(RowUpdate{
			Kind:           UpdateAuthExpired,
			ConversationID: cs.ConversationID,
			Error:          errText,
		})
	}
}

func (vm *ChatViewModel) buildRows(prev *Row, messages []models.Message) []Row {
	rows := make([]Row, 0, len(messages))
	for _, msg := range messages {
		row := newRow(msg, vm.opts.SenderID, vm.opts.Location)
		if prev == nil || !sameDay(prev.SentAt, row.SentAt, vm.opts.Location) {
			row.DayLabel = row.SentAt.In(vm.opts.Location).Format(dayLayout)
		}
		rows = append(rows, row)
		prev = &rows[len(rows)-1]
	}
	return rows
}

func copyRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	return out
}

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/supabase-community/postgrest-go"

	"teamly-chat/chatsync"
	"teamly-chat/models"
)

// formato dei filtri PostgREST, sempre in UTC
const timestampLayout = "2006-01-02T15:04:05.999999Z07:00"

// SupabaseConfig contiene i parametri di connessione al backend REST
type SupabaseConfig struct {
	URL             string
	APIKey          string
	AccessToken     string
	Table           string
	Timeout         time.Duration
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
}

// SupabaseClient legge e scrive i messaggi tramite l'API PostgREST di Supabase
type SupabaseClient struct {
	transport http.RoundTripper
	conf      SupabaseConfig

	mu    sync.RWMutex
	token string
}

func NewSupabaseClient(conf SupabaseConfig) *SupabaseClient {
	if conf.Table == "" {
		conf.Table = "team_messages"
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	if conf.RetryInitial <= 0 {
		conf.RetryInitial = 100 * time.Millisecond
	}
	if conf.RetryMaxElapsed <= 0 {
		conf.RetryMaxElapsed = 2 * time.Second
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	return &SupabaseClient{
		transport: tr,
		conf:      conf,
		token:     conf.AccessToken,
	}
}

// SetAccessToken sostituisce il token utente dopo un nuovo login
func (c *SupabaseClient) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *SupabaseClient) FetchMessages(ctx context.Context, q chatsync.FetchQuery) ([]models.Message, error) {
	tail := q.CreatedAfter == nil
	ascending := &postgrest.OrderOpts{Ascending: !tail}

	var messages []models.Message
	err := c.getWithRetry(ctx, func(rest *postgrest.Client) error {
		messages = nil
		query := rest.From(c.conf.Table).
			Select("*", "", false).
			Eq("team_id", q.ConversationID)
		if !tail {
			query = query.Gt("created_at", q.CreatedAfter.UTC().Format(timestampLayout))
		}
		query = query.Order("created_at", ascending).Order("id", ascending)
		if q.Limit > 0 {
			query = query.Limit(q.Limit, "")
		}
		_, err := query.ExecuteTo(&messages)
		return err
	})
	if err != nil {
		return nil, err
	}

	if tail {
		// la coda arriva dal più recente, la vista la vuole crescente
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

type insertRequest struct {
	ConversationID string `json:"team_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"content"`
}

// SendMessage inserisce un messaggio. Non viene mai ritentato.
func (c *SupabaseClient) SendMessage(ctx context.Context, conversationID, senderID, body string) (models.Message, error) {
	var created []models.Message
	err := c.do(ctx, func(rest *postgrest.Client) error {
		row := insertRequest{ConversationID: conversationID, SenderID: senderID, Body: body}
		_, err := rest.From(c.conf.Table).
			Insert(row, false, "", "representation", "").
			ExecuteTo(&created)
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	if len(created) == 0 {
		return models.Message{}, fmt.Errorf("il backend non ha restituito il messaggio inserito")
	}
	return created[0], nil
}

// getWithRetry ritenta le letture fallite per errori transitori con backoff esponenziale
func (c *SupabaseClient) getWithRetry(ctx context.Context, call func(rest *postgrest.Client) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := c.do(ctx, call)
		if err != nil && !errors.Is(err, chatsync.ErrNetwork) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.conf.RetryInitial
	b.MaxElapsedTime = c.conf.RetryMaxElapsed

	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("Richiesta al backend fallita, nuovo tentativo")
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if err != nil && ctx.Err() != nil && !errors.Is(err, chatsync.ErrNetwork) {
		// backoff restituisce l'errore del context quando scade durante l'attesa
		return fmt.Errorf("%w: %w", chatsync.ErrNetwork, err)
	}
	return err
}

// do esegue una singola richiesta PostgREST e traduce l'esito negli
// errori di chatsync. postgrest-go non espone lo status HTTP, quindi le
// risposte passano da un statusTransport.
func (c *SupabaseClient) do(ctx context.Context, call func(rest *postgrest.Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.conf.Timeout)
	defer cancel()

	rest := postgrest.NewClient(c.restURL(), "public", c.headers())
	if rest.ClientError != nil {
		return fmt.Errorf("configurazione del client PostgREST: %w", rest.ClientError)
	}
	st := &statusTransport{ctx: ctx, next: c.transport}
	rest.Transport.Parent = st

	err := call(rest)
	switch {
	case st.status >= http.StatusMultipleChoices:
		return statusError(st.status, st.body)
	case err == nil:
		return nil
	case st.status == 0:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", chatsync.ErrNetwork, ctxErr)
		}
		return fmt.Errorf("%w: %w", chatsync.ErrNetwork, err)
	default:
		return fmt.Errorf("decodifica della risposta: %w", err)
	}
}

func (c *SupabaseClient) headers() map[string]string {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		token = c.conf.APIKey
	}
	return map[string]string{
		"apikey":        c.conf.APIKey,
		"Authorization": "Bearer " + token,
	}
}

func (c *SupabaseClient) restURL() string {
	return strings.TrimRight(c.conf.URL, "/") + "/rest/v1/"
}

// statusTransport lega le richieste al context del chiamante e ricorda lo
// status dell'ultima risposta. Vale per una sola richiesta alla volta.
type statusTransport struct {
	ctx    context.Context
	next   http.RoundTripper
	status int
	body   string
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, err
	}
	t.status = resp.StatusCode
	if resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.body = strings.TrimSpace(string(data))
		resp.Body = io.NopCloser(bytes.NewReader(data))
	}
	return resp, nil
}

// statusError traduce gli status HTTP negli errori di chatsync
func statusError(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", chatsync.ErrAuth, status)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", chatsync.ErrNetwork, status)
	default:
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("richiesta rifiutata dal backend: status %d: %s", status, body)
	}
}

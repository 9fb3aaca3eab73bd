package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"teamly-chat/chatsync"
	"teamly-chat/models"
)

type BreakerSettings struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// BreakerSource protegge un Source con un circuit breaker: con il circuito
// aperto le richieste falliscono subito con ErrNetwork
type BreakerSource struct {
	next chatsync.Source
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerSource(next chatsync.Source, name string, settings BreakerSettings) *BreakerSource {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		// una sessione scaduta non è un guasto del backend
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, chatsync.ErrAuth) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("⚡ Cambio di stato del circuit breaker")
		},
	}
	return &BreakerSource{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(st),
	}
}

func (b *BreakerSource) FetchMessages(ctx context.Context, q chatsync.FetchQuery) ([]models.Message, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.FetchMessages(ctx, q)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	messages, _ := res.([]models.Message)
	return messages, nil
}

func (b *BreakerSource) SendMessage(ctx context.Context, conversationID, senderID, body string) (models.Message, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.SendMessage(ctx, conversationID, senderID, body)
	})
	if err != nil {
		return models.Message{}, breakerError(err)
	}
	msg, _ := res.(models.Message)
	return msg, nil
}

// State restituisce lo stato del circuito (closed, half-open, open)
func (b *BreakerSource) State() string {
	return b.cb.State().String()
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", chatsync.ErrNetwork, err)
	}
	return err
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"teamly-chat/chatsync"
	"teamly-chat/models"
	"teamly-chat/viewmodel"
)

const writeWait = 10 * time.Second

var (
	// WebSocket upgrader
	wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // Consenti tutte le origini in sviluppo
		},
	}

	wsClients    = make(map[*wsSession]bool)
	wsClientsMux sync.Mutex
)

// wsSession è una vista chat aperta da un client WebSocket
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsSession) send(messageType string, payload interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(models.WSMessage{Type: messageType, Payload: payload})
}

// Render inoltra gli aggiornamenti della vista al client
func (s *wsSession) Render(update viewmodel.RowUpdate) {
	var messageType string
	switch update.Kind {
	case viewmodel.UpdateReplaceAll:
		messageType = models.WSTypeRowsReplace
	case viewmodel.UpdateInsert:
		messageType = models.WSTypeRowsInsert
	case viewmodel.UpdateAuthExpired:
		messageType = models.WSTypeAuthExpired
	case viewmodel.UpdateLoadError:
		messageType = models.WSTypeLoadError
	default:
		return
	}
	s.reply(messageType, update)
}

// reply invia al client; un errore di scrittura significa che la connessione
// si sta chiudendo e il loop di lettura terminerà da solo
func (s *wsSession) reply(messageType string, payload interface{}) {
	if err := s.send(messageType, payload); err != nil {
		log.Debug().Err(err).Str("type", messageType).Msg("Invio al client WebSocket non riuscito")
	}
}

// BroadcastToClients invia un messaggio a tutti i client WebSocket connessi
func BroadcastToClients(messageType string, payload interface{}) {
	wsClientsMux.Lock()
	defer wsClientsMux.Unlock()

	for client := range wsClients {
		if err := client.send(messageType, payload); err != nil {
			client.conn.Close()
			delete(wsClients, client)
		}
	}
}

// CloseAllClients avvisa e disconnette tutti i client, usato allo spegnimento
func CloseAllClients(reason string) {
	BroadcastToClients(models.WSTypeShutdown, map[string]string{"reason": reason})

	wsClientsMux.Lock()
	defer wsClientsMux.Unlock()
	for client := range wsClients {
		client.conn.Close()
		delete(wsClients, client)
	}
}

func ConnectedClients() int {
	wsClientsMux.Lock()
	defer wsClientsMux.Unlock()
	return len(wsClients)
}

// HandleWebSocket apre una vista chat sulla conversazione indicata.
// Ogni connessione ha il proprio sincronizzatore, fermato alla chiusura.
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	conversationID := c.Query("conversation")
	userID := c.Query("user")
	if conversationID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parametri conversation e user obbligatori"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("Upgrade WebSocket non riuscito")
		return
	}

	session := &wsSession{conn: conn}
	wsClientsMux.Lock()
	wsClients[session] = true
	wsClientsMux.Unlock()

	syncer := chatsync.NewSynchronizer(h.source, h.syncOpts, h.metrics)
	viewOpts := h.viewOpts
	viewOpts.SenderID = userID
	vm := viewmodel.New(syncer, h.source, session, viewOpts)

	ctx, cancel := context.WithCancel(context.Background())

	// Cleanup quando la connessione viene chiusa
	defer func() {
		cancel()
		vm.Close()
		<-syncer.Done()
		wsClientsMux.Lock()
		delete(wsClients, session)
		wsClientsMux.Unlock()
		conn.Close()
		log.Info().Str("conversation", conversationID).Str("user", userID).Msg("🔌 Client WebSocket disconnesso")
	}()

	log.Info().Str("conversation", conversationID).Str("user", userID).Msg("🔌 Client WebSocket connesso")

	// un caricamento fallito arriva al client come load.error, che può rispondere con reload
	_ = vm.Open(ctx, conversationID)

	// Loop di lettura comandi
	for {
		var cmd models.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			break
		}

		switch cmd.Type {
		case models.WSTypeViewport:
			vm.SetAtBottom(cmd.AtBottom)

		case models.WSTypeSend:
			msg, err := vm.Send(ctx, cmd.Body)
			if err != nil {
				session.reply(models.WSTypeSendError, sendErrorPayload(cmd.Body, err))
				continue
			}
			session.reply(models.WSTypeSendOK, gin.H{"id": msg.ID})

		case models.WSTypeReload:
			if err := vm.Reload(ctx); err != nil {
				log.Warn().Err(err).Str("conversation", conversationID).Msg("Ricaricamento della conversazione non riuscito")
			}

		default:
			log.Debug().Str("type", cmd.Type).Msg("Comando WebSocket sconosciuto")
		}
	}
}

func sendErrorPayload(body string, err error) gin.H {
	payload := gin.H{"error": err.Error(), "body": body}
	var sendErr *viewmodel.SendError
	if errors.As(err, &sendErr) {
		payload["body"] = sendErr.Body
		payload["retryable"] = true
	}
	return payload
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"teamly-chat/chatsync"
	"teamly-chat/models"
	"teamly-chat/viewmodel"
)

const maxPageSize = 200

// ChatHandler espone i messaggi di un Source via REST e WebSocket
type ChatHandler struct {
	source   chatsync.Source
	syncOpts chatsync.Options
	viewOpts viewmodel.Options
	metrics  *chatsync.Metrics
}

func NewChatHandler(source chatsync.Source, syncOpts chatsync.Options, viewOpts viewmodel.Options, metrics *chatsync.Metrics) *ChatHandler {
	return &ChatHandler{
		source:   source,
		syncOpts: syncOpts,
		viewOpts: viewOpts,
		metrics:  metrics,
	}
}

// SetupAPIRoutes configura tutte le rotte API
func SetupAPIRoutes(router *gin.Engine, h *ChatHandler, gatherer prometheus.Gatherer) {
	// Abilita CORS
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": ConnectedClients()})
	})

	// API per ottenere i messaggi di una conversazione
	router.GET("/api/conversations/:id/messages", h.GetMessages)
	// API per inviare un messaggio
	router.POST("/api/conversations/:id/messages", h.PostMessage)

	router.GET("/ws", h.HandleWebSocket)

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// GetMessages restituisce la coda della conversazione, oppure i messaggi
// successivi al parametro after (RFC3339)
func (h *ChatHandler) GetMessages(c *gin.Context) {
	query := chatsync.FetchQuery{
		ConversationID: c.Param("id"),
		Limit:          h.syncOpts.PageSize,
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit deve essere tra 1 e %d", maxPageSize)})
			return
		}
		query.Limit = limit
	}
	if raw := c.Query("after"); raw != "" {
		after, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after non valido, usare RFC3339"})
			return
		}
		query.CreatedAfter = &after
	}

	messages, err := h.source.FetchMessages(c.Request.Context(), query)
	if err != nil {
		log.Error().Err(err).Str("conversation", query.ConversationID).Msg("❌ Errore nel caricamento dei messaggi")
		c.JSON(sourceStatus(err), gin.H{"error": fmt.Sprintf("Errore nel caricamento dei messaggi: %v", err)})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	c.JSON(http.StatusOK, messages)
}

// PostMessage invia un messaggio di testo. Non viene ritentato.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("id")

	var requestData struct {
		SenderID string `json:"senderId"`
		Body     string `json:"body"`
	}
	if err := c.BindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Formato JSON non valido"})
		return
	}

	body := strings.TrimSpace(requestData.Body)
	if body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Contenuto del messaggio vuoto"})
		return
	}
	if requestData.SenderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "senderId mancante"})
		return
	}

	message, err := h.source.SendMessage(c.Request.Context(), conversationID, requestData.SenderID, body)
	if err != nil {
		log.Error().Err(err).Str("conversation", conversationID).Msg("❌ Errore nell'invio del messaggio")
		c.JSON(sourceStatus(err), gin.H{"error": fmt.Sprintf("Errore nell'invio del messaggio: %v", err)})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "success",
		"messageData": message,
	})
}

func sourceStatus(err error) int {
	switch {
	case errors.Is(err, chatsync.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, chatsync.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

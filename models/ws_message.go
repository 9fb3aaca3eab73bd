package models

// Tipi dei messaggi WebSocket scambiati con la vista chat
const (
	WSTypeRowsReplace = "rows.replace"
	WSTypeRowsInsert  = "rows.insert"
	WSTypeAuthExpired = "auth.expired"
	WSTypeSendError   = "send.error"
	WSTypeSendOK      = "send.ok"
	WSTypeLoadError   = "load.error"
	WSTypeShutdown    = "server.shutdown"

	WSTypeViewport = "viewport"
	WSTypeSend     = "send"
	WSTypeReload   = "reload"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSCommand è un messaggio in arrivo dal client WebSocket
type WSCommand struct {
	Type     string `json:"type"`
	AtBottom bool   `json:"atBottom,omitempty"`
	Body     string `json:"body,omitempty"`
}

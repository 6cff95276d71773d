package ws

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/hush/internal/hub"
)

// Handler upgrades HTTP requests to websocket sessions and attaches them to
// the hub.
type Handler struct {
	hub            *hub.Hub
	logger         zerolog.Logger
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

// NewHandler creates the upgrade handler. allowedOrigins follows the config
// format: exact origins, or "*" to allow every browser origin.
func NewHandler(h *hub.Hub, allowedOrigins []string, maxMessageSize int64, logger zerolog.Logger) *Handler {
	policy := newOriginPolicy(allowedOrigins)
	return &Handler{
		hub:            h,
		logger:         logger,
		maxMessageSize: maxMessageSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
	}
}

// ServeHTTP performs the upgrade and starts the session pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade rejected")
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		hub:    h.hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: h.logger,
	}
	h.hub.Attach(client)

	go client.writePump()
	go client.readPump(h.maxMessageSize)
}

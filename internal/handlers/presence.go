package handlers

import (
	"net/http"

	"github.com/eldtechnologies/hush/internal/protocol"
)

// PresenceResponse represents the public presence snapshot.
type PresenceResponse struct {
	Users []protocol.PresenceEntry `json:"users"`
}

// Presence returns the same public user list that is broadcast over the
// websocket, for clients that want to poll before connecting.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, PresenceResponse{Users: h.hub.Snapshot()})
}

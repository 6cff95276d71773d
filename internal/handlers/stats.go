package handlers

import (
	"net/http"
	"time"

	"github.com/eldtechnologies/hush/internal/hub"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	hub.Stats
	Uptime string `json:"uptime"`
}

// Stats returns relay statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, StatsResponse{
		Stats:  h.hub.Stats(),
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

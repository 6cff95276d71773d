package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/hush/internal/hub"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	hub     *hub.Hub
	redis   *redis.Client // nil when not configured
	started time.Time
}

// NewHandler creates a new Handler backed by the given hub.
func NewHandler(h *hub.Hub, redisClient *redis.Client) *Handler {
	return &Handler{hub: h, redis: redisClient, started: time.Now()}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Package hub implements the in-memory presence and routing core of the
// relay: the connection registry, the ephemeral conversation store, the
// message router, typing indicators, and the periodic maintenance sweeps.
//
// A single mutex serializes every mutation of the registry and the store, so
// each inbound event, timer callback, and sweep runs to completion before the
// next one observes any state. Delivery is best-effort and at-most-once: a
// slow or absent recipient misses the live notification but the message stays
// in the conversation store for later history requests.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/hush/internal/metrics"
	"github.com/eldtechnologies/hush/internal/protocol"
)

// Session is the hub's view of one live connection. Send must not block: it
// enqueues an encoded event and reports false if the connection cannot accept
// it (buffer full or closing).
type Session interface {
	ID() string
	Send(data []byte) bool
}

// Config holds the hub's timing parameters. Zero values fall back to the
// production defaults.
type Config struct {
	TypingDebounce          time.Duration
	InactivityWindow        time.Duration
	InactivitySweepInterval time.Duration
	RetentionWindow         time.Duration
	RetentionSweepInterval  time.Duration
	PresenceLinger          time.Duration
}

func (c Config) withDefaults() Config {
	if c.TypingDebounce <= 0 {
		c.TypingDebounce = 3 * time.Second
	}
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = 5 * time.Minute
	}
	if c.InactivitySweepInterval <= 0 {
		c.InactivitySweepInterval = time.Minute
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = 30 * 24 * time.Hour
	}
	if c.RetentionSweepInterval <= 0 {
		c.RetentionSweepInterval = 24 * time.Hour
	}
	if c.PresenceLinger <= 0 {
		c.PresenceLinger = 24 * time.Hour
	}
	return c
}

// Stats is a point-in-time summary of hub state.
type Stats struct {
	Connections    int `json:"connections"`
	Presences      int `json:"presences"`
	Online         int `json:"online"`
	Conversations  int `json:"conversations"`
	StoredMessages int `json:"stored_messages"`
}

// Hub owns all relay state. Construct one per process with New; there is no
// teardown beyond cancelling the Run context at shutdown.
type Hub struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
	registry *Registry
	convs    *ConversationLog
}

// New creates a hub with the given timing configuration.
func New(cfg Config, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]Session),
		registry: NewRegistry(),
		convs:    NewConversationLog(),
	}
}

// Run drives the two reaper sweeps until the context is cancelled. Inbound
// events do not pass through here; they are handled synchronously by the
// exported methods.
func (h *Hub) Run(ctx context.Context) {
	inactivity := time.NewTicker(h.cfg.InactivitySweepInterval)
	defer inactivity.Stop()
	retention := time.NewTicker(h.cfg.RetentionSweepInterval)
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-inactivity.C:
			h.SweepInactive()
		case <-retention.C:
			h.SweepConversations()
		}
	}
}

// Attach makes a connection addressable for outbound events. No presence
// record exists until the client joins.
func (h *Hub) Attach(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s.ID()] = s
	metrics.ConnectionsActive.Inc()
	h.logger.Debug().Str("conn_id", s.ID()).Msg("connection attached")
}

// Detach handles a transport-level disconnect: the session stops receiving
// events, its presence (if any) is marked offline immediately, and removal of
// the record is deferred by the configured linger so a quick reconnect still
// shows up in the public list.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[connID]; ok {
		delete(h.sessions, connID)
		metrics.ConnectionsActive.Dec()
	}

	rec := h.registry.Get(connID)
	if rec == nil {
		return
	}
	rec.Online = false
	rec.LastActive = h.now()
	if rec.removeTimer != nil {
		rec.removeTimer.Stop()
	}
	rec.removeTimer = time.AfterFunc(h.cfg.PresenceLinger, func() { h.removeExpired(connID) })

	h.logger.Info().Str("conn_id", connID).Str("username", rec.Username).Msg("user disconnected")
	h.broadcastLocked()
}

// Join registers a presence record for the connection and announces the
// updated public list to everyone. Usernames are not checked for uniqueness.
func (h *Hub) Join(connID, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.Register(connID, username, h.now())
	metrics.PresenceRecords.Set(float64(h.registry.Len()))
	h.logger.Info().Str("conn_id", connID).Str("username", username).Msg("user joined")
	h.broadcastLocked()
}

// Submit routes one message: the sender's typing state is cleared, the
// message is appended to the conversation with a server timestamp, and the
// receiver's current connection (if any) gets a live notification. The sender
// receives an ack carrying the delivered flag either way. Returns whether the
// message was delivered live.
func (h *Hub) Submit(connID, sender, receiver string, payload protocol.Ciphertext, conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if rec := h.registry.Get(connID); rec != nil {
		rec.LastActive = now
		rec.Typing = false
		rec.TypingTo = ""
		if rec.typingTimer != nil {
			rec.typingTimer.Stop()
			rec.typingTimer = nil
		}
	}

	if conversationID == "" {
		conversationID = CanonicalConversationID(sender, receiver)
	}

	msg := h.convs.Append(conversationID, protocol.Message{
		ID:        ulid.Make().String(),
		Sender:    sender,
		Receiver:  receiver,
		Payload:   payload,
		Timestamp: now.UnixMilli(),
	})

	// Best-effort single-recipient delivery. An unresolved receiver is not an
	// error: the message stays stored, nothing is queued or retried.
	delivered := false
	if peer := h.registry.FindByUsername(receiver); peer != nil {
		delivered = h.sendToConnLocked(peer.ConnID, protocol.TypeMessageReceived, protocol.MessageReceived{
			ID:             msg.ID,
			Sender:         sender,
			Payload:        payload,
			Timestamp:      msg.Timestamp,
			ConversationID: conversationID,
		})
	}

	h.sendToConnLocked(connID, protocol.TypeMessageAck, protocol.MessageAck{
		ID:             msg.ID,
		Timestamp:      msg.Timestamp,
		ConversationID: conversationID,
		Delivered:      delivered,
	})

	if delivered {
		metrics.MessagesRelayed.WithLabelValues("delivered").Inc()
	} else {
		metrics.MessagesRelayed.WithLabelValues("stored").Inc()
	}

	// Every message fans out the full presence list. Costs O(connections) per
	// message but keeps every client's list fresh without change tracking.
	h.broadcastLocked()
	return delivered
}

// History answers a conversation request to the requesting connection only.
// A pairing with no stored messages yields an empty list, not an error.
func (h *Hub) History(connID, user1, user2, conversationID string) []protocol.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conversationID == "" {
		conversationID = CanonicalConversationID(user1, user2)
	}
	msgs := h.convs.History(conversationID)
	h.sendToConnLocked(connID, protocol.TypeConversationHistory, protocol.ConversationHistory{
		ConversationID: conversationID,
		Messages:       msgs,
	})
	return msgs
}

// Typing marks the sender as composing toward the receiver, notifies the
// receiver's current connection, and arms the auto-clear timer. A newer
// typing event cancels the pending timer before arming its own, so at most
// one clear notification follows a burst of keystrokes.
func (h *Hub) Typing(connID, sender, receiver string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	metrics.TypingEvents.Inc()
	now := h.now()

	rec := h.registry.Get(connID)
	if rec != nil {
		rec.Typing = true
		rec.TypingTo = receiver
		rec.LastActive = now
	}

	if peer := h.registry.FindByUsername(receiver); peer != nil {
		h.sendToConnLocked(peer.ConnID, protocol.TypeTypingState, protocol.TypingState{
			Sender: sender,
			Typing: true,
		})
	}

	if rec != nil {
		if rec.typingTimer != nil {
			rec.typingTimer.Stop()
		}
		rec.typingTimer = time.AfterFunc(h.cfg.TypingDebounce, func() { h.typingExpired(connID, sender) })
	}
}

// typingExpired is the debounce callback. The record is re-checked and the
// receiver re-resolved at fire time: the connection may be gone or the state
// already cleared by a sent message, in which case this is a no-op.
func (h *Hub) typingExpired(connID, sender string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := h.registry.Get(connID)
	if rec == nil || !rec.Typing {
		return
	}
	target := rec.TypingTo
	rec.Typing = false
	rec.TypingTo = ""
	rec.typingTimer = nil

	if peer := h.registry.FindByUsername(target); peer != nil {
		h.sendToConnLocked(peer.ConnID, protocol.TypeTypingState, protocol.TypingState{
			Sender: sender,
			Typing: false,
		})
	}
}

// MarkRead relays a coarse read receipt to the original author's current
// connection. No individual message is marked; the receipt only names the
// reader and the conversation.
func (h *Hub) MarkRead(connID, sender, receiver, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conversationID == "" {
		conversationID = CanonicalConversationID(sender, receiver)
	}
	if author := h.registry.FindByUsername(sender); author != nil {
		if h.sendToConnLocked(author.ConnID, protocol.TypeReadReceipt, protocol.ReadReceipt{
			Reader:         receiver,
			Status:         "read",
			ConversationID: conversationID,
		}) {
			metrics.ReadReceipts.Inc()
		}
	}
}

// Heartbeat refreshes the connection's activity timestamp. Nothing is
// broadcast.
func (h *Hub) Heartbeat(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registry.Touch(connID, h.now())
}

// SetStatus is the explicit presence override. Unknown connections are
// ignored; a known one gets its flag set, its activity refreshed, and the
// change broadcast.
func (h *Hub) SetStatus(connID string, online bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.registry.SetOnline(connID, online) {
		return
	}
	h.registry.Touch(connID, h.now())
	h.broadcastLocked()
}

// Snapshot returns the current public presence list.
func (h *Hub) Snapshot() []protocol.PresenceEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Snapshot()
}

// Stats summarizes hub state for the stats endpoint.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	online := 0
	for _, entry := range h.registry.Snapshot() {
		if entry.Online {
			online++
		}
	}
	return Stats{
		Connections:    len(h.sessions),
		Presences:      h.registry.Len(),
		Online:         online,
		Conversations:  h.convs.Count(),
		StoredMessages: h.convs.MessageCount(),
	}
}

// SweepInactive demotes presences idle past the inactivity window. At most
// one presence broadcast goes out per sweep, however many records changed.
func (h *Hub) SweepInactive() {
	h.mu.Lock()
	defer h.mu.Unlock()

	demoted := h.registry.DemoteIdle(h.now().Add(-h.cfg.InactivityWindow))
	if demoted == 0 {
		return
	}
	metrics.PresencesDemoted.Add(float64(demoted))
	h.logger.Info().Int("demoted", demoted).Msg("inactivity sweep marked users offline")
	h.broadcastLocked()
}

// SweepConversations evicts conversations with no message inside the
// retention window.
func (h *Hub) SweepConversations() {
	h.mu.Lock()
	defer h.mu.Unlock()

	evicted := h.convs.Sweep(h.now().Add(-h.cfg.RetentionWindow).UnixMilli())
	if evicted == 0 {
		return
	}
	metrics.ConversationsEvicted.Add(float64(evicted))
	h.logger.Info().Int("evicted", evicted).Msg("retention sweep deleted stale conversations")
}

// removeExpired is the deferred-deletion callback armed by Detach. A rejoin
// on the same connection id cancels the timer via Register, but the check
// here guards against a callback already in flight.
func (h *Hub) removeExpired(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := h.registry.Remove(connID)
	if rec == nil {
		return
	}
	metrics.PresencesRemoved.Inc()
	metrics.PresenceRecords.Set(float64(h.registry.Len()))
	h.logger.Debug().Str("conn_id", connID).Str("username", rec.Username).Msg("presence record expired")
}

// broadcastLocked fans the public presence list out to every attached
// connection. Callers must hold h.mu.
func (h *Hub) broadcastLocked() {
	data, err := protocol.Encode(protocol.TypePresenceList, protocol.PresenceList{
		Users: h.registry.Snapshot(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("encoding presence list failed")
		return
	}
	for _, s := range h.sessions {
		if !s.Send(data) {
			metrics.DroppedSends.Inc()
		}
	}
	metrics.PresenceBroadcasts.Inc()
}

// sendToConnLocked encodes and enqueues one event for a single connection.
// Callers must hold h.mu. Returns false if the connection is unknown or its
// buffer is full.
func (h *Hub) sendToConnLocked(connID, eventType string, payload any) bool {
	s, ok := h.sessions[connID]
	if !ok {
		return false
	}
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", eventType).Msg("encoding event failed")
		return false
	}
	if !s.Send(data) {
		metrics.DroppedSends.Inc()
		h.logger.Warn().Str("conn_id", connID).Str("event", eventType).Msg("dropped event for slow connection")
		return false
	}
	return true
}

package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/hush/internal/protocol"
)

// fakeSession records every event the hub sends it.
type fakeSession struct {
	id string

	mu     sync.Mutex
	events [][]byte
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, append([]byte(nil), data...))
	return true
}

// eventsOfType returns the decoded payloads of every recorded event of the
// given type, in arrival order.
func (s *fakeSession) eventsOfType(t *testing.T, eventType string) []json.RawMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []json.RawMessage
	for _, raw := range s.events {
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("recorded event is not an envelope: %v", err)
		}
		if env.Type == eventType {
			out = append(out, env.Data)
		}
	}
	return out
}

func (s *fakeSession) countType(t *testing.T, eventType string) int {
	t.Helper()
	return len(s.eventsOfType(t, eventType))
}

func decodeInto(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decoding event payload: %v", err)
	}
}

func newTestHub(cfg Config) *Hub {
	return New(cfg, zerolog.Nop())
}

func attach(h *Hub, id string) *fakeSession {
	s := &fakeSession{id: id}
	h.Attach(s)
	return s
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestJoinBroadcastsPresenceToEveryConnection(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	bob := attach(h, "c-bob")

	h.Join(alice.id, "alice")

	for _, s := range []*fakeSession{alice, bob} {
		lists := s.eventsOfType(t, protocol.TypePresenceList)
		if len(lists) != 1 {
			t.Fatalf("session %s: expected 1 presence broadcast, got %d", s.id, len(lists))
		}
		var list protocol.PresenceList
		decodeInto(t, lists[0], &list)
		if len(list.Users) != 1 || list.Users[0].Username != "alice" || !list.Users[0].Online {
			t.Fatalf("unexpected presence list: %+v", list.Users)
		}
	}
}

func TestSubmitDeliversStoresAndAcks(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	bob := attach(h, "c-bob")
	h.Join(alice.id, "alice")
	h.Join(bob.id, "bob")

	before := time.Now().UnixMilli()
	if !h.Submit(alice.id, "alice", "bob", "ciphertext-blob", "") {
		t.Fatal("expected live delivery to bob")
	}

	received := bob.eventsOfType(t, protocol.TypeMessageReceived)
	if len(received) != 1 {
		t.Fatalf("expected 1 message notification, got %d", len(received))
	}
	var notif protocol.MessageReceived
	decodeInto(t, received[0], &notif)
	if notif.Sender != "alice" || notif.Payload != "ciphertext-blob" || notif.ConversationID != "alice_bob" {
		t.Fatalf("unexpected notification: %+v", notif)
	}
	if notif.Timestamp < before {
		t.Fatalf("timestamp %d predates submission %d", notif.Timestamp, before)
	}

	acks := alice.eventsOfType(t, protocol.TypeMessageAck)
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acks))
	}
	var ack protocol.MessageAck
	decodeInto(t, acks[0], &ack)
	if !ack.Delivered || ack.ID != notif.ID {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	// Read-after-write: history includes the message immediately.
	msgs := h.History(alice.id, "alice", "bob", "")
	if len(msgs) != 1 || msgs[0].Sender != "alice" || msgs[0].Receiver != "bob" || msgs[0].Payload != "ciphertext-blob" {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	// Every message triggers a presence fan-out on top of the two joins.
	if got := bob.countType(t, protocol.TypePresenceList); got != 3 {
		t.Fatalf("expected 3 presence broadcasts, got %d", got)
	}
}

func TestSubmitUnresolvedRecipientIsStoredOnly(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	h.Join(alice.id, "alice")

	if h.Submit(alice.id, "alice", "nobody", "blob", "") {
		t.Fatal("delivery reported for an absent recipient")
	}

	var ack protocol.MessageAck
	acks := alice.eventsOfType(t, protocol.TypeMessageAck)
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acks))
	}
	decodeInto(t, acks[0], &ack)
	if ack.Delivered {
		t.Fatal("ack claims delivery to an absent recipient")
	}

	if msgs := h.History(alice.id, "alice", "nobody", ""); len(msgs) != 1 {
		t.Fatalf("undelivered message must still be stored, history has %d", len(msgs))
	}
}

func TestSubmitHonorsExplicitConversationID(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	h.Join(alice.id, "alice")

	h.Submit(alice.id, "alice", "bob", "blob", "custom-thread")

	if msgs := h.History(alice.id, "", "", "custom-thread"); len(msgs) != 1 {
		t.Fatal("message not stored under the explicit conversation id")
	}
	if msgs := h.History(alice.id, "alice", "bob", ""); len(msgs) != 0 {
		t.Fatal("message leaked into the canonical conversation")
	}
}

func TestHistoryEmptyConversation(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	h.Join(alice.id, "alice")

	msgs := h.History(alice.id, "alice", "stranger", "")
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty history, got %v", msgs)
	}

	histories := alice.eventsOfType(t, protocol.TypeConversationHistory)
	if len(histories) != 1 {
		t.Fatalf("expected a history reply, got %d", len(histories))
	}
	var reply protocol.ConversationHistory
	decodeInto(t, histories[0], &reply)
	if reply.ConversationID != "alice_stranger" || len(reply.Messages) != 0 {
		t.Fatalf("unexpected history reply: %+v", reply)
	}
}

func TestTypingDebounce(t *testing.T) {
	h := newTestHub(Config{TypingDebounce: 40 * time.Millisecond})
	alice := attach(h, "c-alice")
	bob := attach(h, "c-bob")
	h.Join(alice.id, "alice")
	h.Join(bob.id, "bob")

	h.Typing(alice.id, "alice", "bob")

	states := bob.eventsOfType(t, protocol.TypeTypingState)
	if len(states) != 1 {
		t.Fatalf("expected immediate typing notification, got %d", len(states))
	}
	var state protocol.TypingState
	decodeInto(t, states[0], &state)
	if state.Sender != "alice" || !state.Typing {
		t.Fatalf("unexpected typing state: %+v", state)
	}

	waitFor(t, time.Second, func() bool {
		return bob.countType(t, protocol.TypeTypingState) == 2
	}, "typing state never auto-cleared")

	decodeInto(t, bob.eventsOfType(t, protocol.TypeTypingState)[1], &state)
	if state.Typing {
		t.Fatal("second notification must clear the typing state")
	}

	// No further clears after the debounce fired once.
	time.Sleep(100 * time.Millisecond)
	if got := bob.countType(t, protocol.TypeTypingState); got != 2 {
		t.Fatalf("expected exactly one clear notification, got %d events", got)
	}
}

func TestTypingRefreshArmsSingleTimer(t *testing.T) {
	h := newTestHub(Config{TypingDebounce: 60 * time.Millisecond})
	alice := attach(h, "c-alice")
	bob := attach(h, "c-bob")
	h.Join(alice.id, "alice")
	h.Join(bob.id, "bob")

	h.Typing(alice.id, "alice", "bob")
	time.Sleep(30 * time.Millisecond)
	h.Typing(alice.id, "alice", "bob") // refresh before expiry

	// The first timer was cancelled; only the refreshed one fires.
	waitFor(t, time.Second, func() bool {
		states := bob.eventsOfType(t, protocol.TypeTypingState)
		var last protocol.TypingState
		if len(states) == 0 {
			return false
		}
		decodeInto(t, states[len(states)-1], &last)
		return !last.Typing
	}, "typing state never cleared")

	if got := bob.countType(t, protocol.TypeTypingState); got != 3 {
		t.Fatalf("expected 2 typing + 1 clear notifications, got %d", got)
	}
}

func TestSubmitClearsPendingTypingTimer(t *testing.T) {
	h := newTestHub(Config{TypingDebounce: 40 * time.Millisecond})
	alice := attach(h, "c-alice")
	bob := attach(h, "c-bob")
	h.Join(alice.id, "alice")
	h.Join(bob.id, "bob")

	h.Typing(alice.id, "alice", "bob")
	h.Submit(alice.id, "alice", "bob", "blob", "")

	h.mu.Lock()
	rec := h.registry.Get(alice.id)
	typing := rec.Typing
	h.mu.Unlock()
	if typing {
		t.Fatal("submit must clear the sender's typing state")
	}

	// The armed timer was cancelled, so no stale clear notification arrives.
	time.Sleep(100 * time.Millisecond)
	if got := bob.countType(t, protocol.TypeTypingState); got != 1 {
		t.Fatalf("expected only the initial typing notification, got %d", got)
	}
}

func TestMarkReadNotifiesAuthor(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	bob := attach(h, "c-bob")
	h.Join(alice.id, "alice")
	h.Join(bob.id, "bob")

	// Bob read alice's messages; alice gets the receipt.
	h.MarkRead(bob.id, "alice", "bob", "")

	receipts := alice.eventsOfType(t, protocol.TypeReadReceipt)
	if len(receipts) != 1 {
		t.Fatalf("expected 1 read receipt, got %d", len(receipts))
	}
	var receipt protocol.ReadReceipt
	decodeInto(t, receipts[0], &receipt)
	if receipt.Reader != "bob" || receipt.Status != "read" || receipt.ConversationID != "alice_bob" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestHeartbeatTouchesWithoutBroadcast(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	h.Join(alice.id, "alice")

	h.mu.Lock()
	h.registry.Get(alice.id).LastActive = time.Now().Add(-time.Hour)
	h.mu.Unlock()

	broadcastsBefore := alice.countType(t, protocol.TypePresenceList)
	h.Heartbeat(alice.id)

	h.mu.Lock()
	lastActive := h.registry.Get(alice.id).LastActive
	h.mu.Unlock()
	if time.Since(lastActive) > time.Minute {
		t.Fatal("heartbeat did not refresh LastActive")
	}
	if alice.countType(t, protocol.TypePresenceList) != broadcastsBefore {
		t.Fatal("heartbeat must not broadcast presence")
	}
}

func TestSetStatusBroadcasts(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	h.Join(alice.id, "alice")

	h.SetStatus(alice.id, false)

	lists := alice.eventsOfType(t, protocol.TypePresenceList)
	var list protocol.PresenceList
	decodeInto(t, lists[len(lists)-1], &list)
	if list.Users[0].Online {
		t.Fatal("status override not reflected in broadcast")
	}

	// Unknown connections are ignored, no broadcast.
	count := alice.countType(t, protocol.TypePresenceList)
	h.SetStatus("ghost", true)
	if alice.countType(t, protocol.TypePresenceList) != count {
		t.Fatal("setStatus for unknown connection must be a no-op")
	}
}

func TestDetachMarksOfflineThenRemovesAfterLinger(t *testing.T) {
	h := newTestHub(Config{PresenceLinger: 30 * time.Millisecond})
	alice := attach(h, "c-alice")
	bob := attach(h, "c-bob")
	h.Join(alice.id, "alice")
	h.Join(bob.id, "bob")

	h.Detach(alice.id)

	// Offline immediately, still listed during the grace period.
	snap := h.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 records right after disconnect, got %d", len(snap))
	}
	if snap[0].Username != "alice" || snap[0].Online {
		t.Fatalf("disconnected presence not marked offline: %+v", snap[0])
	}

	lists := bob.eventsOfType(t, protocol.TypePresenceList)
	var list protocol.PresenceList
	decodeInto(t, lists[len(lists)-1], &list)
	if list.Users[0].Online {
		t.Fatal("disconnect broadcast still shows user online")
	}

	waitFor(t, time.Second, func() bool {
		return len(h.Snapshot()) == 1
	}, "presence record never removed after linger")
	if remaining := h.Snapshot(); remaining[0].Username != "bob" {
		t.Fatalf("wrong record removed: %+v", remaining)
	}
}

func TestRejoinSameConnectionCancelsRemoval(t *testing.T) {
	h := newTestHub(Config{PresenceLinger: 40 * time.Millisecond})
	alice := attach(h, "c-alice")
	h.Join(alice.id, "alice")

	h.Detach(alice.id)
	attach(h, "c-alice")
	h.Join("c-alice", "alice")

	time.Sleep(100 * time.Millisecond)

	snap := h.Snapshot()
	if len(snap) != 1 || !snap[0].Online {
		t.Fatalf("rejoined presence was removed by a stale timer: %+v", snap)
	}
}

func TestDetachWithoutJoinIsQuiet(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	observer := attach(h, "c-observer")
	_ = alice

	h.Detach("c-alice")

	if got := observer.countType(t, protocol.TypePresenceList); got != 0 {
		t.Fatalf("disconnect of a connection that never joined must not broadcast, got %d", got)
	}
}

func TestSweepInactiveBatchesBroadcast(t *testing.T) {
	h := newTestHub(Config{InactivityWindow: 5 * time.Minute})
	alice := attach(h, "c-alice")
	bob := attach(h, "c-bob")
	observer := attach(h, "c-observer")
	h.Join(alice.id, "alice")
	h.Join(bob.id, "bob")

	h.mu.Lock()
	h.registry.Get(alice.id).LastActive = time.Now().Add(-6 * time.Minute)
	h.registry.Get(bob.id).LastActive = time.Now().Add(-6 * time.Minute)
	h.mu.Unlock()

	before := observer.countType(t, protocol.TypePresenceList)
	h.SweepInactive()

	// Both demoted, exactly one broadcast for the whole tick.
	if got := observer.countType(t, protocol.TypePresenceList); got != before+1 {
		t.Fatalf("expected exactly 1 broadcast from the sweep, got %d", got-before)
	}
	for _, entry := range h.Snapshot() {
		if entry.Online {
			t.Fatalf("presence %q survived the inactivity sweep", entry.Username)
		}
	}

	// A second sweep with nothing to demote is silent.
	h.SweepInactive()
	if got := observer.countType(t, protocol.TypePresenceList); got != before+1 {
		t.Fatal("sweep with no demotions must not broadcast")
	}
}

func TestSweepConversations(t *testing.T) {
	h := newTestHub(Config{RetentionWindow: 30 * 24 * time.Hour})
	alice := attach(h, "c-alice")
	h.Join(alice.id, "alice")

	old := time.Now().Add(-31 * 24 * time.Hour)
	h.now = func() time.Time { return old }
	h.Submit(alice.id, "alice", "bob", "ancient", "")
	h.now = time.Now

	h.Submit(alice.id, "alice", "carol", "fresh", "")

	h.SweepConversations()

	if msgs := h.History(alice.id, "alice", "bob", ""); len(msgs) != 0 {
		t.Fatal("stale conversation survived the retention sweep")
	}
	if msgs := h.History(alice.id, "alice", "carol", ""); len(msgs) != 1 {
		t.Fatal("fresh conversation was evicted")
	}
}

func TestStats(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "c-alice")
	bob := attach(h, "c-bob")
	h.Join(alice.id, "alice")
	h.Join(bob.id, "bob")
	h.Submit(alice.id, "alice", "bob", "blob", "")
	h.SetStatus(bob.id, false)

	stats := h.Stats()
	if stats.Connections != 2 || stats.Presences != 2 || stats.Online != 1 {
		t.Fatalf("unexpected presence stats: %+v", stats)
	}
	if stats.Conversations != 1 || stats.StoredMessages != 1 {
		t.Fatalf("unexpected store stats: %+v", stats)
	}
}

func TestEndToEndAliceAndBob(t *testing.T) {
	h := newTestHub(Config{})
	alice := attach(h, "conn-1")
	bob := attach(h, "conn-2")

	h.Join(alice.id, "Alice")
	h.Join(bob.id, "Bob")
	h.Submit(alice.id, "Alice", "Bob", "abc", "")

	received := bob.eventsOfType(t, protocol.TypeMessageReceived)
	if len(received) != 1 {
		t.Fatalf("expected Bob to receive 1 message, got %d", len(received))
	}
	var notif protocol.MessageReceived
	decodeInto(t, received[0], &notif)
	if notif.Sender != "Alice" || notif.Payload != "abc" || notif.ConversationID != "Alice_Bob" {
		t.Fatalf("unexpected notification: %+v", notif)
	}

	// Either side can fetch the same history.
	for _, conn := range []string{alice.id, bob.id} {
		msgs := h.History(conn, "Alice", "Bob", "")
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message in history, got %d", len(msgs))
		}
		m := msgs[0]
		if m.Sender != "Alice" || m.Receiver != "Bob" || m.Payload != "abc" || m.Timestamp != notif.Timestamp {
			t.Fatalf("unexpected stored message: %+v", m)
		}
	}
}

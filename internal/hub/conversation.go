package hub

import (
	"github.com/eldtechnologies/hush/internal/protocol"
)

// CanonicalConversationID derives the order-independent conversation key for a
// pair of usernames: the two names sorted and joined with an underscore, so
// (a,b) and (b,a) always map to the same conversation.
func CanonicalConversationID(user1, user2 string) string {
	if user2 < user1 {
		user1, user2 = user2, user1
	}
	return user1 + "_" + user2
}

// ConversationLog is the ephemeral, append-only message store. Conversations
// are created lazily on first append and evicted wholesale by the retention
// sweep; individual messages are never trimmed. Not safe for concurrent use;
// the owning Hub serializes access.
type ConversationLog struct {
	conversations map[string][]protocol.Message
}

// NewConversationLog creates an empty store.
func NewConversationLog() *ConversationLog {
	return &ConversationLog{conversations: make(map[string][]protocol.Message)}
}

// Append stores a message at the end of a conversation, creating the
// conversation if needed. Timestamps are kept non-decreasing within a
// conversation even if the wall clock steps backwards; the possibly adjusted
// message is returned.
func (l *ConversationLog) Append(conversationID string, msg protocol.Message) protocol.Message {
	msgs := l.conversations[conversationID]
	if n := len(msgs); n > 0 && msg.Timestamp < msgs[n-1].Timestamp {
		msg.Timestamp = msgs[n-1].Timestamp
	}
	l.conversations[conversationID] = append(msgs, msg)
	return msg
}

// History returns the full message sequence for a conversation in insertion
// order. Unknown conversations yield an empty slice, never an error.
func (l *ConversationLog) History(conversationID string) []protocol.Message {
	stored := l.conversations[conversationID]
	msgs := make([]protocol.Message, len(stored))
	copy(msgs, stored)
	return msgs
}

// Sweep deletes every conversation whose newest message is at or before the
// cutoff (Unix ms). A single message newer than the cutoff retains the whole
// conversation, arbitrarily old messages included. Returns the number of
// conversations deleted.
func (l *ConversationLog) Sweep(cutoff int64) int {
	deleted := 0
	for id, msgs := range l.conversations {
		recent := false
		for _, msg := range msgs {
			if msg.Timestamp > cutoff {
				recent = true
				break
			}
		}
		if !recent {
			delete(l.conversations, id)
			deleted++
		}
	}
	return deleted
}

// Count returns the number of stored conversations.
func (l *ConversationLog) Count() int {
	return len(l.conversations)
}

// MessageCount returns the total number of stored messages.
func (l *ConversationLog) MessageCount() int {
	total := 0
	for _, msgs := range l.conversations {
		total += len(msgs)
	}
	return total
}

// Package protocol defines the JSON events exchanged between clients and the
// relay. Every websocket frame carries one Envelope; the Data field holds the
// event-specific payload. Message bodies are ciphertext produced by clients
// and are carried through without inspection.
package protocol

import "encoding/json"

// Ciphertext is an opaque, client-encrypted message body. The server never
// decodes or inspects it; the distinct type exists so nothing accidentally
// treats it as readable text.
type Ciphertext string

// Inbound event types.
const (
	TypeJoin            = "join"
	TypeSendMessage     = "send_message"
	TypeGetConversation = "get_conversation"
	TypeTyping          = "typing"
	TypeMessageRead     = "message_read"
	TypeHeartbeat       = "heartbeat"
	TypeSetStatus       = "set_status"
)

// Outbound event types.
const (
	TypePresenceList        = "presence_list"
	TypeMessageReceived     = "message_received"
	TypeMessageAck          = "message_ack"
	TypeConversationHistory = "conversation_history"
	TypeTypingState         = "typing_state"
	TypeReadReceipt         = "read_receipt"
)

// Envelope is the framing for every event in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an event payload into a framed envelope.
func Encode(eventType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw})
}

// Join announces a username for this connection.
type Join struct {
	Username string `json:"username"`
}

// SendMessage routes an encrypted payload to a receiver.
// ConversationID is optional; the canonical pair id is used when empty.
type SendMessage struct {
	Sender         string     `json:"from"`
	Receiver       string     `json:"to"`
	Payload        Ciphertext `json:"payload"`
	ConversationID string     `json:"conversation_id,omitempty"`
}

// GetConversation requests the stored history for a user pair.
type GetConversation struct {
	User1          string `json:"user1"`
	User2          string `json:"user2"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Typing signals that Sender is composing a message to Receiver.
type Typing struct {
	Sender   string `json:"from"`
	Receiver string `json:"to"`
}

// MessageRead is a read receipt: Receiver has read Sender's messages.
type MessageRead struct {
	Sender         string `json:"from"`
	Receiver       string `json:"to"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SetStatus is an explicit presence override.
type SetStatus struct {
	Status string `json:"status"` // "online" or "offline"
}

// Message is a stored relay message. Timestamps are Unix milliseconds,
// assigned by the server.
type Message struct {
	ID        string     `json:"id"` // ULID
	Sender    string     `json:"from"`
	Receiver  string     `json:"to"`
	Payload   Ciphertext `json:"payload"`
	Timestamp int64      `json:"ts"`
}

// PresenceEntry is the public view of one presence record.
type PresenceEntry struct {
	Username   string `json:"username"`
	Online     bool   `json:"online"`
	LastActive int64  `json:"last_active"` // Unix ms
}

// PresenceList is fanned out to every connection whenever presence changes.
type PresenceList struct {
	Users []PresenceEntry `json:"users"`
}

// MessageReceived notifies the recipient's connection of a new message.
type MessageReceived struct {
	ID             string     `json:"id"`
	Sender         string     `json:"from"`
	Payload        Ciphertext `json:"payload"`
	Timestamp      int64      `json:"ts"`
	ConversationID string     `json:"conversation_id"`
}

// MessageAck tells the sender their message was stored, and whether it was
// delivered live to the recipient.
type MessageAck struct {
	ID             string `json:"id"`
	Timestamp      int64  `json:"ts"`
	ConversationID string `json:"conversation_id"`
	Delivered      bool   `json:"delivered"`
}

// ConversationHistory answers a GetConversation request.
type ConversationHistory struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// TypingState notifies a receiver that a sender started or stopped typing.
type TypingState struct {
	Sender string `json:"from"`
	Typing bool   `json:"typing"`
}

// ReadReceipt notifies a message author that their conversation was read.
type ReadReceipt struct {
	Reader         string `json:"reader"`
	Status         string `json:"status"` // always "read"
	ConversationID string `json:"conversation_id"`
}

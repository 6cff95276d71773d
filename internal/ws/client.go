// Package ws is the websocket transport for the relay. Each accepted
// connection gets a stable uuid for its lifetime and a pair of pumps: the
// read pump decodes inbound envelopes and dispatches them to the hub, the
// write pump drains the buffered outbound channel in order.
package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/hush/internal/hub"
	"github.com/eldtechnologies/hush/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound event buffer per connection.
	sendBuffer = 256
)

// Client couples one websocket connection to the hub. It implements
// hub.Session.
type Client struct {
	id     string
	hub    *hub.Hub
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger
}

// ID returns the connection identifier assigned at upgrade time.
func (c *Client) ID() string {
	return c.id
}

// Send enqueues an encoded event without blocking. A full buffer means the
// peer is too slow; the event is dropped and false returned.
func (c *Client) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump reads envelopes from the connection and hands them to the hub.
// It owns connection teardown: when the read loop exits for any reason the
// hub is told to detach this connection.
func (c *Client) readPump(maxMessageSize int64) {
	defer func() {
		c.hub.Detach(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Str("conn_id", c.id).Msg("websocket read error")
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound envelope to the matching hub operation.
// Malformed frames and unknown event types are absorbed silently; nothing a
// client sends can fail its own connection.
func (c *Client) dispatch(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug().Err(err).Str("conn_id", c.id).Msg("unparseable frame ignored")
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		var ev protocol.Join
		if json.Unmarshal(env.Data, &ev) == nil {
			c.hub.Join(c.id, ev.Username)
		}
	case protocol.TypeSendMessage:
		var ev protocol.SendMessage
		if json.Unmarshal(env.Data, &ev) == nil {
			c.hub.Submit(c.id, ev.Sender, ev.Receiver, ev.Payload, ev.ConversationID)
		}
	case protocol.TypeGetConversation:
		var ev protocol.GetConversation
		if json.Unmarshal(env.Data, &ev) == nil {
			c.hub.History(c.id, ev.User1, ev.User2, ev.ConversationID)
		}
	case protocol.TypeTyping:
		var ev protocol.Typing
		if json.Unmarshal(env.Data, &ev) == nil {
			c.hub.Typing(c.id, ev.Sender, ev.Receiver)
		}
	case protocol.TypeMessageRead:
		var ev protocol.MessageRead
		if json.Unmarshal(env.Data, &ev) == nil {
			c.hub.MarkRead(c.id, ev.Sender, ev.Receiver, ev.ConversationID)
		}
	case protocol.TypeHeartbeat:
		c.hub.Heartbeat(c.id)
	case protocol.TypeSetStatus:
		var ev protocol.SetStatus
		if json.Unmarshal(env.Data, &ev) == nil {
			c.hub.SetStatus(c.id, ev.Status == "online")
		}
	default:
		c.logger.Debug().Str("conn_id", c.id).Str("type", env.Type).Msg("unknown event type ignored")
	}
}

// writePump writes queued events to the connection, one frame per envelope,
// and keeps the connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

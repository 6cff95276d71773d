// Package hush provides a client for the Hush message relay.
package hush

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/hush/internal/protocol"
)

// Client talks to a Hush relay: REST endpoints over HTTP and the event
// stream over a websocket once Connect is called.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Username   string
	PublicKey  []byte
	PrivateKey []byte
	HTTPClient *http.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

// Config holds client identity on disk. The private key lives in a separate
// file, like an SSH key.
type Config struct {
	Username  string `json:"username"`
	PublicKey string `json:"public_key"`
}

// Event is one decoded frame from the relay.
type Event struct {
	Type string
	Data json.RawMessage
}

// NewClient creates a relay client and loads stored credentials if present.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8087"
	}

	configDir := os.Getenv("HUSH_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".hush")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads identity and keys from disk.
func (c *Client) LoadConfig() error {
	configFile := filepath.Join(c.ConfigDir, "identity.json")
	keyFile := filepath.Join(c.ConfigDir, "private.key")

	data, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}

	priv, err := base64.StdEncoding.DecodeString(string(keyData))
	if err != nil {
		return err
	}
	pub, err := base64.StdEncoding.DecodeString(config.PublicKey)
	if err != nil {
		return err
	}

	c.Username = config.Username
	c.PrivateKey = priv
	c.PublicKey = pub
	return nil
}

// SaveConfig writes identity and keys to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{
		Username:  c.Username,
		PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
	}

	data, _ := json.MarshalIndent(config, "", "  ")
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "identity.json"), data, 0600); err != nil {
		return err
	}

	keyData := base64.StdEncoding.EncodeToString(c.PrivateKey)
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(keyData), 0600)
}

// GenerateKeys creates a fresh keypair for this client.
func (c *Client) GenerateKeys() error {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		return err
	}
	c.PublicKey = pub
	c.PrivateKey = priv
	return nil
}

// wsURL converts the base URL to the websocket endpoint.
func (c *Client) wsURL() string {
	url := c.BaseURL + "/ws"
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	return "ws://" + strings.TrimPrefix(url, "http://")
}

// Connect opens the websocket and joins with the given username. Inbound
// events are delivered on the returned channel until the connection closes,
// after which the channel is closed.
func (c *Client) Connect(username string) (<-chan Event, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.Username = username
	c.mu.Unlock()

	if err := c.sendEvent(protocol.TypeJoin, protocol.Join{Username: username}); err != nil {
		conn.Close()
		return nil, err
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if json.Unmarshal(data, &env) != nil {
				continue
			}
			events <- Event{Type: env.Type, Data: env.Data}
		}
	}()
	return events, nil
}

// Close shuts the websocket down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) sendEvent(eventType string, payload any) error {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Send relays an already-encrypted payload to a receiver.
func (c *Client) Send(receiver string, payload string) error {
	return c.sendEvent(protocol.TypeSendMessage, protocol.SendMessage{
		Sender:   c.Username,
		Receiver: receiver,
		Payload:  protocol.Ciphertext(payload),
	})
}

// SendSealed encrypts plaintext for the recipient's public key and relays it.
func (c *Client) SendSealed(receiver, plaintext, recipientPubB64 string) error {
	sealed, err := Encrypt(plaintext, recipientPubB64)
	if err != nil {
		return err
	}
	return c.Send(receiver, sealed)
}

// Typing signals that this client is composing a message to receiver.
func (c *Client) Typing(receiver string) error {
	return c.sendEvent(protocol.TypeTyping, protocol.Typing{Sender: c.Username, Receiver: receiver})
}

// MarkRead sends a read receipt for the conversation with author.
func (c *Client) MarkRead(author string) error {
	return c.sendEvent(protocol.TypeMessageRead, protocol.MessageRead{Sender: author, Receiver: c.Username})
}

// RequestHistory asks for the stored conversation with peer. The reply
// arrives as a conversation_history event on the Connect channel.
func (c *Client) RequestHistory(peer string) error {
	return c.sendEvent(protocol.TypeGetConversation, protocol.GetConversation{User1: c.Username, User2: peer})
}

// Heartbeat refreshes this client's activity without any other effect.
func (c *Client) Heartbeat() error {
	return c.sendEvent(protocol.TypeHeartbeat, nil)
}

// SetStatus overrides the advertised presence, "online" or "offline".
func (c *Client) SetStatus(status string) error {
	return c.sendEvent(protocol.TypeSetStatus, protocol.SetStatus{Status: status})
}

// doRequest performs a REST request against the relay.
func (c *Client) doRequest(path string, out any) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(body, &errResp)
		return fmt.Errorf("relay error %d: %s", resp.StatusCode, errResp.Error)
	}
	return json.Unmarshal(body, out)
}

// Presence fetches the public presence list over REST.
func (c *Client) Presence() ([]protocol.PresenceEntry, error) {
	var resp struct {
		Users []protocol.PresenceEntry `json:"users"`
	}
	if err := c.doRequest("/presence", &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks relay health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest("/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

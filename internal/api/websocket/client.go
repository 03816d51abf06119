package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/indecryption/chat-node/internal/chat"
	"github.com/indecryption/chat-node/internal/utils"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 256 * 1024 // 256 KB
)

// Client represents a single WebSocket connection. It implements
// chat.Conn so the presence registry and relay can push events to it.
type Client struct {
	conn *websocket.Conn

	ctx      context.Context
	registry *chat.Registry
	relay    *chat.Relay

	// Username from the validated session token
	username string

	// True once the client sent its register event, readPump only
	registered bool

	// Buffered channel of outbound messages
	send chan *Message

	done      chan struct{}
	closeOnce sync.Once

	logger *utils.LogsManager
}

// NewClient creates a new Client instance
func NewClient(ctx context.Context, conn *websocket.Conn, registry *chat.Registry, relay *chat.Relay, username string, logger *utils.LogsManager) *Client {
	return &Client{
		conn:     conn,
		ctx:      ctx,
		registry: registry,
		relay:    relay,
		username: username,
		send:     make(chan *Message, 256),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Start begins the read and write pumps for this client
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()

	connectedMsg, err := NewMessage(MessageTypeConnected, ConnectedPayload{
		Message:  "Connected",
		Username: c.username,
	})
	if err == nil {
		c.enqueue(connectedMsg)
	}
}

// Send implements chat.Conn. Events pushed by the registry and relay
// are queued for the write pump, a full buffer or closed connection
// reports an error so callers can fall back to stored delivery.
func (c *Client) Send(event string, payload interface{}) error {
	msg, err := NewMessage(MessageType(event), payload)
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

func (c *Client) enqueue(msg *Message) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn(fmt.Sprintf("Send buffer full for %s, message dropped", c.username), "websocket")
		return errors.New("send buffer full")
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump pumps messages from the WebSocket connection to the relay
func (c *Client) readPump() {
	defer func() {
		c.registry.Unregister(c)
		c.close()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn(fmt.Sprintf("WebSocket read error for %s: %v", c.username, err), "websocket")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug(fmt.Sprintf("Failed to parse incoming message from %s: %v", c.username, err), "websocket")
			continue
		}

		c.handleIncomingMessage(&msg)
	}
}

// writePump pumps queued messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			messageBytes, err := json.Marshal(message)
			if err != nil {
				c.logger.Error(fmt.Sprintf("Failed to marshal message: %v", err), "websocket")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, messageBytes); err != nil {
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

// handleIncomingMessage processes messages received from the client
func (c *Client) handleIncomingMessage(msg *Message) {
	switch msg.Type {
	case MessageTypePing:
		pongMsg, err := NewMessage(MessageTypePong, nil)
		if err == nil {
			c.enqueue(pongMsg)
		}

	case MessageTypeRegister:
		c.handleRegister(msg.Payload)

	case MessageTypeSendMessage:
		c.handleSendMessage(msg.Payload)

	default:
		c.logger.Debug(fmt.Sprintf("Unhandled message type %s from %s", msg.Type, c.username), "websocket")
	}
}

// handleRegister binds the connection into the presence registry. The
// token identity is authoritative, a register event claiming a
// different username is rejected.
func (c *Client) handleRegister(payload json.RawMessage) {
	var reg RegisterPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &reg); err != nil {
			c.sendError("invalid register payload", "BAD_PAYLOAD")
			return
		}
	}
	if reg.Username != "" && reg.Username != c.username {
		c.sendError("username does not match session", "IDENTITY_MISMATCH")
		return
	}

	c.registry.Register(c.username, c)
	c.registered = true
}

func (c *Client) handleSendMessage(payload json.RawMessage) {
	if !c.registered {
		c.sendError("register before sending messages", "NOT_REGISTERED")
		return
	}

	var send SendMessagePayload
	if err := json.Unmarshal(payload, &send); err != nil {
		c.sendError("invalid send_message payload", "BAD_PAYLOAD")
		return
	}
	if send.To == "" {
		c.sendError("missing recipient", "BAD_PAYLOAD")
		return
	}
	if send.Message != "" && (send.Ciphertext != "" || send.Nonce != "") {
		c.sendError("send either ciphertext or message, not both", "BAD_PAYLOAD")
		return
	}

	var receipt *chat.Receipt
	var err error
	if send.Ciphertext != "" || send.Nonce != "" {
		receipt, err = c.relay.RelayCiphertext(c.ctx, c.username, send.To, send.Ciphertext, send.Nonce)
	} else {
		receipt, err = c.relay.RelayPlaintext(c.ctx, c.username, send.To, send.Message)
	}
	if err != nil {
		c.sendError(err.Error(), relayErrorCode(err))
		return
	}

	sentMsg, err := NewMessage(MessageTypeMessageSent, receipt)
	if err == nil {
		c.enqueue(sentMsg)
	}
}

func (c *Client) sendError(message, code string) {
	errMsg, err := NewMessage(MessageTypeMessageError, MessageErrorPayload{Error: message, Code: code})
	if err == nil {
		c.enqueue(errMsg)
	}
}

func relayErrorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrUnknownRecipient):
		return "UNKNOWN_RECIPIENT"
	case errors.Is(err, chat.ErrEmptyMessage):
		return "EMPTY_MESSAGE"
	case errors.Is(err, chat.ErrPersistFailed):
		return "PERSIST_FAILED"
	default:
		return "SEND_FAILED"
	}
}

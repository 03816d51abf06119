package websocket

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client -> server
	MessageTypeRegister    MessageType = "register"
	MessageTypeSendMessage MessageType = "send_message"

	// Server -> client
	MessageTypeReceiveMessage MessageType = "receive_message"
	MessageTypeMessageSent    MessageType = "message_sent"
	MessageTypeMessageError   MessageType = "message_error"
	MessageTypeUserStatus     MessageType = "user_status"

	// Control message types
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
	MessageTypeError     MessageType = "error"
	MessageTypeConnected MessageType = "connected"
)

// Message is the base structure for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().Unix(),
	}, nil
}

// RegisterPayload binds a connection to its presence entry
type RegisterPayload struct {
	Username string `json:"username"`
}

// SendMessagePayload carries an outbound chat message. Either
// Ciphertext and Nonce are set or Message holds plaintext for the
// relay to seal.
type SendMessagePayload struct {
	To         string `json:"to"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	Message    string `json:"message,omitempty"`
}

// MessageErrorPayload reports a failed send to the sender
type MessageErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ConnectedPayload confirms a successful connection
type ConnectedPayload struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

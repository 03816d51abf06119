package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/indecryption/chat-node/internal/auth"
	"github.com/indecryption/chat-node/internal/crypto"
	"github.com/indecryption/chat-node/internal/database"
	"github.com/indecryption/chat-node/internal/utils"
)

var (
	ErrUnknownRecipient = errors.New("recipient does not exist")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrPersistFailed    = errors.New("failed to store message")
)

// Receipt acknowledges a stored and dispatched message to its sender
type Receipt struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Relay moves messages between users: store first, then deliver to
// the recipient's live connection when there is one. The sender's
// acknowledgement is only ever issued after the record is durable.
type Relay struct {
	messages *database.MessageManager
	users    *database.UserManager
	registry *Registry
	nodeKeys *crypto.KeyPair
	notifier auth.Notifier

	persistTimeout time.Duration
	offlineAlerts  bool
	logger         *utils.LogsManager
}

func NewRelay(messages *database.MessageManager, users *database.UserManager, registry *Registry, nodeKeys *crypto.KeyPair, notifier auth.Notifier, cm *utils.ConfigManager, logger *utils.LogsManager) *Relay {
	return &Relay{
		messages:       messages,
		users:          users,
		registry:       registry,
		nodeKeys:       nodeKeys,
		notifier:       notifier,
		persistTimeout: cm.GetConfigDuration("persist_timeout", 5*time.Second),
		offlineAlerts:  cm.GetConfigBool("offline_sms_alerts", false),
		logger:         logger,
	}
}

// RelayCiphertext handles a message the sender encrypted end to end.
// The payload is opaque here, it is stored and forwarded untouched.
func (r *Relay) RelayCiphertext(ctx context.Context, from, to, ciphertext, nonce string) (*Receipt, error) {
	if ciphertext == "" || nonce == "" {
		return nil, ErrEmptyMessage
	}

	msg := &database.Message{
		FromUsername: from,
		ToUsername:   to,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
	}
	return r.relay(ctx, msg)
}

// RelayPlaintext handles a message from a client that did not encrypt
// it. The relay seals it with its own secret key against the
// recipient's registered public key before anything touches storage,
// and flags the record so the recipient knows to decrypt against the
// relay's public key instead of the sender's.
func (r *Relay) RelayPlaintext(ctx context.Context, from, to, plaintext string) (*Receipt, error) {
	if plaintext == "" {
		return nil, ErrEmptyMessage
	}

	recipient, err := r.users.GetUserByUsername(to)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, ErrUnknownRecipient
	}

	recipientPub, err := crypto.DecodeKey(recipient.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("recipient has an unusable public key: %v", err)
	}

	sealed, err := crypto.Encrypt([]byte(plaintext), recipientPub, r.nodeKeys.SecretKey)
	if err != nil {
		return nil, err
	}

	msg := &database.Message{
		FromUsername:    from,
		ToUsername:      to,
		Ciphertext:      sealed.Ciphertext,
		Nonce:           sealed.Nonce,
		ServerEncrypted: true,
	}
	return r.relay(ctx, msg)
}

func (r *Relay) relay(ctx context.Context, msg *database.Message) (*Receipt, error) {
	recipient, err := r.users.GetUserByUsername(msg.ToUsername)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, ErrUnknownRecipient
	}

	persistCtx, cancel := context.WithTimeout(ctx, r.persistTimeout)
	defer cancel()

	stored, err := r.messages.AppendMessage(persistCtx, msg)
	if err != nil {
		r.logger.Error(fmt.Sprintf("Persist failed for %s -> %s: %v", msg.FromUsername, msg.ToUsername, err), "relay")
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	if conn, ok := r.registry.Lookup(msg.ToUsername); ok {
		if err := conn.Send("receive_message", stored); err != nil {
			// The record is durable, the recipient picks it up from
			// history on reconnect
			r.logger.Warn(fmt.Sprintf("Delivery to %s failed after store: %v", msg.ToUsername, err), "relay")
		}
	} else {
		// Off the acknowledgement path, a slow SMS gateway must not
		// stall the sender's receipt
		go r.notifyOffline(context.Background(), recipient, msg.FromUsername)
	}

	return &Receipt{ID: stored.ID, Timestamp: stored.Timestamp}, nil
}

// notifyOffline sends a best effort SMS nudge to an offline
// recipient. Failures are logged and swallowed, the message itself is
// already stored.
func (r *Relay) notifyOffline(ctx context.Context, recipient *database.User, from string) {
	if !r.offlineAlerts || r.notifier == nil {
		return
	}
	alert := fmt.Sprintf("New message from %s", from)
	if err := r.notifier.SendText(ctx, recipient.MobileNumber, alert); err != nil {
		r.logger.Debug(fmt.Sprintf("Offline alert to %s failed: %v", recipient.Username, err), "relay")
	}
}

// History returns the recent conversation between two users,
// oldest-first
func (r *Relay) History(ctx context.Context, usernameA, usernameB string, limit int) ([]*database.Message, error) {
	return r.messages.QueryBetween(ctx, usernameA, usernameB, limit)
}

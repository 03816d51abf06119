package chat

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/indecryption/chat-node/internal/crypto"
	"github.com/indecryption/chat-node/internal/database"
	"github.com/indecryption/chat-node/internal/utils"
	_ "modernc.org/sqlite"
)

type relayFixture struct {
	relay    *Relay
	registry *Registry
	users    *database.UserManager
	nodeKeys *crypto.KeyPair
}

func setupRelay(t *testing.T) *relayFixture {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cm := utils.NewConfigManager("")
	logger := utils.NewLogsManager(cm)

	users, err := database.NewUserManager(db, logger)
	if err != nil {
		t.Fatalf("Failed to create UserManager: %v", err)
	}
	messages, err := database.NewMessageManager(db, logger)
	if err != nil {
		t.Fatalf("Failed to create MessageManager: %v", err)
	}

	nodeKeys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate node keys: %v", err)
	}

	registry := NewRegistry(logger)
	relay := NewRelay(messages, users, registry, nodeKeys, nil, cm, logger)

	return &relayFixture{relay: relay, registry: registry, users: users, nodeKeys: nodeKeys}
}

func (f *relayFixture) addUser(t *testing.T, username, number string, keys *crypto.KeyPair) {
	t.Helper()
	user := &database.User{
		Username:     username,
		MobileNumber: number,
		PublicKey:    keys.PublicKeyBase64(),
	}
	if err := f.users.CreateUser(user); err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
}

func mustKeys(t *testing.T) *crypto.KeyPair {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate keys: %v", err)
	}
	return keys
}

func TestRelayCiphertextToOnlineRecipient(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()

	aliceKeys, bobKeys := mustKeys(t), mustKeys(t)
	f.addUser(t, "alice", "9000000001", aliceKeys)
	f.addUser(t, "bob", "9000000002", bobKeys)

	bobConn := &fakeConn{}
	f.registry.Register("bob", bobConn)

	sealed, err := crypto.Encrypt([]byte("hello bob"), bobKeys.PublicKey, aliceKeys.SecretKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	receipt, err := f.relay.RelayCiphertext(ctx, "alice", "bob", sealed.Ciphertext, sealed.Nonce)
	if err != nil {
		t.Fatalf("Relay failed: %v", err)
	}
	if receipt.ID == "" || receipt.Timestamp.IsZero() {
		t.Error("Expected receipt with id and timestamp")
	}

	delivered := bobConn.received("receive_message")
	if len(delivered) != 1 {
		t.Fatalf("Expected 1 delivered message, got %d", len(delivered))
	}
	msg := delivered[0].payload.(*database.Message)
	if msg.Ciphertext != sealed.Ciphertext || msg.Nonce != sealed.Nonce {
		t.Error("Delivered payload does not match what was sent")
	}

	// Bob can decrypt with his secret and alice's public key
	plaintext, err := crypto.Decrypt(msg.Ciphertext, msg.Nonce, aliceKeys.PublicKey, bobKeys.SecretKey)
	if err != nil {
		t.Fatalf("Recipient decrypt failed: %v", err)
	}
	if string(plaintext) != "hello bob" {
		t.Errorf("Expected 'hello bob', got %q", plaintext)
	}
}

func TestRelayStoresForOfflineRecipient(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()

	aliceKeys, bobKeys := mustKeys(t), mustKeys(t)
	f.addUser(t, "alice", "9000000001", aliceKeys)
	f.addUser(t, "bob", "9000000002", bobKeys)

	sealed, _ := crypto.Encrypt([]byte("while you were out"), bobKeys.PublicKey, aliceKeys.SecretKey)
	if _, err := f.relay.RelayCiphertext(ctx, "alice", "bob", sealed.Ciphertext, sealed.Nonce); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	history, err := f.relay.History(ctx, "bob", "alice", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 stored message, got %d", len(history))
	}
	plaintext, err := crypto.Decrypt(history[0].Ciphertext, history[0].Nonce, aliceKeys.PublicKey, bobKeys.SecretKey)
	if err != nil {
		t.Fatalf("Decrypt from history failed: %v", err)
	}
	if string(plaintext) != "while you were out" {
		t.Errorf("Unexpected plaintext %q", plaintext)
	}
}

func TestRelayUnknownRecipient(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()

	f.addUser(t, "alice", "9000000001", mustKeys(t))

	_, err := f.relay.RelayCiphertext(ctx, "alice", "ghost", "Y2lwaGVy", "bm9uY2U=")
	if !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("Expected ErrUnknownRecipient, got %v", err)
	}

	// Nothing was stored for the failed relay
	history, _ := f.relay.History(ctx, "alice", "ghost", 0)
	if len(history) != 0 {
		t.Error("Expected no stored messages for unknown recipient")
	}
}

func TestRelayEmptyMessage(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()

	if _, err := f.relay.RelayCiphertext(ctx, "alice", "bob", "", "bm9uY2U="); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
	if _, err := f.relay.RelayPlaintext(ctx, "alice", "bob", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
}

func TestRelayPlaintextSealedByNode(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()

	bobKeys := mustKeys(t)
	f.addUser(t, "alice", "9000000001", mustKeys(t))
	f.addUser(t, "bob", "9000000002", bobKeys)

	bobConn := &fakeConn{}
	f.registry.Register("bob", bobConn)

	if _, err := f.relay.RelayPlaintext(ctx, "alice", "bob", "plain hello"); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	delivered := bobConn.received("receive_message")
	if len(delivered) != 1 {
		t.Fatalf("Expected 1 delivered message, got %d", len(delivered))
	}
	msg := delivered[0].payload.(*database.Message)
	if !msg.ServerEncrypted {
		t.Error("Expected the record to be flagged as relay encrypted")
	}
	if msg.Ciphertext == "plain hello" {
		t.Error("Expected the stored payload to be sealed")
	}

	// Decrypts against the relay's public key, not the sender's
	plaintext, err := crypto.Decrypt(msg.Ciphertext, msg.Nonce, f.nodeKeys.PublicKey, bobKeys.SecretKey)
	if err != nil {
		t.Fatalf("Decrypt against node key failed: %v", err)
	}
	if string(plaintext) != "plain hello" {
		t.Errorf("Expected 'plain hello', got %q", plaintext)
	}
}

func TestRelayEndToEndScenario(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()

	bobKeys := mustKeys(t)
	f.addUser(t, "alice", "9000000001", mustKeys(t))
	f.addUser(t, "bob", "9000000002", bobKeys)

	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	f.registry.Register("alice", aliceConn)
	f.registry.Register("bob", bobConn)

	// Online: bob receives and decrypts the first message
	if _, err := f.relay.RelayPlaintext(ctx, "alice", "bob", "hi"); err != nil {
		t.Fatalf("First relay failed: %v", err)
	}
	delivered := bobConn.received("receive_message")
	if len(delivered) != 1 {
		t.Fatalf("Expected 1 live delivery, got %d", len(delivered))
	}
	first := delivered[0].payload.(*database.Message)
	plaintext, err := crypto.Decrypt(first.Ciphertext, first.Nonce, f.nodeKeys.PublicKey, bobKeys.SecretKey)
	if err != nil || string(plaintext) != "hi" {
		t.Fatalf("Expected decrypted 'hi', got %q (err %v)", plaintext, err)
	}

	// Bob disconnects, the second message is stored only
	f.registry.Unregister(bobConn)
	receipt, err := f.relay.RelayPlaintext(ctx, "alice", "bob", "yo")
	if err != nil {
		t.Fatalf("Second relay failed: %v", err)
	}
	if receipt == nil {
		t.Fatal("Expected a receipt for the offline send")
	}
	if got := len(bobConn.received("receive_message")); got != 1 {
		t.Errorf("Expected no further live delivery, got %d total", got)
	}

	// Both messages retrievable in chronological order
	history, err := f.relay.History(ctx, "alice", "bob", 50)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 stored messages, got %d", len(history))
	}
	for i, want := range []string{"hi", "yo"} {
		plaintext, err := crypto.Decrypt(history[i].Ciphertext, history[i].Nonce, f.nodeKeys.PublicKey, bobKeys.SecretKey)
		if err != nil || string(plaintext) != want {
			t.Errorf("Message %d: expected %q, got %q (err %v)", i, want, plaintext, err)
		}
	}
}

func TestRelayDeliveryFailureStillStores(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()

	aliceKeys, bobKeys := mustKeys(t), mustKeys(t)
	f.addUser(t, "alice", "9000000001", aliceKeys)
	f.addUser(t, "bob", "9000000002", bobKeys)

	f.registry.Register("bob", &fakeConn{fail: true})

	sealed, _ := crypto.Encrypt([]byte("hi"), bobKeys.PublicKey, aliceKeys.SecretKey)
	receipt, err := f.relay.RelayCiphertext(ctx, "alice", "bob", sealed.Ciphertext, sealed.Nonce)
	if err != nil {
		t.Fatalf("Expected relay to succeed despite delivery failure, got %v", err)
	}
	if receipt == nil {
		t.Fatal("Expected a receipt")
	}

	history, _ := f.relay.History(ctx, "alice", "bob", 0)
	if len(history) != 1 {
		t.Error("Expected the message to be durable despite delivery failure")
	}
}

// blockingNotifier holds SendText until released, recording the target
// number.
type blockingNotifier struct {
	release chan struct{}
	sentTo  chan string
}

func (bn *blockingNotifier) SendOtp(ctx context.Context, mobileNumber, code string) error {
	return nil
}

func (bn *blockingNotifier) SendText(ctx context.Context, mobileNumber, body string) error {
	<-bn.release
	bn.sentTo <- mobileNumber
	return nil
}

func TestOfflineAlertDoesNotStallReceipt(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cm := utils.NewConfigManager("")
	cm.SetConfig("offline_sms_alerts", true)
	logger := utils.NewLogsManager(cm)

	users, err := database.NewUserManager(db, logger)
	if err != nil {
		t.Fatalf("Failed to create UserManager: %v", err)
	}
	messages, err := database.NewMessageManager(db, logger)
	if err != nil {
		t.Fatalf("Failed to create MessageManager: %v", err)
	}

	nodeKeys := mustKeys(t)
	notifier := &blockingNotifier{release: make(chan struct{}), sentTo: make(chan string, 1)}
	relay := NewRelay(messages, users, NewRegistry(logger), nodeKeys, notifier, cm, logger)

	aliceKeys, bobKeys := mustKeys(t), mustKeys(t)
	for _, u := range []*database.User{
		{Username: "alice", MobileNumber: "9000000001", PublicKey: aliceKeys.PublicKeyBase64()},
		{Username: "bob", MobileNumber: "9000000002", PublicKey: bobKeys.PublicKeyBase64()},
	} {
		if err := users.CreateUser(u); err != nil {
			t.Fatalf("Failed to create user %s: %v", u.Username, err)
		}
	}

	sealed, _ := crypto.Encrypt([]byte("hi"), bobKeys.PublicKey, aliceKeys.SecretKey)

	// The receipt must come back while the SMS dispatch is still blocked
	done := make(chan error, 1)
	go func() {
		_, err := relay.RelayCiphertext(context.Background(), "alice", "bob", sealed.Ciphertext, sealed.Nonce)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Relay failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Relay acknowledgement blocked on the SMS dispatch")
	}

	close(notifier.release)
	select {
	case number := <-notifier.sentTo:
		if number != "9000000002" {
			t.Errorf("Expected alert to bob's number, got %s", number)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the offline alert to be dispatched")
	}
}

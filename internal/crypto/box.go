package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/box"
)

// MaxMessageSize bounds plaintext size (64KB is plenty for chat)
const MaxMessageSize = 64 * 1024

var (
	// ErrEncryptionFailed is returned when a message cannot be sealed
	ErrEncryptionFailed = errors.New("encryption failed")

	// ErrDecryptionFailed is returned when authentication fails on open.
	// Deliberately carries no detail: tampering, truncation and key
	// mismatch are indistinguishable to the caller.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// SealedMessage is the output of Encrypt: base64-encoded ciphertext and
// the nonce it was sealed under.
type SealedMessage struct {
	Ciphertext string
	Nonce      string
}

// Encrypt seals plaintext for the recipient using authenticated
// public-key encryption. A fresh random nonce is drawn inside the call;
// callers cannot supply one, so a nonce can never be reused under a key
// pair by API misuse.
func Encrypt(plaintext []byte, recipientPub [KeySize]byte, senderSecret [KeySize]byte) (*SealedMessage, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("empty message")
	}
	if len(plaintext) > MaxMessageSize {
		return nil, errors.New("message too large")
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.New("failed to read random source")
	}

	sealed := box.Seal(nil, plaintext, &nonce, &recipientPub, &senderSecret)

	return &SealedMessage{
		Ciphertext: encodeBase64(sealed),
		Nonce:      encodeBase64(nonce[:]),
	}, nil
}

// Decrypt opens an authenticated box. Fails closed: any tampering with
// ciphertext or nonce, or a wrong key, yields ErrDecryptionFailed and
// never partial or garbled plaintext.
func Decrypt(ciphertextB64, nonceB64 string, senderPub [KeySize]byte, recipientSecret [KeySize]byte) ([]byte, error) {
	ciphertext, err := decodeBase64(ciphertextB64)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	nonce, err := DecodeNonce(nonceB64)
	if err != nil {
		return nil, err
	}

	plaintext, ok := box.Open(nil, ciphertext, &nonce, &senderPub, &recipientSecret)
	if !ok {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

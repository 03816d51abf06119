// Package crypto implements the end-to-end encryption primitives for the
// chat node: Curve25519 box key pairs and authenticated encrypt/decrypt
// via NaCl box, with base64 wire encoding.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/box"
)

const (
	// KeySize is the length of Curve25519 public and secret keys
	KeySize = 32

	// NonceSize is the length of a NaCl box nonce
	NonceSize = 24
)

// KeyPair represents a NaCl box key pair. The secret key is held by
// clients and by the node itself (for server-side encryption); user
// secret keys are never persisted or relayed.
type KeyPair struct {
	PublicKey [KeySize]byte
	SecretKey [KeySize]byte
}

// GenerateKeyPair creates a new random box key pair. Fails only if the
// system CSPRNG cannot be read, which is fatal for the caller.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, secretKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read random source: %v", err)
	}

	return &KeyPair{
		PublicKey: *publicKey,
		SecretKey: *secretKey,
	}, nil
}

// PublicKeyBase64 returns the base64 encoding of the public key
func (kp *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.PublicKey[:])
}

// SecretKeyBase64 returns the base64 encoding of the secret key
func (kp *KeyPair) SecretKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.SecretKey[:])
}

// DecodeKey parses a base64-encoded 32-byte key
func DecodeKey(b64 string) ([KeySize]byte, error) {
	var key [KeySize]byte

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return key, fmt.Errorf("invalid key encoding: %v", err)
	}
	if len(data) != KeySize {
		return key, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeySize, len(data))
	}

	copy(key[:], data)
	return key, nil
}

// DecodeNonce parses a base64-encoded 24-byte nonce
func DecodeNonce(b64 string) ([NonceSize]byte, error) {
	var nonce [NonceSize]byte

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nonce, fmt.Errorf("invalid nonce encoding: %v", err)
	}
	if len(data) != NonceSize {
		return nonce, fmt.Errorf("invalid nonce length: expected %d bytes, got %d", NonceSize, len(data))
	}

	copy(nonce[:], data)
	return nonce, nil
}

// SaveKeys saves the key pair to disk with proper permissions
func SaveKeys(keyPair *KeyPair, dirPath string) error {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return fmt.Errorf("failed to create keys directory: %v", err)
	}

	// Public key readable by all
	publicKeyPath := filepath.Join(dirPath, "box_public.key")
	if err := os.WriteFile(publicKeyPath, keyPair.PublicKey[:], 0644); err != nil {
		return fmt.Errorf("failed to save public key: %v", err)
	}

	// Secret key readable only by owner
	secretKeyPath := filepath.Join(dirPath, "box_secret.key")
	if err := os.WriteFile(secretKeyPath, keyPair.SecretKey[:], 0600); err != nil {
		return fmt.Errorf("failed to save secret key: %v", err)
	}

	return nil
}

// LoadKeys loads an existing key pair from disk
func LoadKeys(dirPath string) (*KeyPair, error) {
	publicKeyPath := filepath.Join(dirPath, "box_public.key")
	secretKeyPath := filepath.Join(dirPath, "box_secret.key")

	publicKeyBytes, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %v", err)
	}

	secretKeyBytes, err := os.ReadFile(secretKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret key: %v", err)
	}

	if len(publicKeyBytes) != KeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d, got %d", KeySize, len(publicKeyBytes))
	}
	if len(secretKeyBytes) != KeySize {
		return nil, fmt.Errorf("invalid secret key size: expected %d, got %d", KeySize, len(secretKeyBytes))
	}

	kp := &KeyPair{}
	copy(kp.PublicKey[:], publicKeyBytes)
	copy(kp.SecretKey[:], secretKeyBytes)
	return kp, nil
}

// LoadOrGenerateKeys loads the node key pair or generates a new one if
// none exists yet
func LoadOrGenerateKeys(dirPath string) (*KeyPair, error) {
	keyPair, err := LoadKeys(dirPath)
	if err == nil {
		return keyPair, nil
	}

	keyPair, err = GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := SaveKeys(keyPair, dirPath); err != nil {
		return nil, err
	}

	return keyPair, nil
}

package crypto

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	if keyPair == nil {
		t.Fatal("GenerateKeyPair() returned nil key pair")
	}

	zero := [KeySize]byte{}
	if bytes.Equal(keyPair.PublicKey[:], zero[:]) {
		t.Error("GenerateKeyPair() returned zero public key")
	}
	if bytes.Equal(keyPair.SecretKey[:], zero[:]) {
		t.Error("GenerateKeyPair() returned zero secret key")
	}

	// Multiple generations must produce different keys
	keyPair2, _ := GenerateKeyPair()
	if bytes.Equal(keyPair.PublicKey[:], keyPair2.PublicKey[:]) {
		t.Error("Multiple GenerateKeyPair() calls produced identical public keys")
	}
}

func TestKeyBase64RoundTrip(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	decoded, err := DecodeKey(keyPair.PublicKeyBase64())
	if err != nil {
		t.Fatalf("DecodeKey() error: %v", err)
	}

	if !bytes.Equal(decoded[:], keyPair.PublicKey[:]) {
		t.Error("decoded public key does not match original")
	}
}

func TestDecodeKeyRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		b64  string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"too short", "YWJj"},
		{"empty", ""},
		{"too long", "YWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFh"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeKey(tc.b64); err == nil {
				t.Errorf("DecodeKey(%q) expected error, got nil", tc.b64)
			}
		})
	}
}

func TestDecodeNonceRejectsWrongLength(t *testing.T) {
	if _, err := DecodeNonce("YWJj"); err == nil {
		t.Error("DecodeNonce() expected error for short nonce, got nil")
	}
}

func TestLoadOrGenerateKeys(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	first, err := LoadOrGenerateKeys(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateKeys() error: %v", err)
	}

	// Second call must load the same pair, not generate a new one
	second, err := LoadOrGenerateKeys(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateKeys() second call error: %v", err)
	}

	if !bytes.Equal(first.PublicKey[:], second.PublicKey[:]) {
		t.Error("LoadOrGenerateKeys() generated a new pair instead of loading")
	}
	if !bytes.Equal(first.SecretKey[:], second.SecretKey[:]) {
		t.Error("LoadOrGenerateKeys() secret key mismatch after reload")
	}
}

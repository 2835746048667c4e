package vault

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New("test-passphrase")

	plaintext := []byte("semantic scholar api key value")
	ciphertext, nonce, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := v.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestDeterministicKeyAcrossInstances(t *testing.T) {
	a := New("same-passphrase")
	b := New("same-passphrase")

	ciphertext, nonce, err := a.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := b.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("decrypt with second instance: %v", err)
	}
	if string(got) != "secret" {
		t.Errorf("unexpected plaintext %q", got)
	}
}

func TestWrongPassphraseFails(t *testing.T) {
	a := New("right")
	b := New("wrong")

	ciphertext, nonce, err := a.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := b.Decrypt(ciphertext, nonce); err == nil {
		t.Error("expected decryption with wrong passphrase to fail")
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	v := New("pass")

	ciphertext, nonce, err := v.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ciphertext[0] ^= 0xff

	if _, err := v.Decrypt(ciphertext, nonce); err == nil {
		t.Error("expected tampered ciphertext to fail")
	}
}

package crypto

import (
	"bytes"
	"testing"
)

func TestX3DHInitiateRespondAgree(t *testing.T) {
	alice, err := GenerateX3DHKeypair()
	if err != nil {
		t.Fatalf("alice keypair: %v", err)
	}
	bob, err := GenerateX3DHKeypair()
	if err != nil {
		t.Fatalf("bob keypair: %v", err)
	}

	sharedA, ephPub, err := X3DHInitiate(alice, bob.Public)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	ephKeypair := X3DHKeypair{Public: ephPub}
	_ = ephKeypair

	sharedB, err := X3DHRespond(bob, alice.Public, ephPub)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !bytes.Equal(sharedA, sharedB) {
		t.Fatalf("shared secrets diverge: %x vs %x", sharedA, sharedB)
	}
}

func TestPrimitivesEncryptDecryptTamperDetected(t *testing.T) {
	var key SymmetricKey
	for i := range key {
		key[i] = byte(i)
	}
	ct, err := Encrypt(key, []byte("hello"), []byte("aad"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := Decrypt(key, ct, []byte("aad"))
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(pt) != "hello" {
		t.Fatalf("got %q", pt)
	}

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := Decrypt(key, tampered, []byte("aad")); err == nil {
		t.Fatal("expected tamper detection")
	}
}

func TestPBKDF2SHA256Deterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0x1}, 16)
	a := PBKDF2SHA256(salt, []byte("password"))
	b := PBKDF2SHA256(salt, []byte("password"))
	if !bytes.Equal(a, b) {
		t.Fatal("expected deterministic derivation")
	}
	c := PBKDF2SHA256(salt, []byte("different"))
	if bytes.Equal(a, c) {
		t.Fatal("expected different password to diverge")
	}
}

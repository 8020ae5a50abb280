package custody

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testEncryptionKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func mustGenerate(t *testing.T) *Keypair {
	t.Helper()
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	return kp
}

func TestGenerate_ProducesDistinctValidKeypairs(t *testing.T) {
	a := mustGenerate(t)
	b := mustGenerate(t)

	if a.Address() == b.Address() {
		t.Error("two generated keypairs share an address")
	}
	if len(a.PrivateKey) != ed25519.PrivateKeySize {
		t.Errorf("len(PrivateKey) = %d, want %d", len(a.PrivateKey), ed25519.PrivateKeySize)
	}
	if !a.PrivateKey.PublicKey().Equals(a.PublicKey) {
		t.Error("PublicKey does not match PrivateKey")
	}
}

func TestCodec_RoundTrip_SignVerify(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
	}{
		{"plain", nil},
		{"sealed", testEncryptionKey()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := NewCodec(tt.key)
			if err != nil {
				t.Fatalf("NewCodec error: %v", err)
			}
			kp := mustGenerate(t)

			encoded, err := codec.Encode(kp)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			if strings.Contains(encoded, kp.PrivateKey.String()) {
				t.Error("encoded form contains the base58 secret verbatim")
			}

			decoded, err := codec.Decode(encoded, kp.Address())
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if decoded.Address() != kp.Address() {
				t.Errorf("Address = %s, want %s", decoded.Address(), kp.Address())
			}

			msg := []byte("solify round trip")
			sig := ed25519.Sign(ed25519.PrivateKey(decoded.PrivateKey), msg)
			if !ed25519.Verify(ed25519.PublicKey(kp.PublicKey[:]), msg, sig) {
				t.Error("signature from decoded key does not verify against original public key")
			}
		})
	}
}

func TestCodec_PlainFormatIsBase64OfSecret(t *testing.T) {
	codec, _ := NewCodec(nil)
	kp := mustGenerate(t)

	encoded, err := codec.Encode(kp)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if encoded != base64.StdEncoding.EncodeToString(kp.PrivateKey) {
		t.Error("plain encoding must be base64 of the 64-byte secret")
	}
}

func TestCodec_SealedFormatHasPrefix(t *testing.T) {
	codec, _ := NewCodec(testEncryptionKey())
	if !codec.Sealed() {
		t.Fatal("codec with key should report Sealed")
	}
	kp := mustGenerate(t)

	encoded, err := codec.Encode(kp)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if !strings.HasPrefix(encoded, sealedPrefix) {
		t.Errorf("sealed encoding %q lacks %q prefix", encoded, sealedPrefix)
	}
}

func TestCodec_Decode_Failures(t *testing.T) {
	plain, _ := NewCodec(nil)
	sealed, _ := NewCodec(testEncryptionKey())
	other := testEncryptionKey()
	other[0] ^= 0xff
	otherSealed, _ := NewCodec(other)

	kp := mustGenerate(t)
	another := mustGenerate(t)
	plainEncoded, _ := plain.Encode(kp)
	sealedEncoded, _ := sealed.Encode(kp)

	corrupted := make([]byte, len(kp.PrivateKey))
	copy(corrupted, kp.PrivateKey)
	corrupted[0] ^= 0x01

	tests := []struct {
		name     string
		codec    *Codec
		encoded  string
		expected string
	}{
		{"invalid base64", plain, "***", ""},
		{"wrong length", plain, base64.StdEncoding.EncodeToString([]byte("short")), ""},
		{"seed does not match public half", plain, base64.StdEncoding.EncodeToString(corrupted), ""},
		{"address mismatch", plain, plainEncoded, another.Address()},
		{"sealed without key", plain, sealedEncoded, kp.Address()},
		{"sealed with wrong key", otherSealed, sealedEncoded, kp.Address()},
		{"sealed truncated", sealed, sealedPrefix + "AAAA", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.codec.Decode(tt.encoded, tt.expected)
			if !errors.Is(err, ErrKeyDecode) {
				t.Fatalf("expected ErrKeyDecode, got %v", err)
			}
		})
	}
}

func TestCodec_DecodePlainWithSealedCodec(t *testing.T) {
	plain, _ := NewCodec(nil)
	sealed, _ := NewCodec(testEncryptionKey())
	kp := mustGenerate(t)

	encoded, _ := plain.Encode(kp)
	got, err := sealed.Decode(encoded, kp.Address())
	if err != nil {
		t.Fatalf("sealed codec should still read plain material: %v", err)
	}
	if got.Address() != kp.Address() {
		t.Errorf("Address = %s, want %s", got.Address(), kp.Address())
	}
}

func TestNewCodec_RejectsWrongKeyLength(t *testing.T) {
	if _, err := NewCodec([]byte("short")); err == nil {
		t.Fatal("expected error for 5-byte key")
	}
}

func TestCodec_Encode_RejectsIncompleteKeypair(t *testing.T) {
	codec, _ := NewCodec(nil)
	if _, err := codec.Encode(&Keypair{}); err == nil {
		t.Fatal("expected error for empty keypair")
	}
	if _, err := codec.Encode(nil); err == nil {
		t.Fatal("expected error for nil keypair")
	}
}

package crypto

import (
	"encoding/base64"
	"testing"
)

func TestSealOpen(t *testing.T) {
	kr, err := NewKeyring("k1", map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	sealed, err := kr.Seal("sk-test-credential")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "sk-test-credential" {
		t.Fatal("sealed value must not equal plaintext")
	}

	out, err := kr.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "sk-test-credential" {
		t.Fatalf("expected original value, got %q", out)
	}
}

func TestOpenWithRotatedRing(t *testing.T) {
	oldKey := mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	newKey := mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")

	oldRing, err := NewKeyring("old", map[string][]byte{"old": oldKey})
	if err != nil {
		t.Fatalf("old keyring: %v", err)
	}
	sealed, err := oldRing.Seal("legacy-key")
	if err != nil {
		t.Fatalf("seal with old ring: %v", err)
	}

	rotated, err := NewKeyring("new", map[string][]byte{"old": oldKey, "new": newKey})
	if err != nil {
		t.Fatalf("rotated keyring: %v", err)
	}
	plain, err := rotated.Open(sealed)
	if err != nil {
		t.Fatalf("open with rotated ring: %v", err)
	}
	if plain != "legacy-key" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestNewKeyringValidation(t *testing.T) {
	if _, err := NewKeyring("", map[string][]byte{}); err == nil {
		t.Fatal("expected error for empty current key id")
	}
	if _, err := NewKeyring("k1", map[string][]byte{"k1": []byte("short")}); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := NewKeyring("missing", map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	}); err == nil {
		t.Fatal("expected error for missing current key")
	}
}

func mustKey(t *testing.T, b64 string) []byte {
	t.Helper()
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k))
	}
	return k
}

package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func bufferJSON(b []byte) map[string]string {
	return map[string]string{"type": "Buffer", "data": base64.StdEncoding.EncodeToString(b)}
}

func mustKeyPair(t *testing.T) map[string]any {
	t.Helper()

	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		t.Fatalf("rand: %v", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatalf("x25519: %v", err)
	}
	return map[string]any{"private": bufferJSON(priv), "public": bufferJSON(pub)}
}

// validCreds returns a complete, registered credentials record.
func validCreds(t *testing.T) map[string]any {
	t.Helper()

	return map[string]any{
		"noiseKey":          mustKeyPair(t),
		"signedIdentityKey": mustKeyPair(t),
		"signedPreKey": map[string]any{
			"keyPair":   mustKeyPair(t),
			"signature": bufferJSON([]byte("sig")),
			"keyId":     1,
		},
		"registrationId": 1234,
		"advSecretKey":   "c2VjcmV0",
		"registered":     true,
		"me":             map[string]string{"id": "628123:1@s.whatsapp.net"},
	}
}

func writeSession(t *testing.T, base, id string, creds any) string {
	t.Helper()

	dir := filepath.Join(base, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if creds == nil {
		return dir
	}

	var b []byte
	switch v := creds.(type) {
	case string:
		b = []byte(v)
	default:
		var err error
		b, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal creds: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, CredsFile), b, 0o600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
	return dir
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

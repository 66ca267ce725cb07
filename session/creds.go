package session

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
)

// CredsFile is the credentials record inside every session directory.
const CredsFile = "creds.json"

// RequiredKeys are the credential entries a usable session must carry.
var RequiredKeys = []string{
	"noiseKey",
	"signedIdentityKey",
	"signedPreKey",
	"registrationId",
	"advSecretKey",
}

// creds is the subset of the credentials record the store inspects.
// Entries stay raw so absent and null keys can be told apart.
type creds map[string]json.RawMessage

func readCreds(dir string) (creds, error) {
	path := filepath.Join(dir, CredsFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &OpError{Op: "session.readCreds", Path: path, Kind: ErrNotFound, Err: err}
		}
		return nil, &OpError{Op: "session.readCreds", Path: path, Kind: ErrCorrupt, Err: err}
	}

	var c creds
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, &OpError{Op: "session.parseCreds", Path: path, Kind: ErrCorrupt, Err: err}
	}
	if c == nil {
		return nil, &OpError{Op: "session.parseCreds", Path: path, Kind: ErrCorrupt, Err: fmt.Errorf("not an object")}
	}
	return c, nil
}

func (c creds) registered() bool {
	raw, ok := c["registered"]
	if !ok {
		return false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return v
}

func (c creds) missingKeys() []string {
	var missing []string
	for _, k := range RequiredKeys {
		if !present(c[k]) {
			missing = append(missing, k)
		}
	}
	return missing
}

func present(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	switch {
	case len(t) == 0:
		return false
	case bytes.Equal(t, []byte("null")), bytes.Equal(t, []byte(`""`)), bytes.Equal(t, []byte("{}")):
		return false
	}
	return true
}

// keyPair is a stored Curve25519 key pair.
type keyPair struct {
	Private buffer `json:"private"`
	Public  buffer `json:"public"`
}

// verifyKeyPairs checks that every stored Curve25519 pair is self-consistent.
// It returns the name of the first inconsistent entry.
func (c creds) verifyKeyPairs() (string, bool) {
	for _, name := range []string{"noiseKey", "signedIdentityKey", "signedPreKey"} {
		raw := c[name]
		if name == "signedPreKey" {
			var spk struct {
				KeyPair json.RawMessage `json:"keyPair"`
			}
			if err := json.Unmarshal(raw, &spk); err != nil {
				return name, false
			}
			raw = spk.KeyPair
		}
		kp, err := decodePair(raw)
		if err != nil || !kp.consistent() {
			return name, false
		}
	}
	return "", true
}

func decodePair(raw json.RawMessage) (keyPair, error) {
	var kp keyPair
	if err := json.Unmarshal(raw, &kp); err != nil {
		return keyPair{}, err
	}
	return kp, nil
}

func (kp keyPair) consistent() bool {
	priv := []byte(kp.Private)
	pub := []byte(kp.Public)
	// Signal-style public keys may carry a 0x05 type prefix.
	if len(pub) == curve25519.PointSize+1 && pub[0] == 0x05 {
		pub = pub[1:]
	}
	if len(priv) != curve25519.ScalarSize || len(pub) != curve25519.PointSize {
		return false
	}
	derived, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, pub) == 1
}

// buffer decodes the byte encodings found in credential files:
// {"type":"Buffer","data":"<base64>"}, {"type":"Buffer","data":[1,2,...]},
// or a bare base64 string.
type buffer []byte

func (b *buffer) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*b = nil
		return nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		v, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		*b = v
		return nil
	}

	var obj struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	data := bytes.TrimSpace(obj.Data)
	if len(data) > 0 && data[0] == '[' {
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return err
		}
		v := make([]byte, len(ints))
		for i, n := range ints {
			if n < 0 || n > 255 {
				return fmt.Errorf("byte out of range: %d", n)
			}
			v[i] = byte(n)
		}
		*b = v
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

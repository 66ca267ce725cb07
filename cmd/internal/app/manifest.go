package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zevanoo/baileys-ez/client"
	"github.com/zevanoo/baileys-ez/serialize"
	"github.com/zevanoo/baileys-ez/session"
)

// Manifest is the clients file:
//
//	defaults:
//	  pairing_code: ABCD1234
//	  socket_config: {markOnlineOnConnect: false}
//	clients:
//	  - id: acct1
//	    phone: "6281234567890"
//	    prefixes: ["!", "."]
//	  - id: acct2
//	    connect: false
type Manifest struct {
	Defaults ManifestDefaults `yaml:"defaults"`
	Clients  []ManifestClient `yaml:"clients"`
}

// ManifestDefaults apply to every client of the manifest.
type ManifestDefaults struct {
	PairingCode   string         `yaml:"pairing_code"`
	SocketConfig  map[string]any `yaml:"socket_config"`
	Prefixes      []string       `yaml:"prefixes"`
	MaxQuoteDepth int            `yaml:"max_quote_depth"`
}

// ManifestClient declares one client.
type ManifestClient struct {
	ID            string         `yaml:"id"`
	Phone         string         `yaml:"phone"`
	PairingCode   string         `yaml:"pairing_code"`
	SocketConfig  map[string]any `yaml:"socket_config"`
	Prefixes      []string       `yaml:"prefixes"`
	MaxQuoteDepth int            `yaml:"max_quote_depth"`
	// Connect defaults to true.
	Connect *bool `yaml:"connect"`
}

// AutoConnect reports whether the client is connected on start.
func (c ManifestClient) AutoConnect() bool { return c.Connect == nil || *c.Connect }

// LoadManifest reads and validates a clients file.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: %w", err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes a clients file. Unknown keys are rejected.
func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, nil
		}
		return Manifest{}, fmt.Errorf("manifest: %w", err)
	}

	seen := make(map[string]struct{}, len(m.Clients))
	for i := range m.Clients {
		c := &m.Clients[i]
		c.ID = strings.TrimSpace(c.ID)
		if !session.ValidID(c.ID) {
			return Manifest{}, fmt.Errorf("manifest: clients[%d]: invalid id %q", i, c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return Manifest{}, fmt.Errorf("manifest: clients[%d]: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return m, nil
}

// Options converts a manifest entry into client options. Manifest defaults
// fill what the entry leaves empty; orchestrator defaults fill the rest.
func (m Manifest) Options(c ManifestClient) client.Options {
	opts := client.Options{
		ID:           c.ID,
		PhoneNumber:  strings.TrimSpace(c.Phone),
		PairingCode:  firstNonEmpty(c.PairingCode, m.Defaults.PairingCode),
		SocketConfig: mergeMaps(m.Defaults.SocketConfig, c.SocketConfig),
	}

	prefixes := c.Prefixes
	if len(prefixes) == 0 {
		prefixes = m.Defaults.Prefixes
	}
	depth := c.MaxQuoteDepth
	if depth == 0 {
		depth = m.Defaults.MaxQuoteDepth
	}
	if len(prefixes) > 0 || depth != 0 {
		opts.SerializeOptions = serialize.Options{Prefixes: prefixes, MaxQuoteDepth: depth}
	}
	return opts
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func mergeMaps(base, over map[string]any) map[string]any {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

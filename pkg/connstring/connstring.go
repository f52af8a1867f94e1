// Package connstring encodes and decodes the compact connection-string
// format participants paste into a wallet or scanning flow:
// "hmsc:BASE64(JSON{s,i,p})" — "hmsc" standing for Hedera Multi-Sig
// Console, this system's working name.
package connstring

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const prefix = "hmsc:"

type payload struct {
	ServerURL string `json:"s"`
	SessionID string `json:"i"`
	PIN       string `json:"p,omitempty"`
}

// ConnectionString is the decoded form.
type ConnectionString struct {
	ServerURL string
	SessionID string
	PIN       string
	HasPIN    bool
}

// Encode produces the wire form "hmsc:BASE64(JSON{...})". PIN is omitted
// from the payload entirely when empty, producing a PIN-less string.
func Encode(cs ConnectionString) string {
	p := payload{ServerURL: cs.ServerURL, SessionID: cs.SessionID}
	if cs.HasPIN {
		p.PIN = cs.PIN
	}
	raw, _ := json.Marshal(p)
	return prefix + base64.StdEncoding.EncodeToString(raw)
}

// Decode parses a connection string, tolerating a missing "p" field for
// PIN-less connection strings.
func Decode(s string) (ConnectionString, error) {
	if !strings.HasPrefix(s, prefix) {
		return ConnectionString{}, fmt.Errorf("connstring: missing %q prefix", prefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, prefix))
	if err != nil {
		return ConnectionString{}, fmt.Errorf("connstring: invalid base64 payload: %w", err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ConnectionString{}, fmt.Errorf("connstring: invalid JSON payload: %w", err)
	}
	if p.ServerURL == "" || p.SessionID == "" {
		return ConnectionString{}, fmt.Errorf("connstring: missing required field(s)")
	}
	return ConnectionString{
		ServerURL: p.ServerURL,
		SessionID: p.SessionID,
		PIN:       p.PIN,
		HasPIN:    p.PIN != "",
	}, nil
}

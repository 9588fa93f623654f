// Package share builds shareable joke links and their QR codes.
package share

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultLink is encoded into QR codes when a card has no link of its own
const DefaultLink = "https://punchliner.vercel.app"

var ErrInvalidData = errors.New("invalid share data")

// Params is the joke carried inside a share link
type Params struct {
	Content    string `json:"content"`
	UpdateTime string `json:"updateTime"`
}

// Encode packs p as base64url(percent-encoded JSON) without padding. The
// browser client decodes the same format.
func Encode(p Params) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("encode share params: %w", err)
	}
	raw := strings.TrimSuffix(buf.String(), "\n")
	return base64.RawURLEncoding.EncodeToString([]byte(escapeComponent(raw))), nil
}

// Decode reverses Encode. Padded input is accepted.
func Decode(data string) (*Params, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return nil, ErrInvalidData
	}
	raw, err := url.PathUnescape(string(decoded))
	if err != nil {
		return nil, ErrInvalidData
	}

	var p Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, ErrInvalidData
	}
	if p.Content == "" {
		return nil, ErrInvalidData
	}
	return &p, nil
}

// Link returns the public page URL for a joke
func Link(baseURL, id string, p Params) (string, error) {
	data, err := Encode(p)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/joke/%s?data=%s", strings.TrimRight(baseURL, "/"), url.PathEscape(id), data), nil
}

const upperhex = "0123456789ABCDEF"

// escapeComponent percent-encodes everything except the characters
// encodeURIComponent leaves alone.
func escapeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Kind identifies what a generation request produces
type Kind string

const (
	KindImage     Kind = "image"
	KindVideo     Kind = "video"
	KindShareCard Kind = "shareCard"
)

var ValidKinds = []Kind{KindImage, KindVideo, KindShareCard}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, v := range ValidKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Prompt parameter keys
const (
	ParamContent  = "content"
	ParamStyle    = "style"
	ParamLink     = "link"
	ParamImageURL = "imageUrl"
)

// GenerationRequest identifies a unit of generation work. Build it with
// NewGenerationRequest so the fingerprint always matches the params.
type GenerationRequest struct {
	Fingerprint  string            `json:"fingerprint"`
	Kind         Kind              `json:"kind"`
	PromptParams map[string]string `json:"promptParams"`
}

// NewGenerationRequest copies params and computes the content fingerprint.
func NewGenerationRequest(kind Kind, params map[string]string) GenerationRequest {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	return GenerationRequest{
		Fingerprint:  Fingerprint(kind, copied),
		Kind:         kind,
		PromptParams: copied,
	}
}

// Param returns a prompt parameter or "" when absent
func (r GenerationRequest) Param(key string) string {
	return r.PromptParams[key]
}

// Fingerprint digests the semantically relevant input of a request: the
// normalized source text, the style, and for share cards the target link.
func Fingerprint(kind Kind, params map[string]string) string {
	relevant := map[string]string{
		ParamContent: normalizeText(params[ParamContent]),
		ParamStyle:   strings.TrimSpace(params[ParamStyle]),
	}
	if kind == KindShareCard {
		relevant[ParamLink] = strings.TrimSpace(params[ParamLink])
	}
	if kind == KindVideo {
		relevant[ParamImageURL] = strings.TrimSpace(params[ParamImageURL])
	}

	keys := make([]string, 0, len(relevant))
	for k := range relevant {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(kind))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(relevant[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeText collapses runs of whitespace so cosmetic edits of the same
// joke map to one fingerprint.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

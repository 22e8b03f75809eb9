// Package fragment defines the named result parts an external workflow posts
// back for a session, and validates their payloads at the boundary.
package fragment

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// Kind names one independently-arriving part of a session's result.
type Kind string

const (
	KindContent   Kind = "content"
	KindGuidance  Kind = "guidance"
	KindRepurpose Kind = "repurpose"
)

// ErrMalformedPayload is returned when a fragment cannot be parsed or fails
// the schema of its kind.
var ErrMalformedPayload = errors.New("malformed payload")

// reservedPrefix marks field names the storage backends keep for themselves.
const reservedPrefix = "@"

// ParseKind normalises a discriminator string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" {
		return "", fmt.Errorf("%w: empty fragment kind", ErrMalformedPayload)
	}
	if strings.HasPrefix(string(k), reservedPrefix) {
		return "", fmt.Errorf("%w: reserved fragment kind %q", ErrMalformedPayload, k)
	}
	return k, nil
}

// Set is the merged payload of a session, keyed by fragment kind.
type Set map[Kind]json.RawMessage

// Kinds returns the held kinds in sorted order.
func (s Set) Kinds() []Kind {
	kinds := make([]Kind, 0, len(s))
	for k := range s {
		kinds = append(kinds, k)
	}
	SortKinds(kinds)
	return kinds
}

// Clone returns a copy that shares no byte slices with s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// SortKinds sorts kinds in place.
func SortKinds(kinds []Kind) {
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
}

// ====================== Known schemas ======================

// Content is the generated text delivered by content workflows.
type Content struct {
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
	Title   string `json:"title,omitempty"`
}

func (c Content) validate() error {
	if strings.TrimSpace(c.Text) == "" && strings.TrimSpace(c.Content) == "" {
		return errors.New("content fragment needs text or content")
	}
	return nil
}

// Guidance carries the image/writing tips produced alongside content.
type Guidance struct {
	Tips     []string `json:"tips,omitempty"`
	Guidance string   `json:"guidance,omitempty"`
}

func (g Guidance) validate() error {
	if len(g.Tips) == 0 && strings.TrimSpace(g.Guidance) == "" {
		return errors.New("guidance fragment needs tips or guidance")
	}
	return nil
}

// Repurpose holds posts rewritten from an existing piece of content.
type Repurpose struct {
	Posts    []map[string]any `json:"posts,omitempty"`
	Content  string           `json:"content,omitempty"`
	Platform string           `json:"platform,omitempty"`
}

func (r Repurpose) validate() error {
	if len(r.Posts) == 0 && strings.TrimSpace(r.Content) == "" {
		return errors.New("repurpose fragment needs posts or content")
	}
	return nil
}

type schema interface {
	validate() error
}

// decoders maps known kinds to a function that parses and checks a payload.
var decoders = map[Kind]func(json.RawMessage) error{
	KindContent:   decodeAs[Content],
	KindGuidance:  decodeAs[Guidance],
	KindRepurpose: decodeAs[Repurpose],
}

func decodeAs[T schema](raw json.RawMessage) error {
	var v T
	if err := sonic.ConfigStd.Unmarshal(raw, &v); err != nil {
		return err
	}
	return v.validate()
}

// Known reports whether kind has a registered schema.
func Known(kind Kind) bool {
	_, ok := decoders[kind]
	return ok
}

// Validate checks raw against the schema registered for kind. Kinds without a
// schema are accepted as long as raw is valid JSON.
func Validate(kind Kind, raw json.RawMessage) (json.RawMessage, error) {
	if kind == "" {
		return nil, fmt.Errorf("%w: empty fragment kind", ErrMalformedPayload)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s payload is not valid JSON", ErrMalformedPayload, kind)
	}
	if decode, ok := decoders[kind]; ok {
		if err := decode(raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, kind, err)
		}
	}
	return raw, nil
}

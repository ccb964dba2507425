// Package normalizer repairs raw provider text into canonical JSON.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrParse marks output that could not be turned into structured data.
var ErrParse = errors.New("unparseable provider output")

const (
	DefaultMaxDepth = 5
	// SentinelWrongJSON is what the workflow provider emits when its own
	// model output failed to parse.
	SentinelWrongJSON = "wrong JSON"
)

var wrapperFields = []string{"output", "data", "content"}

type Option func(*Normalizer)

func WithMaxDepth(depth int) Option {
	return func(n *Normalizer) {
		if depth > 0 {
			n.maxDepth = depth
		}
	}
}

// WithMarkers replaces the top-level fields that stop unwrapping.
func WithMarkers(fields ...string) Option {
	return func(n *Normalizer) {
		n.markers = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			n.markers[f] = struct{}{}
		}
	}
}

func WithSentinels(tokens ...string) Option {
	return func(n *Normalizer) {
		n.sentinels = append(n.sentinels, tokens...)
	}
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	maxDepth  int
	markers   map[string]struct{}
	sentinels []string
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		maxDepth:  DefaultMaxDepth,
		markers:   map[string]struct{}{"units": {}},
		sentinels: []string{SentinelWrongJSON},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Output is a normalized provider response.
type Output struct {
	Value any
	JSON  json.RawMessage
}

// IsEmpty reports whether the output is an empty object or array.
func (o *Output) IsEmpty() bool {
	if o == nil {
		return true
	}
	switch v := o.Value.(type) {
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case nil:
		return true
	}
	return false
}

// Normalize turns raw provider text into a canonical structured value.
func (n *Normalizer) Normalize(raw string) (*Output, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty output", ErrParse)
	}
	if n.isSentinel(text) {
		return nil, fmt.Errorf("%w: provider reported %q", ErrParse, text)
	}
	text = repair(text, true)
	value, err := decode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	value, text = n.unwrap(value, text, 0, true)
	switch value.(type) {
	case map[string]any, []any:
	default:
		return nil, fmt.Errorf("%w: expected object or array, got %T", ErrParse, value)
	}
	return canonicalize(text)
}

func (n *Normalizer) isSentinel(text string) bool {
	for _, s := range n.sentinels {
		if strings.EqualFold(text, s) {
			return true
		}
	}
	return false
}

// unwrap applies one rule at every level: strings holding JSON are decoded,
// marker objects are returned as they are, and objects whose wrapper field
// holds string-encoded JSON are replaced by the decoded value. raw is the
// text v was decoded from and travels with whichever value is returned.
func (n *Normalizer) unwrap(v any, raw string, depth int, lenient bool) (any, string) {
	if depth >= n.maxDepth {
		return v, raw
	}
	switch t := v.(type) {
	case string:
		inner, innerRaw, ok := decodeEmbedded(t, lenient)
		if !ok {
			return t, raw
		}
		return n.unwrap(inner, innerRaw, depth+1, lenient)
	case map[string]any:
		if n.hasMarker(t) {
			return t, raw
		}
		for _, field := range wrapperFields {
			s, ok := t[field].(string)
			if !ok {
				continue
			}
			inner, innerRaw, ok := decodeEmbedded(s, false)
			if !ok {
				continue
			}
			resolved, resolvedRaw := n.unwrap(inner, innerRaw, depth+1, false)
			switch resolved.(type) {
			case map[string]any, []any:
				return resolved, resolvedRaw
			}
		}
		return t, raw
	default:
		return v, raw
	}
}

func (n *Normalizer) hasMarker(m map[string]any) bool {
	for k := range n.markers {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func repair(text string, trim bool) string {
	s := EscapeNewlinesInStrings(StripFences(text))
	if trim {
		s = TrimToStructure(s)
	}
	return s
}

// decodeEmbedded decodes a string value that may itself carry JSON. Strict
// mode only accepts text that already starts like a JSON document.
func decodeEmbedded(s string, lenient bool) (any, string, bool) {
	text := strings.TrimSpace(s)
	if text == "" {
		return nil, "", false
	}
	if !lenient {
		text = StripFences(text)
		if text == "" || !strings.ContainsRune(`{["`, rune(text[0])) {
			return nil, "", false
		}
	}
	text = repair(text, lenient)
	v, err := decode(text)
	if err != nil {
		return nil, "", false
	}
	return v, text, true
}

func decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// canonicalize compacts the text the final value was decoded from, so object
// keys keep the order the provider wrote them in.
func canonicalize(raw string) (*Output, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: compact: %v", ErrParse, err)
	}
	value, err := decode(buf.String())
	if err != nil {
		return nil, fmt.Errorf("%w: canonical re-parse: %v", ErrParse, err)
	}
	return &Output{Value: value, JSON: json.RawMessage(buf.Bytes())}, nil
}

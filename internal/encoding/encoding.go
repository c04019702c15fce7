// Package encoding implements the on-disk serialization formats for stored
// documents: plain JSON, compact BSON, and opaque gob snapshots.
package encoding

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Format selects how documents are serialized to bytes. It is chosen once
// per store instance.
type Format string

const (
	// FormatJSON is the default human-readable text encoding.
	FormatJSON Format = "json"
	// FormatBSON is a compact structured binary encoding.
	FormatBSON Format = "bson"
	// FormatGob is an opaque binary snapshot encoding. Gob output is only
	// readable by this library; use it when files never need to be
	// inspected by other tools.
	FormatGob Format = "gob"
)

// ErrUnknownFormat is returned when a format name is not recognized.
var ErrUnknownFormat = errors.New("unknown serialization format")

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// ParseFormat resolves a format name. The empty string resolves to JSON.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return FormatJSON, nil
	case "bson":
		return FormatBSON, nil
	case "gob":
		return FormatGob, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// SplitFragment separates a connection URL from its trailing #format
// fragment, e.g. "file:///data#bson" -> ("file:///data", FormatBSON).
func SplitFragment(url string) (string, Format, error) {
	base, frag, found := strings.Cut(url, "#")
	if !found {
		return url, FormatJSON, nil
	}
	format, err := ParseFormat(frag)
	if err != nil {
		return "", "", err
	}
	return base, format, nil
}

// Ext returns the file extension used for documents in this format,
// without the leading dot.
func (f Format) Ext() string {
	switch f {
	case FormatBSON:
		return "bson"
	case FormatGob:
		return "gob"
	default:
		return "json"
	}
}

// Marshal serializes a document in this format.
func (f Format) Marshal(doc map[string]any) ([]byte, error) {
	switch f {
	case FormatBSON:
		return bson.Marshal(doc)
	case FormatGob:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("gob encode: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return json.Marshal(doc)
	}
}

// Unmarshal deserializes a document in this format.
func (f Format) Unmarshal(data []byte) (map[string]any, error) {
	switch f {
	case FormatBSON:
		var doc map[string]any
		if err := bson.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("bson decode: %w", err)
		}
		return NormalizeMap(doc), nil
	case FormatGob:
		var doc map[string]any
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return nil, fmt.Errorf("gob decode: %w", err)
		}
		return doc, nil
	default:
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("json decode: %w", err)
		}
		return doc, nil
	}
}

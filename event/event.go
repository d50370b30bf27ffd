// Package event defines the raw and decoded forms of the path events that are
// merged into a topic tree.
package event

import (
	"context"
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/topicview/go-topicview/errs"
)

// Separator splits a path into segments.
const Separator = "/"

// Raw is an event as it is delivered by a source: a path and a base64
// encoded payload.
type Raw struct {
	Path    string `json:"topic"`
	Payload string `json:"payload"`
}

// Decoded is the result of decoding a [Raw] event.
type Decoded struct {
	Path     string
	Segments []string
	Value    string

	// Err holds the decode error if the payload could not be decoded. The
	// segments are valid in this case and the value is empty.
	Err error
}

// Handler receives raw events from a source.
type Handler func(ctx context.Context, raw Raw)

// Encode returns the raw form of a payload for the given path.
func Encode(path string, payload []byte) Raw {
	return Raw{
		Path:    path,
		Payload: base64.StdEncoding.EncodeToString(payload),
	}
}

// Split splits a path into its segments. Empty segments are preserved, except
// for the single empty segment produced by a leading separator.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	path = strings.TrimPrefix(path, Separator)
	return strings.Split(path, Separator)
}

// Decode splits the path of an event and decodes its payload. A payload that
// is not valid base64 yields a [*errs.DecodeError]; the returned Decoded still
// carries the segments so that the path can be merged. Invalid UTF-8 in the
// payload is replaced rather than rejected.
func Decode(raw Raw) (Decoded, error) {
	d := Decoded{
		Path:     raw.Path,
		Segments: Split(raw.Path),
	}

	b, err := decodePayload(raw.Payload)
	if err != nil {
		d.Err = &errs.DecodeError{Path: raw.Path, Err: err}
		return d, d.Err
	}

	if utf8.Valid(b) {
		d.Value = string(b)
	} else {
		// every invalid byte becomes its own replacement character
		d.Value = string([]rune(string(b)))
	}
	return d, nil
}

func decodePayload(payload string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return b, nil
	}
	// some publishers strip the padding
	if b, rerr := base64.RawStdEncoding.DecodeString(payload); rerr == nil {
		return b, nil
	}
	return nil, err
}

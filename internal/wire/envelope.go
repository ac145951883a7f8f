// Package wire implements the multi-frame envelope used on every kernel socket.
//
// A message on the wire is:
//
//	[routing]* "<IDS|MSG>" [signature] [header] [parent_header] [metadata] [content] [buffers]*
//
// Routing frames are opaque and are copied verbatim into every derived
// envelope so replies find their way back to the client. The signature frame
// is neither verified nor computed; outgoing envelopes carry an empty one.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Delimiter separates routing frames from the signed part of a message.
const Delimiter = "<IDS|MSG>"

// DateLayout is the header timestamp format (UTC, minute resolution).
const DateLayout = "2006-01-02T15:04Z"

var (
	ErrMissingDelimiter = errors.New("wire: missing <IDS|MSG> delimiter")
	ErrShortEnvelope    = errors.New("wire: fewer than five frames after delimiter")
	ErrMalformedFrame   = errors.New("wire: frame is not a JSON object")
)

// now is swapped in tests.
var now = time.Now

// Dict is one decoded JSON object frame.
type Dict map[string]any

// String returns the string stored under key, or "" when absent or not a string.
func (d Dict) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Int returns the integer stored under key. JSON numbers decode as float64.
func (d Dict) Int(key string) (int, bool) {
	switch v := d[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// Envelope is one complete protocol message.
type Envelope struct {
	Identities   [][]byte
	Header       Dict
	ParentHeader Dict
	Metadata     Dict
	Content      Dict
	Buffers      [][]byte
}

// MsgType returns header.msg_type.
func (e *Envelope) MsgType() string {
	return e.Header.String("msg_type")
}

// Kind classifies the envelope's message type.
func (e *Envelope) Kind() Kind {
	return Classify(e.MsgType())
}

// Parse decodes raw frames into an envelope.
func Parse(frames [][]byte) (*Envelope, error) {
	delim := -1
	for i, f := range frames {
		if bytes.Equal(f, []byte(Delimiter)) {
			delim = i
			break
		}
	}
	if delim < 0 {
		return nil, ErrMissingDelimiter
	}

	rest := frames[delim+1:]
	if len(rest) < 5 {
		return nil, fmt.Errorf("%w: got %d", ErrShortEnvelope, len(rest))
	}

	env := &Envelope{Identities: frames[:delim:delim]}

	// rest[0] is the signature.
	targets := []*Dict{&env.Header, &env.ParentHeader, &env.Metadata, &env.Content}
	names := []string{"header", "parent_header", "metadata", "content"}
	for i, dst := range targets {
		d, err := decodeDict(rest[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, names[i], err)
		}
		*dst = d
	}

	if len(rest) > 5 {
		env.Buffers = rest[5:]
	}
	return env, nil
}

func decodeDict(frame []byte) (Dict, error) {
	var d Dict
	if err := json.Unmarshal(frame, &d); err != nil {
		return nil, err
	}
	if d == nil {
		// "null" decodes without error.
		return nil, errors.New("null object")
	}
	return d, nil
}

// Respond derives a new envelope addressed to the same peer. The parent
// header is this envelope's header and metadata is copied unchanged.
func (e *Envelope) Respond(session Session, msgType string, content Dict) *Envelope {
	ids := make([][]byte, len(e.Identities))
	copy(ids, e.Identities)

	meta := make(Dict, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}

	if content == nil {
		content = Dict{}
	}

	return &Envelope{
		Identities:   ids,
		Header:       session.header(msgType),
		ParentHeader: e.Header,
		Metadata:     meta,
		Content:      content,
	}
}

// Serialize encodes the envelope into frames ready for a socket.
func (e *Envelope) Serialize() ([][]byte, error) {
	frames := make([][]byte, 0, len(e.Identities)+6)
	frames = append(frames, e.Identities...)
	frames = append(frames, []byte(Delimiter), []byte{})

	for _, d := range []Dict{e.Header, e.ParentHeader, e.Metadata, e.Content} {
		if d == nil {
			d = Dict{}
		}
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("wire: encode %s: %w", e.MsgType(), err)
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// Session identifies one running kernel process.
type Session struct {
	ID       string
	Username string
}

// NewSession returns a session with a fresh random id.
func NewSession(username string) Session {
	return Session{ID: uuid.NewString(), Username: username}
}

func (s Session) header(msgType string) Dict {
	return Dict{
		"date":     now().UTC().Format(DateLayout),
		"msg_id":   uuid.NewString(),
		"username": s.Username,
		"session":  s.ID,
		"msg_type": msgType,
	}
}

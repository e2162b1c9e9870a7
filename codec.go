package extws

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Kind is the leading type character of a frame.
type Kind byte

const (
	KindInit    Kind = '1'
	KindPing    Kind = '2'
	KindPong    Kind = '3'
	KindMessage Kind = '4'
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindMessage:
		return "message"
	default:
		return fmt.Sprintf("kind(%q)", byte(k))
	}
}

// Frame is one decoded unit of the wire protocol.
//
// A message frame is written as 4<name><payload>. The name is everything
// before the first '{' or '[', so names never contain either character and
// payloads always start with one. The name may be empty.
type Frame struct {
	Kind    Kind
	Name    string
	Payload string
}

var (
	PingFrame = Frame{Kind: KindPing}
	PongFrame = Frame{Kind: KindPong}
)

// ErrInvalidName is returned when a message name contains a payload sentinel.
var ErrInvalidName = errors.New("message name must not contain '{' or '['")

// DecodeError reports a raw frame the codec could not parse.
type DecodeError struct {
	Raw    string
	Reason string
}

func (e *DecodeError) Error() string {
	raw := e.Raw
	if len(raw) > 64 {
		raw = raw[:64] + "..."
	}
	return fmt.Sprintf("extws: decode %q: %s", raw, e.Reason)
}

// Decode parses a raw inbound frame.
func Decode(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, &DecodeError{Reason: "empty frame"}
	}
	kind := Kind(raw[0])
	body := raw[1:]
	switch kind {
	case KindPing, KindPong:
		if len(body) != 0 {
			return Frame{}, &DecodeError{Raw: string(raw), Reason: kind.String() + " frame carries a body"}
		}
		return Frame{Kind: kind}, nil
	case KindInit:
		if len(body) == 0 || body[0] != '{' {
			return Frame{}, &DecodeError{Raw: string(raw), Reason: "init payload must be a JSON object"}
		}
		return Frame{Kind: kind, Payload: string(body)}, nil
	case KindMessage:
		i := bytes.IndexAny(body, "{[")
		if i < 0 {
			return Frame{}, &DecodeError{Raw: string(raw), Reason: "message has no payload"}
		}
		return Frame{Kind: kind, Name: string(body[:i]), Payload: string(body[i:])}, nil
	default:
		return Frame{}, &DecodeError{Raw: string(raw), Reason: "unknown frame type"}
	}
}

// Encode writes f in wire form. It never fails.
func Encode(f Frame) []byte {
	b := make([]byte, 0, 1+len(f.Name)+len(f.Payload))
	b = append(b, byte(f.Kind))
	b = append(b, f.Name...)
	b = append(b, f.Payload...)
	return b
}

// NewMessage builds a message frame named name carrying data as JSON.
func NewMessage(name string, data any) (Frame, error) {
	if strings.ContainsAny(name, "{[") {
		return Frame{}, errors.Wrapf(ErrInvalidName, "name %q", name)
	}
	payload, err := marshalPayload(data)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "encode %q payload", name)
	}
	return Frame{Kind: KindMessage, Name: name, Payload: payload}, nil
}

func marshalPayload(data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	if len(b) == 0 || (b[0] != '{' && b[0] != '[') {
		return "", errors.Errorf("payload must encode to a JSON object or array, got %s", b)
	}
	return string(b), nil
}

type initPayload struct {
	ID string `json:"id"`
}

func initFrame(id string) Frame {
	payload, _ := marshalPayload(initPayload{ID: id})
	return Frame{Kind: KindInit, Payload: payload}
}

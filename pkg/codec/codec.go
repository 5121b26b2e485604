// Package codec implements the binary wire format shared by the cache tier
// and the realtime transport.
//
// Every serialized value is wrapped in a Frame: a schema version, a kind
// discriminator, and a length-prefixed opaque body. The body itself is XDR
// (RFC 4506), so all payloads are self-delimiting and safe to store in the
// cache or send over the stream transport unchanged. TTLs are never embedded
// in the payload; the cache store owns expiry.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Version is the current schema version written into every frame.
const Version uint32 = 1

var (
	// ErrUnsupportedVersion indicates a frame written by an incompatible
	// schema version.
	ErrUnsupportedVersion = errors.New("codec: unsupported frame version")

	// ErrTruncated indicates a frame that could not be fully decoded.
	ErrTruncated = errors.New("codec: truncated frame")
)

// Kind discriminates the payload carried by a frame.
type Kind uint32

const (
	KindUnknown Kind = iota

	// Client -> server frames.
	KindAuth
	KindJoinRoom
	KindLeaveRoom
	KindReady
	KindPosition
	KindChat
	KindGameEvent

	// Server -> client frames.
	KindAuthResult
	KindServerEvent
	KindAck
	KindError

	// Stored state payloads (cache entries, documents in transit).
	KindState
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindJoinRoom:
		return "join_room"
	case KindLeaveRoom:
		return "leave_room"
	case KindReady:
		return "ready"
	case KindPosition:
		return "position"
	case KindChat:
		return "chat"
	case KindGameEvent:
		return "game_event"
	case KindAuthResult:
		return "auth_result"
	case KindServerEvent:
		return "server_event"
	case KindAck:
		return "ack"
	case KindError:
		return "error"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Frame is the envelope for every serialized payload.
type Frame struct {
	Version uint32
	Kind    uint32
	Body    []byte
}

// Marshal encodes body with XDR and wraps it in a versioned frame.
func Marshal(kind Kind, body any) (*Frame, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, body); err != nil {
		return nil, fmt.Errorf("codec: marshal %s body: %w", kind, err)
	}
	return &Frame{
		Version: Version,
		Kind:    uint32(kind),
		Body:    buf.Bytes(),
	}, nil
}

// Unmarshal decodes a frame body into out.
func Unmarshal(f *Frame, out any) error {
	if f == nil {
		return ErrTruncated
	}
	if f.Version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(f.Body), out); err != nil {
		return fmt.Errorf("codec: unmarshal %s body: %w", Kind(f.Kind), err)
	}
	return nil
}

// EncodeFrame serializes a frame to its wire representation.
func EncodeFrame(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, f); err != nil {
		return nil, fmt.Errorf("codec: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses a wire representation back into a frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}
	return &f, nil
}

// Encode is a convenience for Marshal + EncodeFrame: it produces the full
// wire bytes for a payload in one call. This is the form stored in the cache.
func Encode(kind Kind, body any) ([]byte, error) {
	f, err := Marshal(kind, body)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(f)
}

// Decode parses wire bytes and unmarshals the body into out.
// Returns the frame kind so callers can dispatch on it.
func Decode(data []byte, out any) (Kind, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return KindUnknown, err
	}
	if err := Unmarshal(f, out); err != nil {
		return Kind(f.Kind), err
	}
	return Kind(f.Kind), nil
}

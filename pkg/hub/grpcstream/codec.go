// Package grpcstream exposes the hub over a single bidirectional gRPC
// stream. Frames travel as raw bytes: the stream carries the same XDR
// envelope the codec package defines, so gRPC is purely a transport and
// never re-encodes payloads.
package grpcstream

import (
	"fmt"
)

// CodecName is the content-subtype under which the passthrough codec is
// registered.
const CodecName = "arcadia-frame"

// rawFrame carries one wire frame through the gRPC machinery untouched.
type rawFrame struct {
	data []byte
}

// passthroughCodec moves frame bytes through gRPC without interpreting them.
type passthroughCodec struct{}

func (passthroughCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("grpcstream: cannot marshal %T", v)
	}
	return f.data, nil
}

func (passthroughCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("grpcstream: cannot unmarshal into %T", v)
	}
	f.data = append([]byte(nil), data...)
	return nil
}

func (passthroughCodec) Name() string { return CodecName }

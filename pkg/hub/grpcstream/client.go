package grpcstream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/playforge/arcadia/pkg/codec"
)

// sessionStreamDesc mirrors the server-side stream registration.
var sessionStreamDesc = &grpc.StreamDesc{
	StreamName:    "Session",
	ServerStreams: true,
	ClientStreams: true,
}

// Client is a thin session-stream client. It sends and receives raw codec
// frames; callers own frame construction and dispatch.
type Client struct {
	conn     *grpc.ClientConn
	stream   grpc.ClientStream
	cancel   context.CancelFunc
	ownsConn bool
}

// Dial opens a connection and a session stream against a hub server.
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcstream: dial %s: %w", target, err)
	}
	c, err := NewClient(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.ownsConn = true
	return c, nil
}

// NewClient opens a session stream over an existing connection. The
// connection stays owned by the caller when created this way.
func NewClient(ctx context.Context, conn *grpc.ClientConn) (*Client, error) {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(sctx, sessionStreamDesc, SessionMethod,
		grpc.ForceCodec(passthroughCodec{}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("grpcstream: open session stream: %w", err)
	}
	return &Client{conn: conn, stream: stream, cancel: cancel}, nil
}

// Send writes one raw frame to the stream.
func (c *Client) Send(frame []byte) error {
	return c.stream.SendMsg(&rawFrame{data: frame})
}

// SendPayload encodes a payload into a frame and sends it.
func (c *Client) SendPayload(kind codec.Kind, body any) error {
	frame, err := codec.Encode(kind, body)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// Recv blocks for the next frame from the server.
func (c *Client) Recv() ([]byte, error) {
	var f rawFrame
	if err := c.stream.RecvMsg(&f); err != nil {
		return nil, err
	}
	return f.data, nil
}

// Close ends the stream. The underlying connection is closed only when it
// was created by Dial.
func (c *Client) Close() error {
	err := c.stream.CloseSend()
	c.cancel()
	if c.ownsConn {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

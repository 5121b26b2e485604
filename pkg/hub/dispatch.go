package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/pkg/codec"
	"github.com/playforge/arcadia/pkg/router"
	"github.com/playforge/arcadia/pkg/session"
)

// Error codes carried in error frames.
const (
	CodeBadFrame     uint32 = 400
	CodeUnauthorized uint32 = 401
	CodeNotInRoom    uint32 = 403
	CodeNotFound     uint32 = 404
	CodePoolFull     uint32 = 429
	CodeInternal     uint32 = 500
)

// Ack statuses.
const (
	AckOK       = "ok"
	AckRejected = "rejected"
)

// HandleFrame decodes one client frame, dispatches it, and returns the
// response frame. Errors are reported to the client as error frames; the
// returned error is for the transport's logging only and never means the
// response should be dropped.
func (h *Hub) HandleFrame(ctx context.Context, connID string, data []byte) ([]byte, error) {
	frame, err := codec.DecodeFrame(data)
	if err != nil {
		return errorFrame(CodeBadFrame, "malformed frame"), err
	}

	switch codec.Kind(frame.Kind) {
	case codec.KindAuth:
		var req codec.AuthRequest
		if err := codec.Unmarshal(frame, &req); err != nil {
			return errorFrame(CodeBadFrame, "malformed auth request"), err
		}
		res, err := h.Authenticate(ctx, connID, req.Token)
		if res == nil {
			return errorFrame(codeFor(err), "authentication failed"), err
		}
		out, encErr := codec.Encode(codec.KindAuthResult, res)
		if encErr != nil {
			return errorFrame(CodeInternal, "encode failed"), encErr
		}
		return out, err

	case codec.KindJoinRoom:
		var req codec.JoinRoomRequest
		if err := codec.Unmarshal(frame, &req); err != nil {
			return errorFrame(CodeBadFrame, "malformed join request"), err
		}
		return h.ackOrError(req.RoomID, h.JoinRoom(ctx, connID, req.RoomID))

	case codec.KindLeaveRoom:
		var req codec.LeaveRoomRequest
		if err := codec.Unmarshal(frame, &req); err != nil {
			return errorFrame(CodeBadFrame, "malformed leave request"), err
		}
		return h.ackOrError(req.RoomID, h.LeaveRoom(ctx, connID, req.RoomID))

	case codec.KindReady:
		var rs codec.ReadyState
		if err := codec.Unmarshal(frame, &rs); err != nil {
			return errorFrame(CodeBadFrame, "malformed ready state"), err
		}
		return h.ackOrError(rs.RoomID, h.SetReady(ctx, connID, &rs))

	case codec.KindPosition:
		var pu codec.PositionUpdate
		if err := codec.Unmarshal(frame, &pu); err != nil {
			return errorFrame(CodeBadFrame, "malformed position update"), err
		}
		// Position updates are fire-and-forget: no ack frame on success.
		if err := h.UpdatePosition(ctx, connID, &pu); err != nil {
			return errorFrame(codeFor(err), err.Error()), err
		}
		return nil, nil

	case codec.KindChat:
		var cm codec.ChatMessage
		if err := codec.Unmarshal(frame, &cm); err != nil {
			return errorFrame(CodeBadFrame, "malformed chat message"), err
		}
		return h.ackOrError(cm.RoomID, h.SendChat(ctx, connID, &cm))

	case codec.KindGameEvent:
		var ge codec.GameEvent
		if err := codec.Unmarshal(frame, &ge); err != nil {
			return errorFrame(CodeBadFrame, "malformed game event"), err
		}
		return h.ackOrError(ge.RoomID, h.SendGameEvent(ctx, connID, &ge))

	default:
		err := fmt.Errorf("unsupported frame kind %d", frame.Kind)
		logger.DebugCtx(ctx, "frame dropped",
			logger.KeyConnID, connID, logger.KeyKind, frame.Kind)
		return errorFrame(CodeBadFrame, err.Error()), err
	}
}

// ackOrError wraps a hub operation outcome into an ack or error frame.
func (h *Hub) ackOrError(messageID string, opErr error) ([]byte, error) {
	if opErr != nil {
		return errorFrame(codeFor(opErr), opErr.Error()), opErr
	}
	out, err := codec.Encode(codec.KindAck, &codec.AckFrame{
		MessageID: messageID,
		Status:    AckOK,
	})
	if err != nil {
		return errorFrame(CodeInternal, "encode failed"), err
	}
	return out, nil
}

// codeFor maps hub and registry errors to wire error codes.
func codeFor(err error) uint32 {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNotInRoom):
		return CodeNotInRoom
	case errors.Is(err, ErrNotConnected), errors.Is(err, session.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, session.ErrPoolFull), errors.Is(err, router.ErrPoolFull):
		return CodePoolFull
	case errors.Is(err, session.ErrInvalidArgument), errors.Is(err, router.ErrRouteInvalid):
		return CodeBadFrame
	default:
		return CodeInternal
	}
}

func errorFrame(code uint32, msg string) []byte {
	out, err := codec.Encode(codec.KindError, &codec.ErrorFrame{Code: code, Message: msg})
	if err != nil {
		// An error frame that cannot encode leaves nothing to send.
		return nil
	}
	return out
}

func newEventID() string {
	return uuid.NewString()
}

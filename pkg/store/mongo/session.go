package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// Session wraps a document store session carrying at most one transaction.
//
// The distributed transaction manager drives the lifecycle explicitly
// (Begin, Commit/Abort, End) instead of using the driver's closure-style
// helper, because cache compensation has to interleave with the document
// phases.
type Session struct {
	sess mongo.Session
}

// StartSession opens a new session on the store.
func (c *Client) StartSession(ctx context.Context) (*Session, error) {
	sess, err := c.cli.StartSession()
	if err != nil {
		return nil, fmt.Errorf("%w: start session: %v", ErrUnavailable, err)
	}
	_ = ctx
	return &Session{sess: sess}, nil
}

// Begin starts a transaction on the session.
func (s *Session) Begin(ctx context.Context) error {
	if err := s.sess.StartTransaction(); err != nil {
		return fmt.Errorf("mongo: start transaction: %w", err)
	}
	_ = ctx
	return nil
}

// Commit commits the session's transaction.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("mongo: commit transaction: %w", err)
	}
	return nil
}

// Abort rolls back the session's transaction.
func (s *Session) Abort(ctx context.Context) error {
	if err := s.sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("mongo: abort transaction: %w", err)
	}
	return nil
}

// End releases the session. Safe to call after Commit or Abort.
func (s *Session) End(ctx context.Context) {
	s.sess.EndSession(ctx)
}

// Context binds the session to ctx so that adapter operations performed
// with the returned context join the session's transaction.
func (s *Session) Context(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.sess)
}

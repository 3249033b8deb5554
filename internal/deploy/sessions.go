// internal/deploy/sessions.go

package deploy

import (
	"context"
	"os"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/conn"
	"fleetcfg/internal/transfer"
)

// FileOps is the slice of the transfer engine the state machine uses.
type FileOps interface {
	ReadFile(ctx context.Context, path string) ([]byte, os.FileMode, error)
	WriteFileAtomic(ctx context.Context, path string, content []byte, mode os.FileMode) error
	Exists(ctx context.Context, path string) (bool, error)
}

// Sessions provides exclusive file operations on a host's mutating
// session for the duration of fn. Tests substitute an in-memory remote.
type Sessions interface {
	WithSession(ctx context.Context, hostID string, fn func(FileOps) error) error
}

// connSessions binds Sessions to the connection manager pool.
type connSessions struct {
	conns *conn.Manager
}

// NewConnSessions wraps the connection manager as a Sessions provider.
func NewConnSessions(conns *conn.Manager) Sessions {
	return &connSessions{conns: conns}
}

func (c *connSessions) WithSession(ctx context.Context, hostID string, fn func(FileOps) error) error {
	sess, err := c.conns.Acquire(ctx, hostID)
	if err != nil {
		return err
	}

	engine, err := transfer.NewEngine(sess)
	if err != nil {
		c.conns.Invalidate(sess)
		return err
	}

	err = fn(engine)
	if err != nil && apperr.IsKind(err, apperr.ConnectionLost) {
		c.conns.Invalidate(sess)
		return err
	}
	c.conns.Release(sess)
	return err
}

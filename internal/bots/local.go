package bots

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/reciperage/internal/replication"
	"github.com/okian/reciperage/pkg/logger"
)

// ErrNotAttached is returned by a local connection whose transport has no match yet.
var ErrNotAttached = errors.New("local transport not attached to a match")

// CommandSink accepts commands for a match.
type CommandSink interface {
	Submit(ctx context.Context, env replication.Envelope) error
}

// Local is an in-process replication.Transport: frames are applied straight to
// the mirrors of connected bots on the caller's goroutine.
type Local struct {
	mu     sync.RWMutex
	sink   CommandSink
	conns  map[string]*LocalConn
	logger logger.Logger
}

// NewLocal returns a transport with no connections.
func NewLocal(l logger.Logger) *Local {
	if l == nil {
		l = logger.NewNop()
	}
	return &Local{conns: make(map[string]*LocalConn), logger: l}
}

// Attach points connections at the match that accepts their commands.
func (t *Local) Attach(sink CommandSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

// Connect adds a client bound to team.
func (t *Local) Connect(clientID, team string) *LocalConn {
	c := &LocalConn{id: clientID, team: team, mirror: replication.NewMirror(), local: t}
	t.mu.Lock()
	t.conns[clientID] = c
	t.mu.Unlock()
	return c
}

// Broadcast implements replication.Transport.
func (t *Local) Broadcast(ctx context.Context, frame []byte) {
	t.mu.RLock()
	conns := make([]*LocalConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()
	for _, c := range conns {
		c.apply(ctx, frame)
	}
}

// Send implements replication.Transport.
func (t *Local) Send(ctx context.Context, clientID string, frame []byte) error {
	t.mu.RLock()
	c, ok := t.conns[clientID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown client: %s", clientID)
	}
	c.apply(ctx, frame)
	return nil
}

// LocalConn is one bot's end of a Local transport. It implements Conn.
type LocalConn struct {
	id     string
	team   string
	mirror *replication.Mirror
	local  *Local
}

// Mirror implements Conn.
func (c *LocalConn) Mirror() *replication.Mirror { return c.mirror }

// Send implements Conn. Commands the match refuses outright come back as a
// rejected ack, like they would over the network.
func (c *LocalConn) Send(cmd replication.Command) error {
	c.local.mu.RLock()
	sink := c.local.sink
	c.local.mu.RUnlock()
	if sink == nil {
		return ErrNotAttached
	}
	ctx := context.Background()
	err := sink.Submit(ctx, replication.Envelope{ClientID: c.id, Team: c.team, Command: cmd})
	if err == nil || errors.Is(err, replication.ErrDuplicateCommand) {
		return nil
	}
	if cmd.ID == "" {
		return err
	}
	c.apply(ctx, replication.EncodeAck(replication.Ack{CommandID: cmd.ID, Reason: err.Error()}))
	return nil
}

// RequestSnapshot asks the match for a full state frame.
func (c *LocalConn) RequestSnapshot() error {
	return c.Send(replication.Command{Kind: replication.CmdRequestSnapshot})
}

func (c *LocalConn) apply(ctx context.Context, frame []byte) {
	switch err := c.mirror.Apply(frame); {
	case err == nil, errors.Is(err, replication.ErrNotSynced):
	case errors.Is(err, replication.ErrSequenceGap):
		if err := c.RequestSnapshot(); err != nil {
			c.local.logger.Warn(ctx, "snapshot request failed", logger.String("client_id", c.id), logger.Error(err))
		}
	default:
		c.local.logger.Warn(ctx, "bad frame", logger.String("client_id", c.id), logger.Error(err))
	}
}

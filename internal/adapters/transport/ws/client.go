package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/reciperage/internal/replication"
	"github.com/okian/reciperage/pkg/logger"
)

// Client is a player's connection: frames from the server feed a Mirror and
// commands go back as JSON.
type Client struct {
	id     string
	conn   *websocket.Conn
	mirror *replication.Mirror
	logger logger.Logger

	writeMu sync.Mutex
}

// Dial connects to the hub at endpoint (e.g. ws://host:9090/ws) as clientID on team.
func Dial(ctx context.Context, endpoint, clientID, team string, l logger.Logger) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client", clientID)
	if team != "" {
		q.Set("team", team)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Client{
		id:     clientID,
		conn:   conn,
		mirror: replication.NewMirror(),
		logger: l.With(logger.String("client_id", clientID)),
	}, nil
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// Mirror returns the client's read-only copy of the match.
func (c *Client) Mirror() *replication.Mirror { return c.mirror }

// Send writes a command to the server.
func (c *Client) Send(cmd replication.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Run applies incoming frames to the mirror until the connection closes or
// ctx is cancelled. A detected gap triggers a snapshot request.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		switch err := c.mirror.Apply(data); {
		case err == nil, errors.Is(err, replication.ErrNotSynced):
		case errors.Is(err, replication.ErrSequenceGap):
			c.logger.Info(ctx, "sequence gap, requesting snapshot", logger.Error(err))
			if err := c.Send(replication.Command{Kind: replication.CmdRequestSnapshot}); err != nil {
				return fmt.Errorf("request snapshot: %w", err)
			}
		default:
			c.logger.Warn(ctx, "bad frame", logger.Error(err))
		}
	}
}

// Close ends the connection politely.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}

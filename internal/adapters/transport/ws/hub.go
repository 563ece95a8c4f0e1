// Package ws carries replication frames to clients over WebSocket.
//
// Server to client frames are binary replication messages. Client to server
// messages are JSON commands.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/okian/reciperage/internal/replication"
	"github.com/okian/reciperage/pkg/logger"
	"github.com/okian/reciperage/pkg/metrics"
)

// CommandSink accepts commands read from clients.
type CommandSink interface {
	Submit(ctx context.Context, env replication.Envelope) error
}

// Hub tracks connected clients. It implements replication.Transport.
type Hub struct {
	sink        CommandSink
	upgrader    websocket.Upgrader
	sendBuffer  int
	checkOrigin func(origin string) bool
	logger      logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[string]*peer
	closed  bool
	wg      sync.WaitGroup
}

type peer struct {
	id   string
	team string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() { close(p.send) })
}

// NewHub creates a hub that forwards client commands to sink.
func NewHub(sink CommandSink, opts ...Option) *Hub {
	h := &Hub{
		sink:       sink,
		sendBuffer: defaultSendBuffer,
		logger:     logger.NewNop(),
		clients:    make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if h.checkOrigin == nil {
				return true
			}
			return h.checkOrigin(r.Header.Get("Origin"))
		},
	}
	return h
}

// ServeHTTP upgrades /ws?client=<id>&team=<team>. A missing client id is generated.
// The new client is sent a full snapshot as soon as the match loop picks up its request.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("client")
	if id == "" {
		id = uuid.NewString()
	}
	team := q.Get("team")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}

	p := &peer{id: id, team: team, conn: conn, send: make(chan []byte, h.sendBuffer)}
	if err := h.register(p); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.logger.Info(h.ctx, "client connected", logger.String("client_id", id), logger.String("team", team))

	h.wg.Add(2)
	go h.writePump(p)
	go h.readPump(p)

	h.submit(p, replication.Command{Kind: replication.CmdRequestSnapshot})
}

func (h *Hub) register(p *peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if old, ok := h.clients[p.id]; ok {
		old.close()
	}
	h.clients[p.id] = p
	metrics.UpdateConnectedClients(len(h.clients))
	return nil
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[p.id]; ok && cur == p {
		delete(h.clients, p.id)
		p.close()
		metrics.UpdateConnectedClients(len(h.clients))
	}
}

func (h *Hub) readPump(p *peer) {
	defer h.wg.Done()
	defer func() {
		h.unregister(p)
		_ = p.conn.Close()
		h.logger.Info(h.ctx, "client disconnected", logger.String("client_id", p.id))
	}()

	p.conn.SetReadLimit(maxCommandSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn(h.ctx, "websocket read failed", logger.String("client_id", p.id), logger.Error(err))
			}
			return
		}
		var cmd replication.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.logger.Warn(h.ctx, "undecodable command", logger.String("client_id", p.id), logger.Error(err))
			metrics.RecordErrorByComponent("ws", "decode")
			continue
		}
		h.submit(p, cmd)
	}
}

// submit forwards cmd and answers commands the match never saw.
func (h *Hub) submit(p *peer, cmd replication.Command) {
	err := h.sink.Submit(h.ctx, replication.Envelope{
		ClientID:   p.id,
		Team:       p.team,
		Command:    cmd,
		ReceivedAt: time.Now(),
	})
	switch {
	case err == nil:
		return
	case errors.Is(err, replication.ErrDuplicateCommand):
		h.logger.Debug(h.ctx, "duplicate command", logger.String("client_id", p.id), logger.String("command_id", cmd.ID))
		return
	}
	h.logger.Warn(h.ctx, "command not accepted", logger.String("client_id", p.id), logger.String("kind", string(cmd.Kind)), logger.Error(err))
	if cmd.ID != "" {
		_ = h.Send(h.ctx, p.id, replication.EncodeAck(replication.Ack{CommandID: cmd.ID, Reason: err.Error()}))
	}
}

func (h *Hub) writePump(p *peer) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues frame for every client. Slow clients miss the frame and
// resync from a snapshot once they notice the gap.
func (h *Hub) Broadcast(_ context.Context, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.clients {
		select {
		case p.send <- frame:
		default:
			metrics.RecordBroadcastDropped()
		}
	}
}

// Send queues frame for one client.
func (h *Hub) Send(_ context.Context, clientID string, frame []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	select {
	case p.send <- frame:
		return nil
	default:
		metrics.RecordBroadcastDropped()
		return fmt.Errorf("%w: %s", ErrSendBuffer, clientID)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their pumps to exit.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for id, p := range h.clients {
		p.close()
		delete(h.clients, id)
	}
	metrics.UpdateConnectedClients(0)
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub close: %w", ctx.Err())
	}
}

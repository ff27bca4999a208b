// Package mirror broadcasts command output and background progress to
// websocket clients.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"penman/cli/internal/logging"
	"penman/cli/internal/protocol"
)

const (
	writeTimeout = 500 * time.Millisecond
	// outboxSize bounds the messages queued for one client. A client that
	// falls this far behind is disconnected.
	outboxSize = 256
)

type client struct {
	conn   *websocket.Conn
	outbox chan []byte
	drop   context.CancelFunc
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	seq     atomic.Uint64
	logger  *slog.Logger
}

func NewHub(lg *slog.Logger) *Hub {
	return &Hub{clients: map[*client]struct{}{}, logger: logging.OrDiscard(lg)}
}

func (h *Hub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS serves one client. Reads happen here; all writes go through the
// client's outbox and its writer goroutine.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("mirror accept failed", "err", err)
		return
	}
	ctx, drop := context.WithCancel(r.Context())
	c := &client{conn: conn, outbox: make(chan []byte, outboxSize), drop: drop}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, c)
	}()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		drop()
		<-writerDone
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	if !h.enqueue(c, protocol.Event(h.nextID(), protocol.OpHello, map[string]any{})) {
		return
	}
	for {
		var req protocol.Message
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		if req.Type == protocol.TypeReq && req.Op == protocol.OpPing {
			resp := protocol.Message{ID: req.ID, Type: protocol.TypeResp, Op: protocol.OpPing, Payload: protocol.MustRaw(map[string]any{})}
			if !h.enqueue(c, resp) {
				return
			}
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug("mirror write failed", "err", err)
				c.drop()
				return
			}
		}
	}
}

func (h *Hub) enqueue(c *client, msg protocol.Message) bool {
	raw, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return h.offer(c, raw)
}

// offer queues raw for c without blocking. A full outbox drops the client.
func (h *Hub) offer(c *client, raw []byte) bool {
	select {
	case c.outbox <- raw:
		return true
	default:
		h.logger.Debug("mirror client too slow, disconnecting")
		c.drop()
		return false
	}
}

// Publish queues op with payload v for every connected client and returns
// without waiting for the network.
func (h *Hub) Publish(op string, v any) {
	if h == nil {
		return
	}
	msg, err := json.Marshal(protocol.Event(h.nextID(), op, v))
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.offer(c, msg)
	}
}

func (h *Hub) nextID() string {
	return fmt.Sprintf("evt_%d", h.seq.Add(1))
}

// Serve listens on addr and serves the hub at /ws until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	h.logger.Info("mirror listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

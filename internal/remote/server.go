package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/recsync/internal/wire"
)

// Executor runs one request. backend.Server and store transports satisfy
// it.
type Executor interface {
	Execute(ctx context.Context, req *wire.Request) (*wire.Response, error)
}

// Handler upgrades HTTP connections to websockets and serves wire
// requests on them.
type Handler struct {
	exec     Executor
	settings Settings
	upgrader websocket.Upgrader
	// conns tracks live connections so Shutdown can close them.
	mu    sync.Mutex
	conns map[*websocket.Conn]context.CancelFunc
	wg    sync.WaitGroup
}

// NewHandler serves requests against exec.
func NewHandler(exec Executor, settings Settings) *Handler {
	return &Handler{
		exec:     exec,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: settings.HandshakeTimeout,
			// Clients are local tools, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]context.CancelFunc),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.conns[conn] = cancel
	h.mu.Unlock()

	slog.Info("remote client connected", "remote", r.RemoteAddr)
	c := &serverConn{h: h, conn: conn}
	c.serve(ctx)

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	cancel()
	conn.Close()
	slog.Info("remote client disconnected", "remote", r.RemoteAddr)
}

// Shutdown closes every connection and waits for in-flight requests.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	for conn, cancel := range h.conns {
		cancel()
		conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

type serverConn struct {
	h       *Handler
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *serverConn) serve(ctx context.Context) {
	settings := c.h.settings
	if settings.MaxMessageSize > 0 {
		c.conn.SetReadLimit(settings.MaxMessageSize)
	}
	c.extendRead()
	c.conn.SetPongHandler(func(string) error {
		c.extendRead()
		return nil
	})

	if settings.PingInterval > 0 {
		go c.ping(ctx)
	}

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("remote read failed", "error", err)
			}
			return
		}
		c.extendRead()
		if messageType != websocket.TextMessage {
			continue
		}

		var req wire.Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.send(&wire.Response{Error: &wire.Error{Code: wire.CodeInvalid, Message: "malformed request: " + err.Error()}})
			continue
		}
		c.h.wg.Add(1)
		go func() {
			defer c.h.wg.Done()
			c.handle(ctx, &req)
		}()
	}
}

func (c *serverConn) handle(ctx context.Context, req *wire.Request) {
	resp, err := c.h.exec.Execute(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		resp = wire.Failure(req, err)
	}
	c.send(resp)
}

func (c *serverConn) send(resp *wire.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("encode response", "request", resp.ID, "error", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(deadline(c.h.settings.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("write response failed", "request", resp.ID, "error", err)
	}
}

func (c *serverConn) ping(ctx context.Context) {
	ticker := time.NewTicker(c.h.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, deadline(c.h.settings.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *serverConn) extendRead() {
	c.conn.SetReadDeadline(deadline(c.h.settings.ReadTimeout))
}

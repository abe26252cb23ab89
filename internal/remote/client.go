package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/recsync/internal/wire"
)

// Client is a store transport speaking to a Handler.
type Client struct {
	conn     *websocket.Conn
	settings Settings

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *wire.Response
	closed  bool
	done    chan struct{}
}

// Dial connects to a Handler at url (ws:// or wss://).
func Dial(ctx context.Context, url string, settings Settings) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: settings.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if settings.MaxMessageSize > 0 {
		conn.SetReadLimit(settings.MaxMessageSize)
	}
	c := &Client{
		conn:     conn,
		settings: settings,
		pending:  make(map[string]chan *wire.Response),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	slog.Info("remote connected", "url", url)
	return c, nil
}

// Execute implements store.Transport.
func (c *Client) Execute(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("execute: request without id")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ch := make(chan *wire.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := c.pending[req.ID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("execute: request %s already outstanding", req.ID)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer c.forget(req.ID)

	if err := c.write(data); err != nil {
		return nil, fmt.Errorf("send request %s: %w", req.ID, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(deadline(c.settings.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				slog.Warn("remote read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var resp wire.Response
		if err := json.Unmarshal(message, &resp); err != nil {
			slog.Error("remote response undecodable", "error", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			slog.Debug("response for unknown request dropped", "request", resp.ID)
			continue
		}
		ch <- &resp
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// shutdown fails every waiting request.
func (c *Client) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
	}
	pending := c.pending
	c.pending = make(map[string]chan *wire.Response)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close sends a close frame and closes the connection. Waiting requests
// fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	<-c.done
	return err
}

package wsconn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Config struct {
	SendBuffer int
	ReadLimit  int64
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		SendBuffer: 64,
		ReadLimit:  64 << 10,
		WriteWait:  5 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
	}
}

// Conn is a websocket connection with a bounded outgoing queue. Writers never
// block: TrySend either enqueues a frame or reports why it could not. A
// single WriteLoop drains the queue.
type Conn struct {
	ws   *websocket.Conn
	cfg  Config
	send chan []byte

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func New(ws *websocket.Conn, cfg Config) *Conn {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}

	c := &Conn{
		ws:   ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
	}

	if cfg.ReadLimit > 0 {
		ws.SetReadLimit(cfg.ReadLimit)
	}
	if cfg.PongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
	}

	return c
}

func (c *Conn) TrySend(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// ReadMessage blocks until the next data frame arrives.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// WriteLoop writes queued frames and keepalive pings until ctx is done, the
// connection is closed or a write fails.
func (c *Conn) WriteLoop(ctx context.Context) error {
	var ping <-chan time.Time
	if c.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(c.cfg.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrConnClosed
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if c.cfg.WriteWait > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
			return err
		}
	}

	return c.ws.WriteMessage(messageType, data)
}

// CloseWithCode sends a close frame carrying code before closing.
func (c *Conn) CloseWithCode(code int, reason string) {
	wait := c.cfg.WriteWait
	if wait <= 0 {
		wait = time.Second
	}

	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wait),
	)
	c.Close()
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	_ = c.ws.Close()
}

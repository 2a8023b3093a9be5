package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sharetube/syncplay/pkg/wsconn"
)

var (
	ErrUnknownType      = errors.New("unknown message type")
	ErrMalformedMessage = errors.New("malformed message")
)

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HandlerFunc[T any] func(ctx context.Context, conn *wsconn.Conn, payload T) error

type Middleware func(next HandlerFunc[any]) HandlerFunc[any]

// ErrorHandler receives every error produced while dispatching a message.
// Returning a non-nil error stops ServeConn.
type ErrorHandler func(ctx context.Context, conn *wsconn.Conn, err error) error

type route func(ctx context.Context, conn *wsconn.Conn, payload json.RawMessage) error

type WSRouter struct {
	routes       map[string]route
	middlewares  []Middleware
	errorHandler ErrorHandler
}

func New() *WSRouter {
	return &WSRouter{
		routes: make(map[string]route),
		errorHandler: func(_ context.Context, _ *wsconn.Conn, _ error) error {
			return nil
		},
	}
}

// Use appends middlewares applied to every route, first added runs first.
func (r *WSRouter) Use(mw ...Middleware) {
	r.middlewares = append(r.middlewares, mw...)
}

func (r *WSRouter) SetErrorHandler(h ErrorHandler) {
	r.errorHandler = h
}

// Handle registers handler for messageType. The payload is decoded into T
// before the middleware chain runs.
func Handle[T any](r *WSRouter, messageType string, handler HandlerFunc[T]) {
	final := func(ctx context.Context, conn *wsconn.Conn, payload any) error {
		return handler(ctx, conn, payload.(T))
	}

	r.routes[messageType] = func(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage) error {
		var payload T
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
			}
		}

		return r.chain(final)(ctx, conn, payload)
	}
}

// Routes returns the registered message types.
func (r *WSRouter) Routes() []string {
	types := make([]string, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}

	return types
}

func (r *WSRouter) chain(h HandlerFunc[any]) HandlerFunc[any] {
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}

	return h
}

// Dispatch routes a single frame.
func (r *WSRouter) Dispatch(ctx context.Context, conn *wsconn.Conn, data []byte) error {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	handler, ok := r.routes[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	ctx = context.WithValue(ctx, messageTypeKey, msg.Type)

	return handler(ctx, conn, msg.Payload)
}

// ServeConn reads frames until the connection fails. Dispatch errors go to
// the error handler and do not end the loop unless it says so.
func (r *WSRouter) ServeConn(ctx context.Context, conn *wsconn.Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if err := r.Dispatch(ctx, conn, data); err != nil {
			if err := r.errorHandler(ctx, conn, err); err != nil {
				return err
			}
		}
	}
}

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharetube/syncplay/pkg/ctxlogger"
	"github.com/sharetube/syncplay/pkg/wsconn"
	"github.com/sharetube/syncplay/pkg/wsrouter"
)

func (c controller) receivedAtWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn *wsconn.Conn, payload any) error {
			ctx = context.WithValue(ctx, receivedAtCtxKey, c.clock.Now().UnixMilli())
			return next(ctx, conn, payload)
		}
	}
}

func (c controller) wsRequestIdWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn *wsconn.Conn, payload any) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("ws_request_id", c.generateTimeBasedId()))
			return next(ctx, conn, payload)
		}
	}
}

func (c controller) loggerWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn *wsconn.Conn, payload any) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", wsrouter.GetMessageTypeFromCtx(ctx)))
			c.logger.DebugContext(ctx, "websocket message received", "payload", payload)

			start := time.Now()
			err := next(ctx, conn, payload)

			c.logger.DebugContext(ctx, "websocket message handled",
				"processing_time_us", time.Since(start).Microseconds(),
			)

			return err
		}
	}
}

func (c controller) rateLimitWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn *wsconn.Conn, payload any) error {
			if limiter := c.getLimiterFromCtx(ctx); limiter != nil && !limiter.AllowN(c.clock.Now(), 1) {
				return ErrRateLimited
			}

			return next(ctx, conn, payload)
		}
	}
}

func (c controller) validateWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn *wsconn.Conn, payload any) error {
			if validationErrors, ok := c.validate.Validate(payload); !ok {
				return fmt.Errorf("%w: %v", ErrValidation, validationErrors)
			}

			return next(ctx, conn, payload)
		}
	}
}

// handleWSError logs and drops the offending message. The connection stays
// open whatever went wrong.
func (c controller) handleWSError(ctx context.Context, _ *wsconn.Conn, err error) error {
	reason := rejectReason(err)
	c.metrics.MessagesRejected.WithLabelValues(reason).Inc()
	c.logger.WarnContext(ctx, "websocket message dropped", "reason", reason, "error", err)

	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, wsrouter.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, wsrouter.ErrMalformedMessage):
		return "malformed"
	default:
		return "handler"
	}
}

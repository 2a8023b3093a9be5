package controller

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/sharetube/syncplay/pkg/ctxlogger"
)

var idCounter atomic.Uint64

// generateTimeBasedId returns an id that sorts by creation time.
func (c controller) generateTimeBasedId() string {
	return strconv.FormatInt(c.clock.Now().UnixMicro(), 36) + "-" + strconv.FormatUint(idCounter.Add(1), 36)
}

func (c controller) requestIdMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = ctxlogger.AppendCtx(ctx, slog.String("request_id", c.generateTimeBasedId()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c controller) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"url", r.URL.String(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
		next.ServeHTTP(w, r)
	})
}

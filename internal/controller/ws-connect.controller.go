package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/internal/service/playback"
	"github.com/sharetube/syncplay/pkg/ctxlogger"
	"github.com/sharetube/syncplay/pkg/wsconn"
)

// connectDevice upgrades the request, registers a fresh device for the
// socket and serves it until either side goes away.
func (c controller) connectDevice(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	conn := wsconn.New(ws, c.cfg.Conn)
	defer conn.Close()

	registerResp, err := c.playbackService.RegisterDevice(r.Context(), &playback.RegisterDeviceParams{
		Conn:        conn,
		ClassHint:   r.URL.Query().Get("device_class"),
		UserAgent:   r.UserAgent(),
		DeviceToken: r.URL.Query().Get("device_token"),
	})
	if err != nil {
		if errors.Is(err, playback.ErrDeviceLimitReached) {
			c.logger.InfoContext(r.Context(), "device rejected", "error", err)
			conn.CloseWithCode(protocol.CloseDeviceLimit, "device limit reached")
			return
		}
		c.logger.ErrorContext(r.Context(), "failed to register device", "error", err)
		return
	}
	deviceId := registerResp.Device.Id

	// The request context ends with the handler, so unregistering runs on a
	// detached one that still carries the log attributes.
	defer func() {
		if err := c.playbackService.UnregisterDevice(context.WithoutCancel(r.Context()), deviceId); err != nil {
			c.logger.WarnContext(r.Context(), "failed to unregister device", "device_id", deviceId, "error", err)
		}
	}()

	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("device_id", deviceId))
	ctx = context.WithValue(ctx, deviceIdCtxKey, deviceId)
	if c.cfg.RateLimit > 0 {
		ctx = context.WithValue(ctx, limiterCtxKey, rate.NewLimiter(c.cfg.RateLimit, c.cfg.RateBurst))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.WriteLoop(gctx)
	})
	g.Go(func() error {
		return c.wsmux.ServeConn(gctx, conn)
	})
	g.Go(func() error {
		// unblocks ServeConn once the writer gives up
		<-gctx.Done()
		conn.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		c.logger.InfoContext(ctx, "connection closed", "error", err)
	}
}

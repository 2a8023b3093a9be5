package player

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharetube/syncplay/internal/app"
	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/internal/repository/catalog"
	catalogRedis "github.com/sharetube/syncplay/internal/repository/catalog/redis"
	"github.com/sharetube/syncplay/pkg/wsconn"
)

type testDevice struct {
	client *Client
	engine *SimEngine
}

func startCoordinator(t *testing.T, tracks ...catalog.SetTrackParams) *httptest.Server {
	t.Helper()

	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })

	catalogRepo := catalogRedis.NewRepo(rc, slog.Default())
	for i := range tracks {
		require.NoError(t, catalogRepo.SetTrack(context.Background(), &tracks[i]))
	}

	a := app.New(&app.AppConfig{
		Secret:       "secret",
		LogLevel:     "debug",
		StartLead:    150 * time.Millisecond,
		SwitchLead:   100 * time.Millisecond,
		MaxLead:      5 * time.Second,
		DevicesLimit: 32,
		SendBuffer:   64,
		ReadLimit:    64 << 10,
		PingPeriod:   54 * time.Second,
		RateLimit:    50,
		RateBurst:    100,
	}, rc, clock.New(), slog.Default())

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	return srv
}

func startDevice(t *testing.T, ctx context.Context, srv *httptest.Server, queue ...string) *testDevice {
	t.Helper()

	clk := clock.New()
	cfg := DefaultConfig()
	cfg.ServerURL = srv.URL
	cfg.Queue = queue
	engine := NewSimEngine(clk, 1)
	c := NewClient(cfg, engine, clk, slog.Default())

	go c.Run(ctx)

	select {
	case <-c.Registered():
	case <-time.After(2 * time.Second):
		t.Fatal("device did not register")
	}

	return &testDevice{client: c, engine: engine}
}

func TestDevicesStartTogether(t *testing.T) {
	srv := startCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	devices := []*testDevice{
		startDevice(t, ctx, srv),
		startDevice(t, ctx, srv),
		startDevice(t, ctx, srv),
	}

	assert.Eventually(t, func() bool {
		for _, d := range devices {
			if len(d.client.Roster()) != 3 || !d.client.Estimator().Synced() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, devices[0].client.RequestPlay("t1", 0))

	assert.Eventually(t, func() bool {
		for _, d := range devices {
			if !d.engine.Playing() || d.engine.TrackId() != "t1" {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	positions := make([]float64, 0, len(devices))
	for _, d := range devices {
		positions = append(positions, d.engine.Position())
	}
	for _, p := range positions[1:] {
		assert.InDelta(t, positions[0], p, 0.05, "devices must start within a drift interval of each other")
	}

	// a pause from one device reaches the others
	require.NoError(t, devices[1].client.Pause())
	assert.Eventually(t, func() bool {
		for _, d := range devices {
			if d.client.Corrector().State() != StatePaused {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	// a resume from another device brings everyone back in step
	require.NoError(t, devices[2].client.Resume())
	assert.Eventually(t, func() bool {
		for _, d := range devices {
			if d.client.Corrector().State() != StatePlaying || !d.engine.Playing() {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	positions = positions[:0]
	for _, d := range devices {
		positions = append(positions, d.engine.Position())
	}
	for _, p := range positions[1:] {
		assert.InDelta(t, positions[0], p, 0.05)
	}

	require.NoError(t, devices[0].client.SetVolume(0.4))
	assert.Eventually(t, func() bool {
		for _, d := range devices {
			if d.engine.Volume() != 0.4 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAutoAdvanceAtEndOfTrack(t *testing.T) {
	srv := startCoordinator(t,
		catalog.SetTrackParams{TrackId: "short", Title: "Short", Duration: 0.3},
		catalog.SetTrackParams{TrackId: "next", Title: "Next", Duration: 120},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startDevice(t, ctx, srv, "short", "next")
	b := startDevice(t, ctx, srv, "short", "next")

	require.NoError(t, a.client.RequestPlay("short", 0))

	assert.Eventually(t, func() bool {
		return a.engine.TrackId() == "next" && b.engine.TrackId() == "next" &&
			a.engine.Playing() && b.engine.Playing()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestFetchDuration(t *testing.T) {
	srv := startCoordinator(t, catalog.SetTrackParams{TrackId: "t1", Title: "x", Duration: 42.5})

	cfg := DefaultConfig()
	cfg.ServerURL = srv.URL
	c := NewClient(cfg, NewSimEngine(clock.New(), 1), clock.New(), slog.Default())

	d, err := c.FetchDuration(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 42.5, d)

	_, err = c.FetchDuration(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient(DefaultConfig(), NewSimEngine(clock.New(), 1), clock.New(), slog.Default())

	assert.ErrorIs(t, c.RequestPlay("t1", 0), ErrNotConnected)
	assert.ErrorIs(t, c.SeekTo(3), ErrNotConnected)
}

// silentCoordinator accepts a websocket and records what it receives without
// ever answering.
func silentCoordinator(t *testing.T) (*httptest.Server, <-chan protocol.Envelope) {
	t.Helper()

	received := make(chan protocol.Envelope, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if env, err := protocol.DecodeEnvelope(data); err == nil {
				received <- env
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, received
}

func TestProbeTimeoutKeepsOffsetAndPlayback(t *testing.T) {
	srv, received := silentCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	engine := NewSimEngine(clk, 1)
	c := NewClient(DefaultConfig(), engine, clk, slog.Default())

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	conn := wsconn.New(ws, wsconn.DefaultConfig())
	defer conn.Close()
	go conn.WriteLoop(ctx)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- c.probe(ctx)
	}()

	select {
	case env := <-received:
		require.Equal(t, protocol.TypeClockProbe, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("clock probe was not sent")
	}

	now := clk.Now().UnixMilli()
	c.handle(ctx, protocol.Envelope{Type: protocol.TypeSyncPlayCommand}, protocol.SyncPlayCommand{
		Seq: 1, TrackId: "t1", Position: 3, TargetTimestamp: now + 150, ServerTime: now,
	})

	var probeErr error
	assert.Eventually(t, func() bool {
		clk.Add(c.cfg.ProbeTimeout)
		select {
		case probeErr = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, probeErr)
	assert.Zero(t, c.Estimator().Offset())
	assert.False(t, c.Estimator().Synced())
	assert.Eventually(t, func() bool {
		return c.Corrector().State() == StatePlaying && engine.Playing()
	}, time.Second, time.Millisecond)
	assert.Equal(t, "t1", engine.TrackId())
}

func TestAdvanceRearmsWhenTrackIsScheduledAgain(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	cfg := DefaultConfig()
	cfg.Queue = []string{"a", "b"}
	c := NewClient(cfg, NewSimEngine(clk, 1), clk, slog.Default())

	c.mu.Lock()
	c.durations["a"] = 1
	c.mu.Unlock()

	advancedOn := func() string {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.advancedOn
	}

	c.onProgress("a", 1)
	require.Equal(t, "a", advancedOn())

	now := clk.Now().UnixMilli()
	c.handle(context.Background(), protocol.Envelope{Type: protocol.TypeSyncPlayCommand}, protocol.SyncPlayCommand{
		Seq: 1, TrackId: "a", TargetTimestamp: now, ServerTime: now,
	})
	assert.Empty(t, advancedOn())

	// a stale schedule is not adopted and leaves detection as it was
	c.onProgress("a", 1)
	c.handle(context.Background(), protocol.Envelope{Type: protocol.TypeSyncPlayCommand}, protocol.SyncPlayCommand{
		Seq: 1, TrackId: "a", TargetTimestamp: now, ServerTime: now,
	})
	assert.Equal(t, "a", advancedOn())
}

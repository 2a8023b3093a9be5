package playback

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharetube/syncplay/internal/metrics"
	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/internal/repository/connection"
	connInmemory "github.com/sharetube/syncplay/internal/repository/connection/inmemory"
	deviceInmemory "github.com/sharetube/syncplay/internal/repository/device/inmemory"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (c *fakeConn) TrySend(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.full {
		return assert.AnError
	}
	c.frames = append(c.frames, frame)

	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) messages(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]protocol.Message, 0, len(c.frames))
	for _, f := range c.frames {
		_, msg, err := protocol.Decode(f)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}

	return msgs
}

func (c *fakeConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	envs := make([]protocol.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := protocol.DecodeEnvelope(f)
		require.NoError(t, err)
		envs = append(envs, env)
	}

	return envs
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

var _ connection.Conn = (*fakeConn)(nil)

func newTestService(t *testing.T, cfg Config) (*service, *clock.Mock) {
	t.Helper()
	slog.SetLogLoggerLevel(slog.LevelDebug)

	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	s := NewService(
		deviceInmemory.NewRepo(slog.Default()),
		connInmemory.NewRepo(slog.Default()),
		clk,
		metrics.New(prometheus.NewRegistry()),
		slog.Default(),
		cfg,
	)

	return s, clk
}

func register(t *testing.T, s *service, class string) (*fakeConn, RegisterDeviceResponse) {
	t.Helper()
	conn := &fakeConn{}
	resp, err := s.RegisterDevice(context.Background(), &RegisterDeviceParams{
		Conn:      conn,
		ClassHint: class,
	})
	require.NoError(t, err)

	return conn, resp
}

func lastRoster(t *testing.T, conn *fakeConn) protocol.DeviceListUpdate {
	t.Helper()
	msgs := conn.messages(t)
	for i := len(msgs) - 1; i >= 0; i-- {
		if roster, ok := msgs[i].(protocol.DeviceListUpdate); ok {
			return roster
		}
	}
	t.Fatal("no roster received")

	return protocol.DeviceListUpdate{}
}

func TestRegisterDevice(t *testing.T) {
	s, _ := newTestService(t, DefaultConfig())

	conn1, resp1 := register(t, s, "desktop")
	assert.NotEmpty(t, resp1.Device.Id)
	assert.NotEmpty(t, resp1.Device.StableKey)
	assert.Equal(t, DeviceClassDesktop, resp1.Device.DeviceClass)
	assert.Equal(t, "Desktop "+resp1.Device.Id[:4], resp1.Device.DisplayName)
	assert.Empty(t, resp1.DeviceToken, "tokens are disabled without a secret")

	msgs := conn1.messages(t)
	require.Len(t, msgs, 2)
	registered, ok := msgs[0].(protocol.DeviceRegistered)
	require.True(t, ok, "first message must be DEVICE_REGISTERED")
	assert.Equal(t, resp1.Device.Id, registered.Id)
	_, ok = msgs[1].(protocol.DeviceListUpdate)
	assert.True(t, ok, "second message must be DEVICE_LIST_UPDATE")

	conn2, resp2 := register(t, s, "mobile")
	conn3, resp3 := register(t, s, "")

	for _, c := range []*fakeConn{conn1, conn2, conn3} {
		roster := lastRoster(t, c)
		require.Len(t, roster.Devices, 3)
		assert.Equal(t, resp1.Device.Id, roster.Devices[0].Id)
		assert.Equal(t, resp2.Device.Id, roster.Devices[1].Id)
		assert.Equal(t, resp3.Device.Id, roster.Devices[2].Id)
	}

	require.NoError(t, s.UnregisterDevice(context.Background(), resp2.Device.Id))
	for _, c := range []*fakeConn{conn1, conn3} {
		roster := lastRoster(t, c)
		require.Len(t, roster.Devices, 2)
		for _, d := range roster.Devices {
			assert.NotEqual(t, resp2.Device.Id, d.Id)
		}
	}

	assert.ErrorIs(t, s.UnregisterDevice(context.Background(), resp2.Device.Id), ErrDeviceNotFound)
}

func TestRegisterDeviceLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DevicesLimit = 2
	s, _ := newTestService(t, cfg)

	register(t, s, "")
	register(t, s, "")

	_, err := s.RegisterDevice(context.Background(), &RegisterDeviceParams{Conn: &fakeConn{}})
	assert.ErrorIs(t, err, ErrDeviceLimitReached)

	devices, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestDeviceTokenRestoresIdentity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Secret = "test-secret"
	s, clk := newTestService(t, cfg)
	ctx := context.Background()

	_, first := register(t, s, "tablet")
	require.NotEmpty(t, first.DeviceToken)

	renamed, err := s.RenameDevice(ctx, &RenameDeviceParams{
		SenderId:    first.Device.Id,
		DisplayName: "  Living room  ",
	})
	require.NoError(t, err)
	require.True(t, renamed.Renamed)
	assert.Equal(t, "Living room", renamed.Device.DisplayName)

	conn, err := s.connRepo.GetConn(first.Device.Id)
	require.NoError(t, err)
	msgs := conn.(*fakeConn).messages(t)
	var refreshed protocol.DeviceRegistered
	for _, m := range msgs {
		if r, ok := m.(protocol.DeviceRegistered); ok {
			refreshed = r
		}
	}
	require.NotEmpty(t, refreshed.DeviceToken)
	assert.Equal(t, "Living room", refreshed.DisplayName)

	require.NoError(t, s.UnregisterDevice(ctx, first.Device.Id))

	second, err := s.RegisterDevice(ctx, &RegisterDeviceParams{
		Conn:        &fakeConn{},
		DeviceToken: refreshed.DeviceToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.Device.Id, second.Device.Id, "connection identity is never reused")
	assert.Equal(t, first.Device.StableKey, second.Device.StableKey)
	assert.Equal(t, "Living room", second.Device.DisplayName)

	clk.Add(cfg.DeviceTokenTTL + time.Hour)
	third, err := s.RegisterDevice(ctx, &RegisterDeviceParams{
		Conn:        &fakeConn{},
		DeviceToken: refreshed.DeviceToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.Device.StableKey, third.Device.StableKey, "expired token must be ignored")

	fourth, err := s.RegisterDevice(ctx, &RegisterDeviceParams{
		Conn:        &fakeConn{},
		DeviceToken: "garbage",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, fourth.Device.StableKey)
}

func TestRenameDevice(t *testing.T) {
	s, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	conn1, resp1 := register(t, s, "")
	conn2, _ := register(t, s, "")

	_, err := s.RenameDevice(ctx, &RenameDeviceParams{SenderId: resp1.Device.Id, DisplayName: "   "})
	assert.ErrorIs(t, err, ErrInvalidDisplayName)

	_, err = s.RenameDevice(ctx, &RenameDeviceParams{SenderId: resp1.Device.Id, DisplayName: "Kitchen"})
	require.NoError(t, err)
	for _, c := range []*fakeConn{conn1, conn2} {
		roster := lastRoster(t, c)
		require.Len(t, roster.Devices, 2)
		assert.Equal(t, "Kitchen", roster.Devices[0].DisplayName)
	}

	gone, err := s.RenameDevice(ctx, &RenameDeviceParams{SenderId: "missing", DisplayName: "x"})
	require.NoError(t, err)
	assert.False(t, gone.Renamed)
}

func TestRelayExcludesSender(t *testing.T) {
	s, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	connA, a := register(t, s, "")
	connB, _ := register(t, s, "")
	connC, _ := register(t, s, "")
	for _, c := range []*fakeConn{connA, connB, connC} {
		c.reset()
	}

	pos := 12.5
	resp, err := s.Relay(ctx, &RelayParams{
		SenderId: a.Device.Id,
		Message:  protocol.Pause{Position: &pos},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Delivered)

	assert.Empty(t, connA.frames, "sender must not receive its own relay")
	for _, c := range []*fakeConn{connB, connC} {
		envs := c.envelopes(t)
		require.Len(t, envs, 1)
		assert.Equal(t, protocol.TypePause, envs[0].Type)
		assert.Equal(t, a.Device.Id, envs[0].From)

		msg := c.messages(t)[0].(protocol.Pause)
		require.NotNil(t, msg.Position)
		assert.Equal(t, pos, *msg.Position)
	}

	_, err = s.Relay(ctx, &RelayParams{SenderId: a.Device.Id, Message: protocol.SyncPlayRequest{TrackId: "t"}})
	assert.ErrorIs(t, err, ErrNotRelayable)

	_, err = s.Relay(ctx, &RelayParams{SenderId: "ghost", Message: protocol.Play{}})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestRelaySkipsFullQueue(t *testing.T) {
	s, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, a := register(t, s, "")
	connB, _ := register(t, s, "")
	connC, _ := register(t, s, "")
	connB.full = true
	connC.reset()

	resp, err := s.Relay(ctx, &RelayParams{SenderId: a.Device.Id, Message: protocol.VolumeChange{Volume: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Delivered)
	assert.Len(t, connC.frames, 1)
}

func TestSchedulePlay(t *testing.T) {
	s, clk := newTestService(t, DefaultConfig())
	ctx := context.Background()

	connA, a := register(t, s, "")
	connB, _ := register(t, s, "")
	connC, _ := register(t, s, "")
	for _, c := range []*fakeConn{connA, connB, connC} {
		c.reset()
	}

	now := clk.Now().UnixMilli()
	resp, err := s.SchedulePlay(ctx, &SchedulePlayParams{
		SenderId: a.Device.Id,
		TrackId:  "track-1",
		Position: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Delivered, "originator receives the command too")
	assert.Equal(t, now+150, resp.Command.TargetTimestamp)
	assert.Equal(t, now, resp.Command.ServerTime)

	for _, c := range []*fakeConn{connA, connB, connC} {
		envs := c.envelopes(t)
		require.Len(t, envs, 1)
		assert.Empty(t, envs[0].From)
		cmd := c.messages(t)[0].(protocol.SyncPlayCommand)
		assert.Equal(t, resp.Command, cmd, "every device gets the same command")
	}

	lead := int64(400)
	second, err := s.SchedulePlay(ctx, &SchedulePlayParams{SenderId: a.Device.Id, TrackId: "track-1", LeadTimeMs: &lead})
	require.NoError(t, err)
	assert.Equal(t, now+400, second.Command.TargetTimestamp)
	assert.Greater(t, second.Command.Seq, resp.Command.Seq)

	huge := int64(60_000)
	clamped, err := s.SchedulePlay(ctx, &SchedulePlayParams{SenderId: a.Device.Id, TrackId: "track-1", LeadTimeMs: &huge})
	require.NoError(t, err)
	assert.Equal(t, now+DefaultConfig().MaxLead.Milliseconds(), clamped.Command.TargetTimestamp)
}

func TestScheduleNextTrack(t *testing.T) {
	s, clk := newTestService(t, DefaultConfig())
	ctx := context.Background()

	connA, a := register(t, s, "")
	connB, _ := register(t, s, "")
	connA.reset()
	connB.reset()

	play, err := s.SchedulePlay(ctx, &SchedulePlayParams{SenderId: a.Device.Id, TrackId: "t1"})
	require.NoError(t, err)

	clk.Add(time.Second)
	now := clk.Now().UnixMilli()
	next, err := s.ScheduleNextTrack(ctx, &ScheduleNextTrackParams{SenderId: a.Device.Id, TrackId: "t2"})
	require.NoError(t, err)
	assert.Equal(t, now+100, next.Command.TargetTimestamp)
	assert.Equal(t, "t2", next.Command.TrackId)
	assert.Greater(t, next.Command.Seq, play.Command.Seq)

	for _, c := range []*fakeConn{connA, connB} {
		msgs := c.messages(t)
		require.Len(t, msgs, 2)
		assert.Equal(t, next.Command, msgs[1].(protocol.SyncTrackChange))
	}
}

func TestProbeClock(t *testing.T) {
	s, clk := newTestService(t, DefaultConfig())
	ctx := context.Background()

	connA, a := register(t, s, "")
	connB, _ := register(t, s, "")
	connA.reset()
	connB.reset()

	resp, err := s.ProbeClock(ctx, &ProbeClockParams{SenderId: a.Device.Id, ClientSendTime: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.ClientSendTime)
	assert.Equal(t, clk.Now().UnixMilli(), resp.ServerSendTime)
	assert.LessOrEqual(t, resp.ServerReceiveTime, resp.ServerSendTime)

	require.Len(t, connA.frames, 1)
	assert.Equal(t, resp, connA.messages(t)[0].(protocol.ClockProbeResponse))
	assert.Empty(t, connB.frames, "probe responses go to the sender only")
}

func TestInferDeviceClass(t *testing.T) {
	cases := []struct {
		hint, ua, want string
	}{
		{"mobile", "", DeviceClassMobile},
		{"TABLET", "", DeviceClassTablet},
		{"", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", DeviceClassMobile},
		{"", "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", DeviceClassTablet},
		{"", "Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile Safari", DeviceClassMobile},
		{"", "Mozilla/5.0 (Linux; Android 14; SM-X710) Safari", DeviceClassTablet},
		{"", "Mozilla/5.0 (X11; Linux x86_64)", DeviceClassDesktop},
		{"bogus", "", DeviceClassDesktop},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, InferDeviceClass(tc.hint, tc.ua), "hint=%q ua=%q", tc.hint, tc.ua)
	}
}

package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/pkg/ctxlogger"
	"github.com/sharetube/syncplay/pkg/wsconn"
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrRejected      = errors.New("rejected by coordinator")
	ErrTrackNotFound = errors.New("track not found")
)

// endOfTrackSlack absorbs tick granularity when comparing against a duration.
const endOfTrackSlack = 0.05

type Config struct {
	// ServerURL is the coordinator base URL, for example http://localhost:8080.
	ServerURL      string
	DeviceClass    string
	DisplayName    string
	ProbeInterval  time.Duration
	ProbeBurst     int
	ProbeTimeout   time.Duration
	DriftInterval  time.Duration
	DriftThreshold time.Duration
	// Queue is the local play order used for auto-advance.
	Queue             []string
	MaxReconnectDelay time.Duration
	Conn              wsconn.Config
}

func DefaultConfig() Config {
	return Config{
		ProbeInterval:     30 * time.Second,
		ProbeBurst:        4,
		ProbeTimeout:      2 * time.Second,
		DriftInterval:     25 * time.Millisecond,
		DriftThreshold:    40 * time.Millisecond,
		MaxReconnectDelay: 30 * time.Second,
		Conn:              wsconn.DefaultConfig(),
	}
}

// Client is one playback device. It keeps a connection to the coordinator,
// keeps its clock estimate fresh and feeds every received message to its
// Corrector.
type Client struct {
	cfg        Config
	clock      clock.Clock
	logger     *slog.Logger
	httpClient *http.Client
	estimator  *Estimator
	corrector  *Corrector

	mu          sync.Mutex
	conn        *wsconn.Conn
	deviceId    string
	deviceToken string
	roster      []protocol.DeviceInfo
	durations   map[string]float64
	fetching    map[string]bool
	advancedOn  string
	registered  chan struct{}

	probeMu      sync.Mutex
	probeSentAt  int64
	probeAnswers chan struct{}
}

func NewClient(cfg Config, engine MediaEngine, clk clock.Clock, logger *slog.Logger) *Client {
	c := &Client{
		cfg:          cfg,
		clock:        clk,
		logger:       logger,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		estimator:    NewEstimator(DefaultEstimatorWindow),
		durations:    make(map[string]float64),
		fetching:     make(map[string]bool),
		registered:   make(chan struct{}),
		probeAnswers: make(chan struct{}, 1),
	}
	c.corrector = NewCorrector(engine, c.estimator, clk, logger, CorrectorConfig{
		Threshold:  cfg.DriftThreshold,
		OnProgress: c.onProgress,
	})

	return c
}

func (c *Client) Estimator() *Estimator {
	return c.estimator
}

func (c *Client) Corrector() *Corrector {
	return c.corrector
}

func (c *Client) DeviceId() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.deviceId
}

func (c *Client) Roster() []protocol.DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]protocol.DeviceInfo(nil), c.roster...)
}

// Registered is closed once the first registration succeeds.
func (c *Client) Registered() <-chan struct{} {
	return c.registered
}

// Run keeps the device connected until ctx ends. Each reconnect registers a
// new device; only the stable key and name carry over through the token.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	if c.cfg.MaxReconnectDelay > 0 {
		b.MaxInterval = c.cfg.MaxReconnectDelay
	}
	b.Clock = c.clock
	b.Reset()

	for {
		err := c.session(ctx, b)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrRejected) {
			return err
		}

		wait := b.NextBackOff()
		c.logger.WarnContext(ctx, "disconnected from coordinator", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(wait):
		}
	}
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/ws"

	q := url.Values{}
	if c.cfg.DeviceClass != "" {
		q.Set("device_class", c.cfg.DeviceClass)
	}
	c.mu.Lock()
	if c.deviceToken != "" {
		q.Set("device_token", c.deviceToken)
	}
	c.mu.Unlock()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) session(ctx context.Context, b backoff.BackOff) error {
	target, err := c.wsURL()
	if err != nil {
		return err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	conn := wsconn.New(ws, c.cfg.Conn)
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.WriteLoop(gctx)
	})
	g.Go(func() error {
		return c.readLoop(gctx, conn, b)
	})
	g.Go(func() error {
		return c.probeLoop(gctx)
	})
	g.Go(func() error {
		return c.driftLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	return g.Wait()
}

func (c *Client) readLoop(ctx context.Context, conn *wsconn.Conn, b backoff.BackOff) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, protocol.CloseDeviceLimit) {
				return fmt.Errorf("%w: %w", ErrRejected, err)
			}
			return err
		}

		env, msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.WarnContext(ctx, "dropping undecodable frame", "error", err)
			continue
		}

		if _, ok := msg.(protocol.DeviceRegistered); ok {
			b.Reset()
		}
		c.handle(ctx, env, msg)
	}
}

func (c *Client) handle(ctx context.Context, env protocol.Envelope, msg protocol.Message) {
	ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", string(env.Type)))

	switch m := msg.(type) {
	case protocol.DeviceRegistered:
		c.onRegistered(ctx, m)
	case protocol.DeviceListUpdate:
		c.mu.Lock()
		c.roster = m.Devices
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "roster updated", "devices", len(m.Devices))
	case protocol.ClockProbeResponse:
		c.onProbeResponse(ctx, m)
	case protocol.SyncPlayCommand:
		c.prefetchDuration(ctx, m.TrackId)
		if c.corrector.ApplySchedule(m) {
			c.rearmAdvance()
		}
	case protocol.SyncTrackChange:
		c.prefetchDuration(ctx, m.TrackId)
		if c.corrector.ApplyTrackChange(m) {
			c.rearmAdvance()
		}
	case protocol.Play:
		c.corrector.Play(m)
	case protocol.Pause:
		c.corrector.Pause(m)
	case protocol.Seek:
		c.corrector.Seek(m)
	case protocol.TrackChange:
		c.prefetchDuration(ctx, m.TrackId)
		c.corrector.TrackChange(m)
		c.rearmAdvance()
	case protocol.VolumeChange:
		c.corrector.Volume(m)
	default:
		c.logger.WarnContext(ctx, "unexpected message from coordinator")
	}
}

func (c *Client) onRegistered(ctx context.Context, m protocol.DeviceRegistered) {
	c.mu.Lock()
	first := c.deviceId != m.Id
	c.deviceId = m.Id
	if m.DeviceToken != "" {
		c.deviceToken = m.DeviceToken
	}
	c.mu.Unlock()

	if !first {
		return
	}

	c.corrector.ResetOrdering()
	c.logger.InfoContext(ctx, "registered", "device_id", m.Id, "display_name", m.DisplayName)

	select {
	case <-c.registered:
	default:
		close(c.registered)
	}

	if name := strings.TrimSpace(c.cfg.DisplayName); name != "" && name != m.DisplayName {
		if err := c.send(protocol.UpdateDeviceName{DisplayName: name}); err != nil {
			c.logger.WarnContext(ctx, "failed to send display name", "error", err)
		}
	}
}

func (c *Client) send(msg protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	frame, err := protocol.Encode("", msg)
	if err != nil {
		return err
	}

	return conn.TrySend(frame)
}

// probe sends one clock probe and waits for its answer. A probe that times
// out leaves the last estimate in place.
func (c *Client) probe(ctx context.Context) error {
	sentAt := c.clock.Now().UnixMilli()

	c.probeMu.Lock()
	c.probeSentAt = sentAt
	c.probeMu.Unlock()

	// drain a late answer from an earlier probe
	select {
	case <-c.probeAnswers:
	default:
	}

	if err := c.send(protocol.ClockProbe{ClientSendTime: sentAt}); err != nil {
		return err
	}

	timeout := c.clock.Timer(c.cfg.ProbeTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.probeAnswers:
		return nil
	case <-timeout.C:
		c.logger.WarnContext(ctx, "clock probe timed out, keeping last offset",
			"offset", c.estimator.Offset(),
			"synced", c.estimator.Synced(),
		)
		return nil
	}
}

func (c *Client) onProbeResponse(ctx context.Context, m protocol.ClockProbeResponse) {
	c.probeMu.Lock()
	expected := c.probeSentAt
	c.probeMu.Unlock()

	if m.ClientSendTime != expected {
		c.logger.DebugContext(ctx, "ignoring stale clock probe response")
		return
	}

	offset := c.estimator.AddSample(m, c.clock.Now())
	c.logger.DebugContext(ctx, "clock offset updated", "offset", offset, "rtt", c.estimator.RTT())

	select {
	case c.probeAnswers <- struct{}{}:
	default:
	}
}

func (c *Client) probeLoop(ctx context.Context) error {
	burst := func() error {
		for i := 0; i < max(c.cfg.ProbeBurst, 1); i++ {
			if err := c.probe(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-c.registered:
	}

	if err := burst(); err != nil && !errors.Is(err, ErrNotConnected) && ctx.Err() == nil {
		c.logger.WarnContext(ctx, "clock probe failed", "error", err)
	}

	ticker := c.clock.Ticker(c.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := burst(); err != nil && ctx.Err() == nil {
				c.logger.WarnContext(ctx, "clock probe failed", "error", err)
			}
		}
	}
}

func (c *Client) driftLoop(ctx context.Context) error {
	ticker := c.clock.Ticker(c.cfg.DriftInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.corrector.Tick()
		}
	}
}

// onProgress watches for the end of the current track and schedules the next
// queued one. Whichever device gets there first sends the request.
func (c *Client) onProgress(trackId string, position float64) {
	c.mu.Lock()
	duration, ok := c.durations[trackId]
	if !ok || duration <= 0 || position+endOfTrackSlack < duration || c.advancedOn == trackId {
		c.mu.Unlock()
		return
	}
	c.advancedOn = trackId
	next := c.nextInQueueLocked(trackId)
	c.mu.Unlock()

	if next == "" {
		c.logger.Info("end of queue reached", "track_id", trackId)
		return
	}

	if err := c.send(protocol.SyncNextTrack{TrackId: next}); err != nil {
		c.logger.Warn("failed to request next track", "track_id", next, "error", err)
	}
}

// rearmAdvance re-enables end-of-track detection after a track (re)starts.
func (c *Client) rearmAdvance() {
	c.mu.Lock()
	c.advancedOn = ""
	c.mu.Unlock()
}

func (c *Client) nextInQueueLocked(trackId string) string {
	for i, id := range c.cfg.Queue {
		if id == trackId && i+1 < len(c.cfg.Queue) {
			return c.cfg.Queue[i+1]
		}
	}

	return ""
}

func (c *Client) prefetchDuration(ctx context.Context, trackId string) {
	c.mu.Lock()
	_, known := c.durations[trackId]
	if known || c.fetching[trackId] {
		c.mu.Unlock()
		return
	}
	c.fetching[trackId] = true
	c.mu.Unlock()

	go func() {
		duration, err := c.FetchDuration(context.WithoutCancel(ctx), trackId)

		c.mu.Lock()
		defer c.mu.Unlock()

		delete(c.fetching, trackId)
		if err != nil {
			c.logger.Warn("failed to fetch track duration", "track_id", trackId, "error", err)
			return
		}
		c.durations[trackId] = duration
	}()
}

type trackResponse struct {
	Data struct {
		Duration float64 `json:"duration"`
	} `json:"data"`
}

// FetchDuration looks the track up in the coordinator catalog.
func (c *Client) FetchDuration(ctx context.Context, trackId string) (float64, error) {
	u := strings.TrimSuffix(c.cfg.ServerURL, "/") + "/api/v1/tracks/" + url.PathEscape(trackId)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to get track: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, ErrTrackNotFound
	default:
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body trackResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode track: %w", err)
	}

	return body.Data.Duration, nil
}

// RequestPlay asks the coordinator to start trackId everywhere.
func (c *Client) RequestPlay(trackId string, position float64) error {
	return c.send(protocol.SyncPlayRequest{TrackId: trackId, Position: position})
}

// Pause pauses locally and on every other device.
func (c *Client) Pause() error {
	position := c.corrector.engine.Position()
	msg := protocol.Pause{
		TrackId:  c.corrector.TrackId(),
		Position: &position,
		SentAt:   c.estimator.ServerNow(c.clock.Now()),
	}
	if err := c.send(msg); err != nil {
		return err
	}
	c.corrector.Pause(msg)

	return nil
}

// Resume continues playback locally and on every other device.
func (c *Client) Resume() error {
	position := c.corrector.engine.Position()
	msg := protocol.Play{
		TrackId:  c.corrector.TrackId(),
		Position: &position,
		SentAt:   c.estimator.ServerNow(c.clock.Now()),
	}
	if err := c.send(msg); err != nil {
		return err
	}
	c.corrector.Play(msg)

	return nil
}

func (c *Client) SeekTo(position float64) error {
	msg := protocol.Seek{
		Position: position,
		SentAt:   c.estimator.ServerNow(c.clock.Now()),
	}
	if err := c.send(msg); err != nil {
		return err
	}
	c.corrector.Seek(msg)

	return nil
}

func (c *Client) SetVolume(volume float64) error {
	msg := protocol.VolumeChange{Volume: volume}
	if err := c.send(msg); err != nil {
		return err
	}
	c.corrector.Volume(msg)

	return nil
}

package player

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sharetube/syncplay/internal/protocol"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingSchedule
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSchedule:
		return "awaiting_schedule"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

type CorrectorConfig struct {
	// Threshold is the largest tolerated gap between the engine position and
	// the expected one before a hard seek.
	Threshold time.Duration
	// OnProgress receives the observed position on every tick that needed no
	// correction.
	OnProgress func(trackId string, position float64)
}

func DefaultCorrectorConfig() CorrectorConfig {
	return CorrectorConfig{Threshold: 40 * time.Millisecond}
}

// Corrector reconstructs the shared playback session from the messages a
// device receives and keeps the local engine aligned with it.
//
// The session is a reference point: position refPos was current at
// coordinator time refAt. While playing, the expected position is refPos plus
// the coordinator time elapsed since refAt.
type Corrector struct {
	mu        sync.Mutex
	engine    MediaEngine
	estimator *Estimator
	clock     clock.Clock
	logger    *slog.Logger
	cfg       CorrectorConfig

	state   State
	trackId string
	refPos  float64
	refAt   int64

	lastSeq        uint64
	lastServerTime int64
	pending        *clock.Timer
}

func NewCorrector(engine MediaEngine, estimator *Estimator, clk clock.Clock, logger *slog.Logger, cfg CorrectorConfig) *Corrector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultCorrectorConfig().Threshold
	}

	return &Corrector{
		engine:    engine,
		estimator: estimator,
		clock:     clk,
		logger:    logger,
		cfg:       cfg,
	}
}

func (c *Corrector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Corrector) TrackId() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.trackId
}

// ResetOrdering forgets the last applied schedule. A new registration talks
// to a coordinator whose sequence may have started over.
func (c *Corrector) ResetOrdering() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeq = 0
	c.lastServerTime = 0
}

// ApplySchedule handles SYNC_PLAY_COMMAND. It reports whether the command was
// adopted.
func (c *Corrector) ApplySchedule(cmd protocol.SyncPlayCommand) bool {
	return c.schedule(cmd.Seq, cmd.ServerTime, cmd.TrackId, cmd.Position, cmd.TargetTimestamp)
}

// ApplyTrackChange handles SYNC_TRACK_CHANGE, a scheduled start at zero.
func (c *Corrector) ApplyTrackChange(cmd protocol.SyncTrackChange) bool {
	return c.schedule(cmd.Seq, cmd.ServerTime, cmd.TrackId, 0, cmd.TargetTimestamp)
}

func (c *Corrector) schedule(seq uint64, serverTime int64, trackId string, position float64, target int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq <= c.lastSeq || serverTime < c.lastServerTime {
		c.logger.Debug("stale schedule discarded", "seq", seq, "last_seq", c.lastSeq)
		return false
	}

	// A schedule whose track cannot be loaded is not adopted, so the previous
	// one (and its pending start) stays in effect.
	if trackId != c.trackId || c.state == StateIdle {
		if err := c.engine.Load(trackId); err != nil {
			c.logger.Warn("failed to load track", "track_id", trackId, "seq", seq, "error", err)
			return false
		}
		c.trackId = trackId
	}
	if c.state == StatePlaying {
		if err := c.engine.Pause(); err != nil {
			c.logger.Warn("failed to pause", "error", err)
		}
	}

	c.lastSeq = seq
	c.lastServerTime = serverTime
	c.cancelPendingLocked()

	c.state = StateAwaitingSchedule
	c.refPos = position
	c.refAt = target

	delay := c.estimator.ToLocal(target).Sub(c.clock.Now())
	if delay <= 0 {
		c.logger.Info("schedule already due, starting late", "seq", seq, "lateness", -delay)
		c.startLocked()
		return true
	}

	c.pending = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.lastSeq != seq || c.state != StateAwaitingSchedule {
			return
		}
		c.startLocked()
	})

	return true
}

// startLocked begins playback at the expected position for now, which equals
// refPos at the target instant and refPos plus the lateness after it.
func (c *Corrector) startLocked() {
	c.pending = nil
	if err := c.engine.Seek(c.expectedLocked()); err != nil {
		c.logger.Warn("failed to seek", "error", err)
	}
	if err := c.engine.Play(); err != nil {
		c.logger.Warn("failed to play", "error", err)
		return
	}
	c.state = StatePlaying
}

func (c *Corrector) cancelPendingLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Corrector) serverNowLocked() int64 {
	return c.estimator.ServerNow(c.clock.Now())
}

func (c *Corrector) expectedLocked() float64 {
	if c.state != StatePlaying && c.state != StateAwaitingSchedule {
		return c.refPos
	}

	elapsed := float64(c.serverNowLocked()-c.refAt) / 1000
	if elapsed < 0 {
		elapsed = 0
	}

	return c.refPos + elapsed
}

// referenceLocked moves the reference point to position, observed at sentAt
// on the coordinator clock, or now when sentAt is unknown.
func (c *Corrector) referenceLocked(position float64, sentAt int64) {
	if sentAt <= 0 {
		sentAt = c.serverNowLocked()
	}
	c.refPos = position
	c.refAt = sentAt
}

// Play resumes transport-level playback. No schedule is involved.
func (c *Corrector) Play(msg protocol.Play) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.TrackId != "" && msg.TrackId != c.trackId {
		c.cancelPendingLocked()
		if err := c.engine.Load(msg.TrackId); err != nil {
			c.logger.Warn("failed to load track", "track_id", msg.TrackId, "error", err)
			return
		}
		c.trackId = msg.TrackId
		c.refPos = 0
		c.state = StatePaused
	}
	if c.trackId == "" || c.state == StateAwaitingSchedule {
		return
	}

	if msg.Position != nil {
		c.referenceLocked(*msg.Position, msg.SentAt)
	} else if c.state != StatePlaying {
		c.referenceLocked(c.refPos, 0)
	}

	c.state = StatePlaying
	c.startLocked()
}

func (c *Corrector) Pause(msg protocol.Pause) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.trackId == "" {
		return
	}
	c.cancelPendingLocked()

	position := c.engine.Position()
	if msg.Position != nil {
		position = *msg.Position
	}
	if err := c.engine.Pause(); err != nil {
		c.logger.Warn("failed to pause", "error", err)
	}
	if err := c.engine.Seek(position); err != nil {
		c.logger.Warn("failed to seek", "error", err)
	}

	c.refPos = position
	c.refAt = c.serverNowLocked()
	c.state = StatePaused
}

func (c *Corrector) Seek(msg protocol.Seek) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.trackId == "" {
		return
	}

	c.referenceLocked(msg.Position, msg.SentAt)
	if err := c.engine.Seek(c.expectedLocked()); err != nil {
		c.logger.Warn("failed to seek", "error", err)
	}
}

// TrackChange loads the track at zero without a schedule. Playback continues
// only if it was already running.
func (c *Corrector) TrackChange(msg protocol.TrackChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelPendingLocked()
	if err := c.engine.Load(msg.TrackId); err != nil {
		c.logger.Warn("failed to load track", "track_id", msg.TrackId, "error", err)
		return
	}
	c.trackId = msg.TrackId
	c.referenceLocked(0, 0)

	switch c.state {
	case StatePlaying, StateAwaitingSchedule:
		c.state = StatePlaying
		c.startLocked()
	default:
		c.state = StatePaused
	}
}

func (c *Corrector) Volume(msg protocol.VolumeChange) {
	if err := c.engine.SetVolume(msg.Volume); err != nil {
		c.logger.Warn("failed to set volume", "error", err)
	}
}

// Tick compares the engine with the expected position once. It seeks only
// when the gap exceeds the threshold and reports whether it did.
func (c *Corrector) Tick() bool {
	c.mu.Lock()

	if c.state != StatePlaying {
		c.mu.Unlock()
		return false
	}

	expected := c.expectedLocked()
	actual := c.engine.Position()
	drift := actual - expected
	if math.Abs(drift) > c.cfg.Threshold.Seconds() {
		if err := c.engine.Seek(expected); err != nil {
			c.logger.Warn("failed to correct drift", "error", err)
		}
		c.mu.Unlock()
		c.logger.Debug("drift corrected", "drift_ms", int64(drift*1000))
		return true
	}

	trackId := c.trackId
	c.mu.Unlock()

	if c.cfg.OnProgress != nil {
		c.cfg.OnProgress(trackId, actual)
	}

	return false
}

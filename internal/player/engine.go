package player

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var ErrNoTrack = errors.New("no track loaded")

// MediaEngine is the local audio output a Corrector drives. Positions are
// seconds into the loaded track.
type MediaEngine interface {
	Load(trackId string) error
	Play() error
	Pause() error
	Seek(position float64) error
	SetVolume(volume float64) error
	Position() float64
}

// SimEngine is a MediaEngine without audio output. Its position advances with
// the supplied clock scaled by Rate, which lets a device run slightly fast or
// slow.
type SimEngine struct {
	mu      sync.Mutex
	clock   clock.Clock
	rate    float64
	trackId string
	playing bool
	base    float64
	since   time.Time
	volume  float64
	seeks   int
}

func NewSimEngine(clk clock.Clock, rate float64) *SimEngine {
	if rate <= 0 {
		rate = 1
	}

	return &SimEngine{clock: clk, rate: rate, volume: 1}
}

func (e *SimEngine) Load(trackId string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.trackId = trackId
	e.playing = false
	e.base = 0

	return nil
}

func (e *SimEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.trackId == "" {
		return ErrNoTrack
	}
	if !e.playing {
		e.playing = true
		e.since = e.clock.Now()
	}

	return nil
}

func (e *SimEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.base = e.positionLocked()
	e.playing = false

	return nil
}

func (e *SimEngine) Seek(position float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.trackId == "" {
		return ErrNoTrack
	}
	if position < 0 {
		position = 0
	}
	e.base = position
	e.since = e.clock.Now()
	e.seeks++

	return nil
}

func (e *SimEngine) SetVolume(volume float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.volume = volume

	return nil
}

func (e *SimEngine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.positionLocked()
}

func (e *SimEngine) positionLocked() float64 {
	if !e.playing {
		return e.base
	}

	return e.base + e.clock.Since(e.since).Seconds()*e.rate
}

func (e *SimEngine) TrackId() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.trackId
}

func (e *SimEngine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.playing
}

func (e *SimEngine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.volume
}

// Seeks counts position changes, including drift corrections.
func (e *SimEngine) Seeks() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.seeks
}

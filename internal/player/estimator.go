package player

import (
	"sync"
	"time"

	"github.com/sharetube/syncplay/internal/protocol"
)

const DefaultEstimatorWindow = 8

type probeSample struct {
	offset time.Duration
	rtt    time.Duration
}

// Estimator tracks the offset between the local clock and the coordinator
// clock, so that serverTime = localTime + offset. Of the most recent samples
// the one with the smallest round trip wins, since it carries the least
// queuing noise.
type Estimator struct {
	mu      sync.RWMutex
	window  int
	samples []probeSample
	offset  time.Duration
	rtt     time.Duration
	synced  bool
}

func NewEstimator(window int) *Estimator {
	if window <= 0 {
		window = DefaultEstimatorWindow
	}

	return &Estimator{window: window}
}

// AddSample folds one probe round trip into the estimate and returns the
// resulting offset. Processing time on the coordinator is excluded from the
// round trip.
func (e *Estimator) AddSample(resp protocol.ClockProbeResponse, localReceive time.Time) time.Duration {
	receivedMs := localReceive.UnixMilli()
	serverHold := resp.ServerSendTime - resp.ServerReceiveTime
	if serverHold < 0 {
		serverHold = 0
	}

	rttMs := receivedMs - resp.ClientSendTime - serverHold
	if rttMs < 0 {
		rttMs = 0
	}
	rtt := time.Duration(rttMs) * time.Millisecond
	offset := time.Duration(resp.ServerSendTime-receivedMs)*time.Millisecond + rtt/2

	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples = append(e.samples, probeSample{offset: offset, rtt: rtt})
	if len(e.samples) > e.window {
		e.samples = e.samples[len(e.samples)-e.window:]
	}

	best := e.samples[0]
	for _, s := range e.samples[1:] {
		if s.rtt < best.rtt {
			best = s
		}
	}
	e.offset = best.offset
	e.rtt = best.rtt
	e.synced = true

	return e.offset
}

// Offset is zero until the first sample arrives.
func (e *Estimator) Offset() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.offset
}

func (e *Estimator) RTT() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.rtt
}

func (e *Estimator) Synced() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.synced
}

// ServerNow converts a local instant into coordinator milliseconds.
func (e *Estimator) ServerNow(local time.Time) int64 {
	return local.Add(e.Offset()).UnixMilli()
}

// ToLocal converts coordinator milliseconds into a local instant.
func (e *Estimator) ToLocal(serverMs int64) time.Time {
	return time.UnixMilli(serverMs).Add(-e.Offset())
}

package playback

import (
	"context"

	"github.com/sharetube/syncplay/internal/protocol"
)

type ProbeClockParams struct {
	SenderId       string
	ClientSendTime int64
	// ReceivedAt is the server time the probe was read off the socket.
	// Zero means now.
	ReceivedAt int64
}

// ProbeClock answers a clock probe to its sender only. The response is
// stamped immediately before it is queued.
func (s *service) ProbeClock(ctx context.Context, params *ProbeClockParams) (protocol.ClockProbeResponse, error) {
	received := params.ReceivedAt
	if received == 0 {
		received = s.clock.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := protocol.ClockProbeResponse{
		ClientSendTime:    params.ClientSendTime,
		ServerReceiveTime: received,
		ServerSendTime:    s.clock.Now().UnixMilli(),
	}

	if err := s.sendTo(ctx, params.SenderId, resp); err != nil {
		return protocol.ClockProbeResponse{}, err
	}
	s.metrics.ClockProbes.Inc()

	return resp, nil
}

package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/internal/repository/device"
)

type RelayParams struct {
	SenderId string
	Message  protocol.Message
}

type RelayResponse struct {
	Delivered int
}

// Relay forwards a playback control message to every device except its
// sender, tagged with the sender id. Concurrent controls are not merged:
// whichever arrives last wins on each receiver.
func (s *service) Relay(ctx context.Context, params *RelayParams) (RelayResponse, error) {
	msgType := params.Message.MessageType()
	if !protocol.IsRelayed(msgType) {
		return RelayResponse{}, ErrNotRelayable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.deviceRepo.GetDevice(ctx, params.SenderId); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return RelayResponse{}, ErrDeviceNotFound
		}
		return RelayResponse{}, fmt.Errorf("failed to get sender: %w", err)
	}

	frame, err := protocol.Encode(params.SenderId, params.Message)
	if err != nil {
		return RelayResponse{}, err
	}

	delivered := s.fanOut(ctx, msgType, frame, params.SenderId)
	s.metrics.MessagesRelayed.WithLabelValues(string(msgType)).Inc()

	return RelayResponse{Delivered: delivered}, nil
}

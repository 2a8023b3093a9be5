package playback

import (
	"context"

	"github.com/sharetube/syncplay/internal/protocol"
)

// fanOut enqueues frame on every connection except the one owned by except.
// Callers hold s.mu. It returns the number of devices the frame was queued
// for; a device whose queue is full or closed simply misses it.
func (s *service) fanOut(ctx context.Context, msgType protocol.Type, frame []byte, except string) int {
	delivered := 0
	for deviceId, conn := range s.connRepo.All() {
		if deviceId == except {
			continue
		}

		if err := conn.TrySend(frame); err != nil {
			s.metrics.FramesDropped.WithLabelValues(string(msgType)).Inc()
			s.logger.WarnContext(ctx, "failed to enqueue frame",
				"target_device_id", deviceId,
				"message_type", msgType,
				"error", err,
			)
			continue
		}
		delivered++
	}

	return delivered
}

func (s *service) sendTo(ctx context.Context, deviceId string, msg protocol.Message) error {
	conn, err := s.connRepo.GetConn(deviceId)
	if err != nil {
		return err
	}

	frame, err := protocol.Encode("", msg)
	if err != nil {
		return err
	}

	if err := conn.TrySend(frame); err != nil {
		s.metrics.FramesDropped.WithLabelValues(string(msg.MessageType())).Inc()
		return err
	}

	return nil
}

// broadcastRoster sends the full roster to every device. Callers hold s.mu.
func (s *service) broadcastRoster(ctx context.Context) error {
	devices, err := s.snapshot(ctx)
	if err != nil {
		return err
	}

	frame, err := protocol.Encode("", protocol.DeviceListUpdate{Devices: DeviceInfos(devices)})
	if err != nil {
		return err
	}

	s.fanOut(ctx, protocol.TypeDeviceListUpdate, frame, "")

	return nil
}

package controller

import (
	"context"
	"fmt"

	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/internal/service/playback"
	"github.com/sharetube/syncplay/pkg/wsconn"
	"github.com/sharetube/syncplay/pkg/wsrouter"
)

func (c controller) handleClockProbe(ctx context.Context, _ *wsconn.Conn, input protocol.ClockProbe) error {
	if _, err := c.playbackService.ProbeClock(ctx, &playback.ProbeClockParams{
		SenderId:       c.getDeviceIdFromCtx(ctx),
		ClientSendTime: input.ClientSendTime,
		ReceivedAt:     c.getReceivedAtFromCtx(ctx),
	}); err != nil {
		return fmt.Errorf("failed to answer clock probe: %w", err)
	}

	return nil
}

func relay[T protocol.Message](c controller) wsrouter.HandlerFunc[T] {
	return func(ctx context.Context, _ *wsconn.Conn, input T) error {
		relayResp, err := c.playbackService.Relay(ctx, &playback.RelayParams{
			SenderId: c.getDeviceIdFromCtx(ctx),
			Message:  input,
		})
		if err != nil {
			return fmt.Errorf("failed to relay %s: %w", input.MessageType(), err)
		}

		c.logger.DebugContext(ctx, "relayed", "delivered", relayResp.Delivered)

		return nil
	}
}

func (c controller) handleSyncPlayRequest(ctx context.Context, _ *wsconn.Conn, input protocol.SyncPlayRequest) error {
	if _, err := c.playbackService.SchedulePlay(ctx, &playback.SchedulePlayParams{
		SenderId:   c.getDeviceIdFromCtx(ctx),
		TrackId:    input.TrackId,
		Position:   input.Position,
		LeadTimeMs: input.LeadTimeMs,
	}); err != nil {
		return fmt.Errorf("failed to schedule play: %w", err)
	}

	return nil
}

func (c controller) handleSyncNextTrack(ctx context.Context, _ *wsconn.Conn, input protocol.SyncNextTrack) error {
	if _, err := c.playbackService.ScheduleNextTrack(ctx, &playback.ScheduleNextTrackParams{
		SenderId:   c.getDeviceIdFromCtx(ctx),
		TrackId:    input.TrackId,
		LeadTimeMs: input.LeadTimeMs,
	}); err != nil {
		return fmt.Errorf("failed to schedule next track: %w", err)
	}

	return nil
}

func (c controller) handleUpdateDeviceName(ctx context.Context, _ *wsconn.Conn, input protocol.UpdateDeviceName) error {
	if _, err := c.playbackService.RenameDevice(ctx, &playback.RenameDeviceParams{
		SenderId:    c.getDeviceIdFromCtx(ctx),
		DisplayName: input.DisplayName,
	}); err != nil {
		return fmt.Errorf("failed to rename device: %w", err)
	}

	return nil
}

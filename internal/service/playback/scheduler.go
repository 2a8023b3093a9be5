package playback

import (
	"context"
	"time"

	"github.com/sharetube/syncplay/internal/protocol"
)

func (s *service) resolveLead(leadMs *int64, fallback time.Duration) time.Duration {
	lead := fallback
	if leadMs != nil {
		lead = time.Duration(*leadMs) * time.Millisecond
	}

	if lead < 0 {
		lead = 0
	}
	if s.cfg.MaxLead > 0 && lead > s.cfg.MaxLead {
		lead = s.cfg.MaxLead
	}

	return lead
}

type SchedulePlayParams struct {
	SenderId   string
	TrackId    string
	Position   float64
	LeadTimeMs *int64
}

type SchedulePlayResponse struct {
	Command   protocol.SyncPlayCommand
	Delivered int
}

// SchedulePlay turns a play request into one command that every device,
// the requester included, executes at the same server-frame instant.
func (s *service) SchedulePlay(ctx context.Context, params *SchedulePlayParams) (SchedulePlayResponse, error) {
	lead := s.resolveLead(params.LeadTimeMs, s.cfg.DefaultStartLead)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.seq++
	cmd := protocol.SyncPlayCommand{
		Seq:             s.seq,
		TrackId:         params.TrackId,
		Position:        params.Position,
		TargetTimestamp: now.Add(lead).UnixMilli(),
		ServerTime:      now.UnixMilli(),
	}

	frame, err := protocol.Encode("", cmd)
	if err != nil {
		return SchedulePlayResponse{}, err
	}

	delivered := s.fanOut(ctx, protocol.TypeSyncPlayCommand, frame, "")
	s.metrics.SchedulesIssued.WithLabelValues(string(protocol.TypeSyncPlayCommand)).Inc()

	s.logger.DebugContext(ctx, "play scheduled",
		"seq", cmd.Seq,
		"track_id", cmd.TrackId,
		"target_timestamp", cmd.TargetTimestamp,
		"lead", lead,
		"requested_by", params.SenderId,
	)

	return SchedulePlayResponse{
		Command:   cmd,
		Delivered: delivered,
	}, nil
}

type ScheduleNextTrackParams struct {
	SenderId   string
	TrackId    string
	LeadTimeMs *int64
}

type ScheduleNextTrackResponse struct {
	Command   protocol.SyncTrackChange
	Delivered int
}

func (s *service) ScheduleNextTrack(ctx context.Context, params *ScheduleNextTrackParams) (ScheduleNextTrackResponse, error) {
	lead := s.resolveLead(params.LeadTimeMs, s.cfg.DefaultSwitchLead)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.seq++
	cmd := protocol.SyncTrackChange{
		Seq:             s.seq,
		TrackId:         params.TrackId,
		TargetTimestamp: now.Add(lead).UnixMilli(),
		ServerTime:      now.UnixMilli(),
	}

	frame, err := protocol.Encode("", cmd)
	if err != nil {
		return ScheduleNextTrackResponse{}, err
	}

	delivered := s.fanOut(ctx, protocol.TypeSyncTrackChange, frame, "")
	s.metrics.SchedulesIssued.WithLabelValues(string(protocol.TypeSyncTrackChange)).Inc()

	s.logger.DebugContext(ctx, "track change scheduled",
		"seq", cmd.Seq,
		"track_id", cmd.TrackId,
		"target_timestamp", cmd.TargetTimestamp,
		"requested_by", params.SenderId,
	)

	return ScheduleNextTrackResponse{
		Command:   cmd,
		Delivered: delivered,
	}, nil
}

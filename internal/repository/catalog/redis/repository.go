package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sharetube/syncplay/internal/repository/catalog"
	omitnilpointers "github.com/sharetube/syncplay/pkg/omit-nil-pointers"
)

// repo reads track metadata owned by the catalog service. Only the fields
// the player needs are mapped.
type repo struct {
	rc     *redis.Client
	logger *slog.Logger
}

func NewRepo(rc *redis.Client, logger *slog.Logger) *repo {
	return &repo{
		rc:     rc,
		logger: logger,
	}
}

func (r repo) getTrackKey(trackId string) string {
	return "track:" + trackId
}

func (r repo) GetTrack(ctx context.Context, trackId string) (catalog.Track, error) {
	r.logger.DebugContext(ctx, "called", "track_id", trackId)

	cmd := r.rc.HGetAll(ctx, r.getTrackKey(trackId))
	if err := cmd.Err(); err != nil {
		return catalog.Track{}, fmt.Errorf("failed to get track: %w", err)
	}

	if len(cmd.Val()) == 0 {
		return catalog.Track{}, catalog.ErrTrackNotFound
	}

	var track catalog.Track
	if err := cmd.Scan(&track); err != nil {
		return catalog.Track{}, fmt.Errorf("failed to scan track: %w", err)
	}

	return track, nil
}

func (r repo) SetTrack(ctx context.Context, params *catalog.SetTrackParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)

	fields := omitnilpointers.OmitNilPointers(map[string]any{
		"title":    params.Title,
		"artist":   params.Artist,
		"album":    params.Album,
		"duration": params.Duration,
	})

	pipe := r.rc.TxPipeline()
	trackKey := r.getTrackKey(params.TrackId)
	pipe.Del(ctx, trackKey)
	pipe.HSet(ctx, trackKey, fields)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set track: %w", err)
	}

	return nil
}

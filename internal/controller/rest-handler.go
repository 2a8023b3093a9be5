package controller

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/internal/repository/catalog"
	"github.com/sharetube/syncplay/internal/service/playback"
	"github.com/sharetube/syncplay/pkg/rest"
)

func (c controller) getDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := c.playbackService.Snapshot(r.Context())
	if err != nil {
		c.logger.ErrorContext(r.Context(), "failed to get devices", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": protocol.DeviceListUpdate{
		Devices: playback.DeviceInfos(devices),
	}})
}

type trackResponse struct {
	Id       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album,omitempty"`
	Duration float64 `json:"duration"`
}

func (c controller) getTrack(w http.ResponseWriter, r *http.Request) {
	trackId := chi.URLParam(r, "track-id")

	track, err := c.catalogRepo.GetTrack(r.Context(), trackId)
	if err != nil {
		if errors.Is(err, catalog.ErrTrackNotFound) {
			rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "track not found"})
			return
		}
		c.logger.ErrorContext(r.Context(), "failed to get track", "track_id", trackId, "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": trackResponse{
		Id:       trackId,
		Title:    track.Title,
		Artist:   track.Artist,
		Album:    track.Album,
		Duration: track.Duration,
	}})
}

type putTrackRequest struct {
	Title    string  `json:"title" validate:"required,max=256"`
	Artist   string  `json:"artist" validate:"max=256"`
	Album    *string `json:"album,omitempty" validate:"omitempty,max=256"`
	Duration float64 `json:"duration" validate:"gt=0"`
}

func (c controller) putTrack(w http.ResponseWriter, r *http.Request) {
	trackId := chi.URLParam(r, "track-id")

	var req putTrackRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		c.logger.InfoContext(r.Context(), "failed to read track", "error", err)
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.InfoContext(r.Context(), "invalid track", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	if err := c.catalogRepo.SetTrack(r.Context(), &catalog.SetTrackParams{
		TrackId:  trackId,
		Title:    req.Title,
		Artist:   req.Artist,
		Album:    req.Album,
		Duration: req.Duration,
	}); err != nil {
		c.logger.ErrorContext(r.Context(), "failed to set track", "track_id", trackId, "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/sharetube/syncplay/internal/metrics"
	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/internal/repository/catalog"
	"github.com/sharetube/syncplay/internal/service/playback"
	"github.com/sharetube/syncplay/pkg/validator"
	"github.com/sharetube/syncplay/pkg/wsconn"
	"github.com/sharetube/syncplay/pkg/wsrouter"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limited")
)

type iPlaybackService interface {
	RegisterDevice(context.Context, *playback.RegisterDeviceParams) (playback.RegisterDeviceResponse, error)
	UnregisterDevice(context.Context, string) error
	RenameDevice(context.Context, *playback.RenameDeviceParams) (playback.RenameDeviceResponse, error)
	Snapshot(context.Context) ([]playback.Device, error)
	ProbeClock(context.Context, *playback.ProbeClockParams) (protocol.ClockProbeResponse, error)
	Relay(context.Context, *playback.RelayParams) (playback.RelayResponse, error)
	SchedulePlay(context.Context, *playback.SchedulePlayParams) (playback.SchedulePlayResponse, error)
	ScheduleNextTrack(context.Context, *playback.ScheduleNextTrackParams) (playback.ScheduleNextTrackResponse, error)
}

type iCatalogRepo interface {
	GetTrack(context.Context, string) (catalog.Track, error)
	SetTrack(context.Context, *catalog.SetTrackParams) error
}

type Config struct {
	Conn wsconn.Config
	// RateLimit is the sustained number of inbound messages per second a
	// single device may send. Zero disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

func DefaultConfig() Config {
	return Config{
		Conn:      wsconn.DefaultConfig(),
		RateLimit: 50,
		RateBurst: 100,
	}
}

type controller struct {
	playbackService iPlaybackService
	catalogRepo     iCatalogRepo
	upgrader        websocket.Upgrader
	validate        *validator.Validator
	wsmux           *wsrouter.WSRouter
	clock           clock.Clock
	metrics         *metrics.Metrics
	gatherer        prometheus.Gatherer
	logger          *slog.Logger
	cfg             Config
}

func NewController(
	playbackService iPlaybackService,
	catalogRepo iCatalogRepo,
	clk clock.Clock,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
	cfg Config,
) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		playbackService: playbackService,
		catalogRepo:     catalogRepo,
		validate:        validator.NewValidator(),
		clock:           clk,
		metrics:         m,
		gatherer:        gatherer,
		logger:          logger,
		cfg:             cfg,
	}
	c.wsmux = c.getWSRouter()

	return c
}

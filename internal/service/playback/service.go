package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sharetube/syncplay/internal/metrics"
	"github.com/sharetube/syncplay/internal/repository/connection"
	"github.com/sharetube/syncplay/internal/repository/device"
)

var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceLimitReached  = errors.New("device limit reached")
	ErrInvalidDisplayName  = errors.New("invalid display name")
	ErrNotRelayable        = errors.New("message type is not relayable")
	ErrDeviceTokenDisabled = errors.New("device tokens are disabled")
	ErrInvalidDeviceToken  = errors.New("invalid device token")
)

type iDeviceRepo interface {
	SetDevice(context.Context, *device.SetDeviceParams) error
	GetDevice(context.Context, string) (device.Device, error)
	UpdateDisplayName(context.Context, *device.UpdateDisplayNameParams) (device.Device, error)
	RemoveDevice(context.Context, string) error
	ListDevices(context.Context) ([]device.Device, error)
	CountDevices(context.Context) (int, error)
}

type iConnRepo interface {
	Add(connection.Conn, string) error
	RemoveByDeviceId(string) (connection.Conn, error)
	GetConn(string) (connection.Conn, error)
	All() map[string]connection.Conn
}

type Config struct {
	// DefaultStartLead applies to SYNC_PLAY_REQUEST without a lead time.
	DefaultStartLead time.Duration
	// DefaultSwitchLead applies to SYNC_NEXT_TRACK without a lead time.
	DefaultSwitchLead time.Duration
	MaxLead           time.Duration
	DevicesLimit      int
	// Secret signs device tokens. Empty disables them.
	Secret         string
	DeviceTokenTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultStartLead:  150 * time.Millisecond,
		DefaultSwitchLead: 100 * time.Millisecond,
		MaxLead:           5 * time.Second,
		DevicesLimit:      32,
		DeviceTokenTTL:    30 * 24 * time.Hour,
	}
}

// service coordinates every connected device. mu serializes each registry
// mutation, relay and schedule together with the fan-out it triggers, so two
// broadcasts never interleave. Fan-out only enqueues frames and never blocks.
type service struct {
	deviceRepo iDeviceRepo
	connRepo   iConnRepo
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config

	mu  sync.Mutex
	seq uint64
}

func NewService(
	deviceRepo iDeviceRepo,
	connRepo iConnRepo,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *service {
	return &service{
		deviceRepo: deviceRepo,
		connRepo:   connRepo,
		clock:      clk,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
	}
}

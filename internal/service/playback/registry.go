package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/internal/repository/connection"
	"github.com/sharetube/syncplay/internal/repository/device"
)

// InferDeviceClass prefers an explicit hint and falls back to User-Agent
// sniffing. Unknown clients are desktops.
func InferDeviceClass(hint, userAgent string) string {
	switch c := strings.ToLower(strings.TrimSpace(hint)); c {
	case DeviceClassDesktop, DeviceClassMobile, DeviceClassTablet:
		return c
	}

	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad"),
		strings.Contains(ua, "tablet"),
		strings.Contains(ua, "kindle"),
		strings.Contains(ua, "silk"):
		return DeviceClassTablet
	case strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return DeviceClassTablet
	case strings.Contains(ua, "mobi"),
		strings.Contains(ua, "iphone"),
		strings.Contains(ua, "ipod"),
		strings.Contains(ua, "android"):
		return DeviceClassMobile
	default:
		return DeviceClassDesktop
	}
}

func defaultDisplayName(class, deviceId string) string {
	suffix := deviceId
	if len(suffix) > 4 {
		suffix = suffix[:4]
	}

	return strings.ToUpper(class[:1]) + class[1:] + " " + suffix
}

type RegisterDeviceParams struct {
	Conn        connection.Conn
	ClassHint   string
	UserAgent   string
	DeviceToken string
}

type RegisterDeviceResponse struct {
	Device      Device
	DeviceToken string
}

// RegisterDevice adds a device for a freshly opened connection. The new
// device receives DEVICE_REGISTERED first, then every device receives the
// updated roster.
func (s *service) RegisterDevice(ctx context.Context, params *RegisterDeviceParams) (RegisterDeviceResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.deviceRepo.CountDevices(ctx)
	if err != nil {
		return RegisterDeviceResponse{}, fmt.Errorf("failed to count devices: %w", err)
	}
	if s.cfg.DevicesLimit > 0 && count >= s.cfg.DevicesLimit {
		return RegisterDeviceResponse{}, ErrDeviceLimitReached
	}

	deviceId := uuid.NewString()
	class := InferDeviceClass(params.ClassHint, params.UserAgent)
	stableKey := uuid.NewString()
	displayName := defaultDisplayName(class, deviceId)

	if params.DeviceToken != "" {
		claims, err := s.parseDeviceToken(params.DeviceToken)
		if err != nil {
			s.logger.InfoContext(ctx, "ignoring device token", "error", err)
		} else {
			stableKey = claims.DeviceKey
			if claims.DisplayName != "" {
				displayName = claims.DisplayName
			}
		}
	}

	if err := s.connRepo.Add(params.Conn, deviceId); err != nil {
		return RegisterDeviceResponse{}, fmt.Errorf("failed to add connection: %w", err)
	}

	connectedAt := s.clock.Now()
	if err := s.deviceRepo.SetDevice(ctx, &device.SetDeviceParams{
		Id:          deviceId,
		StableKey:   stableKey,
		DisplayName: displayName,
		Class:       class,
		ConnectedAt: connectedAt,
	}); err != nil {
		_, _ = s.connRepo.RemoveByDeviceId(deviceId)
		return RegisterDeviceResponse{}, fmt.Errorf("failed to set device: %w", err)
	}
	s.metrics.DevicesConnected.Inc()

	registered := Device{
		Id:          deviceId,
		StableKey:   stableKey,
		DisplayName: displayName,
		DeviceClass: class,
		ConnectedAt: connectedAt,
	}

	token, err := s.issueDeviceToken(stableKey, displayName)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to issue device token", "error", err)
	}

	if err := s.sendTo(ctx, deviceId, protocol.DeviceRegistered{
		Id:          deviceId,
		DisplayName: displayName,
		DeviceClass: class,
		DeviceToken: token,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to send device registered", "device_id", deviceId, "error", err)
	}

	if err := s.broadcastRoster(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to broadcast roster", "error", err)
	}

	s.logger.InfoContext(ctx, "device registered",
		"device_id", deviceId,
		"device_class", class,
		"display_name", displayName,
	)

	return RegisterDeviceResponse{
		Device:      registered,
		DeviceToken: token,
	}, nil
}

type RenameDeviceParams struct {
	SenderId    string
	DisplayName string
}

type RenameDeviceResponse struct {
	// Renamed is false when the device disconnected before the rename ran.
	Renamed bool
	Device  Device
}

func (s *service) RenameDevice(ctx context.Context, params *RenameDeviceParams) (RenameDeviceResponse, error) {
	name := strings.TrimSpace(params.DisplayName)
	if name == "" {
		return RenameDeviceResponse{}, ErrInvalidDisplayName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.deviceRepo.UpdateDisplayName(ctx, &device.UpdateDisplayNameParams{
		Id:          params.SenderId,
		DisplayName: name,
	})
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			s.logger.DebugContext(ctx, "rename for disconnected device ignored", "device_id", params.SenderId)
			return RenameDeviceResponse{}, nil
		}
		return RenameDeviceResponse{}, fmt.Errorf("failed to update display name: %w", err)
	}

	token, err := s.issueDeviceToken(d.StableKey, d.DisplayName)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to issue device token", "error", err)
	}

	if token != "" {
		if err := s.sendTo(ctx, d.Id, protocol.DeviceRegistered{
			Id:          d.Id,
			DisplayName: d.DisplayName,
			DeviceClass: d.Class,
			DeviceToken: token,
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to send refreshed device token", "error", err)
		}
	}

	if err := s.broadcastRoster(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to broadcast roster", "error", err)
	}

	return RenameDeviceResponse{
		Renamed: true,
		Device:  fromRepo(d),
	}, nil
}

// UnregisterDevice removes a disconnected device and tells the others.
func (s *service) UnregisterDevice(ctx context.Context, deviceId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, connErr := s.connRepo.RemoveByDeviceId(deviceId)
	if err := s.deviceRepo.RemoveDevice(ctx, deviceId); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to remove device: %w", err)
	}
	if connErr != nil {
		s.logger.WarnContext(ctx, "device had no connection", "device_id", deviceId, "error", connErr)
	}
	s.metrics.DevicesConnected.Dec()

	if err := s.broadcastRoster(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to broadcast roster", "error", err)
	}

	s.logger.InfoContext(ctx, "device unregistered", "device_id", deviceId)

	return nil
}

// Snapshot returns the current roster ordered by connect time.
func (s *service) Snapshot(ctx context.Context) ([]Device, error) {
	return s.snapshot(ctx)
}

func (s *service) snapshot(ctx context.Context) ([]Device, error) {
	list, err := s.deviceRepo.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]Device, 0, len(list))
	for _, d := range list {
		devices = append(devices, fromRepo(d))
	}

	return devices, nil
}

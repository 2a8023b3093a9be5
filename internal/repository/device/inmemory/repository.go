package inmemory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/sharetube/syncplay/internal/repository/device"
)

// repo keeps the live device set in process memory only; a restart clears it.
type repo struct {
	devices map[string]entry
	joined  uint64
	mu      sync.RWMutex
	logger  *slog.Logger
}

type entry struct {
	device.Device
	joinSeq uint64
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		devices: make(map[string]entry),
		logger:  logger,
	}
}

func (r *repo) SetDevice(ctx context.Context, params *device.SetDeviceParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "params", params)
	if _, ok := r.devices[params.Id]; ok {
		return device.ErrDeviceAlreadyExists
	}

	r.joined++
	r.devices[params.Id] = entry{
		Device: device.Device{
			Id:          params.Id,
			StableKey:   params.StableKey,
			DisplayName: params.DisplayName,
			Class:       params.Class,
			ConnectedAt: params.ConnectedAt,
		},
		joinSeq: r.joined,
	}

	return nil
}

func (r *repo) GetDevice(ctx context.Context, deviceId string) (device.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.devices[deviceId]
	if !ok {
		return device.Device{}, device.ErrDeviceNotFound
	}

	return e.Device, nil
}

func (r *repo) UpdateDisplayName(ctx context.Context, params *device.UpdateDisplayNameParams) (device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "params", params)
	e, ok := r.devices[params.Id]
	if !ok {
		return device.Device{}, device.ErrDeviceNotFound
	}

	e.DisplayName = params.DisplayName
	r.devices[params.Id] = e

	return e.Device, nil
}

func (r *repo) RemoveDevice(ctx context.Context, deviceId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "device_id", deviceId)
	if _, ok := r.devices[deviceId]; !ok {
		return device.ErrDeviceNotFound
	}

	delete(r.devices, deviceId)

	return nil
}

// ListDevices returns devices ordered by connect time. Devices that connected
// within the same instant keep the order they were added in.
func (r *repo) ListDevices(ctx context.Context) ([]device.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]entry, 0, len(r.devices))
	for _, e := range r.devices {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ConnectedAt.Equal(entries[j].ConnectedAt) {
			return entries[i].joinSeq < entries[j].joinSeq
		}
		return entries[i].ConnectedAt.Before(entries[j].ConnectedAt)
	})

	list := make([]device.Device, 0, len(entries))
	for _, e := range entries {
		list = append(list, e.Device)
	}

	return list, nil
}

func (r *repo) CountDevices(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices), nil
}

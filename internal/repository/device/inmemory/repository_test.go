package inmemory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharetube/syncplay/internal/repository/device"
)

func TestDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewRepo(slog.Default())
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, r.SetDevice(ctx, &device.SetDeviceParams{
		Id: "b", DisplayName: "Mobile b", Class: "mobile", ConnectedAt: base.Add(time.Second),
	}))
	require.NoError(t, r.SetDevice(ctx, &device.SetDeviceParams{
		Id: "a", DisplayName: "Desktop a", Class: "desktop", ConnectedAt: base,
	}))
	assert.ErrorIs(t, r.SetDevice(ctx, &device.SetDeviceParams{Id: "a"}), device.ErrDeviceAlreadyExists)

	list, err := r.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Id)
	assert.Equal(t, "b", list[1].Id)

	updated, err := r.UpdateDisplayName(ctx, &device.UpdateDisplayNameParams{Id: "b", DisplayName: "Kitchen"})
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", updated.DisplayName)

	got, err := r.GetDevice(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", got.DisplayName)

	require.NoError(t, r.RemoveDevice(ctx, "a"))
	assert.ErrorIs(t, r.RemoveDevice(ctx, "a"), device.ErrDeviceNotFound)
	_, err = r.UpdateDisplayName(ctx, &device.UpdateDisplayNameParams{Id: "a", DisplayName: "x"})
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	count, err := r.CountDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListDevicesKeepsJoinOrderOnTies(t *testing.T) {
	ctx := context.Background()
	r := NewRepo(slog.Default())
	at := time.Unix(1_700_000_000, 0)

	for _, id := range []string{"z", "m", "a"} {
		require.NoError(t, r.SetDevice(ctx, &device.SetDeviceParams{Id: id, ConnectedAt: at}))
	}

	list, err := r.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"z", "m", "a"}, []string{list[0].Id, list[1].Id, list[2].Id})
}

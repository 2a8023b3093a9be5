package playback

import (
	"time"

	"github.com/sharetube/syncplay/internal/protocol"
	"github.com/sharetube/syncplay/internal/repository/device"
)

const (
	DeviceClassDesktop = "desktop"
	DeviceClassMobile  = "mobile"
	DeviceClassTablet  = "tablet"
)

type Device struct {
	Id          string
	StableKey   string
	DisplayName string
	DeviceClass string
	ConnectedAt time.Time
}

func (d Device) Info() protocol.DeviceInfo {
	return protocol.DeviceInfo{
		Id:          d.Id,
		StableKey:   d.StableKey,
		DisplayName: d.DisplayName,
		DeviceClass: d.DeviceClass,
		ConnectedAt: d.ConnectedAt.UnixMilli(),
	}
}

func DeviceInfos(devices []Device) []protocol.DeviceInfo {
	infos := make([]protocol.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, d.Info())
	}

	return infos
}

func fromRepo(d device.Device) Device {
	return Device{
		Id:          d.Id,
		StableKey:   d.StableKey,
		DisplayName: d.DisplayName,
		DeviceClass: d.Class,
		ConnectedAt: d.ConnectedAt,
	}
}

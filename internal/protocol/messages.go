package protocol

// Timestamps are Unix milliseconds, positions are seconds.

type ClockProbe struct {
	ClientSendTime int64 `json:"client_send_time" validate:"gt=0"`
}

type ClockProbeResponse struct {
	ClientSendTime    int64 `json:"client_send_time"`
	ServerReceiveTime int64 `json:"server_receive_time"`
	ServerSendTime    int64 `json:"server_send_time"`
}

// Play and Pause may carry the position the sender observed and the
// server-frame time it observed it at.
type Play struct {
	TrackId  string   `json:"track_id,omitempty" validate:"max=256"`
	Position *float64 `json:"position,omitempty" validate:"omitempty,gte=0"`
	SentAt   int64    `json:"sent_at,omitempty" validate:"gte=0"`
}

type Pause struct {
	TrackId  string   `json:"track_id,omitempty" validate:"max=256"`
	Position *float64 `json:"position,omitempty" validate:"omitempty,gte=0"`
	SentAt   int64    `json:"sent_at,omitempty" validate:"gte=0"`
}

type Seek struct {
	Position float64 `json:"position" validate:"gte=0"`
	SentAt   int64   `json:"sent_at,omitempty" validate:"gte=0"`
}

type TrackChange struct {
	TrackId string `json:"track_id" validate:"required,max=256"`
}

type VolumeChange struct {
	Volume float64 `json:"volume" validate:"gte=0,lte=1"`
}

type SyncPlayRequest struct {
	TrackId    string  `json:"track_id" validate:"required,max=256"`
	Position   float64 `json:"position" validate:"gte=0"`
	LeadTimeMs *int64  `json:"lead_time_ms,omitempty" validate:"omitempty,gte=0"`
}

type SyncPlayCommand struct {
	Seq             uint64  `json:"seq"`
	TrackId         string  `json:"track_id"`
	Position        float64 `json:"position"`
	TargetTimestamp int64   `json:"target_timestamp"`
	ServerTime      int64   `json:"server_time"`
}

type SyncNextTrack struct {
	TrackId    string `json:"track_id" validate:"required,max=256"`
	LeadTimeMs *int64 `json:"lead_time_ms,omitempty" validate:"omitempty,gte=0"`
}

type SyncTrackChange struct {
	Seq             uint64 `json:"seq"`
	TrackId         string `json:"track_id"`
	TargetTimestamp int64  `json:"target_timestamp"`
	ServerTime      int64  `json:"server_time"`
}

type UpdateDeviceName struct {
	DisplayName string `json:"display_name" validate:"required,max=32"`
}

type DeviceInfo struct {
	Id          string `json:"id"`
	StableKey   string `json:"stable_key,omitempty"`
	DisplayName string `json:"display_name"`
	DeviceClass string `json:"device_class"`
	ConnectedAt int64  `json:"connected_at"`
}

type DeviceListUpdate struct {
	Devices []DeviceInfo `json:"devices"`
}

type DeviceRegistered struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
	DeviceClass string `json:"device_class"`
	DeviceToken string `json:"device_token,omitempty"`
}

func (ClockProbe) MessageType() Type         { return TypeClockProbe }
func (ClockProbeResponse) MessageType() Type { return TypeClockProbeResponse }
func (Play) MessageType() Type               { return TypePlay }
func (Pause) MessageType() Type              { return TypePause }
func (Seek) MessageType() Type               { return TypeSeek }
func (TrackChange) MessageType() Type        { return TypeTrackChange }
func (VolumeChange) MessageType() Type       { return TypeVolumeChange }
func (SyncPlayRequest) MessageType() Type    { return TypeSyncPlayRequest }
func (SyncPlayCommand) MessageType() Type    { return TypeSyncPlayCommand }
func (SyncNextTrack) MessageType() Type      { return TypeSyncNextTrack }
func (SyncTrackChange) MessageType() Type    { return TypeSyncTrackChange }
func (UpdateDeviceName) MessageType() Type   { return TypeUpdateDeviceName }
func (DeviceListUpdate) MessageType() Type   { return TypeDeviceListUpdate }
func (DeviceRegistered) MessageType() Type   { return TypeDeviceRegistered }

func (ClockProbe) isMessage()         {}
func (ClockProbeResponse) isMessage() {}
func (Play) isMessage()               {}
func (Pause) isMessage()              {}
func (Seek) isMessage()               {}
func (TrackChange) isMessage()        {}
func (VolumeChange) isMessage()       {}
func (SyncPlayRequest) isMessage()    {}
func (SyncPlayCommand) isMessage()    {}
func (SyncNextTrack) isMessage()      {}
func (SyncTrackChange) isMessage()    {}
func (UpdateDeviceName) isMessage()   {}
func (DeviceListUpdate) isMessage()   {}
func (DeviceRegistered) isMessage()   {}

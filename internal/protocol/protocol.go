// Package protocol defines every message exchanged between devices and the
// coordinator. The set is closed: Decode knows each type and rejects the rest.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType      = errors.New("unknown message type")
	ErrMalformedPayload = errors.New("malformed payload")
)

// CloseDeviceLimit is the websocket close code sent to a device refused
// because the coordinator is full.
const CloseDeviceLimit = 4003

type Type string

const (
	TypeClockProbe         Type = "CLOCK_PROBE"
	TypeClockProbeResponse Type = "CLOCK_PROBE_RESPONSE"

	TypePlay         Type = "PLAY"
	TypePause        Type = "PAUSE"
	TypeSeek         Type = "SEEK"
	TypeTrackChange  Type = "TRACK_CHANGE"
	TypeVolumeChange Type = "VOLUME_CHANGE"

	TypeSyncPlayRequest Type = "SYNC_PLAY_REQUEST"
	TypeSyncPlayCommand Type = "SYNC_PLAY_COMMAND"
	TypeSyncNextTrack   Type = "SYNC_NEXT_TRACK"
	TypeSyncTrackChange Type = "SYNC_TRACK_CHANGE"

	TypeUpdateDeviceName Type = "UPDATE_DEVICE_NAME"
	TypeDeviceListUpdate Type = "DEVICE_LIST_UPDATE"
	TypeDeviceRegistered Type = "DEVICE_REGISTERED"
)

// InboundTypes lists the messages a device may send to the coordinator.
var InboundTypes = []Type{
	TypeClockProbe,
	TypePlay,
	TypePause,
	TypeSeek,
	TypeTrackChange,
	TypeVolumeChange,
	TypeSyncPlayRequest,
	TypeSyncNextTrack,
	TypeUpdateDeviceName,
}

// RelayedTypes are re-broadcast to every device except the sender.
var RelayedTypes = []Type{
	TypePlay,
	TypePause,
	TypeSeek,
	TypeTrackChange,
	TypeVolumeChange,
}

// Message is implemented by every payload type in this package and nothing
// else.
type Message interface {
	MessageType() Type
	isMessage()
}

// Envelope is the wire frame. From is set only on relayed messages.
type Envelope struct {
	Type    Type            `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(from string, msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.MessageType(), err)
	}

	return json.Marshal(Envelope{
		Type:    msg.MessageType(),
		From:    from,
		Payload: payload,
	})
}

// DecodeEnvelope parses the frame without interpreting the payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}

	return env, nil
}

// Decode parses a full frame into its typed message.
func Decode(data []byte) (Envelope, Message, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return Envelope{}, nil, err
	}

	msg, err := newMessage(env.Type)
	if err != nil {
		return env, nil, err
	}

	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return env, nil, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, env.Type, err)
		}
	}

	return env, deref(msg), nil
}

func IsRelayed(t Type) bool {
	for _, r := range RelayedTypes {
		if r == t {
			return true
		}
	}

	return false
}

func newMessage(t Type) (Message, error) {
	switch t {
	case TypeClockProbe:
		return &ClockProbe{}, nil
	case TypeClockProbeResponse:
		return &ClockProbeResponse{}, nil
	case TypePlay:
		return &Play{}, nil
	case TypePause:
		return &Pause{}, nil
	case TypeSeek:
		return &Seek{}, nil
	case TypeTrackChange:
		return &TrackChange{}, nil
	case TypeVolumeChange:
		return &VolumeChange{}, nil
	case TypeSyncPlayRequest:
		return &SyncPlayRequest{}, nil
	case TypeSyncPlayCommand:
		return &SyncPlayCommand{}, nil
	case TypeSyncNextTrack:
		return &SyncNextTrack{}, nil
	case TypeSyncTrackChange:
		return &SyncTrackChange{}, nil
	case TypeUpdateDeviceName:
		return &UpdateDeviceName{}, nil
	case TypeDeviceListUpdate:
		return &DeviceListUpdate{}, nil
	case TypeDeviceRegistered:
		return &DeviceRegistered{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// deref turns the pointer used for unmarshalling back into a value so that
// callers can type switch on value types only.
func deref(m Message) Message {
	switch v := m.(type) {
	case *ClockProbe:
		return *v
	case *ClockProbeResponse:
		return *v
	case *Play:
		return *v
	case *Pause:
		return *v
	case *Seek:
		return *v
	case *TrackChange:
		return *v
	case *VolumeChange:
		return *v
	case *SyncPlayRequest:
		return *v
	case *SyncPlayCommand:
		return *v
	case *SyncNextTrack:
		return *v
	case *SyncTrackChange:
		return *v
	case *UpdateDeviceName:
		return *v
	case *DeviceListUpdate:
		return *v
	case *DeviceRegistered:
		return *v
	default:
		return m
	}
}

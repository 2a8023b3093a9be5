package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRelayedKeepsSender(t *testing.T) {
	frame, err := Encode("device-a", Seek{Position: 12.5, SentAt: 1000})
	require.NoError(t, err)

	env, msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeSeek, env.Type)
	assert.Equal(t, "device-a", env.From)
	assert.Equal(t, Seek{Position: 12.5, SentAt: 1000}, msg)
}

func TestEncodeOmitsEmptySender(t *testing.T) {
	frame, err := Encode("", SyncPlayCommand{Seq: 1, TrackId: "t1"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(frame, &raw))
	_, hasFrom := raw["from"]
	assert.False(t, hasFrom)
}

func TestDecodeUnknownType(t *testing.T) {
	_, _, err := Decode([]byte(`{"type":"SELF_DESTRUCT","payload":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeMalformed(t *testing.T) {
	_, _, err := Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, _, err = Decode([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, _, err = Decode([]byte(`{"type":"SEEK","payload":{"position":"soon"}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeMissingPayloadYieldsZeroValue(t *testing.T) {
	_, msg, err := Decode([]byte(`{"type":"PLAY"}`))
	require.NoError(t, err)
	assert.Equal(t, Play{}, msg)
}

func TestEveryTypeDecodes(t *testing.T) {
	all := append([]Type{}, InboundTypes...)
	all = append(all,
		TypeClockProbeResponse,
		TypeSyncPlayCommand,
		TypeSyncTrackChange,
		TypeDeviceListUpdate,
		TypeDeviceRegistered,
	)

	for _, typ := range all {
		t.Run(string(typ), func(t *testing.T) {
			frame, err := json.Marshal(Envelope{Type: typ})
			require.NoError(t, err)

			_, msg, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, typ, msg.MessageType())
		})
	}
}

func TestIsRelayed(t *testing.T) {
	assert.True(t, IsRelayed(TypeSeek))
	assert.True(t, IsRelayed(TypeVolumeChange))
	assert.False(t, IsRelayed(TypeSyncPlayRequest))
	assert.False(t, IsRelayed(TypeClockProbe))
}

package telemetry

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name         string
		payload      []byte
		channelCount int
		want         []uint16
		wantTrunc    bool
	}{
		{
			name:         "two channels little endian",
			payload:      []byte{0xE5, 0x03, 0xF4, 0x01},
			channelCount: 2,
			want:         []uint16{997, 500},
		},
		{
			name:         "trailing bytes ignored",
			payload:      []byte{0xE5, 0x03, 0xF4, 0x01, 0xAA, 0xBB, 0xCC},
			channelCount: 2,
			want:         []uint16{997, 500},
		},
		{
			name:         "truncated frame decodes complete pairs only",
			payload:      []byte{0xE5, 0x03, 0xF4},
			channelCount: 2,
			want:         []uint16{997},
			wantTrunc:    true,
		},
		{
			name:         "empty payload",
			payload:      nil,
			channelCount: 2,
			want:         []uint16{},
			wantTrunc:    true,
		},
		{
			name:         "zero channels",
			payload:      []byte{0x01, 0x02},
			channelCount: 0,
			want:         []uint16{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame(tt.payload, tt.channelCount)
			if tt.wantTrunc {
				var trunc *TruncatedFrameError
				require.ErrorAs(t, err, &trunc)
				assert.Equal(t, tt.channelCount, trunc.ExpectedChannels)
				assert.Equal(t, len(tt.want), trunc.DecodedChannels)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrame_NegativeChannelCount(t *testing.T) {
	_, err := DecodeFrame([]byte{0x01, 0x02}, -1)
	assert.Error(t, err)
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	// For well-formed frames, decoding and re-encoding each value must
	// reproduce the original bytes.
	payload := make([]byte, 0, 16)
	values := []uint16{0, 1, 500, 997, 0x7FFF, 0xFFFF}
	for _, v := range values {
		payload = binary.LittleEndian.AppendUint16(payload, v)
	}

	decoded, err := DecodeFrame(payload, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)

	reencoded := make([]byte, 0, len(payload))
	for _, v := range decoded {
		reencoded = append(reencoded, EncodeValue(v)...)
	}
	assert.Equal(t, payload, reencoded)
}

func TestEncodeSetpoint(t *testing.T) {
	payload := EncodeSetpoint(3, 1000)
	require.Len(t, payload, 4)
	assert.Equal(t, byte(0x01), payload[0])
	assert.Equal(t, byte(3), payload[1])
	assert.Equal(t, uint16(1000), binary.LittleEndian.Uint16(payload[2:]))
}

func TestEncodeConfig(t *testing.T) {
	payload, err := EncodeConfig(1, "set_act_mode", 1)
	require.NoError(t, err)
	require.Len(t, payload, 7)
	assert.Equal(t, byte(0x02), payload[0])
	assert.Equal(t, byte(1), payload[1])
	assert.Equal(t, byte(0x10), payload[2])
	bits := binary.LittleEndian.Uint32(payload[3:])
	assert.Equal(t, float32(1), math.Float32frombits(bits))
}

func TestEncodeConfig_UnknownKey(t *testing.T) {
	_, err := EncodeConfig(0, "set_flux_capacitor", 1.21)
	var unknown *UnknownConfigKeyError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "set_flux_capacitor", unknown.Key)
}

func TestConfigKeysSorted(t *testing.T) {
	keys := ConfigKeys()
	require.NotEmpty(t, keys)
	assert.IsIncreasing(t, keys)
	assert.Contains(t, keys, "set_act_mode")
}

func TestClampToRaw(t *testing.T) {
	tests := []struct {
		in   float64
		want uint16
	}{
		{-5, 0},
		{0, 0},
		{500.4, 500},
		{500.5, 501},
		{65535, 65535},
		{1e9, 65535},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampToRaw(tt.in), "clamp(%v)", tt.in)
	}
}

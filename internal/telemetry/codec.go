// Package telemetry translates between wire bytes and typed pressure
// values. Decoding and encoding are pure functions; the codec holds no
// state and performs no I/O.
//
// A telemetry frame carries one little-endian uint16 per channel, channel
// index 0..n-1 in order. Bytes beyond channel_count*2 are reserved for
// future fields (e.g. a trailing timestamp) and ignored.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// BytesPerChannel is the wire size of one channel reading.
const BytesPerChannel = 2

// Control frame opcodes.
const (
	opSetpoint byte = 0x01
	opConfig   byte = 0x02
)

// TruncatedFrameError reports a telemetry frame shorter than the
// registered channel count requires. The values that did decode are
// still returned alongside it; the missing channels are never fabricated.
type TruncatedFrameError struct {
	ExpectedChannels int
	DecodedChannels  int
	PayloadLen       int
}

func (e *TruncatedFrameError) Error() string {
	return fmt.Sprintf("truncated frame: %d of %d channels in %d bytes",
		e.DecodedChannels, e.ExpectedChannels, e.PayloadLen)
}

// DecodeFrame interprets payload as channelCount little-endian uint16
// readings. If the payload is short, it returns the complete pairs that
// are present together with a *TruncatedFrameError.
func DecodeFrame(payload []byte, channelCount int) ([]uint16, error) {
	if channelCount < 0 {
		return nil, fmt.Errorf("invalid channel count %d", channelCount)
	}

	complete := len(payload) / BytesPerChannel
	n := channelCount
	if complete < n {
		n = complete
	}

	values := make([]uint16, n)
	for i := 0; i < n; i++ {
		values[i] = binary.LittleEndian.Uint16(payload[i*BytesPerChannel:])
	}

	if n < channelCount {
		return values, &TruncatedFrameError{
			ExpectedChannels: channelCount,
			DecodedChannels:  n,
			PayloadLen:       len(payload),
		}
	}
	return values, nil
}

// EncodeValue produces the 2-byte wire form of a single reading, byte
// order identical to DecodeFrame.
func EncodeValue(value uint16) []byte {
	buf := make([]byte, BytesPerChannel)
	binary.LittleEndian.PutUint16(buf, value)
	return buf
}

// EncodeSetpoint produces the control-characteristic payload for a single
// channel's pressure setpoint write.
func EncodeSetpoint(channel int, value uint16) []byte {
	buf := make([]byte, 2+BytesPerChannel)
	buf[0] = opSetpoint
	buf[1] = byte(channel)
	binary.LittleEndian.PutUint16(buf[2:], value)
	return buf
}

// configOpcodes maps configuration keys to their firmware opcodes. The
// mapping is fixed, pre-agreed with the device firmware.
var configOpcodes = map[string]byte{
	"set_act_mode":  0x10,
	"set_pid_p":     0x11,
	"set_pid_i":     0x12,
	"set_pid_d":     0x13,
	"set_limit_min": 0x14,
	"set_limit_max": 0x15,
}

// UnknownConfigKeyError reports a configuration key with no firmware
// opcode.
type UnknownConfigKeyError struct {
	Key string
}

func (e *UnknownConfigKeyError) Error() string {
	return fmt.Sprintf("unknown config key %q", e.Key)
}

// ConfigKeys returns the supported configuration keys, sorted.
func ConfigKeys() []string {
	keys := make([]string, 0, len(configOpcodes))
	for k := range configOpcodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EncodeConfig produces the control-characteristic payload for a single
// key/value configuration write. Values travel as little-endian IEEE 754
// float32.
func EncodeConfig(channel int, key string, value float64) ([]byte, error) {
	op, ok := configOpcodes[key]
	if !ok {
		return nil, &UnknownConfigKeyError{Key: key}
	}
	buf := make([]byte, 7)
	buf[0] = opConfig
	buf[1] = byte(channel)
	buf[2] = op
	binary.LittleEndian.PutUint32(buf[3:], math.Float32bits(float32(value)))
	return buf, nil
}

// ClampToRaw converts a transform or caller supplied pressure value to
// the raw uint16 wire range, saturating at the bounds.
func ClampToRaw(value float64) uint16 {
	if value != value { // NaN
		return 0
	}
	if value < 0 {
		return 0
	}
	if value > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(math.Round(value))
}

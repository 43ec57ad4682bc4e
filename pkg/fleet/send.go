package fleet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/piezense/piezense-go/internal/telemetry"
	"github.com/piezense/piezense-go/internal/transport"
)

// SetpointEntry is one setpoint write in a batch. Value is in the
// configured pressure unit.
type SetpointEntry struct {
	Device  int     `yaml:"device"`
	Channel int     `yaml:"channel"`
	Value   float64 `yaml:"value"`
}

// ConfigEntry is one channel-configuration write in a batch.
type ConfigEntry struct {
	Device  int                `yaml:"device"`
	Channel int                `yaml:"channel"`
	Values  map[string]float64 `yaml:"values"`
}

// WriteSetpoint writes a raw-unit setpoint to a channel. It is the sink
// the forwarding engine emits into; writes per device are serialized by
// the supervisor's session lock.
func (f *Fleet) WriteSetpoint(device, channel int, value float64) error {
	if err := f.validateChannel(device, channel); err != nil {
		return err
	}
	payload := telemetry.EncodeSetpoint(channel, telemetry.ClampToRaw(value))
	return f.sup.Write(device, transport.ControlCharUUID, payload)
}

// SendSetpoint sends a pressure setpoint, given in the configured unit,
// to one channel.
func (f *Fleet) SendSetpoint(device, channel int, setpoint float64) error {
	return f.WriteSetpoint(device, channel, setpoint/f.cfg.ScaleFactor)
}

// SendSetpointBatch sends every entry, continuing past failures. The
// returned slice holds one outcome per entry, aligned by index.
func (f *Fleet) SendSetpointBatch(entries []SetpointEntry) []error {
	errs := make([]error, len(entries))
	for i, e := range entries {
		errs[i] = f.SendSetpoint(e.Device, e.Channel, e.Value)
	}
	return errs
}

// SendConfig writes a key/value configuration to one channel. Keys are
// sent in sorted order; each key is independent, and failures are joined
// into the returned error.
func (f *Fleet) SendConfig(device, channel int, values map[string]float64) error {
	if err := f.validateChannel(device, channel); err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		payload, err := telemetry.EncodeConfig(channel, k, values[k])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := f.sup.Write(device, transport.ControlCharUUID, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// SendConfigBatch sends every entry, continuing past failures. The
// returned slice holds one outcome per entry, aligned by index.
func (f *Fleet) SendConfigBatch(entries []ConfigEntry) []error {
	errs := make([]error, len(entries))
	for i, e := range entries {
		errs[i] = f.SendConfig(e.Device, e.Channel, e.Values)
	}
	return errs
}

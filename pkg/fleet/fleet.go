// Package fleet is the public surface for controlling a collection of
// PieZense pneumatic devices: registration, connection supervision,
// telemetry readout, setpoint/config commands, channel forwarding and
// mode transitions.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/piezense/piezense-go/internal/forward"
	"github.com/piezense/piezense-go/internal/groutine"
	"github.com/piezense/piezense-go/internal/pressure"
	"github.com/piezense/piezense-go/internal/supervisor"
	"github.com/piezense/piezense-go/internal/telemetry"
	"github.com/piezense/piezense-go/internal/transport"
	"github.com/piezense/piezense-go/pkg/config"
)

const eventBuffer = 64

// Callback receives scaled readings after a device's telemetry updates.
// It runs on the fleet's dispatcher goroutine and must not block.
type Callback func(device int, readings []float64)

type deviceInfo struct {
	name     string
	channels int
}

// Fleet ties the supervisor, pressure store, forwarding engine and codec
// together behind the registration/command API.
type Fleet struct {
	cfg    *config.Config
	logger *logrus.Logger

	store  *pressure.Store
	engine *forward.Engine
	sup    *supervisor.Supervisor

	mu       sync.Mutex
	devices  []deviceInfo
	running  bool
	stopDisp context.CancelFunc
	wg       sync.WaitGroup

	cbMu     sync.RWMutex
	callback Callback

	// seqMu makes SetMode sequences non-interleavable.
	seqMu sync.Mutex
}

// New creates a fleet over the given transport. A nil cfg uses defaults.
func New(cfg *config.Config, tr transport.Transport, logger *logrus.Logger) *Fleet {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}

	f := &Fleet{
		cfg:    cfg,
		logger: logger,
		store:  pressure.NewStore(eventBuffer),
	}
	f.engine = forward.NewEngine(f.store.ChannelCount, f, logger)
	f.sup = supervisor.New(tr, supervisor.Options{
		PollInterval:     cfg.PollInterval,
		BackoffDelay:     cfg.BackoffDelay,
		DiscoveryTimeout: cfg.DiscoveryTimeout,
		ConnectTimeout:   cfg.ConnectTimeout,
	}, f.handleNotification, logger)
	return f
}

// RegisterDevice registers a device by its advertised Bluetooth name and
// declared channel count, returning its stable index. Registration must
// happen before Start.
func (f *Fleet) RegisterDevice(name string, channelCount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return 0, fmt.Errorf("cannot register %q: fleet already started", name)
	}
	idx, err := f.store.Register(channelCount)
	if err != nil {
		return 0, err
	}
	supIdx, err := f.sup.Register(name)
	if err != nil {
		return 0, err
	}
	if supIdx != idx {
		// Registry indexes are assigned in lockstep; a mismatch means a
		// partial registration slipped through.
		return 0, fmt.Errorf("registry index mismatch: store %d, supervisor %d", idx, supIdx)
	}
	f.devices = append(f.devices, deviceInfo{name: name, channels: channelCount})
	f.logger.WithFields(logrus.Fields{
		"device":   name,
		"index":    idx,
		"channels": channelCount,
	}).Info("Registered device")
	return idx, nil
}

// DeviceCount returns the number of registered devices.
func (f *Fleet) DeviceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

// Start launches the connection supervisor and the callback dispatcher.
// It never blocks on connectivity; poll IsEverythingConnected or register
// a callback to observe progress.
func (f *Fleet) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("fleet already started")
	}
	if len(f.devices) == 0 {
		return fmt.Errorf("no devices registered")
	}

	if err := f.sup.Start(ctx); err != nil {
		return err
	}

	dispCtx, cancel := context.WithCancel(ctx)
	f.stopDisp = cancel
	groutine.GoWait(dispCtx, &f.wg, "fleet-dispatch", f.dispatch)

	f.running = true
	return nil
}

// Stop shuts down the supervisor (cancelling any in-flight scan, connect
// or backoff wait) and the dispatcher, and waits for both.
func (f *Fleet) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	stopDisp := f.stopDisp
	f.mu.Unlock()

	f.sup.Stop()
	stopDisp()
	f.wg.Wait()
}

// IsEverythingConnected reports whether every registered device is
// connected at the moment of the call.
func (f *Fleet) IsEverythingConnected() bool {
	return f.sup.AllConnected()
}

// DeviceStates returns the connection state of every device, by index.
func (f *Fleet) DeviceStates() []supervisor.State {
	return f.sup.States()
}

// SetCallback registers the readings-changed callback. A nil callback
// disables dispatch.
func (f *Fleet) SetCallback(cb Callback) {
	f.cbMu.Lock()
	f.callback = cb
	f.cbMu.Unlock()
}

// handleNotification is the telemetry path: decode, store, forward.
// It runs on transport notification goroutines.
func (f *Fleet) handleNotification(device int, payload []byte) {
	count, ok := f.store.ChannelCount(device)
	if !ok {
		return
	}

	values, err := telemetry.DecodeFrame(payload, count)
	var truncated *telemetry.TruncatedFrameError
	if err != nil {
		if !errors.As(err, &truncated) {
			f.logger.WithError(err).WithField("device", device).Warn("Dropped malformed telemetry frame")
			return
		}
		f.logger.WithError(err).WithField("device", device).Warn("Truncated telemetry frame")
	}
	if len(values) == 0 {
		return
	}

	if err := f.store.Update(device, values); err != nil {
		f.logger.WithError(err).WithField("device", device).Warn("Failed to store readings")
		return
	}
	// Forwarding failures are per-rule; they are logged by the engine and
	// must not disturb the telemetry path.
	f.engine.Apply(device, values)
}

// dispatch pumps store update events into the registered callback.
func (f *Fleet) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.store.Events():
			if !ok {
				return
			}
			f.cbMu.RLock()
			cb := f.callback
			f.cbMu.RUnlock()
			if cb == nil {
				continue
			}
			scaled := make([]float64, len(ev.Readings))
			for i, r := range ev.Readings {
				scaled[i] = float64(r.Value) * f.cfg.ScaleFactor
			}
			cb(ev.Device, scaled)
		}
	}
}

// Readings returns the latest readings of every device, scaled by the
// configured scale factor. Each inner slice reflects one consistent
// telemetry frame.
func (f *Fleet) Readings() [][]float64 {
	snap := f.store.Snapshot()
	out := make([][]float64, len(snap))
	for i, readings := range snap {
		vals := make([]float64, len(readings))
		for j, r := range readings {
			vals[j] = float64(r.Value) * f.cfg.ScaleFactor
		}
		out[i] = vals
	}
	return out
}

// Snapshot returns the raw readings with their update timestamps.
func (f *Fleet) Snapshot() [][]pressure.Reading {
	return f.store.Snapshot()
}

// validateChannel checks a (device, channel) pair against the registry.
func (f *Fleet) validateChannel(device, channel int) error {
	count, ok := f.store.ChannelCount(device)
	if !ok {
		return fmt.Errorf("%w: device %d", pressure.ErrNotFound, device)
	}
	if channel < 0 || channel >= count {
		return fmt.Errorf("%w: device %d channel %d", pressure.ErrNotFound, device, channel)
	}
	return nil
}

// Package supervisor drives the connection lifecycle of every registered
// device: discovery by advertised name, connection, telemetry
// subscription, drop detection and backoff retry. One goroutine per
// device owns that device's state machine; nothing else mutates it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piezense/piezense-go/internal/groutine"
	"github.com/piezense/piezense-go/internal/transport"
)

// State is a device's position in the connection lifecycle. Exactly one
// state is active per device at any instant.
type State int32

const (
	Disconnected State = iota
	Scanning
	Connecting
	Subscribing
	Connected
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotConnected is returned by Write when the device has no live
// session.
var ErrNotConnected = errors.New("device not connected")

// ErrNotRunning is returned for operations that need a started
// supervisor.
var ErrNotRunning = errors.New("supervisor not running")

// Options are the reconnect policy knobs.
type Options struct {
	// PollInterval is how often a connected device's link is checked.
	PollInterval time.Duration
	// BackoffDelay is the fixed wait before re-scanning after a failure.
	BackoffDelay time.Duration
	// DiscoveryTimeout bounds a single scan attempt.
	DiscoveryTimeout time.Duration
	// ConnectTimeout bounds a single connect attempt.
	ConnectTimeout time.Duration
}

// DefaultOptions returns the policy defaults (10 time-unit backoff from
// the device handbook, expressed in seconds).
func DefaultOptions() Options {
	return Options{
		PollInterval:     10 * time.Second,
		BackoffDelay:     10 * time.Second,
		DiscoveryTimeout: 15 * time.Second,
		ConnectTimeout:   30 * time.Second,
	}
}

// NotifyFunc receives raw telemetry payloads for a device.
type NotifyFunc func(device int, payload []byte)

// managed is the per-device supervisor state. The state field is read by
// anyone but written only by the device's own goroutine.
type managed struct {
	index int
	name  string
	state atomic.Int32

	// sessionMu guards session and serializes all writes to this
	// device's link. The sequencer and forwarding engine both funnel
	// through it.
	sessionMu sync.Mutex
	session   transport.Session
}

func (m *managed) setState(s State) { m.state.Store(int32(s)) }
func (m *managed) getState() State  { return State(m.state.Load()) }

// Supervisor owns the reconnect loop of every registered device.
type Supervisor struct {
	tr       transport.Transport
	opts     Options
	logger   *logrus.Logger
	onNotify NotifyFunc

	mu      sync.Mutex
	devices []*managed
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a supervisor. onNotify is called for every telemetry
// notification from any connected device; it must not block.
func New(tr transport.Transport, opts Options, onNotify NotifyFunc, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	if onNotify == nil {
		onNotify = func(int, []byte) {}
	}
	return &Supervisor{
		tr:       tr,
		opts:     opts,
		logger:   logger,
		onNotify: onNotify,
	}
}

// Register adds a device by advertised name and returns its index.
// Registration is only allowed before Start.
func (s *Supervisor) Register(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return 0, fmt.Errorf("cannot register %q: supervisor already running", name)
	}
	idx := len(s.devices)
	m := &managed{index: idx, name: name}
	m.setState(Disconnected)
	s.devices = append(s.devices, m)
	return idx, nil
}

// Start launches one driving goroutine per registered device and returns
// immediately. Connectivity failures are absorbed and retried forever;
// only Stop (or ctx cancellation) terminates the retries.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("supervisor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, m := range s.devices {
		m := m
		groutine.GoWait(runCtx, &s.wg, "supervise-"+m.name, func(ctx context.Context) {
			s.drive(ctx, m)
		})
	}

	s.logger.WithField("devices", len(s.devices)).Info("Supervisor started")
	return nil
}

// Stop cancels every in-flight scan, connect and backoff wait, waits for
// the device goroutines to exit, and closes all sessions.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	for _, m := range s.devices {
		m.sessionMu.Lock()
		if m.session != nil {
			_ = m.session.Close()
			m.session = nil
		}
		m.setState(Disconnected)
		m.sessionMu.Unlock()
	}
	s.logger.Info("Supervisor stopped")
}

// drive runs one device's state machine until the context is cancelled.
func (s *Supervisor) drive(ctx context.Context, m *managed) {
	log := s.logger.WithField("device", m.name)
	m.setState(Scanning)

	var peripheral transport.Peripheral

	for {
		if ctx.Err() != nil {
			return
		}

		switch m.getState() {
		case Disconnected:
			m.setState(Scanning)

		case Scanning:
			p, err := s.tr.DiscoverByName(ctx, m.name, s.opts.DiscoveryTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WithError(err).Debug("Discovery failed, backing off")
				m.setState(Backoff)
				continue
			}
			peripheral = p
			m.setState(Connecting)

		case Connecting:
			session, err := s.tr.Connect(ctx, peripheral, s.opts.ConnectTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("Connect failed, backing off")
				m.setState(Backoff)
				continue
			}
			m.sessionMu.Lock()
			m.session = session
			m.sessionMu.Unlock()
			m.setState(Subscribing)

		case Subscribing:
			m.sessionMu.Lock()
			session := m.session
			m.sessionMu.Unlock()

			idx := m.index
			if err := session.SubscribeNotifying(func(payload []byte) {
				s.onNotify(idx, payload)
			}); err != nil {
				log.WithError(err).Warn("Subscription failed, backing off")
				s.dropSession(m)
				m.setState(Backoff)
				continue
			}
			log.Info("Device connected")
			m.setState(Connected)

		case Connected:
			if !sleepCtx(ctx, s.opts.PollInterval) {
				return
			}
			m.sessionMu.Lock()
			alive := m.session != nil && m.session.Alive()
			m.sessionMu.Unlock()
			if !alive {
				log.Warn("Session dropped, rescanning")
				s.dropSession(m)
				m.setState(Scanning)
			}

		case Backoff:
			if !sleepCtx(ctx, s.opts.BackoffDelay) {
				return
			}
			m.setState(Scanning)
		}
	}
}

func (s *Supervisor) dropSession(m *managed) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	if m.session != nil {
		_ = m.session.Close()
		m.session = nil
	}
}

// sleepCtx waits for d or until ctx is cancelled; returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// StateOf returns the current state of a device.
func (s *Supervisor) StateOf(device int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device < 0 || device >= len(s.devices) {
		return Disconnected, fmt.Errorf("unknown device index %d", device)
	}
	return s.devices[device].getState(), nil
}

// States returns a snapshot of every device's state, by index.
func (s *Supervisor) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.devices))
	for i, m := range s.devices {
		out[i] = m.getState()
	}
	return out
}

// AllConnected reports whether every registered device is Connected at
// the moment of the call. It is a snapshot, not a guarantee.
func (s *Supervisor) AllConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.devices) == 0 {
		return false
	}
	for _, m := range s.devices {
		if m.getState() != Connected {
			return false
		}
	}
	return true
}

// Write sends payload to a characteristic of the device over its live
// session. Writes to one device are serialized by the device's session
// lock, shared by setpoint sends, config sends and forwarded commands.
func (s *Supervisor) Write(device int, characteristic string, payload []byte) error {
	s.mu.Lock()
	if device < 0 || device >= len(s.devices) {
		s.mu.Unlock()
		return fmt.Errorf("unknown device index %d", device)
	}
	m := s.devices[device]
	s.mu.Unlock()

	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if m.session == nil || m.getState() != Connected {
		return fmt.Errorf("%w: %s is %s", ErrNotConnected, m.name, m.getState())
	}
	if err := m.session.Write(characteristic, payload); err != nil {
		return fmt.Errorf("%w: %s: %v", transport.ErrWriteFailed, m.name, err)
	}
	return nil
}

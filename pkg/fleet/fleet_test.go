package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piezense/piezense-go/internal/forward"
	"github.com/piezense/piezense-go/internal/telemetry"
	"github.com/piezense/piezense-go/internal/transport"
	"github.com/piezense/piezense-go/pkg/config"
)

// stubPeripheral and stubSession implement the transport port for tests.
// Every registered name is instantly discoverable and connectable.
type stubPeripheral struct{ name string }

func (p *stubPeripheral) Name() string { return p.name }
func (p *stubPeripheral) Addr() string { return "AA:BB:CC:DD:EE:FF" }

type stubWrite struct {
	characteristic string
	payload        []byte
}

type stubSession struct {
	mu      sync.Mutex
	handler transport.NotifyHandler
	writes  []stubWrite
}

func (s *stubSession) Subscribe(characteristic string, h transport.NotifyHandler) error {
	return s.SubscribeNotifying(h)
}

func (s *stubSession) SubscribeNotifying(h transport.NotifyHandler) error {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	return nil
}

func (s *stubSession) Write(characteristic string, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.mu.Lock()
	s.writes = append(s.writes, stubWrite{characteristic: characteristic, payload: cp})
	s.mu.Unlock()
	return nil
}

func (s *stubSession) Alive() bool  { return true }
func (s *stubSession) Close() error { return nil }

func (s *stubSession) notify(payload []byte) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (s *stubSession) recordedWrites() []stubWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stubWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

type stubTransport struct {
	mu       sync.Mutex
	sessions map[string]*stubSession
}

func newStubTransport() *stubTransport {
	return &stubTransport{sessions: make(map[string]*stubSession)}
}

func (t *stubTransport) DiscoverByName(ctx context.Context, name string, timeout time.Duration) (transport.Peripheral, error) {
	return &stubPeripheral{name: name}, nil
}

func (t *stubTransport) Connect(ctx context.Context, p transport.Peripheral, timeout time.Duration) (transport.Session, error) {
	s := &stubSession{}
	t.mu.Lock()
	t.sessions[p.Name()] = s
	t.mu.Unlock()
	return s, nil
}

func (t *stubTransport) session(name string) *stubSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[name]
}

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.BackoffDelay = 5 * time.Millisecond
	cfg.DiscoveryTimeout = 20 * time.Millisecond
	cfg.ConnectTimeout = 20 * time.Millisecond
	return cfg
}

// startedFleet registers the given devices and waits until everything is
// connected.
func startedFleet(t *testing.T, cfg *config.Config, devices ...string) (*Fleet, *stubTransport) {
	t.Helper()

	tr := newStubTransport()
	f := New(cfg, tr, nil)
	for _, name := range devices {
		_, err := f.RegisterDevice(name, 2)
		require.NoError(t, err)
	}
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(f.Stop)

	require.Eventually(t, f.IsEverythingConnected, time.Second, 5*time.Millisecond)
	return f, tr
}

func TestFleet_RegisterDevice(t *testing.T) {
	f := New(fastConfig(), newStubTransport(), nil)

	idx, err := f.RegisterDevice("Pod-A", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = f.RegisterDevice("Pod-B", 4)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 2, f.DeviceCount())

	_, err = f.RegisterDevice("Pod-C", 0)
	assert.Error(t, err)
}

func TestFleet_StartRequiresDevices(t *testing.T) {
	f := New(fastConfig(), newStubTransport(), nil)
	assert.Error(t, f.Start(context.Background()))
}

func TestFleet_TelemetryDecodeScenario(t *testing.T) {
	f, tr := startedFleet(t, fastConfig(), "Pod-A")

	// Frame for a 2-channel device: 0x03E5, 0x01F4 little-endian.
	tr.session("Pod-A").notify([]byte{0xE5, 0x03, 0xF4, 0x01})

	require.Eventually(t, func() bool {
		readings := f.Readings()
		return len(readings) == 1 && len(readings[0]) == 2 && readings[0][0] == 997
	}, time.Second, 5*time.Millisecond)

	readings := f.Readings()
	assert.Equal(t, []float64{997, 500}, readings[0])

	snap := f.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint16(997), snap[0][0].Value)
	assert.False(t, snap[0][0].UpdatedAt.IsZero())
}

func TestFleet_ScaleFactorAppliedToReadings(t *testing.T) {
	cfg := fastConfig()
	cfg.ScaleFactor = config.ScaleKilopascal
	f, tr := startedFleet(t, cfg, "Pod-A")

	tr.session("Pod-A").notify([]byte{0xE5, 0x03, 0xF4, 0x01})

	require.Eventually(t, func() bool {
		r := f.Readings()
		return len(r[0]) == 2 && r[0][0] > 0
	}, time.Second, 5*time.Millisecond)

	r := f.Readings()
	assert.InDelta(t, 99.7, r[0][0], 1e-9)
	assert.InDelta(t, 50.0, r[0][1], 1e-9)
}

func TestFleet_TruncatedFrameKeepsTail(t *testing.T) {
	f, tr := startedFleet(t, fastConfig(), "Pod-A")

	tr.session("Pod-A").notify([]byte{0x0A, 0x00, 0x14, 0x00})
	require.Eventually(t, func() bool {
		return f.Readings()[0][0] == 10
	}, time.Second, 5*time.Millisecond)

	// Only one complete pair: channel 0 updates, channel 1 keeps its
	// previous value.
	tr.session("Pod-A").notify([]byte{0x63, 0x00, 0x01})
	require.Eventually(t, func() bool {
		return f.Readings()[0][0] == 99
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 20.0, f.Readings()[0][1])
}

func TestFleet_Callback(t *testing.T) {
	f, tr := startedFleet(t, fastConfig(), "Pod-A")

	type event struct {
		device   int
		readings []float64
	}
	events := make(chan event, 8)
	f.SetCallback(func(device int, readings []float64) {
		events <- event{device: device, readings: readings}
	})

	tr.session("Pod-A").notify([]byte{0xE5, 0x03, 0xF4, 0x01})

	select {
	case ev := <-events:
		assert.Equal(t, 0, ev.device)
		assert.Equal(t, []float64{997, 500}, ev.readings)
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestFleet_SendSetpoint(t *testing.T) {
	f, tr := startedFleet(t, fastConfig(), "Pod-A")

	require.NoError(t, f.SendSetpoint(0, 1, 750))

	writes := tr.session("Pod-A").recordedWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, transport.ControlCharUUID, writes[0].characteristic)
	assert.Equal(t, telemetry.EncodeSetpoint(1, 750), writes[0].payload)
}

func TestFleet_SendSetpointBatchPerEntryOutcomes(t *testing.T) {
	f, _ := startedFleet(t, fastConfig(), "Pod-A", "Pod-B")

	errs := f.SendSetpointBatch([]SetpointEntry{
		{Device: 0, Channel: 0, Value: 100},
		{Device: 9, Channel: 0, Value: 200}, // unknown device
		{Device: 1, Channel: 0, Value: 300},
	})
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
	assert.NoError(t, errs[2])
}

func TestFleet_SendConfig(t *testing.T) {
	f, tr := startedFleet(t, fastConfig(), "Pod-A")

	err := f.SendConfig(0, 0, map[string]float64{"set_act_mode": 1, "set_pid_p": 0.5})
	require.NoError(t, err)

	// Keys are sent in sorted order, one write each.
	writes := tr.session("Pod-A").recordedWrites()
	require.Len(t, writes, 2)
	want0, _ := telemetry.EncodeConfig(0, "set_act_mode", 1)
	want1, _ := telemetry.EncodeConfig(0, "set_pid_p", 0.5)
	assert.Equal(t, want0, writes[0].payload)
	assert.Equal(t, want1, writes[1].payload)
}

func TestFleet_SendConfigUnknownKeyDoesNotAbortOthers(t *testing.T) {
	f, tr := startedFleet(t, fastConfig(), "Pod-A")

	err := f.SendConfig(0, 0, map[string]float64{"set_act_mode": 1, "bogus_key": 7})
	require.Error(t, err)

	var unknown *telemetry.UnknownConfigKeyError
	assert.ErrorAs(t, err, &unknown)
	assert.Len(t, tr.session("Pod-A").recordedWrites(), 1)
}

func TestFleet_ForwardingEmitsTransformedSetpoint(t *testing.T) {
	f, tr := startedFleet(t, fastConfig(), "Pod-A", "Pod-B")

	double := forward.TransformFunc(func(v float64) (float64, error) { return 2 * v, nil })
	require.NoError(t, f.AddForwarding(0, 0, 1, 0, double))

	// Source reading 500 on Pod-A channel 0.
	tr.session("Pod-A").notify([]byte{0xF4, 0x01, 0x00, 0x00})

	require.Eventually(t, func() bool {
		return len(tr.session("Pod-B").recordedWrites()) == 1
	}, time.Second, 5*time.Millisecond)

	writes := tr.session("Pod-B").recordedWrites()
	assert.Equal(t, transport.ControlCharUUID, writes[0].characteristic)
	assert.Equal(t, telemetry.EncodeSetpoint(0, 1000), writes[0].payload)
}

func TestFleet_ForwardingCycleRejected(t *testing.T) {
	f, _ := startedFleet(t, fastConfig(), "Pod-A", "Pod-B")

	require.NoError(t, f.AddForwarding(0, 0, 1, 0, nil))
	err := f.AddForwarding(1, 0, 0, 0, nil)
	assert.ErrorIs(t, err, forward.ErrCycleRejected)
	assert.Equal(t, 1, f.ForwardingCount())
}

func TestFleet_StopForwarding(t *testing.T) {
	f, _ := startedFleet(t, fastConfig(), "Pod-A", "Pod-B")

	require.NoError(t, f.AddForwarding(0, 0, 1, 0, nil))
	assert.True(t, f.StopForwarding(0, 0, 1, 0))
	assert.False(t, f.StopForwarding(0, 0, 1, 0))
	assert.Equal(t, 0, f.ForwardingCount())
}

func TestFleet_SetModeExecutesAllStepsInOrder(t *testing.T) {
	f, tr := startedFleet(t, fastConfig(), "Pod-A", "Pod-B")

	// A pre-existing rule must be cleared by step 1.
	require.NoError(t, f.AddForwarding(1, 1, 0, 1, nil))

	result := f.SetMode(context.Background(), ModeSpec{
		ResetConfig: []ConfigEntry{
			{Device: 0, Channel: 0, Values: map[string]float64{"set_act_mode": 1}},
			{Device: 9, Channel: 0, Values: map[string]float64{"set_act_mode": 1}}, // fails
		},
		Setpoints: []SetpointEntry{{Device: 0, Channel: 0, Value: 1013}},
		WaitTime:  0,
		Forwarding: []ForwardingEntry{
			{SrcDevice: 0, SrcChannel: 0, DstDevice: 1, DstChannel: 0, Scale: 2},
		},
		FinalConfig: []ConfigEntry{
			{Device: 1, Channel: 0, Values: map[string]float64{"set_act_mode": 2}},
		},
	})

	// Fail-forward: the bad reset entry is reported, later steps still ran.
	assert.True(t, result.Failed())
	require.Len(t, result.ResetErrors, 2)
	assert.NoError(t, result.ResetErrors[0])
	assert.Error(t, result.ResetErrors[1])
	require.Len(t, result.SetpointErrors, 1)
	assert.NoError(t, result.SetpointErrors[0])
	require.Len(t, result.ForwardingErrors, 1)
	assert.NoError(t, result.ForwardingErrors[0])
	require.Len(t, result.FinalErrors, 1)
	assert.NoError(t, result.FinalErrors[0])

	// Old rule cleared, new rule installed.
	assert.Equal(t, 1, f.ForwardingCount())
	assert.False(t, f.StopForwarding(1, 1, 0, 1))

	// Pod-A got reset_config then the setpoint, in that order.
	aWrites := tr.session("Pod-A").recordedWrites()
	require.Len(t, aWrites, 2)
	wantReset, _ := telemetry.EncodeConfig(0, "set_act_mode", 1)
	assert.Equal(t, wantReset, aWrites[0].payload)
	assert.Equal(t, telemetry.EncodeSetpoint(0, 1013), aWrites[1].payload)

	// Pod-B got the final config.
	bWrites := tr.session("Pod-B").recordedWrites()
	require.Len(t, bWrites, 1)
	wantFinal, _ := telemetry.EncodeConfig(0, "set_act_mode", 2)
	assert.Equal(t, wantFinal, bWrites[0].payload)
}

func TestFleet_SetModeSucceedsCleanly(t *testing.T) {
	f, _ := startedFleet(t, fastConfig(), "Pod-A")

	result := f.SetMode(context.Background(), ModeSpec{
		Setpoints: []SetpointEntry{{Device: 0, Channel: 0, Value: 500}},
	})
	assert.False(t, result.Failed())
}

func TestFleet_SetModeWaitIsCancellable(t *testing.T) {
	f, _ := startedFleet(t, fastConfig(), "Pod-A", "Pod-B")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := f.SetMode(ctx, ModeSpec{
		WaitTime: 10 * time.Second,
		Forwarding: []ForwardingEntry{
			{SrcDevice: 0, SrcChannel: 0, DstDevice: 1, DstChannel: 0},
		},
	})

	assert.True(t, result.Interrupted)
	assert.True(t, result.Failed())
	assert.Less(t, time.Since(start), time.Second)

	// Steps after the wait were skipped; earlier steps stay applied.
	assert.Equal(t, 0, f.ForwardingCount())
	assert.Nil(t, result.ForwardingErrors)
	assert.Nil(t, result.FinalErrors)
}

func TestFleet_SendBeforeConnectedFails(t *testing.T) {
	f := New(fastConfig(), newStubTransport(), nil)
	_, err := f.RegisterDevice("Pod-A", 2)
	require.NoError(t, err)

	// Not started: no session to write to.
	assert.Error(t, f.SendSetpoint(0, 0, 100))
	assert.False(t, f.IsEverythingConnected())
}

func TestFleet_RegisterAfterStartFails(t *testing.T) {
	f, _ := startedFleet(t, fastConfig(), "Pod-A")
	_, err := f.RegisterDevice("Pod-B", 2)
	assert.Error(t, err)
}

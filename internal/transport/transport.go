// Package transport defines the wireless transport port consumed by the
// fleet core: discovery by advertised name, session establishment,
// notification subscription and characteristic writes. Implementations
// live in subpackages (goble for production BLE); tests supply fakes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PieZense GATT profile. Telemetry frames arrive as notifications on the
// telemetry characteristic; setpoint and config writes go to the control
// characteristic.
const (
	ServiceUUID       = "7A5E0001-2C94-4E1B-9D3F-A2E6F0C81D4B"
	TelemetryCharUUID = "7A5E0002-2C94-4E1B-9D3F-A2E6F0C81D4B"
	ControlCharUUID   = "7A5E0003-2C94-4E1B-9D3F-A2E6F0C81D4B"
)

// NotifyHandler receives raw notification payloads from a subscribed
// characteristic. Handlers may be called from a transport-owned goroutine
// and must not block.
type NotifyHandler func(payload []byte)

// Peripheral is a discovered but not yet connected device.
type Peripheral interface {
	Name() string
	Addr() string
}

// Transport is the discovery/connection port.
type Transport interface {
	// DiscoverByName scans for a peripheral advertising the given local
	// name. Returns ErrDeviceNotFound (wrapped) if the timeout elapses
	// without a match.
	DiscoverByName(ctx context.Context, name string, timeout time.Duration) (Peripheral, error)

	// Connect dials the peripheral and discovers its GATT profile.
	Connect(ctx context.Context, p Peripheral, timeout time.Duration) (Session, error)
}

// Session is a live link to a connected device. Write calls on a session
// are serialized internally; callers still coordinate ordering across
// components via their own per-device locks.
type Session interface {
	// Subscribe attaches the handler to notifications from the given
	// characteristic.
	Subscribe(characteristic string, h NotifyHandler) error

	// SubscribeNotifying attaches the handler to every notify-capable
	// characteristic on the device.
	SubscribeNotifying(h NotifyHandler) error

	// Write sends payload to the given characteristic.
	Write(characteristic string, payload []byte) error

	// Alive reports whether the underlying link is still up.
	Alive() bool

	Close() error
}

// Port-level error taxonomy. Connectivity errors are absorbed by the
// supervisor and retried; write errors surface to the caller of the
// specific operation.
var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrConnectFailed   = errors.New("connect failed")
	ErrSubscribeFailed = errors.New("subscribe failed")
	ErrWriteFailed     = errors.New("write failed")
	ErrSessionClosed   = errors.New("session closed")
)

// NotFoundError reports a missing GATT resource on a connected device.
type NotFoundError struct {
	Resource string // "service", "characteristic"
	UUID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.UUID)
}

// Is allows errors.Is comparison against other NotFoundError values by
// resource kind.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return e.Resource == t.Resource && (t.UUID == "" || e.UUID == t.UUID)
}

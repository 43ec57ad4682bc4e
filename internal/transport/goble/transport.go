// Package goble implements the transport port on top of go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/piezense/piezense-go/internal/transport"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

// BLETransport implements transport.Transport using go-ble.
type BLETransport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a BLE transport. The underlying HCI/CoreBluetooth
// device is initialized lazily on first discovery.
func NewTransport(logger *logrus.Logger) *BLETransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLETransport{logger: logger}
}

func (t *BLETransport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		dev, err := DeviceFactory()
		if err != nil {
			return nil, fmt.Errorf("failed to create BLE device: %w", err)
		}
		t.dev = dev
	}
	return t.dev, nil
}

// blePeripheral carries the advertisement data needed to dial later.
type blePeripheral struct {
	name string
	addr ble.Addr
}

func (p *blePeripheral) Name() string { return p.name }
func (p *blePeripheral) Addr() string { return p.addr.String() }

// DiscoverByName scans until an advertisement with the given local name is
// seen or the timeout elapses.
func (t *BLETransport) DiscoverByName(ctx context.Context, name string, timeout time.Duration) (transport.Peripheral, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.logger.WithFields(logrus.Fields{
		"name":    name,
		"timeout": timeout,
	}).Debug("Scanning for device by name")

	var (
		foundMu sync.Mutex
		found   *blePeripheral
	)

	err = dev.Scan(scanCtx, false, func(adv ble.Advertisement) {
		if adv.LocalName() != name {
			return
		}
		foundMu.Lock()
		if found == nil {
			found = &blePeripheral{name: name, addr: adv.Addr()}
		}
		foundMu.Unlock()
		cancel() // stop the scan, we have a match
	})

	foundMu.Lock()
	defer foundMu.Unlock()

	if found != nil {
		t.logger.WithFields(logrus.Fields{
			"name":    name,
			"address": found.addr.String(),
		}).Info("Discovered device")
		return found, nil
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return nil, fmt.Errorf("%w: %q", transport.ErrDeviceNotFound, name)
}

// Connect dials the peripheral, discovers its GATT profile and returns a
// live session.
func (t *BLETransport) Connect(ctx context.Context, p transport.Peripheral, timeout time.Duration) (transport.Session, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	bp, ok := p.(*blePeripheral)
	if !ok {
		return nil, fmt.Errorf("%w: peripheral was not discovered by this transport", transport.ErrConnectFailed)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.logger.WithField("address", bp.Addr()).Info("Connecting to device")

	client, err := dev.Dial(dialCtx, bp.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrConnectFailed, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return nil, fmt.Errorf("%w: profile discovery: %v", transport.ErrConnectFailed, err)
	}

	t.logger.WithFields(logrus.Fields{
		"address":  bp.Addr(),
		"services": len(profile.Services),
	}).Info("Connected, profile discovered")

	return newSession(client, profile, t.logger), nil
}

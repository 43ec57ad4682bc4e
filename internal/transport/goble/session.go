package goble

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/piezense/piezense-go/internal/transport"
)

const (
	// writeChunkSize is the maximum number of bytes per write operation.
	// BLE 4.0/4.1 ATT_MTU is 23 bytes, leaving 20 bytes of payload after
	// the ATT header; chunking at 20 keeps all firmware revisions happy.
	writeChunkSize = 20

	// writeChunkDelay paces consecutive chunks so the peripheral's
	// receive buffer is not overwhelmed.
	writeChunkDelay = 10 * time.Millisecond
)

// bleSession implements transport.Session over a connected ble.Client.
type bleSession struct {
	client  ble.Client
	profile *ble.Profile
	logger  *logrus.Logger

	writeMutex sync.Mutex
	closeOnce  sync.Once
	closed     chan struct{}
}

func newSession(client ble.Client, profile *ble.Profile, logger *logrus.Logger) *bleSession {
	return &bleSession{
		client:  client,
		profile: profile,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

func normalizeUUID(u string) string {
	return strings.ToLower(strings.ReplaceAll(u, "-", ""))
}

func (s *bleSession) findCharacteristic(uuid string) (*ble.Characteristic, error) {
	want := normalizeUUID(uuid)
	for _, svc := range s.profile.Services {
		for _, char := range svc.Characteristics {
			if normalizeUUID(char.UUID.String()) == want {
				return char, nil
			}
		}
	}
	return nil, &transport.NotFoundError{Resource: "characteristic", UUID: uuid}
}

// Subscribe attaches the handler to notifications from one characteristic.
func (s *bleSession) Subscribe(characteristic string, h transport.NotifyHandler) error {
	char, err := s.findCharacteristic(characteristic)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrSubscribeFailed, err)
	}
	if char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("%w: characteristic %s does not notify", transport.ErrSubscribeFailed, characteristic)
	}
	if err := s.client.Subscribe(char, false, func(data []byte) { h(data) }); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrSubscribeFailed, err)
	}
	s.logger.WithField("characteristic", characteristic).Debug("Subscribed to notifications")
	return nil
}

// SubscribeNotifying subscribes the handler to every notify-capable
// characteristic on the device.
func (s *bleSession) SubscribeNotifying(h transport.NotifyHandler) error {
	subscribed := 0
	for _, svc := range s.profile.Services {
		for _, char := range svc.Characteristics {
			if char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
				continue
			}
			if err := s.client.Subscribe(char, false, func(data []byte) { h(data) }); err != nil {
				return fmt.Errorf("%w: %s: %v", transport.ErrSubscribeFailed, char.UUID.String(), err)
			}
			s.logger.WithField("characteristic", char.UUID.String()).Debug("Subscribed to notifications")
			subscribed++
		}
	}
	if subscribed == 0 {
		return fmt.Errorf("%w: no notify-capable characteristics", transport.ErrSubscribeFailed)
	}
	return nil
}

// Write sends payload to the characteristic, chunked to the BLE MTU. The
// write mutex serializes concurrent writers on this session.
func (s *bleSession) Write(characteristic string, payload []byte) error {
	if !s.Alive() {
		return transport.ErrSessionClosed
	}

	char, err := s.findCharacteristic(characteristic)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrWriteFailed, err)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	data := payload
	for len(data) > 0 {
		n := len(data)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		if err := s.client.WriteCharacteristic(char, data[:n], false); err != nil {
			return fmt.Errorf("%w: %v", transport.ErrWriteFailed, err)
		}
		data = data[n:]
		if len(data) > 0 {
			time.Sleep(writeChunkDelay)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"characteristic": characteristic,
		"bytes":          len(payload),
	}).Debug("Wrote payload")
	return nil
}

// Alive reports whether the link is still up.
func (s *bleSession) Alive() bool {
	select {
	case <-s.closed:
		return false
	case <-s.client.Disconnected():
		return false
	default:
		return true
	}
}

func (s *bleSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.client.ClearSubscriptions()
		err = s.client.CancelConnection()
	})
	return err
}

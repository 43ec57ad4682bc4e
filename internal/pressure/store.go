// Package pressure holds the last-known reading per (device, channel).
// Writers replace a device's readings as one unit; readers always see a
// consistent set, never a mix of two telemetry frames.
package pressure

import (
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
)

// ErrNotFound is returned for lookups of unregistered devices or
// out-of-range channels.
var ErrNotFound = errors.New("not found")

// Reading is the latest pressure value for one channel, in raw device
// units, with the monotonic timestamp of its last update.
type Reading struct {
	Value     uint16
	UpdatedAt time.Time
}

// Update is the event emitted after a device's readings change.
type Update struct {
	Device   int
	Readings []Reading // immutable once published
}

// Store is the concurrent last-known-reading store. Each device's
// readings are stored as an immutable slice swapped whole on update, so
// a reader can never observe a partially applied frame.
type Store struct {
	devices  *hashmap.Map[int, []Reading]
	channels *hashmap.Map[int, int] // device -> declared channel count
	count    int
	events   *ringChan[Update]
}

// NewStore creates a store with an event buffer of the given capacity.
func NewStore(eventBuffer int) *Store {
	return &Store{
		devices:  hashmap.New[int, []Reading](),
		channels: hashmap.New[int, int](),
		events:   newRingChan[Update](eventBuffer),
	}
}

// Register adds a device with the declared channel count and returns its
// index. All channels start at zero with a zero timestamp. Registration
// is not safe for concurrent use; register every device before telemetry
// starts flowing.
func (s *Store) Register(channelCount int) (int, error) {
	if channelCount <= 0 {
		return 0, fmt.Errorf("channel count must be positive, got %d", channelCount)
	}
	idx := s.count
	s.count++
	s.channels.Set(idx, channelCount)
	s.devices.Set(idx, make([]Reading, channelCount))
	return idx, nil
}

// ChannelCount returns the declared channel count for a device.
func (s *Store) ChannelCount(device int) (int, bool) {
	return s.channels.Get(device)
}

// Update replaces the device's readings atomically as a single visible
// unit. A short values slice updates only the channels it covers; the
// rest keep their previous value and timestamp.
func (s *Store) Update(device int, values []uint16) error {
	prev, ok := s.devices.Get(device)
	if !ok {
		return fmt.Errorf("%w: device %d", ErrNotFound, device)
	}
	if len(values) > len(prev) {
		values = values[:len(prev)]
	}

	now := time.Now()
	next := make([]Reading, len(prev))
	copy(next, prev)
	for i, v := range values {
		next[i] = Reading{Value: v, UpdatedAt: now}
	}

	s.devices.Set(device, next)
	s.events.Send(Update{Device: device, Readings: next})
	return nil
}

// Get returns the latest reading for a single channel.
func (s *Store) Get(device, channel int) (Reading, error) {
	readings, ok := s.devices.Get(device)
	if !ok {
		return Reading{}, fmt.Errorf("%w: device %d", ErrNotFound, device)
	}
	if channel < 0 || channel >= len(readings) {
		return Reading{}, fmt.Errorf("%w: device %d channel %d", ErrNotFound, device, channel)
	}
	return readings[channel], nil
}

// Device returns the current readings of one device. The returned slice
// is the immutable published set; callers must not modify it.
func (s *Store) Device(device int) ([]Reading, error) {
	readings, ok := s.devices.Get(device)
	if !ok {
		return nil, fmt.Errorf("%w: device %d", ErrNotFound, device)
	}
	return readings, nil
}

// Snapshot returns an independent copy of every device's readings,
// indexed by device. Each inner slice reflects one consistent frame.
func (s *Store) Snapshot() [][]Reading {
	out := make([][]Reading, s.count)
	for i := 0; i < s.count; i++ {
		if readings, ok := s.devices.Get(i); ok {
			cp := make([]Reading, len(readings))
			copy(cp, readings)
			out[i] = cp
		}
	}
	return out
}

// Events returns the readings-changed event channel. Updates are dropped
// oldest-first if the consumer falls behind.
func (s *Store) Events() <-chan Update {
	return s.events.C()
}

// Close closes the event channel. Update must not be called afterwards.
func (s *Store) Close() {
	s.events.Close()
}

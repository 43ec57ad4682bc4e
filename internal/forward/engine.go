// Package forward maintains the directed channel-forwarding rule table
// and applies it reactively: whenever a source channel's reading updates,
// the attached transform runs and the result is written to the target
// channel's setpoint.
package forward

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrCycleRejected is returned when installing a rule would make a
// source reachable from its own target.
var ErrCycleRejected = errors.New("forwarding cycle rejected")

// ErrInvalidEndpoint is returned when a rule references an unregistered
// device or an out-of-range channel.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint identifies one channel of one device.
type Endpoint struct {
	Device  int
	Channel int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d/%d", e.Device, e.Channel)
}

// Transform maps a source pressure value to the value written to the
// target. Implementations must be pure; an error aborts only the rule it
// belongs to.
type Transform interface {
	Apply(value float64) (float64, error)
}

// TransformFunc adapts a plain function to the Transform interface.
type TransformFunc func(value float64) (float64, error)

// Apply implements Transform.
func (f TransformFunc) Apply(value float64) (float64, error) { return f(value) }

// Identity forwards the source value unchanged.
var Identity Transform = TransformFunc(func(v float64) (float64, error) { return v, nil })

// Linear returns the transform value*scale + offset.
func Linear(scale, offset float64) Transform {
	return TransformFunc(func(v float64) (float64, error) { return v*scale + offset, nil })
}

// SetpointWriter is where applied rules emit their commands.
type SetpointWriter interface {
	WriteSetpoint(device, channel int, value float64) error
}

// ChannelCounter resolves a device index to its declared channel count.
type ChannelCounter func(device int) (int, bool)

type rule struct {
	src       Endpoint
	dst       Endpoint
	transform Transform
}

// Engine holds the rule table. At most one rule exists per source
// endpoint; installing a second one replaces the first. The table is an
// ordered map so batch application order is stable.
type Engine struct {
	mu       sync.RWMutex
	rules    *orderedmap.OrderedMap[Endpoint, *rule]
	channels ChannelCounter
	writer   SetpointWriter
	logger   *logrus.Logger
}

// NewEngine creates an engine. channels validates rule endpoints against
// registered devices; writer receives the emitted setpoint commands.
func NewEngine(channels ChannelCounter, writer SetpointWriter, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		rules:    orderedmap.New[Endpoint, *rule](),
		channels: channels,
		writer:   writer,
		logger:   logger,
	}
}

func (e *Engine) validate(ep Endpoint) error {
	count, ok := e.channels(ep.Device)
	if !ok {
		return fmt.Errorf("%w: device %d not registered", ErrInvalidEndpoint, ep.Device)
	}
	if ep.Channel < 0 || ep.Channel >= count {
		return fmt.Errorf("%w: channel %d out of range for device %d (%d channels)",
			ErrInvalidEndpoint, ep.Channel, ep.Device, count)
	}
	return nil
}

// wouldCycle reports whether the edge src->dst would make src reachable
// from dst. Each source has at most one outgoing edge, so reachability is
// a chain walk over the current table; src's own edge is the one being
// replaced and is skipped.
func (e *Engine) wouldCycle(src, dst Endpoint) bool {
	cur := dst
	for {
		if cur == src {
			return true
		}
		r, ok := e.rules.Get(cur)
		if !ok {
			return false
		}
		cur = r.dst
	}
}

// AddRule validates and installs src->dst with the given transform.
// A rule already installed for the same source is replaced; replaced
// reports whether that happened. On a detected cycle the table is left
// unchanged and ErrCycleRejected is returned.
func (e *Engine) AddRule(src, dst Endpoint, transform Transform) (replaced bool, err error) {
	if transform == nil {
		transform = Identity
	}
	if err := e.validate(src); err != nil {
		return false, err
	}
	if err := e.validate(dst); err != nil {
		return false, err
	}
	if src == dst {
		return false, fmt.Errorf("%w: %s -> %s", ErrCycleRejected, src, dst)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.wouldCycle(src, dst) {
		return false, fmt.Errorf("%w: %s -> %s", ErrCycleRejected, src, dst)
	}

	_, replaced = e.rules.Get(src)
	e.rules.Set(src, &rule{src: src, dst: dst, transform: transform})

	e.logger.WithFields(logrus.Fields{
		"source":   src.String(),
		"target":   dst.String(),
		"replaced": replaced,
	}).Info("Installed forwarding rule")
	return replaced, nil
}

// RemoveRule removes the rule src->dst if present and reports whether a
// rule was removed. A rule from src to a different target is left alone.
func (e *Engine) RemoveRule(src, dst Endpoint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rules.Get(src)
	if !ok || r.dst != dst {
		return false
	}
	e.rules.Delete(src)
	e.logger.WithFields(logrus.Fields{
		"source": src.String(),
		"target": dst.String(),
	}).Info("Removed forwarding rule")
	return true
}

// ClearAll removes every rule.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rules.Len() > 0 {
		e.logger.WithField("rules", e.rules.Len()).Info("Cleared all forwarding rules")
	}
	e.rules = orderedmap.New[Endpoint, *rule]()
}

// Len returns the number of installed rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules.Len()
}

// RuleError reports one rule's failure during Apply; other rules are
// unaffected.
type RuleError struct {
	Source Endpoint
	Target Endpoint
	Err    error
}

func (r *RuleError) Error() string {
	return fmt.Sprintf("forwarding %s -> %s: %v", r.Source, r.Target, r.Err)
}

func (r *RuleError) Unwrap() error { return r.Err }

// applyTransform runs the transform, converting a panic in caller-supplied
// code into a per-rule error.
func applyTransform(t Transform, value float64) (out float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return t.Apply(value)
}

// Apply runs every rule whose source is a channel of the updated device.
// Each triggered rule fires exactly once; transform and write failures
// are collected per rule and do not stop the others.
func (e *Engine) Apply(device int, values []uint16) []error {
	e.mu.RLock()
	var triggered []*rule
	for pair := e.rules.Oldest(); pair != nil; pair = pair.Next() {
		r := pair.Value
		if r.src.Device == device && r.src.Channel < len(values) {
			triggered = append(triggered, r)
		}
	}
	e.mu.RUnlock()

	var errs []error
	for _, r := range triggered {
		out, err := applyTransform(r.transform, float64(values[r.src.Channel]))
		if err != nil {
			errs = append(errs, &RuleError{Source: r.src, Target: r.dst, Err: err})
			e.logger.WithError(err).WithField("source", r.src.String()).Warn("Transform failed")
			continue
		}
		if err := e.writer.WriteSetpoint(r.dst.Device, r.dst.Channel, out); err != nil {
			errs = append(errs, &RuleError{Source: r.src, Target: r.dst, Err: err})
			e.logger.WithError(err).WithFields(logrus.Fields{
				"source": r.src.String(),
				"target": r.dst.String(),
			}).Warn("Forwarded setpoint write failed")
		}
	}
	return errs
}

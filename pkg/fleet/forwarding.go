package fleet

import (
	"github.com/piezense/piezense-go/internal/forward"
)

// ForwardingEntry is one forwarding edge in a batch. Transform takes
// precedence; when nil, a linear transform value*Scale + Offset is used,
// with a zero Scale treated as 1 so the zero value forwards unchanged.
type ForwardingEntry struct {
	SrcDevice  int `yaml:"src_device"`
	SrcChannel int `yaml:"src_channel"`
	DstDevice  int `yaml:"dst_device"`
	DstChannel int `yaml:"dst_channel"`

	Scale     float64           `yaml:"scale"`
	Offset    float64           `yaml:"offset"`
	Transform forward.Transform `yaml:"-"`
}

func (e ForwardingEntry) transform() forward.Transform {
	if e.Transform != nil {
		return e.Transform
	}
	scale := e.Scale
	if scale == 0 {
		scale = 1
	}
	return forward.Linear(scale, e.Offset)
}

// AddForwarding installs a forwarding rule copying (transformed) pressure
// from the source channel to the target channel's setpoint. An existing
// rule for the same source is replaced; a rule that would create a cycle
// is rejected with forward.ErrCycleRejected and nothing changes.
func (f *Fleet) AddForwarding(srcDevice, srcChannel, dstDevice, dstChannel int, transform forward.Transform) error {
	_, err := f.engine.AddRule(
		forward.Endpoint{Device: srcDevice, Channel: srcChannel},
		forward.Endpoint{Device: dstDevice, Channel: dstChannel},
		transform,
	)
	return err
}

// AddForwardingBatch installs every entry, continuing past failures. The
// returned slice holds one outcome per entry, aligned by index.
func (f *Fleet) AddForwardingBatch(entries []ForwardingEntry) []error {
	errs := make([]error, len(entries))
	for i, e := range entries {
		errs[i] = f.AddForwarding(e.SrcDevice, e.SrcChannel, e.DstDevice, e.DstChannel, e.transform())
	}
	return errs
}

// StopForwarding removes the rule from the source to the target channel
// and reports whether a rule was removed.
func (f *Fleet) StopForwarding(srcDevice, srcChannel, dstDevice, dstChannel int) bool {
	return f.engine.RemoveRule(
		forward.Endpoint{Device: srcDevice, Channel: srcChannel},
		forward.Endpoint{Device: dstDevice, Channel: dstChannel},
	)
}

// ClearAllForwarding removes every forwarding rule.
func (f *Fleet) ClearAllForwarding() {
	f.engine.ClearAll()
}

// ForwardingCount returns the number of installed rules.
func (f *Fleet) ForwardingCount() int {
	return f.engine.Len()
}

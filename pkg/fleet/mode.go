package fleet

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ModeSpec is an ordered bundle consumed once by SetMode to perform a
// full mode transition.
type ModeSpec struct {
	ResetConfig []ConfigEntry     `yaml:"reset_config"`
	Setpoints   []SetpointEntry   `yaml:"setpoints"`
	WaitTime    time.Duration     `yaml:"wait_time"`
	Forwarding  []ForwardingEntry `yaml:"forwarding"`
	FinalConfig []ConfigEntry     `yaml:"final_config"`
}

// UnmarshalYAML accepts a Go duration string ("2s", "500ms") for
// wait_time.
func (m *ModeSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ResetConfig []ConfigEntry     `yaml:"reset_config"`
		Setpoints   []SetpointEntry   `yaml:"setpoints"`
		WaitTime    string            `yaml:"wait_time"`
		Forwarding  []ForwardingEntry `yaml:"forwarding"`
		FinalConfig []ConfigEntry     `yaml:"final_config"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	m.ResetConfig = raw.ResetConfig
	m.Setpoints = raw.Setpoints
	m.Forwarding = raw.Forwarding
	m.FinalConfig = raw.FinalConfig
	if raw.WaitTime != "" {
		d, err := time.ParseDuration(raw.WaitTime)
		if err != nil {
			return fmt.Errorf("invalid wait_time: %w", err)
		}
		m.WaitTime = d
	}
	return nil
}

// ModeResult collects the per-entry outcomes of every SetMode step. The
// sequence is fail-forward: a failing entry never aborts the batch it is
// in, and a failing batch never skips the steps after it.
type ModeResult struct {
	ResetErrors      []error
	SetpointErrors   []error
	ForwardingErrors []error
	FinalErrors      []error

	// Interrupted is set when the context was cancelled during the wait
	// step. Steps already executed remain applied; the remaining steps
	// were skipped.
	Interrupted bool
}

func anyError(errs []error) bool {
	for _, err := range errs {
		if err != nil {
			return true
		}
	}
	return false
}

// Failed reports whether any entry of any step failed or the sequence
// was interrupted.
func (r *ModeResult) Failed() bool {
	return r.Interrupted ||
		anyError(r.ResetErrors) ||
		anyError(r.SetpointErrors) ||
		anyError(r.ForwardingErrors) ||
		anyError(r.FinalErrors)
}

// SetMode executes a mode transition as an ordered, non-interleavable
// sequence:
//
//  1. clear all forwarding
//  2. send the reset_config batch
//  3. send the setpoints batch
//  4. wait for WaitTime (cancellable via ctx)
//  5. install the forwarding batch
//  6. send the final_config batch
//
// Two concurrent SetMode calls are serialized; steps are never rolled
// back on failure.
func (f *Fleet) SetMode(ctx context.Context, spec ModeSpec) *ModeResult {
	f.seqMu.Lock()
	defer f.seqMu.Unlock()

	result := &ModeResult{}

	f.ClearAllForwarding()
	result.ResetErrors = f.SendConfigBatch(spec.ResetConfig)
	result.SetpointErrors = f.SendSetpointBatch(spec.Setpoints)

	if spec.WaitTime > 0 {
		t := time.NewTimer(spec.WaitTime)
		defer t.Stop()
		select {
		case <-ctx.Done():
			result.Interrupted = true
			f.logger.WithError(ctx.Err()).Warn("Mode transition interrupted during wait")
			return result
		case <-t.C:
		}
	}

	result.ForwardingErrors = f.AddForwardingBatch(spec.Forwarding)
	result.FinalErrors = f.SendConfigBatch(spec.FinalConfig)

	f.logger.WithField("failed", result.Failed()).Info("Mode transition completed")
	return result
}

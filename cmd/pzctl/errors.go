package main

import (
	"errors"

	"github.com/piezense/piezense-go/internal/supervisor"
	"github.com/piezense/piezense-go/internal/transport"
)

// FormatUserError turns internal error chains into a message suitable
// for the terminal.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, supervisor.ErrNotConnected):
		return "device is not connected yet; it is still being searched for"
	case errors.Is(err, transport.ErrDeviceNotFound):
		return "device not found; check the advertised name and that it is powered on"
	case errors.Is(err, transport.ErrWriteFailed):
		return "write rejected by the device: " + err.Error()
	default:
		return err.Error()
	}
}

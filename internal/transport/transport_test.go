package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "characteristic", UUID: ControlCharUUID}
	assert.Contains(t, err.Error(), "characteristic")
	assert.Contains(t, err.Error(), ControlCharUUID)

	// Matches by resource kind alone, or by kind and UUID.
	assert.ErrorIs(t, err, &NotFoundError{Resource: "characteristic"})
	assert.ErrorIs(t, err, &NotFoundError{Resource: "characteristic", UUID: ControlCharUUID})
	assert.NotErrorIs(t, err, &NotFoundError{Resource: "service"})
}

func TestSentinelWrapping(t *testing.T) {
	err := fmt.Errorf("%w: %q", ErrDeviceNotFound, "Pod-A")
	assert.True(t, errors.Is(err, ErrDeviceNotFound))
	assert.False(t, errors.Is(err, ErrConnectFailed))
}

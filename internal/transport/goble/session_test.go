package goble

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	assert.Equal(t,
		"7a5e00012c944e1b9d3fa2e6f0c81d4b",
		normalizeUUID("7A5E0001-2C94-4E1B-9D3F-A2E6F0C81D4B"))
	assert.Equal(t, "180d", normalizeUUID("180D"))
	assert.Equal(t, normalizeUUID("7a5e00012c944e1b9d3fa2e6f0c81d4b"),
		normalizeUUID("7A5E0001-2C94-4E1B-9D3F-A2E6F0C81D4B"))
}

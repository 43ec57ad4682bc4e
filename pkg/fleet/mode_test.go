package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestModeSpec_UnmarshalYAML(t *testing.T) {
	var spec ModeSpec
	require.NoError(t, yaml.Unmarshal([]byte(`
reset_config:
  - device: 0
    channel: 0
    values:
      set_act_mode: 1
setpoints:
  - device: 0
    channel: 0
    value: 1013
wait_time: 2s
forwarding:
  - src_device: 0
    src_channel: 0
    dst_device: 1
    dst_channel: 0
    scale: 2
final_config:
  - device: 1
    channel: 0
    values:
      set_act_mode: 2
`), &spec))

	assert.Equal(t, 2*time.Second, spec.WaitTime)
	require.Len(t, spec.ResetConfig, 1)
	assert.Equal(t, map[string]float64{"set_act_mode": 1}, spec.ResetConfig[0].Values)
	require.Len(t, spec.Setpoints, 1)
	assert.Equal(t, float64(1013), spec.Setpoints[0].Value)
	require.Len(t, spec.Forwarding, 1)
	assert.Equal(t, 2.0, spec.Forwarding[0].Scale)
	require.Len(t, spec.FinalConfig, 1)
}

func TestModeSpec_UnmarshalYAMLBadWaitTime(t *testing.T) {
	var spec ModeSpec
	err := yaml.Unmarshal([]byte("wait_time: soon\n"), &spec)
	assert.ErrorContains(t, err, "wait_time")
}

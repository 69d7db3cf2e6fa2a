package simconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwire/pmucore/pkg/registry"
)

const sampleConfig = `
[channel:10]
name = batt_sense
direction = input
format = millivolt
min = 0
max = 20000
value = 12600

[channel:100]
name = headlight_relay
direction = output
format = bool
enabled = true

[channel:101]
name = fan_relay
direction = output
format = bool
enabled = false
inverted = true
fault_on_clamp = true
`

func TestLoadBytesRegistersAllChannelSections(t *testing.T) {
	reg := registry.New(nil)
	n, err := LoadBytes([]byte(sampleConfig), reg)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3+6, reg.Len()) // 3 loaded + 6 pre-registered system channels
}

func TestLoadBytesParsesFieldsAndDefaults(t *testing.T) {
	reg := registry.New(nil)
	_, err := LoadBytes([]byte(sampleConfig), reg)
	require.NoError(t, err)

	info, ok := reg.GetInfo(10)
	require.True(t, ok)
	assert.Equal(t, "batt_sense", info.Name)
	assert.Equal(t, registry.DirInput, info.Direction)
	assert.Equal(t, registry.FormatMillivolt, info.Format)
	assert.Equal(t, registry.KindAnalogInput, info.Kind)
	assert.EqualValues(t, 12600, reg.GetValue(10))

	headlight, ok := reg.GetInfo(100)
	require.True(t, ok)
	assert.True(t, headlight.Flags.Has(registry.FlagEnabled))
	assert.False(t, headlight.Flags.Has(registry.FlagInverted))

	fan, ok := reg.GetInfo(101)
	require.True(t, ok)
	assert.False(t, fan.Flags.Has(registry.FlagEnabled))
	assert.True(t, fan.Flags.Has(registry.FlagInverted))
	assert.True(t, fan.FaultOnClamp)
}

func TestLoadBytesIgnoresNonChannelSections(t *testing.T) {
	doc := `
[meta]
author = bench

[channel:50]
name = door_switch
direction = input
format = bool
`
	reg := registry.New(nil)
	n, err := LoadBytes([]byte(doc), reg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadBytesRejectsDuplicateChannelID(t *testing.T) {
	doc := `
[channel:10]
name = a

[channel:10]
name = b
`
	reg := registry.New(nil)
	_, err := LoadBytes([]byte(doc), reg)
	assert.Error(t, err)
}

func TestLoadBytesRejectsOutOfRangeChannelID(t *testing.T) {
	doc := `
[channel:999999]
name = bogus
`
	reg := registry.New(nil)
	_, err := LoadBytes([]byte(doc), reg)
	assert.Error(t, err)
}

package supervisor

import (
	"testing"

	"github.com/fleetwire/pmucore/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommander struct {
	calls map[int]int32
}

func newFakeCommander() *fakeCommander { return &fakeCommander{calls: map[int]int32{}} }

func (f *fakeCommander) Command(hwIndex int, value int32) error {
	f.calls[hwIndex] = value
	return nil
}

func TestUndervoltageRequiresConsecutiveSamples(t *testing.T) {
	reg := registry.New(nil)
	s := New(reg, nil, Config{VoltageMinMV: 11000, UndervoltageSamples: 3}, nil)

	require.NoError(t, reg.SetValue(registry.SysBatteryVoltageMv, 10000))
	s.Tick()
	assert.False(t, s.Faults().Has(FaultUndervoltage))
	s.Tick()
	assert.False(t, s.Faults().Has(FaultUndervoltage))
	s.Tick()
	assert.True(t, s.Faults().Has(FaultUndervoltage))

	require.NoError(t, reg.SetValue(registry.SysBatteryVoltageMv, 12000))
	s.Tick()
	assert.False(t, s.Faults().Has(FaultUndervoltage))
}

func TestOvervoltageLatchesImmediately(t *testing.T) {
	reg := registry.New(nil)
	s := New(reg, nil, Config{VoltageMaxMV: 16000}, nil)
	require.NoError(t, reg.SetValue(registry.SysBatteryVoltageMv, 17000))
	s.Tick()
	assert.True(t, s.Faults().Has(FaultOvervoltage))
}

func TestCriticalTemperatureSheds(t *testing.T) {
	reg := registry.New(nil)
	cmd := newFakeCommander()
	s := New(reg, cmd, Config{TempWarnC: 100, TempCriticalC: 125, MaxCurrentMA: 5000}, nil)
	s.AddShedTarget(ShedTarget{HWIndex: 2, Priority: 1, CurrentMA: 3000})
	s.AddShedTarget(ShedTarget{HWIndex: 5, Priority: 0, CurrentMA: 4000})

	require.NoError(t, reg.SetValue(registry.SysMcuTempC, 130))
	require.NoError(t, reg.SetValue(registry.SysTotalCurrentMa, 10000))
	s.Tick()

	assert.True(t, s.Faults().Has(FaultOvertempCritical))
	assert.True(t, s.Shedding())
	// priority-0 (hw 5) sheds before priority-1 (hw 2): its 4000mA is
	// short of the 5000mA reduction target, so hw 2 is shed as well.
	assert.Equal(t, int32(0), cmd.calls[5])
	assert.Equal(t, int32(0), cmd.calls[2])
}

func TestLoadSheddingRestoresInReversePriority(t *testing.T) {
	reg := registry.New(nil)
	cmd := newFakeCommander()
	s := New(reg, cmd, Config{}, nil)
	s.AddShedTarget(ShedTarget{HWIndex: 1, Priority: 0, CurrentMA: 1000})
	s.AddShedTarget(ShedTarget{HWIndex: 2, Priority: 1, CurrentMA: 1000})

	require.NoError(t, s.ActivateLoadShedding(1500))
	assert.Equal(t, int32(0), cmd.calls[1])
	assert.Equal(t, int32(0), cmd.calls[2])

	require.NoError(t, s.DeactivateLoadShedding())
	assert.Equal(t, int32(1000), cmd.calls[1])
	assert.Equal(t, int32(1000), cmd.calls[2])
	assert.False(t, s.Shedding())
}

func TestNoCommanderErrorsOnActivate(t *testing.T) {
	reg := registry.New(nil)
	s := New(reg, nil, Config{}, nil)
	s.AddShedTarget(ShedTarget{HWIndex: 1, Priority: 0, CurrentMA: 500})
	err := s.ActivateLoadShedding(100)
	assert.ErrorIs(t, err, ErrNoCommander)
}

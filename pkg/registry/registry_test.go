package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemChannelsPreRegistered(t *testing.T) {
	r := New(nil)
	for _, id := range []ChannelID{SysBatteryVoltageMv, SysTotalCurrentMa, SysMcuTempC, SysBoardTempC, SysUptimeSeconds} {
		_, ok := r.GetInfo(id)
		assert.True(t, ok, "system channel %d must be pre-registered", id)
	}
}

func TestRegisterRejectsDuplicateAndOutOfRange(t *testing.T) {
	r := New(nil)
	rec := Record{ID: 105, Direction: DirOutput, Min: 0, Max: 100, Flags: FlagEnabled, Name: "out_5"}
	require.NoError(t, r.Register(rec))
	assert.ErrorIs(t, r.Register(rec), ErrDuplicateID)

	assert.ErrorIs(t, r.Register(Record{ID: 30, Min: 0, Max: 1}), ErrOutOfRange)  // gap between 19 and 50
	assert.ErrorIs(t, r.Register(Record{ID: 150, Min: 0, Max: 1}), ErrOutOfRange) // gap between 133 and 200
}

func TestUnboundAlwaysReadsZeroNeverFaults(t *testing.T) {
	r := New(nil)
	assert.EqualValues(t, 0, r.GetValue(Unbound))
	assert.ErrorIs(t, r.SetValue(Unbound, 5), ErrNotFound)
}

func TestSetValueClampsToBounds(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{ID: 101, Min: 0, Max: 1000, Flags: FlagEnabled}))
	require.NoError(t, r.SetValue(101, 5000))
	assert.EqualValues(t, 1000, r.GetValue(101))
	require.NoError(t, r.SetValue(101, -5))
	assert.EqualValues(t, 0, r.GetValue(101))
}

func TestSetValueHonoursInvertedFlag(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{ID: 102, Min: -1000, Max: 1000, Flags: FlagEnabled | FlagInverted}))
	require.NoError(t, r.SetValue(102, 100))
	assert.EqualValues(t, -100, r.GetValue(102))
}

func TestSetValueOnDisabledChannelFails(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{ID: 103, Min: 0, Max: 10}))
	assert.ErrorIs(t, r.SetValue(103, 1), ErrDisabled)
}

func TestFaultOnClampLatchesFlagButNotValue(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{ID: 104, Min: 0, Max: 10, Flags: FlagEnabled, FaultOnClamp: true}))
	require.NoError(t, r.SetValue(104, 99))
	rec, _ := r.GetInfo(104)
	assert.EqualValues(t, 10, rec.Value)
	assert.True(t, rec.Flags.Has(FlagFault))
}

func TestFindByNameReturnsFirstMatchOnDuplicateNames(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{ID: 400, Name: "dup", Flags: FlagEnabled}))
	require.NoError(t, r.Register(Record{ID: 401, Name: "dup", Flags: FlagEnabled}))
	id, ok := r.FindByName("dup")
	require.True(t, ok)
	assert.EqualValues(t, 400, id)
}

func TestUnregisterRemovesChannelAndName(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{ID: 500, Name: "mathblock", Flags: FlagEnabled}))
	r.Unregister(500)
	_, ok := r.GetInfo(500)
	assert.False(t, ok)
	_, ok = r.FindByName("mathblock")
	assert.False(t, ok)
}

func TestIterIsSortedAndStable(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{ID: 600, Flags: FlagEnabled}))
	require.NoError(t, r.Register(Record{ID: 102, Flags: FlagEnabled}))
	ids := r.Iter()
	for i := 1; i < len(ids); i++ {
		assert.LessOrEqual(t, ids[i-1], ids[i])
	}
}

func TestKindOfMatchesFixedRanges(t *testing.T) {
	cases := map[ChannelID]Kind{
		5:    KindAnalogInput,
		60:   KindDigitalInput,
		110:  KindPowerOutput,
		131:  KindHBridge,
		250:  KindCANRxSignal,
		350:  KindCANTxSignal,
		450:  KindLogicBlock,
		550:  KindMathBlock,
		650:  KindTimer,
		750:  KindFilter,
		850:  KindSwitch,
		905:  KindPID,
		2000: KindUserDefined,
	}
	for id, want := range cases {
		assert.Equal(t, want, KindOf(id), "id %d", id)
	}
	assert.Equal(t, KindUnknown, KindOf(150))
	assert.Equal(t, KindUnknown, KindOf(Unbound))
}

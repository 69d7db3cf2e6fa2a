package candrv

import (
	"testing"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	buses []int
	ids   []uint32
	data  [][]byte
}

func (f *fakeSender) Send(bus int, id uint32, extended bool, data []byte, dlc uint8) error {
	f.buses = append(f.buses, bus)
	f.ids = append(f.ids, id)
	cp := make([]byte, len(data))
	copy(cp, data)
	f.data = append(f.data, cp)
	return nil
}

func newTestCodec(t *testing.T) (*Codec, *registry.Registry, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual()
	reg := registry.New(nil)
	c := New(reg, &fakeSender{}, clk, nil)
	return c, reg, clk
}

func TestHandleRXPublishesDecodedSignal(t *testing.T) {
	c, reg, clk := newTestCodec(t)
	require.NoError(t, reg.Register(registry.Record{ID: 200, Format: registry.FormatRaw, Flags: registry.FlagEnabled}))

	h, err := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x100, TimeoutMs: 100})
	require.NoError(t, err)
	c.AddSignal(SignalConfig{
		Frame: h, ByteOffset: 0, BitLength: 16, ByteOrderV: LittleEndian,
		Multiplier: 1, Divider: 1, TargetChannelID: 200, Direction: SignalRX,
	})

	clk.Set(10)
	c.HandleRX(0, 0x100, false, []byte{0x34, 0x12, 0, 0, 0, 0, 0, 0}, 8)

	assert.EqualValues(t, 0x1234, reg.GetValue(200))
}

func TestHandleRXIgnoresNonMatchingBusOrID(t *testing.T) {
	c, reg, _ := newTestCodec(t)
	require.NoError(t, reg.Register(registry.Record{ID: 200, Flags: registry.FlagEnabled}))
	h, _ := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x100})
	c.AddSignal(SignalConfig{Frame: h, BitLength: 8, ByteOrderV: LittleEndian, Multiplier: 1, Divider: 1, TargetChannelID: 200, Direction: SignalRX})

	c.HandleRX(1, 0x100, false, []byte{0x11}, 1) // wrong bus
	c.HandleRX(0, 0x200, false, []byte{0x11}, 1) // wrong id

	assert.EqualValues(t, 0, reg.GetValue(200))
}

func TestHandleRXCompoundDemuxesByFirstByte(t *testing.T) {
	c, reg, _ := newTestCodec(t)
	require.NoError(t, reg.Register(registry.Record{ID: 200, Flags: registry.FlagEnabled}))
	require.NoError(t, reg.Register(registry.Record{ID: 201, Flags: registry.FlagEnabled}))

	h, _ := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x300, Type: MessageCompound})
	c.AddSignal(SignalConfig{Frame: h, FrameOffset: 0, ByteOffset: 1, BitLength: 8, ByteOrderV: LittleEndian, Multiplier: 1, Divider: 1, TargetChannelID: 200, Direction: SignalRX})
	c.AddSignal(SignalConfig{Frame: h, FrameOffset: 1, ByteOffset: 1, BitLength: 8, ByteOrderV: LittleEndian, Multiplier: 1, Divider: 1, TargetChannelID: 201, Direction: SignalRX})

	c.HandleRX(0, 0x300, false, []byte{0x00, 0x11}, 2) // sub-frame 0
	c.HandleRX(0, 0x300, false, []byte{0x01, 0x22}, 2) // sub-frame 1

	assert.EqualValues(t, 0x11, reg.GetValue(200))
	assert.EqualValues(t, 0x22, reg.GetValue(201))
}

func TestRunTimeoutsUseDefault(t *testing.T) {
	c, reg, clk := newTestCodec(t)
	require.NoError(t, reg.Register(registry.Record{ID: 200, Min: 0, Max: 0xFFFF, Flags: registry.FlagEnabled}))

	h, _ := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x100, TimeoutMs: 100})
	c.AddSignal(SignalConfig{Frame: h, BitLength: 16, ByteOrderV: LittleEndian, Multiplier: 1, Divider: 1, TargetChannelID: 200, Direction: SignalRX, DefaultValue: 0xFFFF, TimeoutBehaviour: UseDefault})

	clk.Set(0)
	c.HandleRX(0, 0x100, false, []byte{1, 0}, 2)
	assert.EqualValues(t, 1, reg.GetValue(200))

	clk.Set(101)
	c.RunTimeouts()
	assert.EqualValues(t, 0xFFFF, reg.GetValue(200))
}

func TestRunTimeoutsHoldLastLeavesValue(t *testing.T) {
	c, reg, clk := newTestCodec(t)
	require.NoError(t, reg.Register(registry.Record{ID: 200, Flags: registry.FlagEnabled}))
	h, _ := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x100, TimeoutMs: 50})
	c.AddSignal(SignalConfig{Frame: h, BitLength: 8, ByteOrderV: LittleEndian, Multiplier: 1, Divider: 1, TargetChannelID: 200, Direction: SignalRX, TimeoutBehaviour: HoldLast})

	clk.Set(0)
	c.HandleRX(0, 0x100, false, []byte{7}, 1)
	clk.Set(60)
	c.RunTimeouts()

	assert.EqualValues(t, 7, reg.GetValue(200))
	_, st := c.Signal(0)
	assert.True(t, st.TimeoutFlag)
}

func TestRunTimeoutsZeroWritesZero(t *testing.T) {
	c, reg, clk := newTestCodec(t)
	require.NoError(t, reg.Register(registry.Record{ID: 200, Min: -1000, Max: 1000, Flags: registry.FlagEnabled}))
	h, _ := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x100, TimeoutMs: 50})
	c.AddSignal(SignalConfig{Frame: h, BitLength: 8, ByteOrderV: LittleEndian, Multiplier: 1, Divider: 1, TargetChannelID: 200, Direction: SignalRX, TimeoutBehaviour: Zero})

	clk.Set(0)
	c.HandleRX(0, 0x100, false, []byte{7}, 1)
	clk.Set(60)
	c.RunTimeouts()

	assert.EqualValues(t, 0, reg.GetValue(200))
}

func TestRunTXFiresPeriodicSignal(t *testing.T) {
	clk := clock.NewManual()
	reg := registry.New(nil)
	sender := &fakeSender{}
	c := New(reg, sender, clk, nil)
	require.NoError(t, reg.Register(registry.Record{ID: 300, Min: -1000, Max: 1000, Flags: registry.FlagEnabled}))

	h, _ := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x200, DLC: 2})
	c.AddSignal(SignalConfig{Frame: h, BitLength: 16, ByteOrderV: LittleEndian, Multiplier: 1, Divider: 1, SourceChannelID: 300, Direction: SignalTX, CycleFrequencyHz: 10})

	reg.SetValue(300, 0x55)
	clk.Set(0)
	c.RunTX()
	require.Len(t, sender.ids, 1)
	assert.EqualValues(t, 0x200, sender.ids[0])
	assert.EqualValues(t, []byte{0x55, 0x00}, sender.data[0])
}

func TestRunTXDoesNotFireBeforePeriodElapses(t *testing.T) {
	clk := clock.NewManual()
	reg := registry.New(nil)
	sender := &fakeSender{}
	c := New(reg, sender, clk, nil)
	h, _ := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x200, DLC: 1})
	c.AddSignal(SignalConfig{Frame: h, BitLength: 8, ByteOrderV: LittleEndian, Multiplier: 1, Divider: 1, SourceChannelID: 300, Direction: SignalTX, CycleFrequencyHz: 10})

	clk.Set(0)
	c.RunTX()
	require.Len(t, sender.ids, 1)

	clk.Set(50) // only 50ms elapsed, period is 100ms
	c.RunTX()
	assert.Len(t, sender.ids, 1, "should not have fired again yet")

	clk.Set(110)
	c.RunTX()
	assert.Len(t, sender.ids, 2)
}

func TestRunTXFiresOnRisingTrigger(t *testing.T) {
	clk := clock.NewManual()
	reg := registry.New(nil)
	sender := &fakeSender{}
	c := New(reg, sender, clk, nil)
	require.NoError(t, reg.Register(registry.Record{ID: 301, Min: -1000, Max: 1000, Flags: registry.FlagEnabled}))

	h, _ := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x201, DLC: 1})
	c.AddSignal(SignalConfig{Frame: h, BitLength: 8, ByteOrderV: LittleEndian, Multiplier: 1, Divider: 1, SourceChannelID: 300, TriggerChannelID: 301, TriggerOn: TriggerRising, Direction: SignalTX})

	reg.SetValue(301, 0)
	c.RunTX() // arms the trigger, does not fire
	assert.Empty(t, sender.ids)

	reg.SetValue(301, 1)
	c.RunTX()
	assert.Len(t, sender.ids, 1)
}

func TestClearRemovesFramesAndSignals(t *testing.T) {
	c, reg, _ := newTestCodec(t)
	require.NoError(t, reg.Register(registry.Record{ID: 200, Flags: registry.FlagEnabled}))
	h, _ := c.AddFrame(FrameObject{Bus: 0, BaseID: 0x100})
	c.AddSignal(SignalConfig{Frame: h, BitLength: 8, Direction: SignalRX, TargetChannelID: 200})

	c.Clear()

	c.HandleRX(0, 0x100, false, []byte{1}, 1)
	assert.EqualValues(t, 0, reg.GetValue(200))
}

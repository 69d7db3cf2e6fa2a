package executor

import (
	"encoding/binary"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/pkg/blocks"
	"github.com/fleetwire/pmucore/pkg/registry"
)

func newTestExecutor() (*Executor, *registry.Registry, *clock.Manual) {
	reg := registry.New(slog.Default())
	clk := clock.NewManual()
	ex := New(reg, clk, nil, slog.Default())
	return ex, reg, clk
}

func TestTickIsRegistrationOrderOneTickStale(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 400, Name: "producer", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 401, Name: "consumer", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))

	// consumer (401) is registered before producer (400) writes a
	// fresh value, so it reads last tick's value: the 50 set before
	// the first tick, then producer's prior output from then on.
	require.NoError(t, ex.AddNode(401, []registry.ChannelID{400}, &MathBlock{Op: blocks.MathADD}))
	require.NoError(t, ex.AddNode(400, nil, &MathBlock{Op: blocks.MathADD}))
	require.NoError(t, reg.SetValue(400, 50))

	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 50, reg.GetValue(401), "consumer must see the pre-tick value, not this tick's write")

	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 0, reg.GetValue(401), "producer's node has no inputs so it always writes 0, consumer mirrors that one tick later")
}

func TestTickNeverPanicsOnDivByZero(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 500, Name: "div", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, ex.AddNode(500, nil, &MathBlock{Op: blocks.MathDIV}))
	clk.Advance(10)
	assert.NotPanics(t, func() { ex.Tick() })
	assert.EqualValues(t, 0, reg.GetValue(500))
}

func TestTickSaturatesRatherThanOverflow(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 501, Name: "sat", Flags: registry.FlagEnabled, Min: -2000000000, Max: 2000000000}))
	require.NoError(t, reg.Register(registry.Record{ID: 502, Name: "a", Flags: registry.FlagEnabled, Min: -2147483648, Max: 2147483647}))
	require.NoError(t, reg.Register(registry.Record{ID: 503, Name: "b", Flags: registry.FlagEnabled, Min: -2147483648, Max: 2147483647}))
	require.NoError(t, reg.SetValue(502, 2000000000))
	require.NoError(t, reg.SetValue(503, 2000000000))
	require.NoError(t, ex.AddNode(501, []registry.ChannelID{502, 503}, &MathBlock{Op: blocks.MathADD}))
	clk.Advance(10)
	assert.NotPanics(t, func() { ex.Tick() })
	assert.EqualValues(t, 2000000000, reg.GetValue(501))
}

func TestDisabledNodeFreezesOutput(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 504, Name: "frozen", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, ex.AddNode(504, nil, &MathBlock{Op: blocks.MathADD}))
	require.NoError(t, reg.SetValue(504, 7))
	require.NoError(t, ex.SetEnabled(504, false))
	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 7, reg.GetValue(504))
}

func TestDuplicateNodeRejected(t *testing.T) {
	ex, reg, _ := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 505, Flags: registry.FlagEnabled}))
	require.NoError(t, ex.AddNode(505, nil, &MathBlock{Op: blocks.MathADD}))
	err := ex.AddNode(505, nil, &MathBlock{Op: blocks.MathADD})
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestOutputLinkDrivesCommander(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 506, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.SetValue(506, 42))

	var gotHW int
	var gotVal int32
	ex.commander = commanderFunc(func(hw int, v int32) error {
		gotHW, gotVal = hw, v
		return nil
	})
	ex.AddOutputLink(3, 506)
	clk.Advance(10)
	ex.Tick()
	assert.Equal(t, 3, gotHW)
	assert.EqualValues(t, 42, gotVal)
}

type commanderFunc func(hw int, v int32) error

func (f commanderFunc) Command(hw int, v int32) error { return f(hw, v) }

func TestTopologicalOrderingSeesFreshProducer(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 400, Name: "producer", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 401, Name: "consumer", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, ex.AddNode(401, []registry.ChannelID{400}, &MathBlock{Op: blocks.MathADD}))
	require.NoError(t, ex.AddNode(400, nil, &MathBlock{Op: blocks.MathADD}))
	require.NoError(t, reg.SetValue(400, 99))

	ex.EnableTopologicalOrdering()
	order := ex.Ordering()
	require.Len(t, order, 2)
	assert.Equal(t, registry.ChannelID(400), order[0], "producer must be scheduled before its consumer")

	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 0, reg.GetValue(401), "producer node has no inputs, always recomputes 0, so consumer mirrors 0 even fresh")
}

func TestLoadConfigIsIdempotent(t *testing.T) {
	reg := registry.New(slog.Default())
	require.NoError(t, reg.Register(registry.Record{ID: 400, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 401, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	clk := clock.NewManual()

	buf := encodeTestConfig(t)

	ex1 := New(reg, clk, nil, slog.Default())
	n1, err := ex1.LoadConfig(buf)
	require.NoError(t, err)
	ord1 := ex1.Ordering()

	ex2 := New(reg, clk, nil, slog.Default())
	n2, err := ex2.LoadConfig(buf)
	require.NoError(t, err)
	ord2 := ex2.Ordering()

	assert.Equal(t, n1, n2)
	assert.Equal(t, ord1, ord2)
}

// encodeRecord packs one LOAD_BINARY_CONFIG record: {id uint16,
// input_count uint8, input_ids []uint16, kind uint8, param_len
// uint16, params []byte} (spec §9).
func encodeRecord(id uint16, inputs []uint16, kind byte, params []byte) []byte {
	b := make([]byte, 0, 2+1+len(inputs)*2+1+2+len(params))
	tmp := make([]byte, 2)
	binary.BigEndian.PutUint16(tmp, id)
	b = append(b, tmp...)
	b = append(b, byte(len(inputs)))
	for _, in := range inputs {
		binary.BigEndian.PutUint16(tmp, in)
		b = append(b, tmp...)
	}
	b = append(b, kind)
	binary.BigEndian.PutUint16(tmp, uint16(len(params)))
	b = append(b, tmp...)
	b = append(b, params...)
	return b
}

func be32(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func encodeTestConfig(t *testing.T) []byte {
	t.Helper()
	var buf []byte
	// record: id=400, 0 inputs, kind=Logic(0), params=[AND byte]
	buf = append(buf, encodeRecord(400, nil, byte(KindLogic), []byte{byte(blocks.LogicAND)})...)
	buf = append(buf, encodeRecord(401, []uint16{400}, byte(KindLogic), []byte{byte(blocks.LogicIsTrue)})...)
	return buf
}

func TestLoadConfigRejectsShortBuffer(t *testing.T) {
	ex, _, _ := newTestExecutor()
	_, err := ex.LoadConfig([]byte{0x01})
	assert.ErrorIs(t, err, ErrShortConfig)
}

func TestLoadConfigDecodesTable2D(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 410, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))

	var params []byte
	params = append(params, 2) // n points
	params = append(params, be32(0)...)
	params = append(params, be32(0)...)
	params = append(params, be32(100)...)
	params = append(params, be32(200)...)
	buf := encodeRecord(410, nil, byte(KindTable2D), params)

	n, err := ex.LoadConfig(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 0, reg.GetValue(410), "no inputs resolves to x=0, which maps to y=0 at the first point")
}

func TestLoadConfigDecodesSwitchCase(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 411, Name: "sel", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 412, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.SetValue(411, 7))

	var params []byte
	params = append(params, byte(SwitchCase), 1)
	params = append(params, be32(7)...)   // case value
	params = append(params, be32(99)...)  // output
	params = append(params, be32(-1)...)  // default
	buf := encodeRecord(412, []uint16{411}, byte(KindSwitchCase), params)

	_, err := ex.LoadConfig(buf)
	require.NoError(t, err)
	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 99, reg.GetValue(412))
}

func TestLoadConfigDecodesCounter(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 413, Name: "inc", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 414, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.SetValue(413, 1))

	var params []byte
	params = append(params, be32(0)...)   // min
	params = append(params, be32(10)...)  // max
	params = append(params, be32(1)...)   // step
	params = append(params, be32(0)...)   // initial
	params = append(params, 0x02)         // edge_mode only
	buf := encodeRecord(414, []uint16{413, 0, 0}, byte(KindCounter), params)

	_, err := ex.LoadConfig(buf)
	require.NoError(t, err)
	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 1, reg.GetValue(414))
}

func TestLoadConfigDecodesPID(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 415, Name: "setpoint", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 416, Name: "measurement", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 417, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.SetValue(415, 100))

	var params []byte
	params = append(params, be32(1000)...) // kp
	params = append(params, be32(0)...)    // ki
	params = append(params, be32(0)...)    // kd
	params = append(params, be32(1000)...) // scale
	params = append(params, be32(0)...)    // deadband
	params = append(params, be32(-1000)...) // out_min
	params = append(params, be32(1000)...) // out_max
	params = append(params, be32(0)...)    // integral_min
	params = append(params, be32(0)...)    // integral_max
	params = append(params, 0x00)          // flags
	buf := encodeRecord(417, []uint16{415, 416}, byte(KindPID), params)

	_, err := ex.LoadConfig(buf)
	require.NoError(t, err)
	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 100, reg.GetValue(417), "unity gain, zero measurement, drives error straight through")
}

func TestLoadConfigDecodesSMA(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 418, Name: "raw", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 419, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.SetValue(418, 40))

	params := make([]byte, 2)
	binary.BigEndian.PutUint16(params, 4) // window
	buf := encodeRecord(419, []uint16{418}, byte(KindSMA), params)

	_, err := ex.LoadConfig(buf)
	require.NoError(t, err)
	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 40, reg.GetValue(419), "first sample seeds every slot of the window")
}

func TestLoadConfigDecodesEMA(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 420, Name: "raw", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 421, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.SetValue(420, 60))

	buf := encodeRecord(421, []uint16{420}, byte(KindEMA), []byte{128})

	_, err := ex.LoadConfig(buf)
	require.NoError(t, err)
	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 60, reg.GetValue(421), "first sample initializes the EMA to the sample itself")
}

func TestLoadConfigDecodesHysteresis(t *testing.T) {
	ex, reg, clk := newTestExecutor()
	require.NoError(t, reg.Register(registry.Record{ID: 422, Name: "raw", Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	require.NoError(t, reg.Register(registry.Record{ID: 423, Flags: registry.FlagEnabled, Min: 0, Max: 1}))
	require.NoError(t, reg.SetValue(422, 500))

	var params []byte
	params = append(params, be32(400)...) // th_high
	params = append(params, be32(100)...) // th_low
	params = append(params, 0x00)         // flags: not inverted
	buf := encodeRecord(423, []uint16{422}, byte(KindHysteresis), params)

	_, err := ex.LoadConfig(buf)
	require.NoError(t, err)
	clk.Advance(10)
	ex.Tick()
	assert.EqualValues(t, 1, reg.GetValue(423))
}

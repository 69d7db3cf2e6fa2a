package acquisition

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/fleetwire/pmucore/pkg/registry"
)

type fakeADC struct{ mv map[int]int64 }

func (f *fakeADC) Read(ch int) (physic.ElectricPotential, error) {
	return physic.ElectricPotential(f.mv[ch]) * physic.MilliVolt, nil
}

type fakeDIO struct{ levels map[int]gpio.Level }

func (f *fakeDIO) Read(ch int) (gpio.Level, error) { return f.levels[ch], nil }

func TestActiveHighSwitchDebounces(t *testing.T) {
	reg := registry.New(slog.Default())
	require.NoError(t, reg.Register(registry.Record{ID: 10, Flags: registry.FlagEnabled, Min: 0, Max: 1}))
	adc := &fakeADC{mv: map[int]int64{0: 0}}
	a := New(reg, adc, &fakeDIO{}, slog.Default())
	a.AddAnalogChannel(0, 10, AnalogConfig{Type: InputActiveHigh, ThresholdHighMv: 2000, ThresholdLowMv: 500, DebounceMs: 20, SMAWindow: 1})

	a.Sample(0)
	assert.EqualValues(t, 0, reg.GetValue(10))

	adc.mv[0] = 3000
	a.Sample(5)
	assert.EqualValues(t, 0, reg.GetValue(10), "not yet stable for debounce window")
	a.Sample(30)
	assert.EqualValues(t, 1, reg.GetValue(10))
}

func TestCalibratedChannelInterpolates(t *testing.T) {
	reg := registry.New(slog.Default())
	require.NoError(t, reg.Register(registry.Record{ID: 11, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	adc := &fakeADC{mv: map[int]int64{1: 500}}
	a := New(reg, adc, &fakeDIO{}, slog.Default())
	cal := AnalogConfig{Type: InputCalibrated, SMAWindow: 1}
	cal.Calibration.N = 2
	cal.Calibration.X[0], cal.Calibration.Y[0] = 0, 0
	cal.Calibration.X[1], cal.Calibration.Y[1] = 1000, 100
	a.AddAnalogChannel(1, 11, cal)

	a.Sample(0)
	assert.EqualValues(t, 50, reg.GetValue(11))
}

func TestLinearTwoPointScale(t *testing.T) {
	reg := registry.New(slog.Default())
	require.NoError(t, reg.Register(registry.Record{ID: 12, Flags: registry.FlagEnabled, Min: -1000, Max: 1000}))
	adc := &fakeADC{mv: map[int]int64{2: 2500}}
	a := New(reg, adc, &fakeDIO{}, slog.Default())
	a.AddAnalogChannel(2, 12, AnalogConfig{
		Type: InputLinear, SMAWindow: 1,
		LinearLowMv: 500, LinearHighMv: 4500,
		LinearLowValue: 0, LinearHighValue: 1000,
	})
	a.Sample(0)
	assert.EqualValues(t, 500, reg.GetValue(12))
}

func TestDigitalDebounceHoldsUntilStable(t *testing.T) {
	reg := registry.New(slog.Default())
	require.NoError(t, reg.Register(registry.Record{ID: 50, Flags: registry.FlagEnabled, Min: 0, Max: 1}))
	dio := &fakeDIO{levels: map[int]gpio.Level{0: gpio.Low}}
	a := New(reg, &fakeADC{}, dio, slog.Default())
	a.AddDigitalChannel(0, 50, DigitalConfig{DebounceMs: 50})

	a.Sample(0)
	dio.levels[0] = gpio.High
	a.Sample(10)
	assert.EqualValues(t, 0, reg.GetValue(50))
	a.Sample(70)
	assert.EqualValues(t, 1, reg.GetValue(50))
}

func TestDigitalInvertFlipsLevel(t *testing.T) {
	reg := registry.New(slog.Default())
	require.NoError(t, reg.Register(registry.Record{ID: 51, Flags: registry.FlagEnabled, Min: 0, Max: 1}))
	dio := &fakeDIO{levels: map[int]gpio.Level{0: gpio.High}}
	a := New(reg, &fakeADC{}, dio, slog.Default())
	a.AddDigitalChannel(0, 51, DigitalConfig{DebounceMs: 0, Invert: true})
	a.Sample(0)
	assert.EqualValues(t, 0, reg.GetValue(51))
}

func TestFrequencyCapturePublishesRateAfterWindow(t *testing.T) {
	var s FrequencyState
	c := &FrequencyConfig{WindowMs: 1000, NumberOfTeeth: 1}
	UpdateFrequency(&s, c, false, 0) // opens the window at t=0

	var got int32
	for k := 1; k <= 10; k++ {
		UpdateFrequency(&s, c, true, int32(100*k-50))  // rising edge
		got = UpdateFrequency(&s, c, false, int32(100*k)) // falling edge
	}
	// 10 rising edges over exactly 1000ms, 1 tooth -> 10 Hz -> 10000 milliHz.
	assert.EqualValues(t, 10000, got)
}

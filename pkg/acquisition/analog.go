package acquisition

import "github.com/fleetwire/pmucore/pkg/blocks"

// InputType selects how a raw ADC millivolt sample on channels 0-19 is
// turned into a published channel value (spec §4.D).
type InputType uint8

const (
	InputActiveLow InputType = iota
	InputActiveHigh
	InputRotary
	InputLinear
	InputCalibrated
	InputFrequency
)

// DefaultSMAWindow is the fixed moving-average depth spec §4.D
// mandates between raw ADC read and channel publication.
const DefaultSMAWindow = 8

// AnalogConfig is one ADC channel's processing configuration.
type AnalogConfig struct {
	Type InputType

	// Switch types (ActiveLow/ActiveHigh): threshold hysteresis in mV
	// plus a debounce window.
	ThresholdHighMv int32
	ThresholdLowMv  int32
	DebounceMs      int32

	// Rotary: ascending mV boundaries; position i is selected when the
	// smoothed sample falls in [Boundaries[i], Boundaries[i+1]).
	RotaryBoundariesMv []int32

	// Linear: two-point scale from raw mV to an engineering value.
	LinearLowMv      int32
	LinearHighMv     int32
	LinearLowValue   int32
	LinearHighValue  int32

	// Calibrated: up to 16-point piecewise-linear mV->value table.
	Calibration blocks.Table2DConfig

	// Frequency: the smoothed mV signal is compared against
	// ThresholdHighMv/ThresholdLowMv to synthesize a digital edge,
	// then fed to the same pulse-window capture digital inputs use.
	Frequency FrequencyConfig

	SMAWindow int
}

func (c *AnalogConfig) smaWindow() int {
	if c.SMAWindow <= 0 {
		return DefaultSMAWindow
	}
	return c.SMAWindow
}

// AnalogState is the per-channel runtime state, owned by the caller
// (mirrors the Block Library's Config/State discipline).
type AnalogState struct {
	sma       blocks.SMAState
	debounce  blocks.DebounceState
	freq      FrequencyState
	digitalOn bool
	rotaryPos int32
}

func InitAnalog(s *AnalogState, c *AnalogConfig) {
	*s = AnalogState{}
	blocks.InitSMA(&s.sma, &blocks.SMAConfig{Window: c.smaWindow()})
	blocks.InitDebounce(&s.debounce, &blocks.DebounceConfig{StableMs: c.DebounceMs})
}

// UpdateAnalog runs the full per-tick pipeline for one ADC channel and
// returns the value to publish to its registry channel. rawMv is this
// tick's raw sample; nowMs is the absolute millisecond clock used by
// debounce and frequency timing.
func UpdateAnalog(s *AnalogState, c *AnalogConfig, rawMv int32, nowMs int32) int32 {
	smoothed := blocks.UpdateSMA(&s.sma, &blocks.SMAConfig{Window: c.smaWindow()}, rawMv)

	switch c.Type {
	case InputActiveLow, InputActiveHigh:
		s.digitalOn = switchLevel(s.digitalOn, smoothed, c.ThresholdHighMv, c.ThresholdLowMv)
		level := s.digitalOn
		if c.Type == InputActiveLow {
			level = !level
		}
		debounced := blocks.UpdateDebounce(&s.debounce, &blocks.DebounceConfig{StableMs: c.DebounceMs}, boolToI32(level), nowMs)
		return debounced
	case InputRotary:
		s.rotaryPos = rotaryPosition(smoothed, c.RotaryBoundariesMv)
		return blocks.UpdateDebounce(&s.debounce, &blocks.DebounceConfig{StableMs: c.DebounceMs}, s.rotaryPos, nowMs)
	case InputLinear:
		return linearScale(smoothed, c)
	case InputCalibrated:
		return blocks.LookupTable2D(&c.Calibration, smoothed)
	case InputFrequency:
		edgeHigh := switchLevel(s.digitalOn, smoothed, c.ThresholdHighMv, c.ThresholdLowMv)
		s.digitalOn = edgeHigh
		return UpdateFrequency(&s.freq, &c.Frequency, edgeHigh, nowMs)
	default:
		return smoothed
	}
}

// switchLevel applies threshold hysteresis: once on, stays on until
// the signal drops to or below the low threshold, and vice versa.
func switchLevel(prevOn bool, mv, thHigh, thLow int32) bool {
	switch {
	case mv >= thHigh:
		return true
	case mv <= thLow:
		return false
	default:
		return prevOn
	}
}

func rotaryPosition(mv int32, boundaries []int32) int32 {
	pos := int32(0)
	for i, b := range boundaries {
		if mv >= b {
			pos = int32(i)
		}
	}
	return pos
}

func linearScale(mv int32, c *AnalogConfig) int32 {
	span := int64(c.LinearHighMv) - int64(c.LinearLowMv)
	if span == 0 {
		return c.LinearLowValue
	}
	delta := int64(c.LinearHighValue) - int64(c.LinearLowValue)
	v := int64(c.LinearLowValue) + (int64(mv)-int64(c.LinearLowMv))*delta/span
	return int32(v)
}

func boolToI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

package acquisition

import "github.com/fleetwire/pmucore/pkg/blocks"

// DigitalConfig is one digital input channel's processing
// configuration (spec §4.D, channels 50-69).
type DigitalConfig struct {
	DebounceMs int32
	Invert     bool
	Frequency  FrequencyConfig
	IsFrequency bool
}

type DigitalState struct {
	debounce blocks.DebounceState
	freq     FrequencyState
}

func InitDigital(s *DigitalState, c *DigitalConfig) {
	*s = DigitalState{}
	blocks.InitDebounce(&s.debounce, &blocks.DebounceConfig{StableMs: c.DebounceMs})
}

// UpdateDigital advances one channel's debounce (or frequency/RPM
// capture, when configured) and returns the value to publish.
func UpdateDigital(s *DigitalState, c *DigitalConfig, level bool, nowMs int32) int32 {
	if c.Invert {
		level = !level
	}
	if c.IsFrequency {
		return UpdateFrequency(&s.freq, &c.Frequency, level, nowMs)
	}
	return blocks.UpdateDebounce(&s.debounce, &blocks.DebounceConfig{StableMs: c.DebounceMs, Hysteresis: 0}, boolToI32(level), nowMs)
}

// FrequencyConfig configures an edge-timed frequency/RPM capture
// (spec §4.D "frequency/RPM variants capture rising edges against the
// millisecond clock and publish pulses/(number_of_teeth*window)").
type FrequencyConfig struct {
	WindowMs       int32
	NumberOfTeeth  int32
	// ScaleMilliHzPerPulse, when set, multiplies the raw
	// pulses-per-window-per-tooth rate by this fixed-point factor
	// (x1000) before it's published, so callers can publish RPM
	// instead of raw Hz without a separate Math block.
	ScaleMilliHzPerPulse int32
}

func (c *FrequencyConfig) teeth() int32 {
	if c.NumberOfTeeth <= 0 {
		return 1
	}
	return c.NumberOfTeeth
}

func (c *FrequencyConfig) window() int32 {
	if c.WindowMs <= 0 {
		return 1000
	}
	return c.WindowMs
}

// FrequencyState accumulates edges over a rolling window and
// publishes a rate once the window elapses; between windows it
// republishes the last computed rate.
type FrequencyState struct {
	edge        blocks.EdgeState
	pulses      int32
	windowStart int32
	started     bool
	lastRate    int32
}

// UpdateFrequency counts a rising edge on level and, once WindowMs
// has elapsed since the window opened, computes
// pulses/(teeth*window_seconds) and resets the window.
func UpdateFrequency(s *FrequencyState, c *FrequencyConfig, level bool, nowMs int32) int32 {
	if !s.started {
		s.windowStart = nowMs
		s.started = true
	}
	if blocks.RisingEdge(&s.edge, level) {
		s.pulses++
	}
	elapsed := nowMs - s.windowStart
	if elapsed >= c.window() {
		rateMilliHz := int64(s.pulses) * 1000 * 1000 / (int64(c.teeth()) * int64(elapsed))
		if c.ScaleMilliHzPerPulse != 0 {
			rateMilliHz = rateMilliHz * int64(c.ScaleMilliHzPerPulse) / 1000
		}
		s.lastRate = int32(rateMilliHz)
		s.pulses = 0
		s.windowStart = nowMs
	}
	return s.lastRate
}

package blocks

// MaxFilterWindow bounds the SMA and median filters (spec §4.B:
// "SMA (<=16 samples)", "median (<=16)").
const MaxFilterWindow = 16

func clampWindow(w int) int {
	if w <= 0 {
		return 1
	}
	if w > MaxFilterWindow {
		return MaxFilterWindow
	}
	return w
}

// --- Simple Moving Average -------------------------------------------------

type SMAConfig struct {
	Window int
}

type SMAState struct {
	buf    [MaxFilterWindow]int32
	idx    int
	filled bool
	sum    int64
}

func InitSMA(s *SMAState, c *SMAConfig) { *s = SMAState{} }

// UpdateSMA maintains a running sum over Window samples. The initial
// sample seeds every slot, per spec §4.B, so the filter reads that
// sample's value immediately rather than ramping up from zero.
func UpdateSMA(s *SMAState, c *SMAConfig, sample int32) int32 {
	w := clampWindow(c.Window)
	if !s.filled {
		for i := 0; i < w; i++ {
			s.buf[i] = sample
		}
		s.sum = int64(sample) * int64(w)
		s.idx = 0
		s.filled = true
		return sample
	}
	old := s.buf[s.idx]
	s.buf[s.idx] = sample
	s.sum += int64(sample) - int64(old)
	s.idx++
	if s.idx >= w {
		s.idx = 0
	}
	return int32(s.sum / int64(w))
}

// --- Exponential Moving Average ---------------------------------------------

// EMAConfig holds an 8-bit alpha in [0,255] (spec §4.B).
type EMAConfig struct {
	Alpha uint8
}

type EMAState struct {
	Value       int32
	initialized bool
}

func InitEMA(s *EMAState, c *EMAConfig) { *s = EMAState{} }

func UpdateEMA(s *EMAState, c *EMAConfig, sample int32) int32 {
	if !s.initialized {
		s.Value = sample
		s.initialized = true
		return s.Value
	}
	alpha := int64(c.Alpha)
	s.Value = int32((alpha*int64(sample) + (256-alpha)*int64(s.Value)) / 256)
	return s.Value
}

// --- Low-pass IIR ------------------------------------------------------------

// LowPassConfig holds a time constant in milliseconds.
type LowPassConfig struct {
	TauMs int32
}

type LowPassState struct {
	Value       int32
	initialized bool
}

func InitLowPass(s *LowPassState, c *LowPassConfig) { *s = LowPassState{} }

func UpdateLowPass(s *LowPassState, c *LowPassConfig, sample, dtMs int32) int32 {
	if !s.initialized {
		s.Value = sample
		s.initialized = true
		return s.Value
	}
	denom := int64(c.TauMs) + int64(dtMs)
	if denom <= 0 {
		s.Value = sample
		return s.Value
	}
	delta := int64(sample-s.Value) * int64(dtMs) / denom
	s.Value = saturate64(int64(s.Value) + delta)
	return s.Value
}

// --- Median ------------------------------------------------------------------

type MedianConfig struct {
	Window int
}

type MedianState struct {
	buf   [MaxFilterWindow]int32
	count int
	idx   int
}

func InitMedian(s *MedianState, c *MedianConfig) { *s = MedianState{} }

func UpdateMedian(s *MedianState, c *MedianConfig, sample int32) int32 {
	w := clampWindow(c.Window)
	s.buf[s.idx] = sample
	s.idx++
	if s.idx >= w {
		s.idx = 0
	}
	if s.count < w {
		s.count++
	}
	var sorted [MaxFilterWindow]int32
	copy(sorted[:s.count], s.buf[:s.count])
	window := sorted[:s.count]
	for i := 1; i < len(window); i++ {
		v := window[i]
		j := i - 1
		for j >= 0 && window[j] > v {
			window[j+1] = window[j]
			j--
		}
		window[j+1] = v
	}
	mid := len(window) / 2
	if len(window)%2 == 1 {
		return window[mid]
	}
	return int32((int64(window[mid-1]) + int64(window[mid])) / 2)
}

// --- Rate limiter ------------------------------------------------------------

// RateLimitConfig bounds how fast the output can move, in
// units-per-second.
type RateLimitConfig struct {
	RiseUnitsPerSec int32
	FallUnitsPerSec int32
}

type RateLimitState struct {
	Value       int32
	initialized bool
}

func InitRateLimit(s *RateLimitState, c *RateLimitConfig) { *s = RateLimitState{} }

func UpdateRateLimit(s *RateLimitState, c *RateLimitConfig, target, dtMs int32) int32 {
	if !s.initialized {
		s.Value = target
		s.initialized = true
		return s.Value
	}
	maxDelta := int64(c.RiseUnitsPerSec) * int64(dtMs) / 1000
	minDelta := -int64(c.FallUnitsPerSec) * int64(dtMs) / 1000
	delta := int64(target) - int64(s.Value)
	if delta > maxDelta {
		delta = maxDelta
	}
	if delta < minDelta {
		delta = minDelta
	}
	s.Value = saturate64(int64(s.Value) + delta)
	return s.Value
}

// --- Debounce ----------------------------------------------------------------

// DebounceConfig requires the input to hold within Hysteresis of a
// candidate value for StableMs before it is published.
type DebounceConfig struct {
	StableMs   int32
	Hysteresis int32
}

type DebounceState struct {
	Candidate      int32
	CandidateSince int32
	Published      int32
	initialized    bool
}

func InitDebounce(s *DebounceState, c *DebounceConfig) { *s = DebounceState{} }

// UpdateDebounce advances the debounce state machine given an
// absolute millisecond timestamp nowMs (spec §4.B "input must be
// stable for configured ms; optional hysteresis").
func UpdateDebounce(s *DebounceState, c *DebounceConfig, sample, nowMs int32) int32 {
	if !s.initialized {
		s.Candidate = sample
		s.CandidateSince = nowMs
		s.Published = sample
		s.initialized = true
		return s.Published
	}
	diff := int64(sample) - int64(s.Candidate)
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(c.Hysteresis) {
		s.Candidate = sample
		s.CandidateSince = nowMs
	}
	if nowMs-s.CandidateSince >= c.StableMs {
		s.Published = s.Candidate
	}
	return s.Published
}

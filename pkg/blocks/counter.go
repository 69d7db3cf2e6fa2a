package blocks

// CounterConfig is the immutable configuration of a Counter block
// (spec §4.B "Counter"): {value, min, max, step, wrap?, edge_mode?}.
type CounterConfig struct {
	Min      int32
	Max      int32
	Step     int32
	Initial  int32
	Wrap     bool
	EdgeMode bool
}

// CounterState is the mutable runtime state, owned by the caller.
type CounterState struct {
	Value     int32
	prevInc   bool
	prevDec   bool
	prevReset bool
}

// InitCounter seeds State.Value from Config.Initial, clamped to
// [Min,Max].
func InitCounter(s *CounterState, c *CounterConfig) {
	v, _ := clampI32(c.Initial, c.Min, c.Max)
	s.Value = v
	s.prevInc, s.prevDec, s.prevReset = false, false, false
}

// fires reports whether a trigger input should count this tick: in
// edge mode only a 0->nonzero transition counts; in level mode every
// nonzero sample counts (spec §4.B).
func fires(edgeMode bool, cur int32, prev *bool) bool {
	now := truthy(cur)
	var trigger bool
	if edgeMode {
		trigger = now && !*prev
	} else {
		trigger = now
	}
	*prev = now
	return trigger
}

// UpdateCounter applies one tick's inc/dec/reset triggers and returns
// the new value. Reset takes priority over inc/dec when more than one
// trigger fires the same tick.
func UpdateCounter(s *CounterState, c *CounterConfig, inc, dec, reset int32) int32 {
	resetFired := fires(c.EdgeMode, reset, &s.prevReset)
	incFired := fires(c.EdgeMode, inc, &s.prevInc)
	decFired := fires(c.EdgeMode, dec, &s.prevDec)

	switch {
	case resetFired:
		v, _ := clampI32(c.Initial, c.Min, c.Max)
		s.Value = v
	case incFired:
		s.Value = stepCounter(s.Value, c.Step, c)
	case decFired:
		s.Value = stepCounter(s.Value, -c.Step, c)
	}
	return s.Value
}

func stepCounter(value, delta int32, c *CounterConfig) int32 {
	span := int64(c.Max) - int64(c.Min) + 1
	next := int64(value) + int64(delta)
	if c.Wrap && span > 0 {
		next -= int64(c.Min)
		next %= span
		if next < 0 {
			next += span
		}
		next += int64(c.Min)
		return int32(next)
	}
	v, _ := clampI32(int32(saturate64(next)), c.Min, c.Max)
	return v
}

package blocks

// HysteresisConfig is a simple two-threshold comparator (spec §4.B):
// the output rises when input >= ThHigh and falls when
// input <= ThLow.
type HysteresisConfig struct {
	ThHigh int32
	ThLow  int32
	Invert bool
}

type HysteresisState struct {
	On bool
}

func UpdateHysteresis(s *HysteresisState, c *HysteresisConfig, input int32) bool {
	switch {
	case input >= c.ThHigh:
		s.On = true
	case input <= c.ThLow:
		s.On = false
	}
	out := s.On
	if c.Invert {
		out = !out
	}
	return out
}

// WindowConfig is a window comparator with symmetric hysteresis
// outside [Low,High].
type WindowConfig struct {
	Low, High int32
	Margin    int32
}

type WindowState struct {
	Inside bool
}

// UpdateWindow reports whether input is inside [Low,High], with
// Margin of hysteresis applied once the state transitions outside:
// entering requires crossing [Low,High] directly; leaving requires
// moving Margin past the boundary, so noise at the edge doesn't
// chatter the output.
func UpdateWindow(s *WindowState, c *WindowConfig, input int32) bool {
	if s.Inside {
		if input < c.Low-c.Margin || input > c.High+c.Margin {
			s.Inside = false
		}
	} else {
		if input >= c.Low && input <= c.High {
			s.Inside = true
		}
	}
	return s.Inside
}

// MaxHysteresisLevels bounds the multi-level comparator (spec §4.B:
// "Multi-level (<=8 levels)").
const MaxHysteresisLevels = 8

// Level is one rung of a multi-level hysteresis comparator, each
// carrying its own rising/falling thresholds.
type Level struct {
	ThresholdUp   int32
	ThresholdDown int32
}

type MultiLevelConfig struct {
	Levels [MaxHysteresisLevels]Level
	N      int
}

type MultiLevelState struct {
	Level int
}

// UpdateMultiLevel walks the configured levels and returns the
// current rung index: it climbs one level at a time when input
// crosses that level's ThresholdUp, and descends when input drops
// below the current level's ThresholdDown.
func UpdateMultiLevel(s *MultiLevelState, c *MultiLevelConfig, input int32) int {
	for s.Level < c.N && input >= c.Levels[s.Level].ThresholdUp {
		s.Level++
	}
	for s.Level > 0 && input <= c.Levels[s.Level-1].ThresholdDown {
		s.Level--
	}
	return s.Level
}

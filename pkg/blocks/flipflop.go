package blocks

// SRState is an SR-latch's single bit of state.
type SRState struct {
	Q bool
}

// UpdateSR applies set/reset with documented reset-priority on the
// illegal S=1,R=1 case (spec §4.B and §9 Design Notes).
func UpdateSR(s *SRState, set, reset bool) bool {
	switch {
	case reset:
		s.Q = false
	case set:
		s.Q = true
	}
	return s.Q
}

// DFlipFlopState holds a D-flip-flop's output and its last clock
// level, so the edge can be detected across ticks.
type DFlipFlopState struct {
	Q       bool
	prevClk bool
	hasPrev bool
}

// UpdateDFlipFlop latches D into Q on the clock's rising edge only.
func UpdateDFlipFlop(s *DFlipFlopState, d, clk bool) bool {
	rising := clk && (!s.hasPrev || !s.prevClk)
	if rising {
		s.Q = d
	}
	s.prevClk = clk
	s.hasPrev = true
	return s.Q
}

// DLatchState holds a transparent D-latch's output.
type DLatchState struct {
	Q bool
}

// UpdateDLatch follows D whenever enable is true, and holds otherwise.
func UpdateDLatch(s *DLatchState, d, enable bool) bool {
	if enable {
		s.Q = d
	}
	return s.Q
}

// TFlipFlopState toggles Q on every rising edge of T.
type TFlipFlopState struct {
	Q       bool
	prevT   bool
	hasPrev bool
}

func UpdateTFlipFlop(s *TFlipFlopState, t bool) bool {
	rising := t && (!s.hasPrev || !s.prevT)
	if rising {
		s.Q = !s.Q
	}
	s.prevT = t
	s.hasPrev = true
	return s.Q
}

// JKFlipFlopState implements the classic JK truth table, clocked on
// the rising edge of clk.
type JKFlipFlopState struct {
	Q       bool
	prevClk bool
	hasPrev bool
}

func UpdateJKFlipFlop(s *JKFlipFlopState, j, k, clk bool) bool {
	rising := clk && (!s.hasPrev || !s.prevClk)
	if rising {
		switch {
		case j && k:
			s.Q = !s.Q
		case j:
			s.Q = true
		case k:
			s.Q = false
		}
	}
	s.prevClk = clk
	s.hasPrev = true
	return s.Q
}

// EdgeState tracks one bit of history for the rising/falling/any-edge
// helpers.
type EdgeState struct {
	prev    bool
	hasPrev bool
}

// RisingEdge reports whether cur is a 0->1 transition from the last
// call, updating the one-bit history in place (spec §4.B).
func RisingEdge(s *EdgeState, cur bool) bool {
	edge := cur && s.hasPrev && !s.prev
	s.prev = cur
	s.hasPrev = true
	return edge
}

// FallingEdge reports whether cur is a 1->0 transition.
func FallingEdge(s *EdgeState, cur bool) bool {
	edge := !cur && s.hasPrev && s.prev
	s.prev = cur
	s.hasPrev = true
	return edge
}

// AnyEdge reports whether cur differs from the last call.
func AnyEdge(s *EdgeState, cur bool) bool {
	edge := s.hasPrev && cur != s.prev
	s.prev = cur
	s.hasPrev = true
	return edge
}

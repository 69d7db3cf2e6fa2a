package outputs

// PowerOutputState is one output's mutable runtime state (spec §3:
// "state, measured current/temperature, fault flags bitset, fault
// counter, cumulative on-time").
type PowerOutputState struct {
	State          OutputState
	DutyPermille   int32
	TargetPermille int32

	turnOnAtMs   int64
	wasCommanded bool

	MeasuredCurrentMilliA int32
	MeasuredTempC         int32
	Faults                FaultFlags
	FaultCount            uint32

	retriesRemaining int32
	retryScheduled   bool
	retryAtMs        int64

	CumulativeOnMs int64
	lastTickMs     int64
	tickStarted    bool

	lastSourceUpdateMs int64
	lastTargetSeen     int32
}

// InitPowerOutput resets runtime state to StateOff with a full retry
// budget.
func InitPowerOutput(s *PowerOutputState, c *PowerOutputConfig) {
	*s = PowerOutputState{retriesRemaining: c.RetryCount}
}

// ClearFaults un-latches Fault and restores the retry budget,
// returning the output to StateOff (spec §4.E: "fault is sticky until
// explicit clear").
func ClearFaults(s *PowerOutputState, c *PowerOutputConfig) {
	s.Faults = 0
	s.State = StateOff
	s.retriesRemaining = c.RetryCount
	s.retryScheduled = false
}

// SetTarget updates the commanded duty (0 = off, >0 drives on/PWM),
// in permille (0-1000). nowMs stamps the last time the source value
// actually changed; SignalLoss uses this as a proxy for "the source
// channel stopped updating" (spec §4.E) since the commander is
// invoked every tick regardless of whether the upstream value moved.
func SetTarget(s *PowerOutputState, target int32, nowMs int64) {
	if target != s.lastTargetSeen || !s.tickStarted {
		s.lastSourceUpdateMs = nowMs
	}
	s.lastTargetSeen = target
	s.TargetPermille = target
}

// UpdatePowerOutput runs one tick of the off/on/pwm/fault state
// machine (spec §4.E), reading the measured current from hw and
// driving hw's duty accordingly. nowMs is the absolute millisecond
// clock.
func UpdatePowerOutput(s *PowerOutputState, c *PowerOutputConfig, hw PowerSwitch, nowMs int64) error {
	if s.State == StateFault {
		if !c.RetryForever && s.retriesRemaining <= 0 {
			return hw.SetDuty(0)
		}
		if !s.retryScheduled {
			s.retryScheduled = true
			s.retryAtMs = nowMs + c.retryDelay()
		}
		if nowMs < s.retryAtMs {
			return hw.SetDuty(0)
		}
		if !c.RetryForever {
			if s.retriesRemaining <= 0 {
				return hw.SetDuty(0) // exhausted, stays in fault
			}
			s.retriesRemaining--
		}
		s.State = StateOff
		s.retryScheduled = false
	}

	wantsOn := s.TargetPermille != 0
	if wantsOn && !s.wasCommanded {
		s.turnOnAtMs = nowMs
		if c.PWMEnabled {
			s.State = StatePWM
		} else {
			s.State = StateOn
		}
	} else if !wantsOn {
		s.State = StateOff
		s.DutyPermille = 0
	}
	s.wasCommanded = wantsOn

	if s.State == StateOn || s.State == StatePWM {
		elapsed := nowMs - s.turnOnAtMs
		target := s.TargetPermille
		if !c.PWMEnabled {
			target = 1000
		}
		if c.SoftStartMs > 0 && elapsed < int64(c.SoftStartMs) {
			s.DutyPermille = int32(int64(target) * elapsed / int64(c.SoftStartMs))
		} else {
			s.DutyPermille = target
		}

		current, err := hw.ReadCurrentMilliA()
		if err == nil {
			s.MeasuredCurrentMilliA = current
			limit := c.CurrentLimitMilliA
			if c.InrushTimeMs > 0 && elapsed < int64(c.InrushTimeMs) && c.InrushCurrentMilliA > 0 {
				limit = c.InrushCurrentMilliA
			}
			if limit > 0 && current > limit {
				s.Faults |= FaultOvercurrent
				s.FaultCount++
				s.State = StateFault
				s.DutyPermille = 0
				s.wasCommanded = false // so recovery sees a fresh off->on edge
				return hw.SetDuty(0)
			}
		}
	}

	if temp, err := hw.ReadTempC(); err == nil {
		s.MeasuredTempC = temp
	}

	if s.tickStarted && (s.State == StateOn || s.State == StatePWM) {
		s.CumulativeOnMs += nowMs - s.lastTickMs
	}
	s.lastTickMs = nowMs
	s.tickStarted = true

	return hw.SetDuty(s.DutyPermille)
}

// SignalLoss reports whether the source channel has stopped updating
// for longer than c.SignalTimeoutMs (spec §4.E "signal-loss
// failsafe").
func SignalLoss(s *PowerOutputState, c *PowerOutputConfig, nowMs int64) bool {
	if c.SignalTimeoutMs <= 0 {
		return false
	}
	return nowMs-s.lastSourceUpdateMs > int64(c.SignalTimeoutMs)
}

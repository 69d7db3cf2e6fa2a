package blocks

// PIDConfig holds the fixed-point gains and bounds for a PID block
// (spec §4.B "PID"). Gains are scaled integers: a real gain of 0.5
// with Scale=1000 is encoded as Kp=500.
type PIDConfig struct {
	Kp, Ki, Kd int32
	// Scale is the fixed-point factor gains are expressed in; 0 is
	// treated as the documented default of 1000.
	Scale int32
	// Deadband is subtracted from the error's magnitude before the
	// P/I/D terms see it (spec: "error := error - deadband_clamp(error, deadband)").
	Deadband int32
	OutMin   int32
	OutMax   int32
	// IntegralMin/IntegralMax bound the integrator for anti-windup.
	// Left at (0,0) they default to OutMin/OutMax.
	IntegralMin int32
	IntegralMax int32
	// DOnError switches the derivative term from "on measurement"
	// (the default) to "on error".
	DOnError bool
	// ResetIntegralOnSetpointChange zeroes the integrator whenever
	// the setpoint changes between ticks.
	ResetIntegralOnSetpointChange bool
}

func (c *PIDConfig) scale() int64 {
	if c.Scale == 0 {
		return 1000
	}
	return int64(c.Scale)
}

func (c *PIDConfig) integralBounds() (int32, int32) {
	if c.IntegralMin == 0 && c.IntegralMax == 0 {
		return c.OutMin, c.OutMax
	}
	return c.IntegralMin, c.IntegralMax
}

// PIDState is the mutable runtime state, owned by the caller so the
// same PIDConfig can drive independent controller instances.
type PIDState struct {
	Integrator      int64
	PrevMeasurement int32
	PrevError       int32
	PrevSetpoint    int32
	Output          int32
	initialized     bool
}

// InitPID resets a controller's runtime state; it does not touch
// Config.
func InitPID(s *PIDState, c *PIDConfig) {
	*s = PIDState{}
}

// deadbandClamp returns error clamped to [-deadband,deadband]; the
// caller subtracts this from error so that any error within the
// deadband reads as zero, and any error outside it is shrunk by
// exactly one deadband width.
func deadbandClamp(errorVal, deadband int32) int32 {
	if deadband < 0 {
		deadband = -deadband
	}
	v, _ := clampI32(errorVal, -deadband, deadband)
	return v
}

// UpdatePID runs one controller tick and returns the saturated
// output. dt_ms == 0 is a no-op that returns the prior output (spec
// §4.B).
func UpdatePID(s *PIDState, c *PIDConfig, setpoint, measurement, dtMs int32) int32 {
	if dtMs == 0 {
		return s.Output
	}
	if !s.initialized {
		s.PrevMeasurement = measurement
		s.PrevSetpoint = setpoint
		s.PrevError = setpoint - measurement
		s.initialized = true
	}
	if c.ResetIntegralOnSetpointChange && setpoint != s.PrevSetpoint {
		s.Integrator = 0
	}

	rawError := setpoint - measurement
	effectiveError := rawError - deadbandClamp(rawError, c.Deadband)
	scale := c.scale()

	p := int64(c.Kp) * int64(effectiveError) / scale

	s.Integrator += int64(c.Ki) * int64(effectiveError) * int64(dtMs) / (scale * 1000)
	iMin, iMax := c.integralBounds()
	if s.Integrator > int64(iMax) {
		s.Integrator = int64(iMax)
	}
	if s.Integrator < int64(iMin) {
		s.Integrator = int64(iMin)
	}

	var d int64
	if c.DOnError {
		deltaErr := int64(effectiveError - s.PrevError)
		d = int64(c.Kd) * deltaErr * 1000 / (scale * int64(dtMs))
	} else {
		deltaMeas := int64(measurement - s.PrevMeasurement)
		d = -int64(c.Kd) * deltaMeas * 1000 / (scale * int64(dtMs))
	}

	out := saturate64(p + s.Integrator + d)
	out, _ = clampI32(out, c.OutMin, c.OutMax)

	s.PrevMeasurement = measurement
	s.PrevError = effectiveError
	s.PrevSetpoint = setpoint
	s.Output = out
	return out
}

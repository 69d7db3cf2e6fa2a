package outputs

import "github.com/fleetwire/pmucore/pkg/blocks"

// HBridgeMode selects which pair of switches the bridge drives (spec
// §4.E "H-bridge control").
type HBridgeMode uint8

const (
	ModeCoast HBridgeMode = iota
	ModeForward
	ModeReverse
	ModeBrake
	ModeWiperPark
	ModePIDPosition
)

// PWMSourceMode selects how a requested PWM magnitude/direction is
// derived (spec §3 "H-bridge config").
type PWMSourceMode uint8

const (
	PWMFixed PWMSourceMode = iota
	PWMChannel
	PWMBidirectional // 0-50% -> reverse, 50-100% -> forward
)

// FailsafeAction is what a signal-loss condition forces the bridge
// into.
type FailsafeAction uint8

const (
	FailsafePark FailsafeAction = iota
	FailsafeBrake
	FailsafeCoast
	FailsafeCustomPosition
)

// HBridgeConfig is the H-bridge superset of PowerOutputConfig (spec
// §3).
type HBridgeConfig struct {
	PowerOutputConfig

	// Mode pins this bridge's operating style. Wiper-park and
	// pid-position bridges hold it fixed at configuration time; a
	// plain directional bridge (coast/forward/reverse) leaves Mode at
	// its zero value and instead derives its instantaneous mode each
	// tick from the sign of the commanded value (Driver.Command).
	Mode HBridgeMode

	PositionPark    int32
	PositionDeadband int32

	StallCurrentThresholdMilliA int32
	StallTimeThresholdMs        int32

	SignalLossAction   FailsafeAction
	CustomFailsafePos  int32
	AutoRecovery       bool

	PID blocks.PIDConfig // bounds fixed to [-255,255] by InitHBridge
}

// HBridgePair is the physical low/high switch pair for one side of
// the bridge.
type HBridgePair interface {
	Drive(mode PairMode, dutyPermille int32) error
}

// PairMode is what one half of the bridge is asked to do.
type PairMode uint8

const (
	PairOff PairMode = iota
	PairOn
	PairPWM
)

// HBridgeState is the runtime state of one H-bridge channel.
type HBridgeState struct {
	Mode     HBridgeMode
	Position int32
	Faults   FaultFlags

	stallSinceMs int64
	stallActive  bool

	pidState blocks.PIDState
}

func InitHBridge(s *HBridgeState, c *HBridgeConfig) {
	*s = HBridgeState{}
	c.PID.OutMin, c.PID.OutMax = -255, 255
	blocks.InitPID(&s.pidState, &c.PID)
}

// UpdateHBridge runs one tick of the mode state machine, driving
// pairA/pairB and returning the duty/direction applied. currentMilliA
// is the measured bridge current used for stall detection.
func UpdateHBridge(s *HBridgeState, c *HBridgeConfig, pairA, pairB HBridgePair, currentMilliA, targetPosition int32, dtMs int32, nowMs int64) error {
	if c.StallCurrentThresholdMilliA > 0 && currentMilliA > c.StallCurrentThresholdMilliA {
		if !s.stallActive {
			s.stallActive = true
			s.stallSinceMs = nowMs
		} else if nowMs-s.stallSinceMs >= int64(c.StallTimeThresholdMs) {
			s.Faults |= FaultStall
			s.Mode = ModeCoast
		}
	} else {
		s.stallActive = false
	}

	switch s.Mode {
	case ModeCoast:
		pairA.Drive(PairOff, 0)
		return pairB.Drive(PairOff, 0)
	case ModeForward:
		pairA.Drive(PairPWM, 1000)
		return pairB.Drive(PairOff, 0)
	case ModeReverse:
		pairA.Drive(PairOff, 0)
		return pairB.Drive(PairPWM, 1000)
	case ModeBrake:
		pairA.Drive(PairOn, 1000)
		return pairB.Drive(PairOn, 1000)
	case ModeWiperPark:
		return driveWiperPark(s, c, pairA, pairB)
	case ModePIDPosition:
		out := blocks.UpdatePID(&s.pidState, &c.PID, targetPosition, s.Position, dtMs)
		return driveSigned(pairA, pairB, out)
	default:
		return nil
	}
}

func driveWiperPark(s *HBridgeState, c *HBridgeConfig, pairA, pairB HBridgePair) error {
	delta := c.PositionPark - s.Position
	if delta > -c.PositionDeadband && delta < c.PositionDeadband {
		pairA.Drive(PairOn, 1000)
		return pairB.Drive(PairOn, 1000)
	}
	if delta > 0 {
		pairA.Drive(PairPWM, 1000)
		return pairB.Drive(PairOff, 0)
	}
	pairA.Drive(PairOff, 0)
	return pairB.Drive(PairPWM, 1000)
}

// driveSigned maps a signed PID output in [-255,255] to a
// forward/reverse duty on the appropriate pair, per spec §4.E
// "sign selects direction, magnitude drives PWM".
func driveSigned(pairA, pairB HBridgePair, signed int32) error {
	duty := signed
	if duty < 0 {
		duty = -duty
	}
	permille := duty * 1000 / 255
	if signed >= 0 {
		pairA.Drive(PairPWM, permille)
		return pairB.Drive(PairOff, 0)
	}
	pairA.Drive(PairOff, 0)
	return pairB.Drive(PairPWM, permille)
}

// BidirectionalDuty maps a single 0-100% PWM input to a signed
// forward/reverse command per spec §3's PWMBidirectional mode:
// 0-50% -> reverse, 50-100% -> forward, relative to a 500-permille
// centre.
func BidirectionalDuty(permille int32) (forward bool, magnitudePermille int32) {
	if permille >= 500 {
		return true, (permille - 500) * 2
	}
	return false, (500 - permille) * 2
}

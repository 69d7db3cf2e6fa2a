package outputs

// OutputState is the high-side switch lifecycle (spec §4.E: "off ->
// on -> pwm -> fault; fault is sticky until explicit clear").
type OutputState uint8

const (
	StateOff OutputState = iota
	StateOn
	StatePWM
	StateFault
)

func (s OutputState) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOn:
		return "on"
	case StatePWM:
		return "pwm"
	case StateFault:
		return "fault"
	default:
		return "unknown"
	}
}

// FaultFlags is a bitset of the reasons an output is latched in Fault.
type FaultFlags uint8

const (
	FaultOvercurrent FaultFlags = 1 << iota
	FaultStall
	FaultSignalLoss
	FaultShort
)

func (f FaultFlags) Has(flag FaultFlags) bool { return f&flag != 0 }

// DefaultRetryDelayMs is the implementation-defined retry delay spec
// §4.E pins at "default 100 ms" in the absence of a vehicle-specific
// value (see DESIGN.md Open Question decisions).
const DefaultRetryDelayMs = 100

// PowerOutputConfig is one high-side output's static configuration
// (spec §3 "Power-output config").
type PowerOutputConfig struct {
	PWMEnabled  bool
	SoftStartMs int32

	CurrentLimitMilliA  int32
	InrushCurrentMilliA int32
	InrushTimeMs        int32

	RetryCount   int32
	RetryForever bool
	RetryDelayMs int32

	SignalTimeoutMs int32
}

func (c *PowerOutputConfig) retryDelay() int64 {
	if c.RetryDelayMs <= 0 {
		return DefaultRetryDelayMs
	}
	return int64(c.RetryDelayMs)
}

// PowerSwitch is the hardware backend for one output: drive a duty
// cycle and read back its measured current/temperature. A real board
// implements this over periph.io gpio.PinOut + PWM; tests use a fake.
type PowerSwitch interface {
	SetDuty(permille int32) error
	ReadCurrentMilliA() (int32, error)
	ReadTempC() (int32, error)
}

// CurrentSource reads one H-bridge's measured drive current, for
// stall detection (spec §4.E "Stall detection").
type CurrentSource interface {
	ReadCurrentMilliA() (int32, error)
}

// PositionSource reads one H-bridge's feedback position (e.g. a
// potentiometer on the wiper shaft, behind an ADC channel), for
// wiper-park and pid-position modes.
type PositionSource interface {
	ReadPosition() (int32, error)
}

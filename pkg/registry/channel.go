package registry

// ChannelID is the stable 16-bit identifier shared by the device and
// the host tool (spec §3). Ranges are fixed so both sides agree on a
// channel's kind without any translation table.
type ChannelID uint16

// Unbound is the sentinel reference: reading it always returns 0 and
// never faults.
const Unbound ChannelID = 0

// Kind classifies a channel by the range its id falls into.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAnalogInput
	KindDigitalInput
	KindPowerOutput
	KindHBridge
	KindCANRxSignal
	KindCANTxSignal
	KindLogicBlock
	KindMathBlock
	KindTimer
	KindFilter
	KindSwitch
	KindPID
	KindUserDefined
)

func (k Kind) String() string {
	switch k {
	case KindAnalogInput:
		return "analog_input"
	case KindDigitalInput:
		return "digital_input"
	case KindPowerOutput:
		return "power_output"
	case KindHBridge:
		return "hbridge"
	case KindCANRxSignal:
		return "can_rx_signal"
	case KindCANTxSignal:
		return "can_tx_signal"
	case KindLogicBlock:
		return "logic_block"
	case KindMathBlock:
		return "math_block"
	case KindTimer:
		return "timer"
	case KindFilter:
		return "filter"
	case KindSwitch:
		return "switch"
	case KindPID:
		return "pid"
	case KindUserDefined:
		return "user_defined"
	default:
		return "unknown"
	}
}

// idRange is one row of the table in spec §3.
type idRange struct {
	lo, hi ChannelID
	kind   Kind
}

var idRanges = []idRange{
	{0, 19, KindAnalogInput},
	{50, 69, KindDigitalInput},
	{100, 129, KindPowerOutput},
	{130, 133, KindHBridge},
	{200, 299, KindCANRxSignal},
	{300, 399, KindCANTxSignal},
	{400, 499, KindLogicBlock},
	{500, 599, KindMathBlock},
	{600, 699, KindTimer},
	{700, 799, KindFilter},
	{800, 899, KindSwitch},
	{900, 915, KindPID},
	{1000, 65535, KindUserDefined},
}

// KindOf returns the channel kind implied by an id's range, per the
// fixed table in spec §3. Channel 0 (Unbound) has no kind.
func KindOf(id ChannelID) Kind {
	if id == Unbound {
		return KindUnknown
	}
	for _, r := range idRanges {
		if id >= r.lo && id <= r.hi {
			return r.kind
		}
	}
	return KindUnknown
}

// InRange reports whether id falls inside any defined range. The
// unbound sentinel has no kind, so InRange reports false for it.
func InRange(id ChannelID) bool {
	return KindOf(id) != KindUnknown
}

// Direction is the data-flow direction of a channel.
type Direction uint8

const (
	DirInput Direction = iota
	DirOutput
	DirBidir
)

// Format is the declared interpretation of a channel's raw int32
// value (spec §3: "value is always integer; fractional quantities use
// a declared scale").
type Format uint8

const (
	FormatRaw Format = iota
	FormatPercent
	FormatMillivolt
	FormatMilliamp
	FormatBool
	FormatEnum
	FormatSigned
)

// Flags holds the per-channel bit flags from spec §3.
type Flags uint8

const (
	FlagEnabled Flags = 1 << iota
	FlagInverted
	FlagFault
	FlagOverride
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Record is one channel entry: {kind, direction, format, value,
// flags, metadata} per spec §3's channel record.
type Record struct {
	ID        ChannelID
	Kind      Kind
	Direction Direction
	Format    Format
	Value     int32
	Min       int32
	Max       int32
	Flags     Flags
	Name      string
	Unit      string

	// FaultOnClamp, when set, latches FlagFault the first time a
	// SetValue call saturates against Min/Max, per spec §4.A
	// "Fault writes do not alter value; they set flags".
	FaultOnClamp bool
}

// clamp saturates v into [min,max] and reports whether clamping
// changed the value.
func clamp(v, min, max int32) (int32, bool) {
	if v < min {
		return min, true
	}
	if v > max {
		return max, true
	}
	return v, false
}

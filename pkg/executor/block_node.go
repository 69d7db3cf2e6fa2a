package executor

import "github.com/fleetwire/pmucore/pkg/blocks"

// Block is one evaluable node in the channel graph (spec §4.B: "every
// executable block owns a configuration ... plus a runtime state").
// Eval pulls already-resolved input values and the tick's dt and
// returns the value to publish back to the registry.
type Block interface {
	Eval(dtMs int32, inputs []int32) int32
}

func in(inputs []int32, i int) int32 {
	if i < len(inputs) {
		return inputs[i]
	}
	return 0
}

func inBool(inputs []int32, i int) bool {
	return in(inputs, i) != 0
}

// --- Logic / Math ------------------------------------------------------------

type LogicBlock struct{ Op blocks.LogicOp }

func (b *LogicBlock) Eval(_ int32, inputs []int32) int32 { return blocks.EvaluateLogic(b.Op, inputs) }

type MathBlock struct{ Op blocks.MathOp }

func (b *MathBlock) Eval(_ int32, inputs []int32) int32 { return blocks.EvaluateMath(b.Op, inputs) }

// --- Tables --------------------------------------------------------------

type Table2DBlock struct{ Cfg blocks.Table2DConfig }

func (b *Table2DBlock) Eval(_ int32, inputs []int32) int32 {
	return blocks.LookupTable2D(&b.Cfg, in(inputs, 0))
}

type Table3DBlock struct{ Cfg blocks.Table3DConfig }

func (b *Table3DBlock) Eval(_ int32, inputs []int32) int32 {
	return blocks.LookupTable3D(&b.Cfg, in(inputs, 0), in(inputs, 1))
}

// --- Switch ----------------------------------------------------------------

type SwitchKind uint8

const (
	SwitchSelect SwitchKind = iota
	SwitchCase
	SwitchRangeCase
	SwitchMux
	SwitchPriority
	SwitchTernary
)

// SwitchBlock covers every Switch variant in spec §4.B. Cases/
// Outputs/Thresholds are used depending on Kind; Default is the
// fallback for Case/RangeCase/Mux.
type SwitchBlock struct {
	Kind       SwitchKind
	Cases      []int32
	Outputs    []int32
	Thresholds []int32
	Default    int32
}

func (b *SwitchBlock) Eval(_ int32, inputs []int32) int32 {
	switch b.Kind {
	case SwitchSelect:
		return blocks.Select(inputs, in(inputs, len(inputs)-1))
	case SwitchCase:
		return blocks.Case(in(inputs, 0), b.Cases, b.Outputs, b.Default)
	case SwitchRangeCase:
		return blocks.RangeCase(in(inputs, 0), b.Thresholds, b.Outputs, b.Default)
	case SwitchMux:
		return blocks.Mux(inputs, b.Outputs, b.Default)
	case SwitchPriority:
		return blocks.Priority(inputs)
	case SwitchTernary:
		return blocks.Ternary(in(inputs, 0), in(inputs, 1), in(inputs, 2))
	default:
		return 0
	}
}

// --- Counter -----------------------------------------------------------------

type CounterBlock struct {
	Cfg blocks.CounterConfig
	St  blocks.CounterState
}

func NewCounterBlock(cfg blocks.CounterConfig) *CounterBlock {
	b := &CounterBlock{Cfg: cfg}
	blocks.InitCounter(&b.St, &b.Cfg)
	return b
}

// Eval expects inputs[0]=inc, inputs[1]=dec, inputs[2]=reset.
func (b *CounterBlock) Eval(_ int32, inputs []int32) int32 {
	return blocks.UpdateCounter(&b.St, &b.Cfg, in(inputs, 0), in(inputs, 1), in(inputs, 2))
}

// --- PID ---------------------------------------------------------------------

type PIDBlock struct {
	Cfg blocks.PIDConfig
	St  blocks.PIDState
}

func NewPIDBlock(cfg blocks.PIDConfig) *PIDBlock {
	b := &PIDBlock{Cfg: cfg}
	blocks.InitPID(&b.St, &b.Cfg)
	return b
}

// Eval expects inputs[0]=setpoint, inputs[1]=measurement.
func (b *PIDBlock) Eval(dtMs int32, inputs []int32) int32 {
	return blocks.UpdatePID(&b.St, &b.Cfg, in(inputs, 0), in(inputs, 1), dtMs)
}

// --- Filters -------------------------------------------------------------

type SMABlock struct {
	Cfg blocks.SMAConfig
	St  blocks.SMAState
}

func (b *SMABlock) Eval(_ int32, inputs []int32) int32 { return blocks.UpdateSMA(&b.St, &b.Cfg, in(inputs, 0)) }

type EMABlock struct {
	Cfg blocks.EMAConfig
	St  blocks.EMAState
}

func (b *EMABlock) Eval(_ int32, inputs []int32) int32 { return blocks.UpdateEMA(&b.St, &b.Cfg, in(inputs, 0)) }

type LowPassBlock struct {
	Cfg blocks.LowPassConfig
	St  blocks.LowPassState
}

func (b *LowPassBlock) Eval(dtMs int32, inputs []int32) int32 {
	return blocks.UpdateLowPass(&b.St, &b.Cfg, in(inputs, 0), dtMs)
}

type MedianBlock struct {
	Cfg blocks.MedianConfig
	St  blocks.MedianState
}

func (b *MedianBlock) Eval(_ int32, inputs []int32) int32 {
	return blocks.UpdateMedian(&b.St, &b.Cfg, in(inputs, 0))
}

type RateLimitBlock struct {
	Cfg blocks.RateLimitConfig
	St  blocks.RateLimitState
}

func (b *RateLimitBlock) Eval(dtMs int32, inputs []int32) int32 {
	return blocks.UpdateRateLimit(&b.St, &b.Cfg, in(inputs, 0), dtMs)
}

type DebounceBlock struct {
	Cfg  blocks.DebounceConfig
	St   blocks.DebounceState
	Now  func() int32
}

func (b *DebounceBlock) Eval(_ int32, inputs []int32) int32 {
	return blocks.UpdateDebounce(&b.St, &b.Cfg, in(inputs, 0), b.Now())
}

// --- Flip-flops / hysteresis -----------------------------------------------

type SRLatchBlock struct{ St blocks.SRState }

func (b *SRLatchBlock) Eval(_ int32, inputs []int32) int32 {
	return boolInt(blocks.UpdateSR(&b.St, inBool(inputs, 0), inBool(inputs, 1)))
}

type DFlipFlopBlock struct{ St blocks.DFlipFlopState }

func (b *DFlipFlopBlock) Eval(_ int32, inputs []int32) int32 {
	return boolInt(blocks.UpdateDFlipFlop(&b.St, inBool(inputs, 0), inBool(inputs, 1)))
}

type TFlipFlopBlock struct{ St blocks.TFlipFlopState }

func (b *TFlipFlopBlock) Eval(_ int32, inputs []int32) int32 {
	return boolInt(blocks.UpdateTFlipFlop(&b.St, inBool(inputs, 0)))
}

type JKFlipFlopBlock struct{ St blocks.JKFlipFlopState }

func (b *JKFlipFlopBlock) Eval(_ int32, inputs []int32) int32 {
	return boolInt(blocks.UpdateJKFlipFlop(&b.St, inBool(inputs, 0), inBool(inputs, 1), inBool(inputs, 2)))
}

type HysteresisBlock struct {
	Cfg blocks.HysteresisConfig
	St  blocks.HysteresisState
}

func (b *HysteresisBlock) Eval(_ int32, inputs []int32) int32 {
	return boolInt(blocks.UpdateHysteresis(&b.St, &b.Cfg, in(inputs, 0)))
}

type MultiLevelBlock struct {
	Cfg blocks.MultiLevelConfig
	St  blocks.MultiLevelState
}

func (b *MultiLevelBlock) Eval(_ int32, inputs []int32) int32 {
	return int32(blocks.UpdateMultiLevel(&b.St, &b.Cfg, in(inputs, 0)))
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

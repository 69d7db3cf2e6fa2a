package blocks

// LogicOp identifies a logic block's operation (spec §4.B "Logic").
type LogicOp uint8

const (
	LogicAND LogicOp = iota
	LogicOR
	LogicXOR
	LogicNAND
	LogicNOR
	LogicIsTrue
	LogicIsFalse
	LogicGT
	LogicGTE
	LogicLT
	LogicLTE
	LogicEQ
	LogicNEQ
	LogicInRange
	LogicOutsideRange
)

func truthy(v int32) bool { return v != 0 }

func boolToI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// EvaluateLogic dispatches a logic operation over inputs, returning
// 0/1. AND/OR/XOR/NAND/NOR operate over N inputs;
// IS_TRUE/IS_FALSE take one input; the comparisons take two; the
// range checks take three (value, low, high). Inputs beyond what an
// operation needs are ignored; this never panics regardless of count.
func EvaluateLogic(op LogicOp, inputs []int32) int32 {
	n := func(i int) int32 {
		if i < len(inputs) {
			return inputs[i]
		}
		return 0
	}
	switch op {
	case LogicAND:
		if len(inputs) == 0 {
			return 0
		}
		for _, v := range inputs {
			if !truthy(v) {
				return 0
			}
		}
		return 1
	case LogicOR:
		for _, v := range inputs {
			if truthy(v) {
				return 1
			}
		}
		return 0
	case LogicXOR:
		count := 0
		for _, v := range inputs {
			if truthy(v) {
				count++
			}
		}
		return boolToI32(count%2 == 1)
	case LogicNAND:
		return boolToI32(EvaluateLogic(LogicAND, inputs) == 0)
	case LogicNOR:
		return boolToI32(EvaluateLogic(LogicOR, inputs) == 0)
	case LogicIsTrue:
		return boolToI32(truthy(n(0)))
	case LogicIsFalse:
		return boolToI32(!truthy(n(0)))
	case LogicGT:
		return boolToI32(n(0) > n(1))
	case LogicGTE:
		return boolToI32(n(0) >= n(1))
	case LogicLT:
		return boolToI32(n(0) < n(1))
	case LogicLTE:
		return boolToI32(n(0) <= n(1))
	case LogicEQ:
		return boolToI32(n(0) == n(1))
	case LogicNEQ:
		return boolToI32(n(0) != n(1))
	case LogicInRange:
		return boolToI32(n(0) >= n(1) && n(0) <= n(2))
	case LogicOutsideRange:
		return boolToI32(n(0) < n(1) || n(0) > n(2))
	default:
		return 0
	}
}

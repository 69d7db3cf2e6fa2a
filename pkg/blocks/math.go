package blocks

// MathOp identifies a math block's operation (spec §4.B "Math").
type MathOp uint8

const (
	MathADD MathOp = iota
	MathSUB
	MathMUL
	MathDIV
	MathMOD
	MathABS
	MathNEG
	MathMIN
	MathMAX
	MathAVG
	MathCLAMP
	MathMAP
	MathSCALE
	MathLERP
)

func saturate64(v int64) int32 {
	if v > 2147483647 {
		return 2147483647
	}
	if v < -2147483648 {
		return -2147483648
	}
	return int32(v)
}

// EvaluateMath dispatches a math operation. ADD/SUB/MUL/MIN/MAX/AVG
// take N inputs; DIV/MOD take two and are safe (return 0 rather than
// trap on divide-by-zero); ABS/NEG take one; CLAMP takes
// (value,min,max); MAP takes (v,in_lo,in_hi,out_lo,out_hi); SCALE
// takes (v,mul,scale); LERP takes (a,b,t) with t in [0,1000].
func EvaluateMath(op MathOp, inputs []int32) int32 {
	n := func(i int) int32 {
		if i < len(inputs) {
			return inputs[i]
		}
		return 0
	}
	switch op {
	case MathADD:
		var sum int64
		for _, v := range inputs {
			sum += int64(v)
		}
		return saturate64(sum)
	case MathSUB:
		return saturate64(int64(n(0)) - int64(n(1)))
	case MathMUL:
		if len(inputs) == 0 {
			return 0
		}
		product := int64(inputs[0])
		for _, v := range inputs[1:] {
			product *= int64(v)
			product = int64(saturate64(product))
		}
		return saturate64(product)
	case MathDIV:
		if n(1) == 0 {
			return 0
		}
		return saturate64(int64(n(0)) / int64(n(1)))
	case MathMOD:
		if n(1) == 0 {
			return 0
		}
		return n(0) % n(1)
	case MathABS:
		v := int64(n(0))
		if v < 0 {
			v = -v
		}
		return saturate64(v)
	case MathNEG:
		return saturate64(-int64(n(0)))
	case MathMIN:
		return reduceMinMax(inputs, true)
	case MathMAX:
		return reduceMinMax(inputs, false)
	case MathAVG:
		if len(inputs) == 0 {
			return 0
		}
		var sum int64
		for _, v := range inputs {
			sum += int64(v)
		}
		return saturate64(sum / int64(len(inputs)))
	case MathCLAMP:
		v, lo, hi := n(0), n(1), n(2)
		clamped, _ := clampI32(v, lo, hi)
		return clamped
	case MathMAP:
		return mapRange(n(0), n(1), n(2), n(3), n(4))
	case MathSCALE:
		v, mul, scale := n(0), n(1), n(2)
		if scale == 0 {
			return 0
		}
		return saturate64(int64(v) * int64(mul) / int64(scale))
	case MathLERP:
		a, b, t := n(0), n(1), n(2)
		if t < 0 {
			t = 0
		}
		if t > 1000 {
			t = 1000
		}
		delta := int64(b) - int64(a)
		return saturate64(int64(a) + delta*int64(t)/1000)
	default:
		return 0
	}
}

func reduceMinMax(inputs []int32, wantMin bool) int32 {
	if len(inputs) == 0 {
		return 0
	}
	best := inputs[0]
	for _, v := range inputs[1:] {
		if (wantMin && v < best) || (!wantMin && v > best) {
			best = v
		}
	}
	return best
}

func clampI32(v, lo, hi int32) (int32, bool) {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}

// mapRange re-maps v from [inLo,inHi] to [outLo,outHi] using a 64-bit
// intermediate to avoid overflow (spec §4.B "MAP ... via 64-bit
// intermediate"). A degenerate zero-width input range maps everything
// to outLo.
func mapRange(v, inLo, inHi, outLo, outHi int32) int32 {
	span := int64(inHi) - int64(inLo)
	if span == 0 {
		return outLo
	}
	scaled := (int64(v) - int64(inLo)) * (int64(outHi) - int64(outLo)) / span
	return saturate64(scaled + int64(outLo))
}

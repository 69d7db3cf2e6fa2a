package blocks

// Select clamps index into [0,count) and returns values[index]. An
// empty slice returns 0 rather than panicking.
func Select(values []int32, index int32) int32 {
	if len(values) == 0 {
		return 0
	}
	if index < 0 {
		index = 0
	}
	if int(index) >= len(values) {
		index = int32(len(values) - 1)
	}
	return values[index]
}

// Case returns the output paired with the first case value equal to
// input, or def if none match.
func Case(input int32, cases, outputs []int32, def int32) int32 {
	for i, c := range cases {
		if c == input && i < len(outputs) {
			return outputs[i]
		}
	}
	return def
}

// RangeCase picks the output of the last threshold not exceeding
// input. thresholds must be sorted ascending; if input is below every
// threshold, def is returned.
func RangeCase(input int32, thresholds, outputs []int32, def int32) int32 {
	result := def
	for i, th := range thresholds {
		if input >= th && i < len(outputs) {
			result = outputs[i]
		}
	}
	return result
}

// Mux returns the output paired with the first true condition, or def
// if every condition is false.
func Mux(conds, outputs []int32, def int32) int32 {
	for i, c := range conds {
		if truthy(c) && i < len(outputs) {
			return outputs[i]
		}
	}
	return def
}

// Priority returns the index of the first truthy input, or -1 if none
// are true.
func Priority(inputs []int32) int32 {
	for i, v := range inputs {
		if truthy(v) {
			return int32(i)
		}
	}
	return -1
}

// Ternary returns a if cond is truthy, else b.
func Ternary(cond, a, b int32) int32 {
	if truthy(cond) {
		return a
	}
	return b
}

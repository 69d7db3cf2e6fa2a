// Package blocks implements the pure computational units evaluated by
// the Channel Executor (spec §4.B): logic, math, lookup tables,
// switching, counters, PID, filters, flip-flops and hysteresis.
//
// None of the teacher's CANopen stack has a direct analogue for this
// component — PDO mapping moves bytes, it never computes with them —
// so these blocks are grounded instead on the teacher's own
// discipline of keeping configuration and runtime state in separate,
// caller-owned structs (see od.Variable's split of static EDS-derived
// attributes from the live Stream state), generalized to the
// "Config immutable, State mutable, no globals, no allocation on the
// hot path" contract spec §4.B requires. Every block is a pure
// function over (State, Config, inputs, dt) -> output; callers own
// the State and may run the exact same block on-device or in a
// desktop simulation, per spec §9's "Pure blocks + external state"
// design note.
package blocks

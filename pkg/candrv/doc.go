// Package candrv implements the CAN/LIN two-level codec (spec §4.F,
// Component F): Level-1 frame objects own wire identity and receive
// buffer lifetime, Level-2 signal channels extract or pack values
// over a frame's buffer with scaling and timeout policy.
//
// Frame objects live in an arena indexed by a (slot, generation)
// handle rather than a pointer, so that a config clear can invalidate
// every outstanding signal-channel reference in one step without
// leaving a dangling pointer behind (spec §9 redesign note on
// PMU_CAN_Input_t.message_ptr).
package candrv

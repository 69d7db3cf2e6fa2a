package candrv

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleHandle is returned when a FrameHandle's generation no
	// longer matches the arena slot it names (the frame was removed
	// or the whole arena was cleared since the handle was resolved).
	ErrStaleHandle = errors.New("candrv: stale frame handle")
	ErrFrameExists = errors.New("candrv: frame already registered")
)

// MessageType distinguishes a plain single-frame message from a
// compound message spanning up to 8 CAN frames demultiplexed by a
// first-byte index, and the PMU RX variants (spec §3 "CAN frame
// object").
type MessageType uint8

const (
	MessageNormal MessageType = iota
	MessageCompound
	MessagePMU1RX
	MessagePMU2RX
	MessagePMU3RX
)

const maxCompoundFrames = 8

// FrameHandle addresses a live frame object by arena slot and
// generation rather than by pointer (spec §9): once Arena.Remove or
// Arena.Clear bumps a slot's generation, every handle minted before
// that point fails to resolve instead of aliasing whatever now
// occupies the slot.
type FrameHandle struct {
	Slot       uint16
	Generation uint32
}

// FrameObject is a Level-1 CAN frame: wire identity plus the most
// recently received payload (spec §3 "CAN frame object (Level-1)").
type FrameObject struct {
	Name     string
	Bus      int
	BaseID   uint32
	Extended bool
	Type     MessageType
	DLC      uint8
	TimeoutMs int32

	lastRxTick       int64
	timeoutFlag      bool
	rxBuffer         [maxCompoundFrames][8]byte
	compoundFrameIdx int
	rxCount          uint32
	haveRx           bool
}

// TimedOut reports the frame's last-computed timeout flag (spec §4.F
// "timeout policy"); it is updated by Codec's periodic timeout pass,
// not recomputed on read.
func (f *FrameObject) TimedOut() bool { return f.timeoutFlag }

// LastRxTick is the tick count (or ms, per the clock driving the
// codec) of the most recent matching received frame.
func (f *FrameObject) LastRxTick() int64 { return f.lastRxTick }

// RxCount is the number of frames received into this object since it
// was created or last cleared.
func (f *FrameObject) RxCount() uint32 { return f.rxCount }

type frameKey struct {
	bus      int
	id       uint32
	extended bool
}

type arenaSlot struct {
	obj        FrameObject
	generation uint32
	live       bool
}

// Arena owns every live FrameObject. Handles minted by Add are only
// valid until the frame table is cleared or the specific frame
// removed.
type Arena struct {
	slots []arenaSlot
	free  []uint16
	byKey map[frameKey]uint16
}

func NewArena() *Arena {
	return &Arena{byKey: make(map[frameKey]uint16)}
}

// Add registers a new frame object and returns a handle to it.
// ErrFrameExists is returned if a live object already occupies the
// same (bus, id, extended) wire identity.
func (a *Arena) Add(obj FrameObject) (FrameHandle, error) {
	key := frameKey{bus: obj.Bus, id: obj.BaseID, extended: obj.Extended}
	if _, exists := a.byKey[key]; exists {
		return FrameHandle{}, fmt.Errorf("%w: bus %d id %#x", ErrFrameExists, obj.Bus, obj.BaseID)
	}

	var slot uint16
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
		gen := a.slots[slot].generation
		a.slots[slot] = arenaSlot{obj: obj, generation: gen, live: true}
	} else {
		slot = uint16(len(a.slots))
		a.slots = append(a.slots, arenaSlot{obj: obj, live: true})
	}
	a.byKey[key] = slot
	return FrameHandle{Slot: slot, Generation: a.slots[slot].generation}, nil
}

// Resolve returns the live object named by h, or ErrStaleHandle if
// the slot has since been removed, cleared, or reused.
func (a *Arena) Resolve(h FrameHandle) (*FrameObject, error) {
	if int(h.Slot) >= len(a.slots) {
		return nil, ErrStaleHandle
	}
	s := &a.slots[h.Slot]
	if !s.live || s.generation != h.Generation {
		return nil, ErrStaleHandle
	}
	return &s.obj, nil
}

// Lookup finds the live frame matching a received frame's wire
// identity, for use by Codec.HandleRX.
func (a *Arena) Lookup(bus int, id uint32, extended bool) (FrameHandle, bool) {
	slot, ok := a.byKey[frameKey{bus: bus, id: id, extended: extended}]
	if !ok {
		return FrameHandle{}, false
	}
	return FrameHandle{Slot: slot, Generation: a.slots[slot].generation}, true
}

// Remove destroys one frame object, invalidating its handle.
func (a *Arena) Remove(h FrameHandle) error {
	obj, err := a.Resolve(h)
	if err != nil {
		return err
	}
	key := frameKey{bus: obj.Bus, id: obj.BaseID, extended: obj.Extended}
	delete(a.byKey, key)
	a.slots[h.Slot].live = false
	a.slots[h.Slot].generation++
	a.slots[h.Slot].obj = FrameObject{}
	a.free = append(a.free, h.Slot)
	return nil
}

// Clear destroys every frame object and invalidates every handle ever
// issued, matching spec §3's "destroyed on config clear" lifecycle.
func (a *Arena) Clear() {
	for i := range a.slots {
		a.slots[i].live = false
		a.slots[i].generation++
		a.slots[i].obj = FrameObject{}
	}
	a.free = a.free[:0]
	for i := range a.slots {
		a.free = append(a.free, uint16(i))
	}
	a.byKey = make(map[frameKey]uint16)
}

// Len reports the number of live frame objects.
func (a *Arena) Len() int { return len(a.byKey) }

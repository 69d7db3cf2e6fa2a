// Package registry implements the Channel Registry (spec §4.A): the
// single shared store mapping every stable 16-bit channel id to its
// current value, bounds and flags. It is the one piece of state the
// Channel Executor, Acquisition Drivers, Output Drivers, CAN/LIN Codec
// and Protection Supervisor all read and write every tick.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	ErrDuplicateID = errors.New("registry: channel id already registered")
	ErrOutOfRange  = errors.New("registry: channel id outside any defined range")
	ErrNotFound    = errors.New("registry: channel id not registered")
	ErrDisabled    = errors.New("registry: channel is disabled")
)

// Registry is the channel store. Per spec §5 it is accessed from a
// single scheduling thread in normal operation; the mutex exists only
// to make the simulator/host-tooling build (which may poll the
// registry from a separate goroutine) safe, not to serialize the
// tick-driven hot path.
type Registry struct {
	mu      sync.RWMutex
	entries map[ChannelID]*Record
	// names maps a channel name to the first-registered id bearing
	// that name; duplicate names are allowed and FindByName always
	// resolves to the first match (spec §4.C tie-break rule).
	names  map[string]ChannelID
	logger *slog.Logger
}

// New creates an empty registry and pre-registers the system channels
// spec §4.A requires to exist at init: battery voltage, total current,
// MCU temperature, board temperature and uptime-seconds, all in the
// 1000-1023 system-id band carved out of the user-defined range.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		entries: make(map[ChannelID]*Record),
		names:   make(map[string]ChannelID),
		logger:  logger,
	}
	r.registerSystemChannels()
	return r
}

// System channel ids, stable across the fleet so host tooling can
// reference them without a lookup.
const (
	SysBatteryVoltageMv ChannelID = 1000
	SysTotalCurrentMa   ChannelID = 1001
	SysMcuTempC         ChannelID = 1002
	SysBoardTempC       ChannelID = 1003
	SysUptimeSeconds    ChannelID = 1004
	// SysStatusLED publishes the pkg/core status LED encoding (spec §7)
	// so a board-specific collaborator can drive the physical pin
	// without pkg/core knowing anything about GPIO.
	SysStatusLED ChannelID = 1005
)

func (r *Registry) registerSystemChannels() {
	sys := []Record{
		{ID: SysBatteryVoltageMv, Kind: KindUserDefined, Direction: DirInput, Format: FormatMillivolt, Min: 0, Max: 32000, Flags: FlagEnabled, Name: "battery_voltage_mv", Unit: "mV"},
		{ID: SysTotalCurrentMa, Kind: KindUserDefined, Direction: DirInput, Format: FormatMilliamp, Min: 0, Max: 500000, Flags: FlagEnabled, Name: "total_current_ma", Unit: "mA"},
		{ID: SysMcuTempC, Kind: KindUserDefined, Direction: DirInput, Format: FormatSigned, Min: -40, Max: 150, Flags: FlagEnabled, Name: "mcu_temp_c", Unit: "C"},
		{ID: SysBoardTempC, Kind: KindUserDefined, Direction: DirInput, Format: FormatSigned, Min: -40, Max: 150, Flags: FlagEnabled, Name: "board_temp_c", Unit: "C"},
		{ID: SysUptimeSeconds, Kind: KindUserDefined, Direction: DirInput, Format: FormatRaw, Min: 0, Max: 1<<31 - 1, Flags: FlagEnabled, Name: "uptime_seconds", Unit: "s"},
		{ID: SysStatusLED, Kind: KindUserDefined, Direction: DirInput, Format: FormatEnum, Min: 0, Max: 255, Flags: FlagEnabled, Name: "status_led", Unit: ""},
	}
	for _, rec := range sys {
		if err := r.Register(rec); err != nil {
			// Can't happen with the constants above; a programmer
			// error here must be loud.
			panic(fmt.Sprintf("registry: failed to pre-register system channel %d: %v", rec.ID, err))
		}
	}
}

// Register adds a new channel record. Registration is monotonic
// during normal operation: once registered, an id keeps its kind
// until an explicit Unregister (spec §4.A invariant).
func (r *Registry) Register(rec Record) error {
	if rec.ID == Unbound || !InRange(rec.ID) {
		return fmt.Errorf("%w: id %d", ErrOutOfRange, rec.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[rec.ID]; exists {
		return fmt.Errorf("%w: id %d", ErrDuplicateID, rec.ID)
	}
	if rec.Kind == KindUnknown {
		rec.Kind = KindOf(rec.ID)
	}
	if rec.Max == 0 && rec.Min == 0 {
		// Caller didn't specify bounds; default to the full signed
		// range so a bare registration can't immediately clamp.
		rec.Min = -2147483648
		rec.Max = 2147483647
	}
	rec.Value, _ = clamp(rec.Value, rec.Min, rec.Max)
	stored := rec
	r.entries[rec.ID] = &stored
	if rec.Name != "" {
		if _, taken := r.names[rec.Name]; !taken {
			r.names[rec.Name] = rec.ID
		}
	}
	r.logger.Debug("channel registered", "id", rec.ID, "kind", rec.Kind, "name", rec.Name)
	return nil
}

// Unregister removes a channel entirely; this is the only operation
// allowed to break the "kind is stable" invariant, and it is an
// explicit caller action (config clear, channel remove).
func (r *Registry) Unregister(id ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)
	if rec.Name != "" && r.names[rec.Name] == id {
		delete(r.names, rec.Name)
	}
}

// Clear removes every registered channel, including the pre-loaded
// system channels; callers that want the system channels back must
// call registerSystemChannels-equivalent logic themselves (normally
// done by constructing a fresh Registry via New).
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[ChannelID]*Record)
	r.names = make(map[string]ChannelID)
}

// GetValue returns a channel's current value, or 0 for an unknown or
// unbound id; reading an unbound id never faults (spec §4.A).
func (r *Registry) GetValue(id ChannelID) int32 {
	if id == Unbound {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[id]
	if !ok {
		return 0
	}
	return rec.Value
}

// SetValue writes a new value, clamping to [min,max], honouring the
// Inverted flag, and latching Fault on clamp overflow when the record
// requests it. Writing to Unbound or an unregistered id returns
// ErrNotFound; writing to a disabled channel returns ErrDisabled.
func (r *Registry) SetValue(id ChannelID, v int32) error {
	if id == Unbound {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if !rec.Flags.Has(FlagEnabled) {
		return ErrDisabled
	}
	if rec.Flags.Has(FlagInverted) {
		v = -v
	}
	clamped, overflowed := clamp(v, rec.Min, rec.Max)
	rec.Value = clamped
	if overflowed && rec.FaultOnClamp {
		rec.Flags |= FlagFault
	}
	return nil
}

// SetFault force-sets or clears the fault flag without touching the
// value, matching spec §4.A "Fault writes do not alter value".
func (r *Registry) SetFault(id ChannelID, fault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		return
	}
	if fault {
		rec.Flags |= FlagFault
	} else {
		rec.Flags &^= FlagFault
	}
}

// SetEnabled toggles whether SetValue is accepted for a channel.
func (r *Registry) SetEnabled(id ChannelID, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		return
	}
	if enabled {
		rec.Flags |= FlagEnabled
	} else {
		rec.Flags &^= FlagEnabled
	}
}

// GetInfo returns a copy of the channel record, or ok=false if id is
// not registered.
func (r *Registry) GetInfo(id ChannelID) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// FindByName resolves a channel name to its id. Duplicate names
// resolve to whichever id registered the name first.
func (r *Registry) FindByName(name string) (ChannelID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	return id, ok
}

// Iter returns every registered channel id in ascending order, giving
// deterministic iteration for tests and telemetry snapshots.
func (r *Registry) Iter() []ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ChannelID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len reports how many channels are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

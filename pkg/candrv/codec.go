package candrv

import (
	"log/slog"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/pkg/registry"
)

// Sender transmits one frame on a bus; implemented by a transport
// backend (socketcan.go wraps github.com/brutella/can.Bus). Narrow on
// purpose so Codec never imports a transport package directly (spec
// §4.F; same Bus/FrameHandler split the teacher's root driver.go and
// pkg/can/bus.go use).
type Sender interface {
	Send(bus int, id uint32, extended bool, data []byte, dlc uint8) error
}

// Codec ties the frame arena and signal channels to the Channel
// Registry, implementing the RX pipeline, periodic timeout pass and
// TX scheduling of spec §4.F.
type Codec struct {
	arena  *Arena
	reg    *registry.Registry
	clk    clock.Source
	logger *slog.Logger
	sender Sender

	signals []*signalEntry
}

type signalEntry struct {
	cfg   SignalConfig
	state SignalState
}

func New(reg *registry.Registry, sender Sender, clk clock.Source, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Codec{arena: NewArena(), reg: reg, clk: clk, logger: logger, sender: sender}
}

// SetSender binds the TX backend after construction, for the common
// wiring order where the bus driver itself needs a *Codec reference
// before it exists (cmd/pmucored builds the codec first, then the
// socketcan bus, then binds it back here), matching
// pkg/transport.Server's identical SetSender seam.
func (c *Codec) SetSender(sender Sender) { c.sender = sender }

// AddFrame registers a Level-1 frame object and returns its handle.
func (c *Codec) AddFrame(obj FrameObject) (FrameHandle, error) {
	return c.arena.Add(obj)
}

// AddSignal registers a Level-2 signal channel referencing a frame
// handle already returned by AddFrame (spec §3 "resolved from string
// to pointer once at link time; thereafter O(1)" — here, resolved to
// a handle once at registration).
func (c *Codec) AddSignal(cfg SignalConfig) {
	c.signals = append(c.signals, &signalEntry{cfg: cfg})
}

// Clear destroys every frame object and signal channel (spec §3
// "destroyed on config clear").
func (c *Codec) Clear() {
	c.arena.Clear()
	c.signals = nil
}

// HandleRX is the RX pipeline entry point (spec §4.F): match the
// incoming frame against a live frame object by (bus, id, extended),
// copy data into its buffer, stamp last_rx_tick, clear the timeout
// flag and increment the receive counter. Compound messages
// demultiplex by data[0] into one of up to 8 sub-frame slots.
func (c *Codec) HandleRX(bus int, id uint32, extended bool, data []byte, dlc uint8) {
	h, ok := c.arena.Lookup(bus, id, extended)
	if !ok {
		return
	}
	obj, err := c.arena.Resolve(h)
	if err != nil {
		return
	}

	idx := 0
	if obj.Type == MessageCompound && len(data) > 0 {
		idx = int(data[0])
		if idx < 0 || idx >= maxCompoundFrames {
			return
		}
		obj.compoundFrameIdx = idx
	}

	n := copy(obj.rxBuffer[idx][:], data)
	for i := n; i < len(obj.rxBuffer[idx]); i++ {
		obj.rxBuffer[idx][i] = 0
	}
	obj.lastRxTick = c.clk.NowMs()
	obj.timeoutFlag = false
	obj.rxCount++
	obj.haveRx = true
	obj.DLC = dlc

	c.processInputs()
}

// processInputs walks every RX signal and publishes its decoded value
// to the registry, provided the referenced frame has been received at
// least once and has not timed out (spec §4.F "process_inputs()").
func (c *Codec) processInputs() {
	for _, s := range c.signals {
		if s.cfg.Direction != SignalRX {
			continue
		}
		obj, err := c.arena.Resolve(s.cfg.Frame)
		if err != nil || !obj.haveRx || obj.timeoutFlag {
			continue
		}
		value := s.cfg.Decode(obj.rxBuffer[s.cfg.FrameOffset][:])
		s.state.LastValue = value
		s.state.TimeoutFlag = false
		if s.cfg.TargetChannelID != registry.Unbound {
			c.reg.SetValue(s.cfg.TargetChannelID, value)
		}
	}
}

// RunTimeouts is the periodic timeout pass (spec §4.F, "≥100 Hz"):
// any frame whose TimeoutMs has elapsed since its last reception has
// its timeout flag set and propagates to every referencing signal per
// the signal's TimeoutBehaviour.
func (c *Codec) RunTimeouts() {
	now := c.clk.NowMs()
	for i := range c.arena.slots {
		s := &c.arena.slots[i]
		if !s.live || s.obj.TimeoutMs <= 0 || !s.obj.haveRx {
			continue
		}
		if now-s.obj.lastRxTick > int64(s.obj.TimeoutMs) {
			s.obj.timeoutFlag = true
		}
	}
	for _, sig := range c.signals {
		if sig.cfg.Direction != SignalRX {
			continue
		}
		obj, err := c.arena.Resolve(sig.cfg.Frame)
		if err != nil || !obj.timeoutFlag {
			continue
		}
		sig.state.TimeoutFlag = true
		switch sig.cfg.TimeoutBehaviour {
		case UseDefault:
			sig.state.LastValue = sig.cfg.DefaultValue
			if sig.cfg.TargetChannelID != registry.Unbound {
				c.reg.SetValue(sig.cfg.TargetChannelID, sig.cfg.DefaultValue)
			}
		case Zero:
			sig.state.LastValue = 0
			if sig.cfg.TargetChannelID != registry.Unbound {
				c.reg.SetValue(sig.cfg.TargetChannelID, 0)
			}
		case HoldLast:
			// leave prior value in place, flag already set above
		}
	}
}

// RunTX drives every TX signal's schedule (spec §4.F "TX"): a
// periodic signal fires at its configured cycle_frequency_hz; an
// edge-triggered signal fires when its trigger channel crosses the
// configured edge. A fired signal packs its current source value into
// its frame's buffer and the frame is sent once per call even if more
// than one of its signals fired this tick.
func (c *Codec) RunTX() {
	if c.sender == nil {
		return
	}
	now := c.clk.NowMs()
	dirty := make(map[FrameHandle]bool)

	for _, sig := range c.signals {
		if sig.cfg.Direction != SignalTX {
			continue
		}
		fire := false
		if sig.cfg.CycleFrequencyHz > 0 {
			periodMs := int64(1000 / sig.cfg.CycleFrequencyHz)
			if periodMs <= 0 {
				periodMs = 1
			}
			if !sig.state.txArmed || now-sig.state.lastTxTickMs >= periodMs {
				fire = true
				sig.state.lastTxTickMs = now
				sig.state.txArmed = true
			}
		}
		if sig.cfg.TriggerChannelID != registry.Unbound {
			raw := c.reg.GetValue(sig.cfg.TriggerChannelID)
			prev := sig.state.lastTriggerRaw
			if sig.state.triggerArmed {
				rising := prev <= 0 && raw > 0
				falling := prev > 0 && raw <= 0
				switch sig.cfg.TriggerOn {
				case TriggerRising:
					fire = fire || rising
				case TriggerFalling:
					fire = fire || falling
				case TriggerEither:
					fire = fire || rising || falling
				}
			}
			sig.state.lastTriggerRaw = raw
			sig.state.triggerArmed = true
		}
		if !fire {
			continue
		}
		obj, err := c.arena.Resolve(sig.cfg.Frame)
		if err != nil {
			continue
		}
		value := c.reg.GetValue(sig.cfg.SourceChannelID)
		sig.cfg.Encode(obj.rxBuffer[sig.cfg.FrameOffset][:], value)
		dirty[sig.cfg.Frame] = true
	}

	for h := range dirty {
		obj, err := c.arena.Resolve(h)
		if err != nil {
			continue
		}
		dlc := obj.DLC
		if dlc == 0 || dlc > 8 {
			dlc = 8
		}
		if err := c.sender.Send(obj.Bus, obj.BaseID, obj.Extended, obj.rxBuffer[0][:dlc], dlc); err != nil {
			c.logger.Debug("candrv: tx failed", "name", obj.Name, "err", err)
		}
	}
}

// Signal returns a copy of one signal's runtime state by registration
// index, for tests and diagnostics.
func (c *Codec) Signal(i int) (SignalConfig, SignalState) {
	return c.signals[i].cfg, c.signals[i].state
}

// Frame resolves a handle to a copy of its frame object.
func (c *Codec) Frame(h FrameHandle) (FrameObject, error) {
	obj, err := c.arena.Resolve(h)
	if err != nil {
		return FrameObject{}, err
	}
	return *obj, nil
}

package outputs

import (
	"fmt"
	"log/slog"

	"github.com/fleetwire/pmucore/internal/clock"
)

// ErrUnknownOutput is returned when Command targets an hwIndex no
// output or bridge was registered under.
var ErrUnknownOutput = fmt.Errorf("outputs: unknown hardware index")

type powerSlot struct {
	cfg PowerOutputConfig
	st  PowerOutputState
	hw  PowerSwitch
}

type bridgeSlot struct {
	cfg   HBridgeConfig
	st    HBridgeState
	pairA HBridgePair
	pairB HBridgePair

	current  CurrentSource
	position PositionSource

	target      int32
	lastTickMs  int64
	tickStarted bool
}

// Driver fans a single executor.OutputCommander.Command call out to
// the configured power outputs and H-bridges (spec §4.E, Component
// E). It owns no goroutines; Tick must be called at the same cadence
// as the executor.
type Driver struct {
	clk    clock.Source
	logger *slog.Logger

	byHW    map[int]*powerSlot
	bridges map[int]*bridgeSlot
}

func New(clk clock.Source, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Driver{
		clk:     clk,
		logger:  logger,
		byHW:    make(map[int]*powerSlot),
		bridges: make(map[int]*bridgeSlot),
	}
}

// AddPowerOutput registers a simple high-side output at hwIndex (spec
// §3 range 100-129).
func (d *Driver) AddPowerOutput(hwIndex int, cfg PowerOutputConfig, hw PowerSwitch) {
	s := &powerSlot{cfg: cfg, hw: hw}
	InitPowerOutput(&s.st, &s.cfg)
	d.byHW[hwIndex] = s
}

// AddHBridge registers an H-bridge at hwIndex (spec §3 range
// 130-133). current and position may be nil if a bridge has no
// current or position feedback wired. Without current feedback stall
// detection never fires; without position feedback wiper-park and
// pid-position modes still run, against a position of 0.
func (d *Driver) AddHBridge(hwIndex int, cfg HBridgeConfig, pairA, pairB HBridgePair, current CurrentSource, position PositionSource) {
	s := &bridgeSlot{cfg: cfg, pairA: pairA, pairB: pairB, current: current, position: position}
	InitHBridge(&s.st, &s.cfg)
	s.st.Mode = cfg.Mode
	d.bridges[hwIndex] = s
}

// Command implements pkg/executor.OutputCommander: value is the
// requested target in permille (0-1000; any nonzero value turns a
// non-PWM output fully on) for a plain output, or the single signed
// value an H-bridge link carries. A bridge configured for
// pid-position or wiper-park treats value as the target position; a
// plain directional bridge (Mode left at its zero value) derives
// forward/reverse/coast each tick from value's sign.
func (d *Driver) Command(hwIndex int, value int32) error {
	if s, ok := d.byHW[hwIndex]; ok {
		SetTarget(&s.st, value, d.clk.NowMs())
		return nil
	}
	if s, ok := d.bridges[hwIndex]; ok {
		s.target = value
		if s.cfg.Mode != ModePIDPosition && s.cfg.Mode != ModeWiperPark && !s.st.Faults.Has(FaultStall) {
			switch {
			case value > 0:
				s.st.Mode = ModeForward
			case value < 0:
				s.st.Mode = ModeReverse
			default:
				s.st.Mode = ModeCoast
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownOutput, hwIndex)
}

// Tick advances every registered output's and bridge's state machine
// one step. Errors from individual channels are logged, not
// propagated, matching the executor's continue-on-fault contract
// (spec §4.C).
func (d *Driver) Tick() {
	now := d.clk.NowMs()
	for hw, s := range d.byHW {
		if err := UpdatePowerOutput(&s.st, &s.cfg, s.hw, now); err != nil {
			d.logger.Debug("outputs: tick failed", "hw_index", hw, "err", err)
		}
	}
	for hw, s := range d.bridges {
		d.tickBridge(hw, s, now)
	}
}

func (d *Driver) tickBridge(hw int, s *bridgeSlot, now int64) {
	dt := int32(now - s.lastTickMs)
	if !s.tickStarted || dt < 0 {
		dt = 0
	}
	s.lastTickMs = now
	s.tickStarted = true

	if s.position != nil {
		if pos, err := s.position.ReadPosition(); err == nil {
			s.st.Position = pos
		}
	}
	var currentMilliA int32
	if s.current != nil {
		if mA, err := s.current.ReadCurrentMilliA(); err == nil {
			currentMilliA = mA
		}
	}
	if err := UpdateHBridge(&s.st, &s.cfg, s.pairA, s.pairB, currentMilliA, s.target, dt, now); err != nil {
		d.logger.Debug("outputs: bridge tick failed", "hw_index", hw, "err", err)
	}
}

// ClearFaults un-latches the fault state on one output.
func (d *Driver) ClearFaults(hwIndex int) error {
	s, ok := d.byHW[hwIndex]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOutput, hwIndex)
	}
	ClearFaults(&s.st, &s.cfg)
	return nil
}

// ClearBridgeFaults un-latches an H-bridge's stall fault and restores
// its configured mode, re-enabling sign-driven direction commands.
func (d *Driver) ClearBridgeFaults(hwIndex int) error {
	s, ok := d.bridges[hwIndex]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOutput, hwIndex)
	}
	s.st.Faults = 0
	s.st.Mode = s.cfg.Mode
	return nil
}

// State returns a copy of one output's runtime state.
func (d *Driver) State(hwIndex int) (PowerOutputState, bool) {
	s, ok := d.byHW[hwIndex]
	if !ok {
		return PowerOutputState{}, false
	}
	return s.st, true
}

// BridgeState returns a copy of one H-bridge's runtime state.
func (d *Driver) BridgeState(hwIndex int) (HBridgeState, bool) {
	s, ok := d.bridges[hwIndex]
	if !ok {
		return HBridgeState{}, false
	}
	return s.st, true
}

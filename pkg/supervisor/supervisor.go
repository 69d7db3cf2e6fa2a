// Package supervisor implements the Protection Supervisor (spec §4.G,
// Component G): voltage and temperature monitoring, fault mask
// aggregation, and priority-ordered load shedding.
//
// The fault catalogue mirrors gocanopen's EMCY error-register bitset
// (pkg/emergency) — a fixed-width bitmask of coarse fault categories
// that accumulates and is queried by higher layers, rather than a
// queue of discrete emergency objects — generalized from CANopen's
// 8-bit error register to the 16-bit mask spec §4.G and §7 name.
package supervisor

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/fleetwire/pmucore/pkg/registry"
)

// ErrNoCommander is returned by ActivateLoadShedding when no
// OutputCommander has been configured to actually turn outputs off.
var ErrNoCommander = errors.New("supervisor: no output commander configured")

// FaultMask is the 16-bit aggregated fault bitset (spec §4.G).
type FaultMask uint16

const (
	FaultUndervoltage FaultMask = 1 << iota
	FaultOvervoltage
	FaultReversePolarity
	FaultOvertempWarn
	FaultOvertempCritical
	FaultOvercurrentTotal
	FaultPowerLimit
	FaultWatchdog
	FaultBrownout
	FaultFlashError
)

// Has reports whether flag is set in the mask.
func (f FaultMask) Has(flag FaultMask) bool { return f&flag != 0 }

func (f FaultMask) String() string {
	if f == 0 {
		return "ok"
	}
	names := []struct {
		flag FaultMask
		name string
	}{
		{FaultUndervoltage, "undervoltage"},
		{FaultOvervoltage, "overvoltage"},
		{FaultReversePolarity, "reverse_polarity"},
		{FaultOvertempWarn, "overtemp_warn"},
		{FaultOvertempCritical, "overtemp_critical"},
		{FaultOvercurrentTotal, "overcurrent_total"},
		{FaultPowerLimit, "power_limit"},
		{FaultWatchdog, "watchdog"},
		{FaultBrownout, "brownout"},
		{FaultFlashError, "flash_error"},
	}
	s := ""
	for _, n := range names {
		if f.Has(n.flag) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// OutputCommander is the same seam pkg/executor and pkg/outputs share:
// the supervisor forces outputs off by hardware index without
// importing the driver package directly.
type OutputCommander interface {
	Command(hwIndex int, value int32) error
}

// ShedTarget is one output the supervisor may force off to relieve
// total current draw. Priority is ascending: lower sheds first.
type ShedTarget struct {
	HWIndex   int
	Priority  int
	CurrentMA int32

	shed bool
}

// Config holds the supervisor's static thresholds (spec §4.G).
type Config struct {
	VoltageMinMV        int32
	VoltageMaxMV        int32
	UndervoltageSamples int // consecutive samples before latching; default 3

	TempWarnC     int32 // default 100
	TempCriticalC int32 // default 125

	MaxCurrentMA int32 // total-current budget enforced by critical-temp shedding
}

// DefaultConfig returns spec §4.G's pinned thresholds where the spec
// gives a concrete number (undervoltage sample count, warn/critical
// temperatures); voltage and current limits are board-specific and
// must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		UndervoltageSamples: 3,
		TempWarnC:           100,
		TempCriticalC:       125,
	}
}

// Supervisor runs at the slow tick (spec: "≥100 Hz") observing the
// registry's system channels and may force outputs off via Command.
type Supervisor struct {
	cfg    Config
	reg    *registry.Registry
	cmd    OutputCommander
	logger *slog.Logger

	targets []*ShedTarget
	uvCount int
	faults  FaultMask
	shedding bool
}

// New creates a Supervisor. cmd may be nil if load shedding is not
// required (e.g. desktop simulation observing faults only).
func New(reg *registry.Registry, cmd OutputCommander, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, reg: reg, cmd: cmd, logger: logger}
}

// AddShedTarget registers one output as shed-eligible. Targets are
// kept sorted ascending by Priority so Tick/ActivateLoadShedding walk
// them in the order spec §4.G specifies.
func (s *Supervisor) AddShedTarget(t ShedTarget) {
	cp := t
	s.targets = append(s.targets, &cp)
	sort.Slice(s.targets, func(i, j int) bool { return s.targets[i].Priority < s.targets[j].Priority })
}

// Faults returns the currently latched fault mask.
func (s *Supervisor) Faults() FaultMask { return s.faults }

// Tick evaluates voltage and temperature against the registry's
// system channels and escalates per spec §4.G. It must be called at
// the slow (≥100 Hz) rate.
func (s *Supervisor) Tick() {
	voltage := s.reg.GetValue(registry.SysBatteryVoltageMv)
	totalCurrent := s.reg.GetValue(registry.SysTotalCurrentMa)
	mcuTemp := s.reg.GetValue(registry.SysMcuTempC)
	boardTemp := s.reg.GetValue(registry.SysBoardTempC)

	s.evalVoltage(voltage)
	s.evalTemperature(mcuTemp, boardTemp, totalCurrent)
}

func (s *Supervisor) evalVoltage(mV int32) {
	switch {
	case s.cfg.VoltageMinMV > 0 && mV < s.cfg.VoltageMinMV:
		s.uvCount++
		samples := s.cfg.UndervoltageSamples
		if samples <= 0 {
			samples = 3
		}
		if s.uvCount >= samples {
			s.latch(FaultUndervoltage)
		}
	default:
		s.uvCount = 0
		s.clear(FaultUndervoltage)
	}

	if s.cfg.VoltageMaxMV > 0 && mV > s.cfg.VoltageMaxMV {
		s.latch(FaultOvervoltage)
	} else {
		s.clear(FaultOvervoltage)
	}
}

func (s *Supervisor) evalTemperature(mcuC, boardC, totalCurrentMA int32) {
	warn := s.cfg.TempWarnC
	if warn == 0 {
		warn = 100
	}
	critical := s.cfg.TempCriticalC
	if critical == 0 {
		critical = 125
	}

	hottest := mcuC
	if boardC > hottest {
		hottest = boardC
	}

	switch {
	case hottest >= critical:
		s.latch(FaultOvertempCritical)
		s.latch(FaultOvertempWarn)
		if s.cfg.MaxCurrentMA > 0 {
			s.ActivateLoadShedding(totalCurrentMA - s.cfg.MaxCurrentMA)
		}
	case hottest >= warn:
		s.clear(FaultOvertempCritical)
		s.latch(FaultOvertempWarn)
	default:
		s.clear(FaultOvertempCritical)
		s.clear(FaultOvertempWarn)
		s.DeactivateLoadShedding()
	}
}

func (s *Supervisor) latch(f FaultMask) {
	if !s.faults.Has(f) {
		s.logger.Warn("supervisor fault latched", "fault", f.String())
	}
	s.faults |= f
}

func (s *Supervisor) clear(f FaultMask) {
	s.faults &^= f
}

// ActivateLoadShedding turns outputs off in ascending-priority order
// until the cumulative current of shed outputs meets or exceeds
// targetMA, per spec §4.G.
func (s *Supervisor) ActivateLoadShedding(targetMA int32) error {
	if targetMA <= 0 {
		return nil
	}
	if s.cmd == nil {
		return ErrNoCommander
	}
	s.shedding = true
	var shedSoFar int32
	for _, t := range s.targets {
		if shedSoFar >= targetMA {
			break
		}
		if t.shed {
			shedSoFar += t.CurrentMA
			continue
		}
		if err := s.cmd.Command(t.HWIndex, 0); err != nil {
			s.logger.Error("load shed command failed", "hw_index", t.HWIndex, "err", err)
			continue
		}
		t.shed = true
		shedSoFar += t.CurrentMA
		s.logger.Info("output shed", "hw_index", t.HWIndex, "priority", t.Priority)
	}
	return nil
}

// DeactivateLoadShedding restores previously shed outputs in reverse
// (highest priority first), per spec §4.G.
func (s *Supervisor) DeactivateLoadShedding() error {
	if !s.shedding {
		return nil
	}
	if s.cmd == nil {
		return ErrNoCommander
	}
	for i := len(s.targets) - 1; i >= 0; i-- {
		t := s.targets[i]
		if !t.shed {
			continue
		}
		if err := s.cmd.Command(t.HWIndex, 1000); err != nil {
			s.logger.Error("load restore command failed", "hw_index", t.HWIndex, "err", err)
			continue
		}
		t.shed = false
		s.logger.Info("output restored", "hw_index", t.HWIndex, "priority", t.Priority)
	}
	s.shedding = false
	return nil
}

// Shedding reports whether load shedding is currently active.
func (s *Supervisor) Shedding() bool { return s.shedding }

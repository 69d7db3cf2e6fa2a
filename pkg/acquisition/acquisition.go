// Package acquisition's orchestrator ties per-channel analog/digital
// processing to real hardware through periph.io, the way
// seedhammer-seedhammer's wshat driver keeps gpio.PinIn at the edge
// and everything above it platform-agnostic.
package acquisition

import (
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/fleetwire/pmucore/pkg/registry"
)

// ADCSource reads one ADC channel's instantaneous electric potential.
// A real board implements this over its ADC chip/SPI bus; tests use a
// fake that returns canned readings.
type ADCSource interface {
	Read(channel int) (physic.ElectricPotential, error)
}

// DigitalSource reads one digital input pin's current level.
type DigitalSource interface {
	Read(channel int) (gpio.Level, error)
}

// analogSlot binds one ADC channel index to its registry target and
// processing state.
type analogSlot struct {
	channel int
	id      registry.ChannelID
	cfg     AnalogConfig
	state   AnalogState
}

type digitalSlot struct {
	channel int
	id      registry.ChannelID
	cfg     DigitalConfig
	state   DigitalState
}

// Acquisition drives ADC and digital-input sampling once per Sample
// call, publishing scaled values into the registry (spec §4.D: "each
// tick: one sample per channel at >=1kHz").
type Acquisition struct {
	reg    *registry.Registry
	adc    ADCSource
	dio    DigitalSource
	logger *slog.Logger

	analog   []*analogSlot
	digital  []*digitalSlot
}

func New(reg *registry.Registry, adc ADCSource, dio DigitalSource, logger *slog.Logger) *Acquisition {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquisition{reg: reg, adc: adc, dio: dio, logger: logger}
}

// AddAnalogChannel configures ADC channel index (0-19 per spec §3) to
// publish into id using cfg.
func (a *Acquisition) AddAnalogChannel(channel int, id registry.ChannelID, cfg AnalogConfig) {
	s := &analogSlot{channel: channel, id: id, cfg: cfg}
	InitAnalog(&s.state, &s.cfg)
	a.analog = append(a.analog, s)
}

// AddDigitalChannel configures digital input pin index channel to
// publish into id (50-69 per spec §3) using cfg.
func (a *Acquisition) AddDigitalChannel(channel int, id registry.ChannelID, cfg DigitalConfig) {
	s := &digitalSlot{channel: channel, id: id, cfg: cfg}
	InitDigital(&s.state, &s.cfg)
	a.digital = append(a.digital, s)
}

// Sample reads every configured channel once and writes the
// processed result to the registry. A read error on one channel is
// logged and that channel's value is left untouched for this tick;
// it never aborts the rest of the sweep (matching the executor's
// continue-on-fault contract, spec §4.C).
func (a *Acquisition) Sample(nowMs int32) {
	for _, s := range a.analog {
		v, err := a.adc.Read(s.channel)
		if err != nil {
			a.logger.Debug("acquisition: adc read failed", "channel", s.channel, "err", err)
			continue
		}
		mv := int32(v / physic.MilliVolt)
		out := UpdateAnalog(&s.state, &s.cfg, mv, nowMs)
		if err := a.reg.SetValue(s.id, out); err != nil {
			a.logger.Debug("acquisition: publish failed", "id", s.id, "err", err)
		}
	}
	for _, s := range a.digital {
		lvl, err := a.dio.Read(s.channel)
		if err != nil {
			a.logger.Debug("acquisition: digital read failed", "channel", s.channel, "err", err)
			continue
		}
		out := UpdateDigital(&s.state, &s.cfg, bool(lvl), nowMs)
		if err := a.reg.SetValue(s.id, out); err != nil {
			a.logger.Debug("acquisition: publish failed", "id", s.id, "err", err)
		}
	}
}

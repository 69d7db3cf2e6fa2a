// Package core wires the Channel Registry, Channel Executor,
// Acquisition, Output, CAN/LIN Codec, Protection Supervisor, Framed
// Transport and Persistence layers into the single non-blocking tick
// loop spec §5 describes, the way the teacher's network.go ties a
// bus, node set and SDO client together behind one Network value.
// Controller owns no goroutines of its own: callers drive Tick at a
// fixed cadence (the bare-metal build from a hardware timer ISR, the
// desktop/simulation build from a time.Ticker in cmd/pmucored).
package core

import (
	"log/slog"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/pkg/acquisition"
	"github.com/fleetwire/pmucore/pkg/candrv"
	"github.com/fleetwire/pmucore/pkg/executor"
	"github.com/fleetwire/pmucore/pkg/outputs"
	"github.com/fleetwire/pmucore/pkg/persistence"
	"github.com/fleetwire/pmucore/pkg/registry"
	"github.com/fleetwire/pmucore/pkg/supervisor"
	"github.com/fleetwire/pmucore/pkg/transport"
)

// Controller is the assembled PMU core: one registry shared by every
// subsystem, ticked in the fixed order spec §5 "Scheduling model"
// pins: acquire inputs, run CAN RX/timeouts, evaluate the executor,
// run the protection supervisor, drive outputs, service the
// transport, then run CAN TX.
type Controller struct {
	Registry   *registry.Registry
	Executor   *executor.Executor
	Acq        *acquisition.Acquisition
	Outputs    *outputs.Driver
	CAN        *candrv.Codec
	Supervisor *supervisor.Supervisor
	Transport  *transport.Server
	Boot       *persistence.Bootloader
	Config     *persistence.ConfigStore
	Params     *persistence.SysParams

	clk    clock.Source
	logger *slog.Logger
	led    LEDState
}

// Deps groups the constructed subsystems Controller wires together.
// Each is built by its own package's constructor; Controller never
// constructs hardware-facing drivers itself.
type Deps struct {
	Registry   *registry.Registry
	Executor   *executor.Executor
	Acq        *acquisition.Acquisition
	Outputs    *outputs.Driver
	CAN        *candrv.Codec
	Supervisor *supervisor.Supervisor
	Transport  *transport.Server
	Boot       *persistence.Bootloader
	Config     *persistence.ConfigStore
	Params     *persistence.SysParams
	Clock      clock.Source
	Logger     *slog.Logger
}

// New assembles a Controller from already-constructed subsystems. Any
// of Boot, Config, Params, Transport may be nil for a build that
// doesn't need them (e.g. a unit test driving only executor+outputs).
func New(d Deps) *Controller {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	return &Controller{
		Registry:   d.Registry,
		Executor:   d.Executor,
		Acq:        d.Acq,
		Outputs:    d.Outputs,
		CAN:        d.CAN,
		Supervisor: d.Supervisor,
		Transport:  d.Transport,
		Boot:       d.Boot,
		Config:     d.Config,
		Params:     d.Params,
		clk:        d.Clock,
		logger:     d.Logger,
		led:        LEDOff,
	}
}

// Start runs the bootloader decision (spec §4.I), applies the
// persisted channel-map configuration if present, and sets the
// startup LED state. Call once before the first Tick.
func (c *Controller) Start() error {
	if c.Boot != nil {
		res, err := c.Boot.Boot()
		if err != nil {
			c.logger.Warn("core: boot decision degraded", "action", res.Action, "err", err)
			c.setLED(LEDRedFast)
		} else {
			c.logger.Info("core: boot decision", "action", res.Action)
			c.setLED(LEDGreenOnce)
		}
	} else {
		c.setLED(LEDGreenOnce)
	}

	if c.Config != nil && c.Executor != nil {
		buf, err := c.Config.LoadConfig()
		switch {
		case err == nil:
			if _, err := c.Executor.LoadConfig(buf); err != nil {
				c.logger.Error("core: stored config rejected", "err", err)
				c.setLED(LEDRedFast)
				return err
			}
			c.setLED(LEDGreenTwice)
		case err == persistence.ErrNoConfig:
			c.logger.Info("core: no stored config, running with empty channel map")
		default:
			c.logger.Error("core: config load failed", "err", err)
			c.setLED(LEDRedFast)
			return err
		}
	}
	return nil
}

// Tick runs exactly one scheduling pass, per spec §5's pinned order.
// nowMs is the current tick's monotonic timestamp (from the same
// clock.Source every subsystem was built with).
func (c *Controller) Tick() {
	nowMs := int32(c.clk.NowMs())

	if c.Acq != nil {
		c.Acq.Sample(nowMs)
	}
	if c.CAN != nil {
		c.CAN.RunTimeouts()
	}
	if c.Executor != nil {
		c.Executor.Tick()
	}
	if c.Supervisor != nil {
		c.Supervisor.Tick()
		c.updateFaultLED()
	}
	if c.Outputs != nil {
		c.Outputs.Tick()
	}
	if c.Transport != nil {
		c.Transport.Tick()
	}
	if c.CAN != nil {
		c.CAN.RunTX()
	}

	if c.Registry != nil {
		c.Registry.SetValue(registry.SysUptimeSeconds, nowMs/1000)
	}
}

// HandleCANFrame feeds one received CAN/LIN frame into the codec;
// wired directly to the bus driver's receive callback (spec §4.F).
func (c *Controller) HandleCANFrame(bus int, id uint32, extended bool, data []byte, dlc uint8) {
	if c.CAN != nil {
		c.CAN.HandleRX(bus, id, extended, data, dlc)
	}
}

func (c *Controller) updateFaultLED() {
	if c.Supervisor.Faults() != 0 {
		c.setLED(LEDRedFast)
		return
	}
	if c.led == LEDRedFast {
		c.setLED(LEDGreenTwice)
	}
}

func (c *Controller) setLED(s LEDState) {
	c.led = s
	if c.Registry != nil {
		c.Registry.SetValue(registry.SysStatusLED, int32(s))
	}
}

// LEDState returns the controller's current idea of the status LED
// encoding, independent of whatever value a collaborator's board
// support package may have separately written to SysStatusLED.
func (c *Controller) LEDState() LEDState { return c.led }

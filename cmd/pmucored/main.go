// Command pmucored runs the PMU core loop: Channel Registry, Channel
// Executor, CAN/LIN Codec, Protection Supervisor and Framed Transport
// wired together by pkg/core, ticked on a fixed-rate timer. Grounded
// on the teacher's cmd/canopen/main.go flag-driven bring-up and
// cmd/sdo_client/main.go's Network.Connect call, generalized from a
// CANopen node bring-up to a PMU controller bring-up.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	serial "github.com/daedaluz/goserial"
	"periph.io/x/host/v3"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/pkg/candrv"
	"github.com/fleetwire/pmucore/pkg/core"
	"github.com/fleetwire/pmucore/pkg/executor"
	"github.com/fleetwire/pmucore/pkg/outputs"
	"github.com/fleetwire/pmucore/pkg/persistence"
	"github.com/fleetwire/pmucore/pkg/registry"
	"github.com/fleetwire/pmucore/pkg/simconfig"
	"github.com/fleetwire/pmucore/pkg/supervisor"
	"github.com/fleetwire/pmucore/pkg/transport"
)

const (
	defaultCANInterface  = "can0"
	defaultTransportPort = "/dev/ttyUSB0"
	defaultTickPeriod    = 5 * time.Millisecond
)

var defaultTransportBaud = serial.B115200

func main() {
	log.SetLevel(log.InfoLevel)

	canIface := flag.String("can", defaultCANInterface, "socketcan interface, e.g. can0, vcan0")
	transportPort := flag.String("transport", defaultTransportPort, "serial device for the host framed-transport link")
	simConfigPath := flag.String("simconfig", "", "ini channel-map file to preload instead of persisted flash config (desktop simulation)")
	tickMs := flag.Duration("tick", defaultTickPeriod, "fixed scheduling tick period")
	flag.Parse()

	logger := slog.Default()

	// Registers the platform's GPIO/SPI/I2C drivers, ahead of any
	// pkg/outputs or pkg/acquisition hardware backend construction
	// (none are wired in this generic build, but a board package
	// plugging in real periph.io PowerSwitch/ADCSource/DigitalSource
	// implementations depends on this having run first).
	if _, err := host.Init(); err != nil {
		log.WithError(err).Warn("pmucored: periph host init failed, board I/O unavailable")
	}

	reg := registry.New(logger)
	clk := clock.NewSystem()
	outDrv := outputs.New(clk, logger)
	exec := executor.New(reg, clk, outDrv, logger)

	can := candrv.New(reg, nil, clk, logger)
	canBus, err := candrv.NewSocketcanBus(0, *canIface, can, logger)
	if err != nil {
		log.WithError(err).Fatal("pmucored: failed to open CAN interface")
	}
	can.SetSender(canBus)
	if err := canBus.Start(); err != nil {
		log.WithError(err).Fatal("pmucored: failed to start CAN bus")
	}

	supCfg := supervisor.DefaultConfig()
	sup := supervisor.New(reg, outDrv, supCfg, logger)

	sram := persistence.NewMemNVM(4096)
	internalFlash := persistence.NewMemNVM(persistence.InternalFlashSize)
	externalFlash := persistence.NewMemNVM(persistence.ExternalFlashSize)
	boot := persistence.NewBootloader(sram, internalFlash, externalFlash, logger)
	configStore := persistence.NewConfigStore(externalFlash, logger)
	sysParams := persistence.NewSysParams(internalFlash, logger)

	srv := transport.NewServer(reg, exec, configStore, nil, clk, logger)
	if port, err := serial.Open(*transportPort, serial.NewOptions()); err != nil {
		log.WithError(err).Warn("pmucored: no host transport link, telemetry/config commands disabled")
	} else {
		defer port.Close()
		if attrs, err := port.GetAttr(); err == nil {
			attrs.MakeRaw()
			attrs.SetSpeed(defaultTransportBaud)
			if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
				log.WithError(err).Warn("pmucored: failed to configure transport baud rate")
			}
		}
		sender := serialSender{port}
		srv.SetSender(sender)
		go pumpTransportRX(srv, port, sender, logger)
	}

	ctrl := core.New(core.Deps{
		Registry:   reg,
		Executor:   exec,
		Outputs:    outDrv,
		CAN:        can,
		Supervisor: sup,
		Transport:  srv,
		Boot:       boot,
		Config:     configStore,
		Params:     sysParams,
		Clock:      clk,
		Logger:     logger,
	})

	if err := ctrl.Start(); err != nil {
		log.WithError(err).Error("pmucored: startup degraded, continuing with partial configuration")
	}

	if *simConfigPath != "" {
		n, err := simconfig.Load(*simConfigPath, reg)
		if err != nil {
			log.WithError(err).Fatal("pmucored: failed to load simulation channel map")
		}
		log.Infof("pmucored: loaded %d channels from %s", n, *simConfigPath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*tickMs)
	defer ticker.Stop()

	log.Infof("pmucored: running, tick period %s", *tickMs)
	for {
		select {
		case <-ticker.C:
			ctrl.Tick()
		case <-sigCh:
			log.Info("pmucored: shutting down")
			return
		}
	}
}

// serialSender adapts a goserial Port to transport.Sender.
type serialSender struct {
	port interface{ Write([]byte) (int, error) }
}

func (s serialSender) Send(data []byte) error {
	_, err := s.port.Write(data)
	return err
}

// pumpTransportRX feeds bytes read from the serial port through the
// frame decoder and dispatches completed frames to the server,
// mirroring the teacher's bus.Subscribe callback-driven RX loop but
// for a byte stream instead of discrete CAN frames.
func pumpTransportRX(srv *transport.Server, port interface{ Read([]byte) (int, error) }, sender serialSender, logger *slog.Logger) {
	dec := transport.NewDecoder(clock.NewSystem())
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil {
			logger.Error("pmucored: transport read failed", "err", err)
			return
		}
		for i := 0; i < n; i++ {
			frame, ok, err := dec.Feed(buf[i])
			if err != nil {
				logger.Debug("pmucored: transport decode error", "err", err)
				continue
			}
			if !ok {
				continue
			}
			reply, err := srv.HandleFrame(frame)
			if err != nil {
				logger.Debug("pmucored: transport dispatch error", "err", err)
				continue
			}
			if reply == nil {
				continue
			}
			encoded, err := transport.Encode(*reply)
			if err != nil {
				logger.Error("pmucored: failed to encode reply frame", "err", err)
				continue
			}
			if err := sender.Send(encoded); err != nil {
				logger.Error("pmucored: failed to send reply frame", "err", err)
			}
		}
	}
}

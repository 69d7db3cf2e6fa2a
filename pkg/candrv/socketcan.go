package candrv

import (
	"log/slog"

	"github.com/brutella/can"
)

// SocketcanBus is a Sender/RX-source backed by github.com/brutella/can
// (spec §4.F hardware RX/TX boundary), adapted from the teacher's root
// driver.go SocketcanBus wrapper: same brutella/can.Bus underneath,
// generalized here to feed Codec.HandleRX instead of a CANopen
// FrameHandler, and to carry a bus index since a PMU may have more
// than one physical CAN bus (spec §3 frame object "bus" field).
type SocketcanBus struct {
	busIndex int
	bus      *can.Bus
	codec    *Codec
	logger   *slog.Logger
}

// NewSocketcanBus opens a SocketCAN interface by name (e.g. "can0")
// and binds it to busIndex for frame-object matching.
func NewSocketcanBus(busIndex int, ifname string, codec *Codec, logger *slog.Logger) (*SocketcanBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bus, err := can.NewBusForInterfaceWithName(ifname)
	if err != nil {
		return nil, err
	}
	return &SocketcanBus{busIndex: busIndex, bus: bus, codec: codec, logger: logger}, nil
}

// Handle implements brutella/can's frame-received callback, routing
// every received frame into the codec's RX pipeline.
func (s *SocketcanBus) Handle(frame can.Frame) {
	extended := frame.ID&0x80000000 != 0 // CAN_EFF_FLAG
	id := frame.ID &^ 0xE0000000         // strip EFF/RTR/ERR flag bits
	s.codec.HandleRX(s.busIndex, id, extended, frame.Data[:frame.Length], frame.Length)
}

// Send implements candrv.Sender.
func (s *SocketcanBus) Send(bus int, id uint32, extended bool, data []byte, dlc uint8) error {
	frame := can.Frame{ID: id, Length: dlc}
	if extended {
		frame.ID |= 0x80000000
	}
	copy(frame.Data[:], data)
	return s.bus.Publish(frame)
}

// Start subscribes to the bus and begins receiving in the background,
// matching the teacher's Connect/ConnectAndPublish split (bus.go).
func (s *SocketcanBus) Start() error {
	s.bus.Subscribe(s)
	go func() {
		if err := s.bus.ConnectAndPublish(); err != nil {
			s.logger.Error("candrv: socketcan connect failed", "err", err)
		}
	}()
	return nil
}

package transport

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/internal/crc"
	"github.com/fleetwire/pmucore/pkg/registry"
)

// NACK reason codes, echoed as the sole payload byte (spec §7
// "Protocol errors produce a NACK with a one-byte reason").
const (
	ReasonUnknownCommand byte = 0x01
	ReasonBadPayload     byte = 0x02
	ReasonCRCFail        byte = 0x03
)

// ProtocolVersion is the Framed Transport wire-format version this
// server implements (spec §6), returned as the first byte of
// INFO_RESP.
const ProtocolVersion uint8 = 1

// VersionInfo is the firmware identification returned by GET_VERSION,
// normally sourced from the running image's persistence.AppHeader.
type VersionInfo struct {
	FirmwareVersion uint32
	Build           uint32
}

// Telemetry stream mask bits (spec §6 START_STREAM payload).
const (
	StreamOutputs  byte = 1 << 0
	StreamInputs   byte = 1 << 1
	StreamCAN      byte = 1 << 2
	StreamTemps    byte = 1 << 3
	StreamVoltages byte = 1 << 4
	StreamFaults   byte = 1 << 5
	StreamChannels byte = 1 << 6
)

var (
	ErrBadPayload      = errors.New("transport: malformed command payload")
	ErrStagingCRCFail  = errors.New("transport: staged config crc32 mismatch")
)

// RegistrySource is the seam Server reads/writes channel values
// through, satisfied by *pkg/registry.Registry directly.
type RegistrySource interface {
	GetValue(id registry.ChannelID) int32
	SetValue(id registry.ChannelID, v int32) error
}

// ConfigLoader applies a decoded LOAD_BINARY_CONFIG image to the live
// executor, satisfied by *pkg/executor.Executor.
type ConfigLoader interface {
	LoadConfig(buf []byte) (int, error)
	Clear()
}

// ConfigStore persists a configuration image, satisfied by
// *pkg/persistence.ConfigStore.
type ConfigStore interface {
	SaveConfig(data []byte) error
	LoadConfig() ([]byte, error)
	ClearConfig() error
}

// Resetter performs a device reset on the RESET command. Optional.
type Resetter interface {
	Reset()
}

// Sender transmits an encoded frame's bytes onto the physical
// transport (serial, socket, ...). Server never opens a byte stream
// itself — matching the Bus/FrameHandler seam pkg/candrv and
// pkg/outputs use between protocol logic and concrete hardware.
type Sender interface {
	Send(data []byte) error
}

// Server dispatches decoded frames to the channel registry, executor
// and persistence layer, and drives telemetry streaming. It holds no
// knowledge of the byte-stream transport (UART, TCP, ...); Sender is
// the only way it emits bytes.
type Server struct {
	logger *slog.Logger
	clk    clock.Source
	reg    RegistrySource
	exec   ConfigLoader
	store  ConfigStore
	reset  Resetter
	sender Sender

	version VersionInfo

	streaming    bool
	streamMask   byte
	streamRateHz uint16
	lastStreamMs int64
	telemetry    map[byte][]registry.ChannelID

	stagingBuf []byte
}

// NewServer creates a Server. store and reset may be nil if
// persistence/reset are not wired in a given build.
func NewServer(reg RegistrySource, exec ConfigLoader, store ConfigStore, reset Resetter, clk clock.Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:    logger,
		clk:       clk,
		reg:       reg,
		exec:      exec,
		store:     store,
		reset:     reset,
		telemetry: map[byte][]registry.ChannelID{},
	}
}

// SetSender wires the outbound byte-stream sink.
func (s *Server) SetSender(sender Sender) { s.sender = sender }

// SetVersionInfo wires the firmware version/build GET_VERSION reports,
// typically read once from persistence.AppHeader at startup.
func (s *Server) SetVersionInfo(v VersionInfo) { s.version = v }

// AddTelemetryChannel registers id as part of the telemetry set
// included in DATA packets whenever the stream mask has bit set.
func (s *Server) AddTelemetryChannel(bit byte, id registry.ChannelID) {
	s.telemetry[bit] = append(s.telemetry[bit], id)
}

// HandleFrame dispatches one decoded request frame and returns the
// frame to send back, if any (some commands, like a future
// fire-and-forget telemetry ack, may legitimately have none).
func (s *Server) HandleFrame(req Frame) (*Frame, error) {
	switch req.Command {
	case CmdPing:
		return s.reply(req.Seq, CmdPong, nil), nil

	case CmdGetVersion:
		return s.handleGetVersion(req), nil

	case CmdSetOutput:
		return s.handleSetOutput(req)

	case CmdGetChannel:
		return s.handleGetChannel(req)

	case CmdStartStream:
		return s.handleStartStream(req)

	case CmdStopStream:
		s.streaming = false
		return s.reply(req.Seq, CmdAck, nil), nil

	case CmdLoadBinaryConfig:
		return s.handleLoadBinaryConfig(req)

	case CmdSaveConfig:
		return s.handleSaveConfig(req)

	case CmdGetConfig:
		return s.handleGetConfig(req)

	case CmdClearConfig:
		if s.exec != nil {
			s.exec.Clear()
		}
		if s.store != nil {
			if err := s.store.ClearConfig(); err != nil {
				s.logger.Error("clear config failed", "err", err)
			}
		}
		return s.reply(req.Seq, CmdClearConfigAck, nil), nil

	case CmdReset:
		resp := s.reply(req.Seq, CmdAck, nil)
		if s.reset != nil {
			s.reset.Reset()
		}
		return resp, nil

	default:
		return s.nack(req.Seq, ReasonUnknownCommand), nil
	}
}

func (s *Server) reply(seq Sequence, cmd Command, payload []byte) *Frame {
	return &Frame{Seq: seq, Command: cmd, Payload: payload}
}

func (s *Server) nack(seq Sequence, reason byte) *Frame {
	return &Frame{Seq: seq, Command: CmdNack, Payload: []byte{reason}}
}

// handleGetVersion answers GET_VERSION with INFO_RESP: protocol
// version (1 byte) followed by firmware version and build (u32 LE
// each), per spec §6.
func (s *Server) handleGetVersion(req Frame) *Frame {
	payload := make([]byte, 9)
	payload[0] = ProtocolVersion
	binary.LittleEndian.PutUint32(payload[1:5], s.version.FirmwareVersion)
	binary.LittleEndian.PutUint32(payload[5:9], s.version.Build)
	return s.reply(req.Seq, CmdInfoResp, payload)
}

func (s *Server) handleSetOutput(req Frame) (*Frame, error) {
	if len(req.Payload) < 6 {
		return s.nack(req.Seq, ReasonBadPayload), nil
	}
	id := registry.ChannelID(binary.LittleEndian.Uint16(req.Payload[0:2]))
	value := int32(binary.LittleEndian.Uint32(req.Payload[2:6]))

	success := byte(1)
	if err := s.reg.SetValue(id, value); err != nil {
		s.logger.Warn("set_output failed", "channel", id, "err", err)
		success = 0
	}
	payload := make([]byte, 5)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(id))
	payload[2] = success
	return s.reply(req.Seq, CmdOutputAck, payload), nil
}

func (s *Server) handleGetChannel(req Frame) (*Frame, error) {
	if len(req.Payload) < 2 {
		return s.nack(req.Seq, ReasonBadPayload), nil
	}
	id := registry.ChannelID(binary.LittleEndian.Uint16(req.Payload[0:2]))
	value := s.reg.GetValue(id)

	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(id))
	binary.LittleEndian.PutUint32(payload[2:6], uint32(value))
	return s.reply(req.Seq, CmdChannelData, payload), nil
}

func (s *Server) handleStartStream(req Frame) (*Frame, error) {
	if len(req.Payload) < 3 {
		return s.nack(req.Seq, ReasonBadPayload), nil
	}
	s.streamMask = req.Payload[0]
	s.streamRateHz = binary.LittleEndian.Uint16(req.Payload[1:3])
	s.streaming = s.streamRateHz > 0
	if s.clk != nil {
		s.lastStreamMs = s.clk.NowMs()
	}
	return s.reply(req.Seq, CmdAck, nil), nil
}

// Tick emits a DATA telemetry frame through Sender if streaming is
// active and the configured rate's period has elapsed. It must be
// called from the same loop driving the executor; it never blocks.
func (s *Server) Tick() {
	if !s.streaming || s.sender == nil || s.clk == nil || s.streamRateHz == 0 {
		return
	}
	now := s.clk.NowMs()
	periodMs := int64(1000) / int64(s.streamRateHz)
	if periodMs <= 0 {
		periodMs = 1
	}
	if now-s.lastStreamMs < periodMs {
		return
	}
	s.lastStreamMs = now

	var ids []registry.ChannelID
	for bit, set := range s.telemetry {
		if s.streamMask&bit != 0 {
			ids = append(ids, set...)
		}
	}

	payload := make([]byte, 6, 6+6*len(ids))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(now))
	binary.LittleEndian.PutUint16(payload[4:6], uint16(len(ids)))
	for _, id := range ids {
		entry := make([]byte, 6)
		binary.LittleEndian.PutUint16(entry[0:2], uint16(id))
		binary.LittleEndian.PutUint32(entry[2:6], uint32(s.reg.GetValue(id)))
		payload = append(payload, entry...)
	}

	frame := Frame{Seq: SeqBroadcast, Command: CmdData, Payload: payload}
	data, err := Encode(frame)
	if err != nil {
		s.logger.Error("telemetry encode failed", "err", err)
		return
	}
	if err := s.sender.Send(data); err != nil {
		s.logger.Error("telemetry send failed", "err", err)
	}
}

// handleLoadBinaryConfig accumulates LOAD_BINARY_CONFIG chunks into a
// staging buffer and, on the length=0 terminator chunk carrying the
// expected CRC-32, validates and applies the assembled image (spec
// §6).
func (s *Server) handleLoadBinaryConfig(req Frame) (*Frame, error) {
	if len(req.Payload) < 6 {
		return s.nack(req.Seq, ReasonBadPayload), nil
	}
	offset := binary.LittleEndian.Uint32(req.Payload[0:4])
	length := binary.LittleEndian.Uint16(req.Payload[4:6])

	if length == 0 {
		if len(req.Payload) < 10 {
			return s.nack(req.Seq, ReasonBadPayload), nil
		}
		wantCRC := binary.LittleEndian.Uint32(req.Payload[6:10])
		if crc.IEEE32(s.stagingBuf) != wantCRC {
			s.stagingBuf = nil
			return s.nack(req.Seq, ReasonCRCFail), ErrStagingCRCFail
		}
		count := 0
		var err error
		if s.exec != nil {
			count, err = s.exec.LoadConfig(s.stagingBuf)
		}
		s.stagingBuf = nil
		if err != nil {
			return s.nack(req.Seq, ReasonBadPayload), err
		}
		payload := make([]byte, 3)
		payload[0] = 1
		binary.LittleEndian.PutUint16(payload[1:3], uint16(count))
		return s.reply(req.Seq, CmdBinaryConfigAck, payload), nil
	}

	if len(req.Payload) < 6+int(length) {
		return s.nack(req.Seq, ReasonBadPayload), nil
	}
	need := int(offset) + int(length)
	if len(s.stagingBuf) < need {
		grown := make([]byte, need)
		copy(grown, s.stagingBuf)
		s.stagingBuf = grown
	}
	copy(s.stagingBuf[offset:need], req.Payload[6:6+length])
	return s.reply(req.Seq, CmdBinaryConfigAck, []byte{1}), nil
}

func (s *Server) handleSaveConfig(req Frame) (*Frame, error) {
	if s.store == nil {
		return s.nack(req.Seq, ReasonBadPayload), nil
	}
	if err := s.store.SaveConfig(req.Payload); err != nil {
		s.logger.Error("save config failed", "err", err)
		return s.reply(req.Seq, CmdFlashAck, []byte{0}), nil
	}
	return s.reply(req.Seq, CmdFlashAck, []byte{1}), nil
}

func (s *Server) handleGetConfig(req Frame) (*Frame, error) {
	if s.store == nil {
		return s.nack(req.Seq, ReasonBadPayload), nil
	}
	data, err := s.store.LoadConfig()
	if err != nil {
		s.logger.Error("get config failed", "err", err)
		return s.nack(req.Seq, ReasonBadPayload), nil
	}
	return s.reply(req.Seq, CmdConfigData, data), nil
}

package transport

import (
	"encoding/binary"
	"testing"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/internal/crc"
	"github.com/fleetwire/pmucore/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

func TestServerPingPong(t *testing.T) {
	reg := registry.New(nil)
	s := NewServer(reg, nil, nil, nil, nil, nil)
	resp, err := s.HandleFrame(Frame{Seq: 0x55, Command: CmdPing})
	require.NoError(t, err)
	assert.Equal(t, CmdPong, resp.Command)
	assert.Equal(t, Sequence(0x55), resp.Seq)
}

func TestServerGetVersionReturnsInfoResp(t *testing.T) {
	reg := registry.New(nil)
	s := NewServer(reg, nil, nil, nil, nil, nil)
	s.SetVersionInfo(VersionInfo{FirmwareVersion: 3, Build: 42})

	resp, err := s.HandleFrame(Frame{Seq: 0x7, Command: CmdGetVersion})
	require.NoError(t, err)
	assert.Equal(t, CmdInfoResp, resp.Command)
	require.Len(t, resp.Payload, 9)
	assert.Equal(t, ProtocolVersion, resp.Payload[0])
	assert.EqualValues(t, 3, binary.LittleEndian.Uint32(resp.Payload[1:5]))
	assert.EqualValues(t, 42, binary.LittleEndian.Uint32(resp.Payload[5:9]))
}

func TestServerSetOutputAndGetChannel(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(registry.Record{ID: 101, Min: 0, Max: 1000, Flags: registry.FlagEnabled}))
	s := NewServer(reg, nil, nil, nil, nil, nil)

	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[0:2], 101)
	binary.LittleEndian.PutUint32(payload[2:6], 500)
	resp, err := s.HandleFrame(Frame{Seq: 1, Command: CmdSetOutput, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, CmdOutputAck, resp.Command)
	assert.Equal(t, byte(1), resp.Payload[2])

	getPayload := make([]byte, 2)
	binary.LittleEndian.PutUint16(getPayload, 101)
	resp, err = s.HandleFrame(Frame{Seq: 2, Command: CmdGetChannel, Payload: getPayload})
	require.NoError(t, err)
	assert.Equal(t, CmdChannelData, resp.Command)
	assert.EqualValues(t, 500, int32(binary.LittleEndian.Uint32(resp.Payload[2:6])))
}

func TestServerUnknownCommandNacks(t *testing.T) {
	reg := registry.New(nil)
	s := NewServer(reg, nil, nil, nil, nil, nil)
	resp, err := s.HandleFrame(Frame{Seq: 3, Command: 0x99})
	require.NoError(t, err)
	assert.Equal(t, CmdNack, resp.Command)
	assert.Equal(t, ReasonUnknownCommand, resp.Payload[0])
}

func TestServerStreamTelemetry(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(registry.Record{ID: 200, Min: 0, Max: 1000, Flags: registry.FlagEnabled}))
	require.NoError(t, reg.SetValue(200, 42))

	clk := clock.NewManual()
	s := NewServer(reg, nil, nil, nil, clk, nil)
	s.AddTelemetryChannel(StreamChannels, 200)
	sender := &fakeSender{}
	s.SetSender(sender)

	startPayload := make([]byte, 3)
	startPayload[0] = StreamChannels
	binary.LittleEndian.PutUint16(startPayload[1:3], 100) // 100 Hz
	_, err := s.HandleFrame(Frame{Seq: 4, Command: CmdStartStream, Payload: startPayload})
	require.NoError(t, err)

	clk.Advance(20)
	s.Tick()
	require.Len(t, sender.sent, 1)

	dec := NewDecoder(nil)
	var got Frame
	for _, b := range sender.sent[0] {
		f, ok, err := dec.Feed(b)
		require.NoError(t, err)
		if ok {
			got = f
		}
	}
	assert.Equal(t, CmdData, got.Command)
	count := binary.LittleEndian.Uint16(got.Payload[4:6])
	assert.EqualValues(t, 1, count)
	value := int32(binary.LittleEndian.Uint32(got.Payload[8:12]))
	assert.EqualValues(t, 42, value)
}

func TestServerLoadBinaryConfigChunkedWithCRC(t *testing.T) {
	reg := registry.New(nil)
	loader := &fakeLoader{}
	s := NewServer(reg, loader, nil, nil, nil, nil)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	chunk := make([]byte, 6+len(data))
	binary.LittleEndian.PutUint32(chunk[0:4], 0)
	binary.LittleEndian.PutUint16(chunk[4:6], uint16(len(data)))
	copy(chunk[6:], data)
	resp, err := s.HandleFrame(Frame{Seq: 1, Command: CmdLoadBinaryConfig, Payload: chunk})
	require.NoError(t, err)
	assert.Equal(t, CmdBinaryConfigAck, resp.Command)

	term := make([]byte, 10) // offset(4)=0, length(2)=0 (terminator), crc32(4)
	binary.LittleEndian.PutUint32(term[6:10], crc.IEEE32(data))
	resp, err = s.HandleFrame(Frame{Seq: 2, Command: CmdLoadBinaryConfig, Payload: term})
	require.NoError(t, err)
	assert.Equal(t, CmdBinaryConfigAck, resp.Command)
	assert.Equal(t, byte(1), resp.Payload[0])
	assert.Equal(t, data, loader.loaded)
}

type fakeLoader struct {
	loaded []byte
}

func (f *fakeLoader) LoadConfig(buf []byte) (int, error) {
	f.loaded = append([]byte(nil), buf...)
	return 1, nil
}

func (f *fakeLoader) Clear() {}

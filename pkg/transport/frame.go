// Package transport implements the Framed Transport (spec §4.H,
// Component H): a length-prefixed request/response protocol over a
// byte stream, correlated by a 16-bit sequence id, plus the telemetry
// streaming and config-upload command set spec §6 pins as the
// authoritative binary encoding.
//
// The request/sequence-id correlation and ACK/NACK dispatch loop is
// the direct descendant of gocanopen's SDO client (pkg/sdo): a single
// outstanding request tracked by an index/subindex pair there, by a
// sequence id here, with the same "exactly one response or a client
// timeout" contract (spec §4.H).
package transport

import (
	"encoding/binary"
	"errors"

	"github.com/fleetwire/pmucore/internal/crc"
)

// StartByte marks the beginning of a frame on the wire (spec §6).
const StartByte = 0xAA

// MaxPayloadLen bounds a single frame's payload (spec §4.H: "Length
// is bounded to 2048 bytes").
const MaxPayloadLen = 2048

// Command is the one-byte command code (spec §6).
type Command uint8

const (
	CmdPing              Command = 0x01
	CmdPong              Command = 0x02
	CmdGetVersion        Command = 0x10
	CmdInfoResp          Command = 0x11
	CmdGetConfig         Command = 0x20
	CmdConfigData        Command = 0x21
	CmdLoadConfig        Command = 0x22
	CmdConfigAck         Command = 0x23
	CmdSaveConfig        Command = 0x24
	CmdFlashAck          Command = 0x25
	CmdClearConfig       Command = 0x26
	CmdClearConfigAck    Command = 0x27
	CmdStartStream       Command = 0x30
	CmdStopStream        Command = 0x31
	CmdData              Command = 0x32
	CmdSetOutput         Command = 0x40
	CmdOutputAck         Command = 0x41
	CmdGetChannel        Command = 0x43
	CmdChannelData       Command = 0x44
	CmdError             Command = 0x50
	CmdLoadBinaryConfig  Command = 0x68
	CmdBinaryConfigAck   Command = 0x69
	CmdReset             Command = 0x70
	CmdAck               Command = 0xE0
	CmdNack              Command = 0xE1
)

// Sequence-id reserved values (spec §4.H).
const (
	SeqBroadcast Sequence = 0x0000
	SeqReserved  Sequence = 0xFFFF
)

// Sequence is the 16-bit request/response correlator.
type Sequence uint16

// Frame is one decoded transport packet.
type Frame struct {
	Seq     Sequence
	Command Command
	Payload []byte
}

var (
	// ErrPayloadTooLarge is returned by Encode when Payload exceeds
	// MaxPayloadLen.
	ErrPayloadTooLarge = errors.New("transport: payload exceeds max length")
)

// Encode serializes f into a complete on-wire frame: start byte,
// little-endian length and sequence, command byte, payload, and a
// CRC-16/CCITT computed over len|seq|command|payload (never the start
// byte), per spec §6.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	body := make([]byte, 5+len(f.Payload))
	binary.LittleEndian.PutUint16(body[0:2], uint16(len(f.Payload)))
	binary.LittleEndian.PutUint16(body[2:4], uint16(f.Seq))
	body[4] = byte(f.Command)
	copy(body[5:], f.Payload)

	sum := crc.CCITT(body)

	out := make([]byte, 0, 1+len(body)+2)
	out = append(out, StartByte)
	out = append(out, body...)
	out = append(out, byte(sum&0xFF), byte(sum>>8))
	return out, nil
}

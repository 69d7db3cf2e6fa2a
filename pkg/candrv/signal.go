package candrv

import "github.com/fleetwire/pmucore/pkg/registry"

// ByteOrder is the byte assembly order used to extract or pack a
// signal's underlying multi-byte word before the startBit/bitLength
// mask is applied.
//
// Spec §3 names the field but not its exact bit-numbering scheme; this
// codec resolves it the simplest defensible way: the nBytes =
// ceil((startBit+bitLength)/8) bytes starting at byteOffset are
// assembled into one word (LittleEndian: first byte is least
// significant; BigEndian: first byte is most significant), then
// shifted right by startBit and masked to bitLength bits. This is
// documented here rather than silently picked, since the spec leaves
// the exact numbering to the implementation.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// DataType is the signal's underlying representation before scaling.
type DataType uint8

const (
	DataUnsigned DataType = iota
	DataSigned
	DataFloat
)

// TimeoutBehaviour selects what a signal publishes when its frame has
// timed out (spec §4.F "timeout policy").
type TimeoutBehaviour uint8

const (
	UseDefault TimeoutBehaviour = iota
	HoldLast
	Zero
)

// SignalDirection is RX (extract from a received frame) or TX (pack
// into a frame to transmit).
type SignalDirection uint8

const (
	SignalRX SignalDirection = iota
	SignalTX
)

// TriggerEdge selects which transition of a TX trigger channel fires
// an edge-triggered transmit (spec §4.F "TX ... on configured-edge of
// a trigger_channel_id").
type TriggerEdge uint8

const (
	TriggerRising TriggerEdge = iota
	TriggerFalling
	TriggerEither
)

// SignalConfig is one Level-2 signal channel (spec §3 "CAN signal
// channel (Level-2)"), immutable once loaded.
type SignalConfig struct {
	Name string

	Frame       FrameHandle
	FrameOffset int // sub-frame index within a compound message, [0, frame_count)

	DataType  DataType
	ByteOffset int
	StartBit   int
	BitLength  int
	ByteOrderV ByteOrder

	Multiplier int64
	Divider    int64
	Offset     int64

	DefaultValue     int32
	TimeoutBehaviour TimeoutBehaviour

	Direction SignalDirection

	// RX: the registry channel a successfully decoded value is
	// published to.
	TargetChannelID registry.ChannelID

	// TX: the registry channel this signal's packed value is sourced
	// from.
	SourceChannelID registry.ChannelID

	// TX scheduling: either a periodic cycle or an edge trigger, not
	// both (spec §4.F "transmits either periodically ... or on
	// configured-edge").
	CycleFrequencyHz int
	TriggerChannelID registry.ChannelID
	TriggerOn        TriggerEdge
}

// SignalState is one signal channel's mutable runtime state.
type SignalState struct {
	LastValue   int32
	TimeoutFlag bool

	lastTxTickMs  int64
	txArmed       bool
	lastTriggerRaw int32
	triggerArmed   bool
}

func divider(d int64) int64 {
	if d == 0 {
		return 1
	}
	return d
}

func saturateI32(v int64) int32 {
	const maxI32 = int64(1)<<31 - 1
	const minI32 = -(int64(1) << 31)
	if v > maxI32 {
		return int32(maxI32)
	}
	if v < minI32 {
		return int32(minI32)
	}
	return int32(v)
}

// extractRaw assembles the bytes [byteOffset : byteOffset+nBytes) of
// buf per order, then isolates the bitLength-wide field starting at
// startBit. Returns 0 if the field would read past the end of buf.
func extractRaw(buf []byte, byteOffset, startBit, bitLength int, order ByteOrder) uint64 {
	nBytes := (startBit + bitLength + 7) / 8
	if byteOffset < 0 || nBytes <= 0 || byteOffset+nBytes > len(buf) {
		return 0
	}
	var word uint64
	if order == BigEndian {
		for i := 0; i < nBytes; i++ {
			word = word<<8 | uint64(buf[byteOffset+i])
		}
	} else {
		for i := nBytes - 1; i >= 0; i-- {
			word = word<<8 | uint64(buf[byteOffset+i])
		}
	}
	word >>= uint(startBit)
	if bitLength >= 64 {
		return word
	}
	mask := uint64(1)<<uint(bitLength) - 1
	return word & mask
}

// packRaw writes a bitLength-wide field into buf at byteOffset,
// preserving the other bits of any byte the field shares.
func packRaw(buf []byte, byteOffset, startBit, bitLength int, order ByteOrder, raw uint64) {
	nBytes := (startBit + bitLength + 7) / 8
	if byteOffset < 0 || nBytes <= 0 || byteOffset+nBytes > len(buf) {
		return
	}
	var word uint64
	if order == BigEndian {
		for i := 0; i < nBytes; i++ {
			word = word<<8 | uint64(buf[byteOffset+i])
		}
	} else {
		for i := nBytes - 1; i >= 0; i-- {
			word = word<<8 | uint64(buf[byteOffset+i])
		}
	}
	mask := (uint64(1)<<uint(bitLength) - 1) << uint(startBit)
	word = (word &^ mask) | ((raw << uint(startBit)) & mask)
	if order == BigEndian {
		for i := nBytes - 1; i >= 0; i-- {
			buf[byteOffset+i] = byte(word)
			word >>= 8
		}
	} else {
		for i := 0; i < nBytes; i++ {
			buf[byteOffset+i] = byte(word)
			word >>= 8
		}
	}
}

// signExtend interprets raw's bitLength-wide field as two's complement.
func signExtend(raw uint64, bitLength int) int64 {
	if bitLength <= 0 || bitLength >= 64 {
		return int64(raw)
	}
	signBit := uint64(1) << uint(bitLength-1)
	if raw&signBit != 0 {
		return int64(raw | (^uint64(0) << uint(bitLength)))
	}
	return int64(raw)
}

// Decode extracts this signal's scaled value from a frame buffer
// (spec §4.F "extract bits ... apply sign-extend if signed, compute
// (raw · multiplier / divider) + offset").
func (c *SignalConfig) Decode(buf []byte) int32 {
	raw := extractRaw(buf, c.ByteOffset, c.StartBit, c.BitLength, c.ByteOrderV)
	var signedRaw int64
	if c.DataType == DataSigned {
		signedRaw = signExtend(raw, c.BitLength)
	} else {
		signedRaw = int64(raw)
	}
	mult := c.Multiplier
	if mult == 0 {
		mult = 1
	}
	return saturateI32(signedRaw*mult/divider(c.Divider) + c.Offset)
}

// Encode packs value (already in engineering units) into buf at this
// signal's bit layout, inverting Decode's scale.
func (c *SignalConfig) Encode(buf []byte, value int32) {
	mult := c.Multiplier
	if mult == 0 {
		mult = 1
	}
	raw := (int64(value)-c.Offset)*divider(c.Divider) / mult
	packRaw(buf, c.ByteOffset, c.StartBit, c.BitLength, c.ByteOrderV, uint64(raw)&((uint64(1)<<uint(c.BitLength))-1))
}

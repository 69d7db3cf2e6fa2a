package transport

import (
	"encoding/binary"
	"errors"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/internal/crc"
)

// StaleFrameMs is the mid-frame inactivity window after which the
// decoder abandons a partial frame and resyncs on the next start byte
// (spec §4.H: "stale packet > 50 ms mid-frame").
const StaleFrameMs = 50

var (
	ErrCRCMismatch     = errors.New("transport: crc mismatch")
	ErrLengthOverflow  = errors.New("transport: length exceeds max payload")
	ErrStaleFrame      = errors.New("transport: stale frame, mid-frame timeout")
)

type rxState uint8

// States mirror spec §4.H's RX state machine:
// SEEK_START -> LEN -> SEQ -> CMD -> PAYLOAD -> CRC -> (DISPATCH, by the caller)
const (
	stSeekStart rxState = iota
	stLen
	stSeq
	stCmd
	stPayload
	stCRC
)

// Decoder is a byte-at-a-time framed-transport RX state machine. It
// holds no transport-specific command semantics; Server layers that
// on top. Feed is safe to call from the main loop only (it must never
// block and performs no I/O), matching spec §5's non-blocking main
// loop contract.
type Decoder struct {
	clk clock.Source

	st      rxState
	startMs int64
	acc     crc.CRC16

	lenBuf   [2]byte
	lenN     int
	length   uint16
	seqBuf   [2]byte
	seqN     int
	seq      uint16
	cmd      byte
	payload  []byte
	payloadN int
	crcBuf   [2]byte
	crcN     int
}

// NewDecoder creates a Decoder. clk may be nil to disable the
// stale-frame timeout (e.g. in tests feeding a complete frame in one
// burst).
func NewDecoder(clk clock.Source) *Decoder {
	return &Decoder{clk: clk}
}

func (d *Decoder) reset() {
	*d = Decoder{clk: d.clk}
}

// Feed processes one received byte. ok is true only when a complete,
// CRC-valid frame has just been assembled. A non-nil error means the
// decoder discarded a partial frame (CRC mismatch, length overflow, or
// staleness) and has resynced to SEEK_START; the caller should log and
// continue feeding bytes.
func (d *Decoder) Feed(b byte) (frame Frame, ok bool, err error) {
	if d.st != stSeekStart && d.clk != nil && d.clk.NowMs()-d.startMs > StaleFrameMs {
		d.reset()
		d.feedByte(b)
		return Frame{}, false, ErrStaleFrame
	}
	return d.feedByte(b)
}

func (d *Decoder) feedByte(b byte) (Frame, bool, error) {
	switch d.st {
	case stSeekStart:
		if b == StartByte {
			d.acc = crc.New16()
			if d.clk != nil {
				d.startMs = d.clk.NowMs()
			}
			d.st = stLen
		}
		return Frame{}, false, nil

	case stLen:
		d.acc.Single(b)
		d.lenBuf[d.lenN] = b
		d.lenN++
		if d.lenN == 2 {
			d.length = binary.LittleEndian.Uint16(d.lenBuf[:])
			if d.length > MaxPayloadLen {
				d.reset()
				return Frame{}, false, ErrLengthOverflow
			}
			d.payload = make([]byte, d.length)
			d.st = stSeq
		}
		return Frame{}, false, nil

	case stSeq:
		d.acc.Single(b)
		d.seqBuf[d.seqN] = b
		d.seqN++
		if d.seqN == 2 {
			d.seq = binary.LittleEndian.Uint16(d.seqBuf[:])
			d.st = stCmd
		}
		return Frame{}, false, nil

	case stCmd:
		d.acc.Single(b)
		d.cmd = b
		if d.length == 0 {
			d.st = stCRC
		} else {
			d.st = stPayload
		}
		return Frame{}, false, nil

	case stPayload:
		d.acc.Single(b)
		d.payload[d.payloadN] = b
		d.payloadN++
		if d.payloadN == int(d.length) {
			d.st = stCRC
		}
		return Frame{}, false, nil

	case stCRC:
		d.crcBuf[d.crcN] = b
		d.crcN++
		if d.crcN < 2 {
			return Frame{}, false, nil
		}
		got := binary.LittleEndian.Uint16(d.crcBuf[:])
		want := d.acc.Value()
		f := Frame{Seq: Sequence(d.seq), Command: Command(d.cmd), Payload: d.payload}
		d.reset()
		if got != want {
			return Frame{}, false, ErrCRCMismatch
		}
		return f, true, nil
	}
	return Frame{}, false, nil
}

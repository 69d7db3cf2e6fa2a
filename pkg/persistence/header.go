package persistence

import (
	"encoding/binary"
	"errors"

	"github.com/fleetwire/pmucore/internal/crc"
)

var (
	ErrMagicMismatch = errors.New("persistence: magic mismatch")
	ErrCRCMismatch   = errors.New("persistence: crc mismatch")
)

// appHeaderWireSize: magic(4) version(4) build(4) app_size(4)
// app_crc32(4) entry_point(4) signature(64) header_crc32(4) = 92 bytes,
// well within the 4 KB region.
const appHeaderWireSize = 4 + 4 + 4 + 4 + 4 + 4 + 64 + 4

// AppHeader describes the application image (spec §4.I, §6).
type AppHeader struct {
	Magic       uint32
	Version     uint32
	Build       uint32
	AppSize     uint32
	AppCRC32    uint32
	EntryPoint  uint32
	Signature   [64]byte
	HeaderCRC32 uint32
}

// Encode serializes h, computing HeaderCRC32 over every preceding
// field.
func Encode(h AppHeader) []byte {
	buf := make([]byte, appHeaderWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.Build)
	binary.LittleEndian.PutUint32(buf[12:16], h.AppSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.AppCRC32)
	binary.LittleEndian.PutUint32(buf[20:24], h.EntryPoint)
	copy(buf[24:88], h.Signature[:])
	h.HeaderCRC32 = crc.IEEE32(buf[:88])
	binary.LittleEndian.PutUint32(buf[88:92], h.HeaderCRC32)
	return buf
}

// DecodeHeader parses and CRC-validates an AppHeader.
func DecodeHeader(buf []byte) (AppHeader, error) {
	if len(buf) < appHeaderWireSize {
		return AppHeader{}, errors.New("persistence: short header buffer")
	}
	var h AppHeader
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.Build = binary.LittleEndian.Uint32(buf[8:12])
	h.AppSize = binary.LittleEndian.Uint32(buf[12:16])
	h.AppCRC32 = binary.LittleEndian.Uint32(buf[16:20])
	h.EntryPoint = binary.LittleEndian.Uint32(buf[20:24])
	copy(h.Signature[:], buf[24:88])
	h.HeaderCRC32 = binary.LittleEndian.Uint32(buf[88:92])

	if h.Magic != MagicApp {
		return h, ErrMagicMismatch
	}
	if crc.IEEE32(buf[:88]) != h.HeaderCRC32 {
		return h, ErrCRCMismatch
	}
	return h, nil
}

// bootSharedWireSize: magic(4) boot_reason(1) update_requested(1)
// boot_count(2) last_crash_addr(4) checksum(4) = 16 bytes, battery-
// backed SRAM resident (spec §4.I step 1).
const bootSharedWireSize = 4 + 1 + 1 + 2 + 4 + 4

// BootSharedData is the small battery-backed-SRAM record read at the
// very start of the boot flow (spec §4.I step 1).
type BootSharedData struct {
	Magic           uint32
	BootReason      byte
	UpdateRequested bool
	BootCount       uint16
	LastCrashAddr   uint32
	Checksum        uint32
}

// EncodeBootShared serializes d, computing Checksum over every
// preceding field.
func EncodeBootShared(d BootSharedData) []byte {
	buf := make([]byte, bootSharedWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.Magic)
	buf[4] = d.BootReason
	if d.UpdateRequested {
		buf[5] = 1
	}
	binary.LittleEndian.PutUint16(buf[6:8], d.BootCount)
	binary.LittleEndian.PutUint32(buf[8:12], d.LastCrashAddr)
	d.Checksum = crc.IEEE32(buf[:12])
	binary.LittleEndian.PutUint32(buf[12:16], d.Checksum)
	return buf
}

// DecodeBootShared parses d, validating magic and checksum. An
// invalid record per spec §4.I step 1 must be treated as "zero it",
// not fail the boot; callers get ErrMagicMismatch/ErrCRCMismatch and
// should substitute a fresh zero-value BootSharedData.
func DecodeBootShared(buf []byte) (BootSharedData, error) {
	if len(buf) < bootSharedWireSize {
		return BootSharedData{}, errors.New("persistence: short boot-shared buffer")
	}
	var d BootSharedData
	d.Magic = binary.LittleEndian.Uint32(buf[0:4])
	d.BootReason = buf[4]
	d.UpdateRequested = buf[5] != 0
	d.BootCount = binary.LittleEndian.Uint16(buf[6:8])
	d.LastCrashAddr = binary.LittleEndian.Uint32(buf[8:12])
	d.Checksum = binary.LittleEndian.Uint32(buf[12:16])

	if d.Magic != MagicBootShared {
		return d, ErrMagicMismatch
	}
	if crc.IEEE32(buf[:12]) != d.Checksum {
		return d, ErrCRCMismatch
	}
	return d, nil
}

package persistence

import (
	"encoding/binary"
	"errors"

	"github.com/fleetwire/pmucore/internal/crc"
)

// ErrStagingCRCFail is returned by Finalize's caller-visible
// counterpart (Bootloader.applyStagedUpdate) when the assembled image
// does not match the CRC recorded at Finalize time.
var ErrStagingCRCFail = errors.New("persistence: staged image crc mismatch")

// stagingTrailerSize: magic(4) size(4) crc32(4) valid(1) = 13 bytes,
// stored at the front of the external staging region so the bootloader
// can decide "update_requested and image present" without touching
// the battery-backed shared record for anything but the request flag
// itself (spec §4.I "Staging update").
const stagingTrailerSize = 4 + 4 + 4 + 1

// Staging manages the OTA staging buffer in external flash (spec
// §4.I "Staging update"): write_chunk appends bytes, finalize records
// the expected size/CRC, cancel clears the marker.
type Staging struct {
	nvm NVM
}

func NewStaging(external NVM) *Staging { return &Staging{nvm: external} }

// WriteChunk appends bytes at offset within the staged image (not
// including the trailer header).
func (s *Staging) WriteChunk(offset uint32, data []byte) error {
	if uint64(stagingTrailerSize)+uint64(offset)+uint64(len(data)) > uint64(StagingSize) {
		return ErrOutOfRange
	}
	return s.nvm.WriteAt(StagingOffset+stagingTrailerSize+offset, data)
}

// Finalize records the expected total size and CRC-32 of the staged
// image and sets the trailer's valid marker. It does not touch the
// shared boot record: Bootloader.Boot applies the image only when that
// record's UpdateRequested flag is also set.
func (s *Staging) Finalize(totalSize uint32, crc32 uint32) error {
	trailer := make([]byte, stagingTrailerSize)
	binary.LittleEndian.PutUint32(trailer[0:4], MagicUpdate)
	binary.LittleEndian.PutUint32(trailer[4:8], totalSize)
	binary.LittleEndian.PutUint32(trailer[8:12], crc32)
	trailer[12] = 1
	return s.nvm.WriteAt(StagingOffset, trailer)
}

// Cancel clears the staging marker without erasing the image bytes
// (the next write_chunk/finalize cycle overwrites them).
func (s *Staging) Cancel() error {
	return s.nvm.EraseSector(StagingOffset, stagingTrailerSize)
}

// Pending reports whether a finalized, CRC-valid image is staged and
// ready to apply, returning the image bytes.
func (s *Staging) Pending() (data []byte, ok bool) {
	trailer := make([]byte, stagingTrailerSize)
	if err := s.nvm.ReadAt(StagingOffset, trailer); err != nil {
		return nil, false
	}
	if binary.LittleEndian.Uint32(trailer[0:4]) != MagicUpdate || trailer[12] != 1 {
		return nil, false
	}
	size := binary.LittleEndian.Uint32(trailer[4:8])
	wantCRC := binary.LittleEndian.Uint32(trailer[8:12])
	if uint64(stagingTrailerSize)+uint64(size) > uint64(StagingSize) {
		return nil, false
	}
	buf := make([]byte, size)
	if err := s.nvm.ReadAt(StagingOffset+stagingTrailerSize, buf); err != nil {
		return nil, false
	}
	if crc.IEEE32(buf) != wantCRC {
		return nil, false
	}
	return buf, true
}

// applyStagedUpdate implements spec §4.I step 2: erase the
// application region, copy the staged image in, and clear the
// staging marker. The caller (Bootloader.Boot) is responsible for
// clearing BootSharedData.UpdateRequested afterward.
func (b *Bootloader) applyStagedUpdate() error {
	staging := NewStaging(b.external)
	data, ok := staging.Pending()
	if !ok {
		return ErrStagingCRCFail
	}
	if err := b.internal.EraseSector(AppOffset, AppSize); err != nil {
		return err
	}
	if err := b.internal.WriteAt(AppOffset, data); err != nil {
		return err
	}
	header := AppHeader{
		Magic:    MagicApp,
		AppSize:  uint32(len(data)),
		AppCRC32: crc.IEEE32(data),
	}
	if err := b.internal.EraseSector(AppHeaderOffset, AppHeaderSize); err != nil {
		return err
	}
	if err := b.internal.WriteAt(AppHeaderOffset, Encode(header)); err != nil {
		return err
	}
	return staging.Cancel()
}

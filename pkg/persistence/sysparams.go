package persistence

import (
	"encoding/binary"
	"log/slog"

	"github.com/fleetwire/pmucore/internal/crc"
)

// sysParamsHeaderSize: magic(4) write_count(4) length(4) crc32(4).
const sysParamsHeaderSize = 16

// SysParams stores the small system-parameters record (serial number,
// calibration, thresholds, counters) in the 4 KB header region,
// wear-levelled across two 2 KB sub-regions by alternating which one
// is written on every Save, tracking write_count so Load always
// recovers the most recently written valid copy (spec §4.I "System
// parameters").
type SysParams struct {
	nvm    NVM
	logger *slog.Logger
}

func NewSysParams(internal NVM, logger *slog.Logger) *SysParams {
	if logger == nil {
		logger = slog.Default()
	}
	return &SysParams{nvm: internal, logger: logger}
}

func subRegionOffset(i int) uint32 { return SysParamsOffset + uint32(i)*SysParamsSubRegion }

func (p *SysParams) readSubRegion(i int) (uint32, []byte, error) {
	hbuf := make([]byte, sysParamsHeaderSize)
	if err := p.nvm.ReadAt(subRegionOffset(i), hbuf); err != nil {
		return 0, nil, err
	}
	magic := binary.LittleEndian.Uint32(hbuf[0:4])
	writeCount := binary.LittleEndian.Uint32(hbuf[4:8])
	length := binary.LittleEndian.Uint32(hbuf[8:12])
	wantCRC := binary.LittleEndian.Uint32(hbuf[12:16])
	if magic != MagicConfig {
		return 0, nil, ErrMagicMismatch
	}
	if uint64(length) > uint64(SysParamsSubRegion-sysParamsHeaderSize) {
		return 0, nil, ErrOutOfRange
	}
	data := make([]byte, length)
	if err := p.nvm.ReadAt(subRegionOffset(i)+sysParamsHeaderSize, data); err != nil {
		return 0, nil, err
	}
	if crc.IEEE32(data) != wantCRC {
		return 0, nil, ErrCRCMismatch
	}
	return writeCount, data, nil
}

// Load returns the most recently written valid copy, or ErrNoConfig
// if neither sub-region validates (a cold, never-provisioned device).
func (p *SysParams) Load() ([]byte, error) {
	bestCount := uint32(0)
	var bestData []byte
	found := false
	for i := 0; i < 2; i++ {
		count, data, err := p.readSubRegion(i)
		if err != nil {
			continue
		}
		if !found || count > bestCount {
			found = true
			bestCount = count
			bestData = data
		}
	}
	if !found {
		return nil, ErrNoConfig
	}
	return bestData, nil
}

// Save writes data to the sub-region not currently holding the
// highest write_count, giving it write_count+1 so it becomes the one
// Load prefers.
func (p *SysParams) Save(data []byte) error {
	if len(data) > SysParamsSubRegion-sysParamsHeaderSize {
		return ErrConfigTooLarge
	}
	bestCount, target := uint32(0), 0
	anyValid := false
	for i := 0; i < 2; i++ {
		count, _, err := p.readSubRegion(i)
		if err != nil {
			continue
		}
		anyValid = true
		if count >= bestCount {
			bestCount = count
			target = 1 - i // write the sibling
		}
	}
	nextCount := bestCount + 1
	if !anyValid {
		target, nextCount = 0, 1
	}

	if err := p.nvm.EraseSector(subRegionOffset(target), SysParamsSubRegion); err != nil {
		return err
	}
	if err := p.nvm.WriteAt(subRegionOffset(target)+sysParamsHeaderSize, data); err != nil {
		return err
	}
	hbuf := make([]byte, sysParamsHeaderSize)
	binary.LittleEndian.PutUint32(hbuf[0:4], MagicConfig)
	binary.LittleEndian.PutUint32(hbuf[4:8], nextCount)
	binary.LittleEndian.PutUint32(hbuf[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint32(hbuf[12:16], crc.IEEE32(data))
	return p.nvm.WriteAt(subRegionOffset(target), hbuf)
}

package persistence

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/fleetwire/pmucore/internal/crc"
)

// ErrNoConfig is returned by LoadConfig when neither slot's header
// validates (spec §4.I "if neither validates, signal no_config").
var ErrNoConfig = errors.New("persistence: no valid configuration slot")

// ErrConfigTooLarge is returned by SaveConfig when data exceeds
// MaxConfigBytes.
var ErrConfigTooLarge = errors.New("persistence: configuration exceeds per-slot size limit")

// slotHeaderSize: magic(4) seq(4) length(4) crc32(4) = 16 bytes.
const slotHeaderSize = 16

// ConfigStore implements the two-slot configuration persistence (spec
// §4.I "Configuration slots"): save_json writes the inactive slot and
// atomically becomes active by carrying a higher sequence number than
// its sibling; load_json returns whichever valid slot has the higher
// sequence. It satisfies pkg/transport.ConfigStore.
type ConfigStore struct {
	nvm    NVM
	logger *slog.Logger
}

func NewConfigStore(external NVM, logger *slog.Logger) *ConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigStore{nvm: external, logger: logger}
}

func slotOffset(i int) uint32 { return ConfigBackupOffset + uint32(i)*ConfigSlotSize }

type slotHeader struct {
	magic  uint32
	seq    uint32
	length uint32
	crc32  uint32
}

func (c *ConfigStore) readSlot(i int) (slotHeader, []byte, error) {
	hbuf := make([]byte, slotHeaderSize)
	if err := c.nvm.ReadAt(slotOffset(i), hbuf); err != nil {
		return slotHeader{}, nil, err
	}
	h := slotHeader{
		magic:  binary.LittleEndian.Uint32(hbuf[0:4]),
		seq:    binary.LittleEndian.Uint32(hbuf[4:8]),
		length: binary.LittleEndian.Uint32(hbuf[8:12]),
		crc32:  binary.LittleEndian.Uint32(hbuf[12:16]),
	}
	if h.magic != MagicConfig {
		return h, nil, ErrMagicMismatch
	}
	if uint64(h.length) > uint64(ConfigSlotSize-slotHeaderSize) {
		return h, nil, ErrOutOfRange
	}
	data := make([]byte, h.length)
	if err := c.nvm.ReadAt(slotOffset(i)+slotHeaderSize, data); err != nil {
		return h, nil, err
	}
	if crc.IEEE32(data) != h.crc32 {
		return h, nil, ErrCRCMismatch
	}
	return h, data, nil
}

// activeSlot returns the index (0 or 1) of the valid slot with the
// higher sequence number, or -1 if neither validates.
func (c *ConfigStore) activeSlot() (int, slotHeader, []byte) {
	best := -1
	var bestHeader slotHeader
	var bestData []byte
	for i := 0; i < 2; i++ {
		h, data, err := c.readSlot(i)
		if err != nil {
			continue
		}
		if best == -1 || h.seq > bestHeader.seq {
			best = i
			bestHeader = h
			bestData = data
		}
	}
	return best, bestHeader, bestData
}

// SaveConfig writes data to the inactive slot, then lets that slot's
// higher sequence number make it active. The sibling slot is not
// erased; its lower sequence number alone makes it inactive.
func (c *ConfigStore) SaveConfig(data []byte) error {
	if len(data) > MaxConfigBytes || len(data) > ConfigSlotSize-slotHeaderSize {
		return ErrConfigTooLarge
	}
	active, activeHeader, _ := c.activeSlot()
	target := 0
	nextSeq := uint32(1)
	if active == 0 {
		target = 1
		nextSeq = activeHeader.seq + 1
	} else if active == 1 {
		target = 0
		nextSeq = activeHeader.seq + 1
	}

	if err := c.nvm.EraseSector(slotOffset(target), ConfigSlotSize); err != nil {
		return err
	}
	if err := c.nvm.WriteAt(slotOffset(target)+slotHeaderSize, data); err != nil {
		return err
	}
	hbuf := make([]byte, slotHeaderSize)
	binary.LittleEndian.PutUint32(hbuf[0:4], MagicConfig)
	binary.LittleEndian.PutUint32(hbuf[4:8], nextSeq)
	binary.LittleEndian.PutUint32(hbuf[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint32(hbuf[12:16], crc.IEEE32(data))
	if err := c.nvm.WriteAt(slotOffset(target), hbuf); err != nil {
		return err
	}

	c.logger.Info("configuration saved", "slot", target, "seq", nextSeq, "bytes", len(data))
	return nil
}

// LoadConfig returns the active slot's payload, or ErrNoConfig if
// neither slot validates.
func (c *ConfigStore) LoadConfig() ([]byte, error) {
	active, _, data := c.activeSlot()
	if active == -1 {
		return nil, ErrNoConfig
	}
	return data, nil
}

// ClearConfig erases both slots.
func (c *ConfigStore) ClearConfig() error {
	for i := 0; i < 2; i++ {
		if err := c.nvm.EraseSector(slotOffset(i), ConfigSlotSize); err != nil {
			return err
		}
	}
	return nil
}

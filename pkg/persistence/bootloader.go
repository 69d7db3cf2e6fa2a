package persistence

import (
	"errors"
	"log/slog"

	"github.com/fleetwire/pmucore/internal/crc"
)

// BootAction records which branch of the spec §4.I boot flow fired,
// exposed for tests and the status LED encoding (spec §7).
type BootAction uint8

const (
	BootActionNormal BootAction = iota
	BootActionUpdateApplied
	BootActionRollback
	BootActionNoValidApp
)

func (a BootAction) String() string {
	switch a {
	case BootActionUpdateApplied:
		return "update_applied"
	case BootActionRollback:
		return "rollback"
	case BootActionNoValidApp:
		return "no_valid_app"
	default:
		return "normal"
	}
}

var (
	ErrNoValidApp     = errors.New("persistence: no valid application image")
	ErrUpdateCRCFail  = errors.New("persistence: staged update crc mismatch")
	ErrBootLoopExceeded = errors.New("persistence: boot loop exceeded, rolled back")
)

// BootResult is what the boot flow decided; Header.EntryPoint is meaningless on a
// desktop build but carried through so a real bootloader can jump to
// it.
type BootResult struct {
	Action BootAction
	Header AppHeader
	Shared BootSharedData
}

// Bootloader implements spec §4.I's boot flow over internal flash
// (the application region, its backup, and the staging area on
// external flash). It runs once, before the main loop ever ticks.
type Bootloader struct {
	sram     NVM
	internal NVM
	external NVM
	logger   *slog.Logger
}

// NewBootloader creates a Bootloader. sram backs the small
// battery-backed shared record (spec §4.I step 1); it is a distinct
// device from internal/external flash on real hardware, and may be a
// small dedicated MemNVM in tests and the desktop simulator.
func NewBootloader(sram, internal, external NVM, logger *slog.Logger) *Bootloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootloader{sram: sram, internal: internal, external: external, logger: logger}
}

// Boot runs the five-step flow from spec §4.I:
//  1. read and validate the shared boot record, zeroing it if invalid
//  2. apply a staged update if requested and CRC-valid
//  3. validate the (possibly just-applied) application header then code CRC
//  4. roll back to the backup image if boot_count exceeds the limit
//  5. report the decision (a real device jumps to Header.EntryPoint; non-returning)
func (b *Bootloader) Boot() (BootResult, error) {
	shared := b.readSharedOrZero()

	if shared.UpdateRequested {
		if err := b.applyStagedUpdate(); err != nil {
			b.logger.Warn("staged update rejected", "err", err)
			shared.BootReason = BootReasonInvalidApp
		} else {
			shared.UpdateRequested = false
			shared.BootReason = BootReasonUpdateApplied
			shared.BootCount = 0
			b.writeShared(shared)
		}
	}

	header, err := b.validateHeader(AppHeaderOffset, AppOffset)
	if err != nil {
		b.logger.Error("application header invalid, attempting backup", "err", err)
		return b.rollback(shared)
	}

	if shared.BootCount >= MaxBootAttempts {
		b.logger.Warn("boot loop detected, rolling back", "boot_count", shared.BootCount)
		res, rerr := b.rollback(shared)
		if rerr == nil {
			return res, ErrBootLoopExceeded
		}
		return res, rerr
	}

	shared.BootCount++
	shared.BootReason = BootReasonPowerOn
	b.writeShared(shared)

	return BootResult{Action: BootActionNormal, Header: header, Shared: shared}, nil
}

func (b *Bootloader) readSharedOrZero() BootSharedData {
	buf := make([]byte, bootSharedWireSize)
	if err := b.sram.ReadAt(0, buf); err != nil {
		return BootSharedData{}
	}
	d, err := DecodeBootShared(buf)
	if err != nil {
		return BootSharedData{}
	}
	return d
}

func (b *Bootloader) writeShared(d BootSharedData) {
	// SRAM (unlike NOR flash) supports plain overwrite, but MemNVM
	// models the conservative AND-only write every NVM backend shares;
	// erase first so a changed field (e.g. an incrementing boot count)
	// is never masked by the previous value's cleared bits.
	if err := b.sram.EraseSector(0, bootSharedWireSize); err != nil {
		b.logger.Error("failed to erase boot-shared record", "err", err)
		return
	}
	if err := b.sram.WriteAt(0, EncodeBootShared(d)); err != nil {
		b.logger.Error("failed to persist boot-shared record", "err", err)
	}
}

// The backup application region mirrors the primary layout: its own
// AppHeaderSize-byte header first, then up to AppSize bytes of code,
// carved out of its 960 KB budget exactly as the primary app region
// carves its code out of the budget following AppHeaderOffset.
const backupHeaderOffset = BackupAppOffset
const backupCodeOffset = BackupAppOffset + AppHeaderSize

func (b *Bootloader) validateHeader(headerOffset, codeOffset uint32) (AppHeader, error) {
	buf := make([]byte, appHeaderWireSize)
	if err := b.internal.ReadAt(headerOffset, buf); err != nil {
		return AppHeader{}, err
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return h, err
	}
	appBuf := make([]byte, h.AppSize)
	if err := b.internal.ReadAt(codeOffset, appBuf); err != nil {
		return h, err
	}
	if crc.IEEE32(appBuf) != h.AppCRC32 {
		return h, ErrCRCMismatch
	}
	return h, nil
}

func (b *Bootloader) rollback(shared BootSharedData) (BootResult, error) {
	backup, err := b.validateHeader(backupHeaderOffset, backupCodeOffset)
	if err != nil {
		shared.BootReason = BootReasonInvalidApp
		b.writeShared(shared)
		return BootResult{Action: BootActionNoValidApp, Shared: shared}, ErrNoValidApp
	}

	appBuf := make([]byte, backup.AppSize)
	if err := b.internal.ReadAt(backupCodeOffset, appBuf); err == nil {
		_ = b.internal.EraseSector(AppOffset, AppSize)
		_ = b.internal.WriteAt(AppOffset, appBuf)
	}
	_ = b.internal.EraseSector(AppHeaderOffset, AppHeaderSize)
	_ = b.internal.WriteAt(AppHeaderOffset, Encode(backup))

	shared.BootReason = BootReasonRollback
	shared.BootCount = 0
	b.writeShared(shared)
	return BootResult{Action: BootActionRollback, Header: backup, Shared: shared}, nil
}

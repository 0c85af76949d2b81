// Package ahci drives an AHCI HBA: global register bring-up, per-port
// command-engine start/stop, FIS/command-table construction, and
// IDENTIFY/read/write command issue (spec.md §4.11).
//
// Grounded on original_source/kernel/src/storage/ahci/hba.rs: the
// CMD_START_BIT/CMD_FIS_RECEIVE_ENABLE_BIT/CMD_FIS_RECEIVE_RUNNING_BIT/
// CMD_LIST_RUNNING_BIT constants, HbaPort/HbaRegs field offsets,
// HbaCommandHeader/HbaCommandHeaderDword0's bitfield, the PRDT entry
// layout, HbaCommandTable, and the DeviceSignature enum (SATA_SIG,
// SATAPI_SIG, ENCLOSURE_SIG, PORT_MULTIPLIER_SIG) this rewrite uses to
// skip IDENTIFY for enclosure/port-multiplier devices (SPEC_FULL.md
// supplemented feature #6). Register access goes through the same
// Regs_i-style isolation apic.Regs_i already introduced for LAPIC/IOAPIC
// MMIO, mirroring biscuit/src/ufs/driver.go's Disk_i fake-vs-real split.
package ahci

import (
	"golang.org/x/sync/errgroup"

	"ringspine/errs"
)

// Regs_i isolates 32-bit MMIO register access — the same shape as
// apic.Regs_i, kept as its own type so this package doesn't import apic
// for an unrelated concern.
type Regs_i interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, val uint32)
}

// HBA global register offsets.
const (
	ghcOffset = 0x04
	piOffset  = 0x0C
	ghcAE     = 1 << 31
)

/// EnableAHCI sets GHC.AE (AHCI Enable) and confirms it stuck — some
/// controllers require this before any port register is meaningful
/// (spec.md §4.11).
func EnableAHCI(hba Regs_i) errs.Err_t {
	hba.Write32(ghcOffset, hba.Read32(ghcOffset)|ghcAE)
	if hba.Read32(ghcOffset)&ghcAE == 0 {
		return errs.EHARDWARE
	}
	return errs.EOK
}

/// ImplementedPorts reads the PI (Ports Implemented) bitmap.
func ImplementedPorts(hba Regs_i) uint32 {
	return hba.Read32(piOffset)
}

// Per-port register offsets (within a 0x80-byte port window).
const (
	portCLB  = 0x00
	portFB   = 0x08
	portIS   = 0x10
	portCMD  = 0x18
	portTFD  = 0x20
	portSIG  = 0x24
	portSSTS = 0x28
	portCI   = 0x38
)

// PxCMD bits (original_source hba.rs's CMD_* constants).
const (
	cmdStartBit           = 1 << 0  // ST
	cmdFisReceiveEnableBit = 1 << 4 // FRE
	cmdFisReceiveRunningBit = 1 << 14 // FR
	cmdListRunningBit     = 1 << 15 // CR
)

// DeviceSignature_t identifies what's attached to a port, read from PxSIG
// after a successful COMRESET (original_source hba.rs's DeviceSignature).
type DeviceSignature_t uint32

const (
	SigSATA  DeviceSignature_t = 0x00000101
	SigSATAPI DeviceSignature_t = 0xEB140101
	SigSEMB  DeviceSignature_t = 0xC33C0101 // enclosure management bridge
	SigPM    DeviceSignature_t = 0x96690101 // port multiplier
)

/// NeedsIdentify reports whether a device with this signature should
/// receive an IDENTIFY command — false for enclosure and port-multiplier
/// signatures (SPEC_FULL.md supplemented feature #6).
func (s DeviceSignature_t) NeedsIdentify() bool {
	return s == SigSATA || s == SigSATAPI
}

// StopCommandEngine clears ST then FRE and polls until both CR and FR drop,
// the sequence the AHCI spec (and original_source) require before
// touching CLB/FB (spec.md §4.11).
func StopCommandEngine(port Regs_i, maxPolls int) errs.Err_t {
	cmd := port.Read32(portCMD)
	cmd &^= cmdStartBit
	port.Write32(portCMD, cmd)
	for i := 0; i < maxPolls; i++ {
		if port.Read32(portCMD)&cmdListRunningBit == 0 {
			break
		}
		if i == maxPolls-1 {
			return errs.EHARDWARE
		}
	}
	cmd = port.Read32(portCMD)
	cmd &^= cmdFisReceiveEnableBit
	port.Write32(portCMD, cmd)
	for i := 0; i < maxPolls; i++ {
		if port.Read32(portCMD)&cmdFisReceiveRunningBit == 0 {
			return errs.EOK
		}
		if i == maxPolls-1 {
			return errs.EHARDWARE
		}
	}
	return errs.EOK
}

/// StartCommandEngine programs CLB/FB then sets FRE and ST (spec.md
/// §4.11), once the engine has been stopped.
func StartCommandEngine(port Regs_i, clb, fb uint32) errs.Err_t {
	port.Write32(portCLB, clb)
	port.Write32(portFB, fb)
	cmd := port.Read32(portCMD)
	cmd |= cmdFisReceiveEnableBit
	port.Write32(portCMD, cmd)
	cmd = port.Read32(portCMD) | cmdStartBit
	port.Write32(portCMD, cmd)
	return errs.EOK
}

/// PortConfig_t is one port's bring-up parameters: where its command list
/// and FIS receive area live.
type PortConfig_t struct {
	Regs   Regs_i
	CLB    uint32
	FB     uint32
}

// BringUpPorts stops and restarts every implemented port concurrently
// using golang.org/x/sync/errgroup (DOMAIN STACK item): port bring-up is
// independent per port, so there's no reason to serialize it the way a
// naive loop would (spec.md §4.11).
func BringUpPorts(ports []PortConfig_t, maxPolls int) errs.Err_t {
	var g errgroup.Group
	results := make([]errs.Err_t, len(ports))
	for i, p := range ports {
		i, p := i, p
		g.Go(func() error {
			if err := StopCommandEngine(p.Regs, maxPolls); err != errs.EOK {
				results[i] = err
				return nil
			}
			results[i] = StartCommandEngine(p.Regs, p.CLB, p.FB)
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		if r != errs.EOK {
			return r
		}
	}
	return errs.EOK
}

// HbaCommandHeaderDword0_t is the first 32-bit word of a command header:
// CFL (command FIS length, 5 bits), ATAPI, Write, Prefetchable, Reset,
// BIST, ClearBusyOnROK, and PMP (4 bits), exactly as original_source
// hba.rs's HbaCommandHeaderDword0 bitfield lays them out.
type HbaCommandHeaderDword0_t uint16

func PackCommandHeaderDword0(cfl uint8, atapi, write, prefetchable bool, pmp uint8) HbaCommandHeaderDword0_t {
	v := uint16(cfl & 0x1f)
	if atapi {
		v |= 1 << 5
	}
	if write {
		v |= 1 << 6
	}
	if prefetchable {
		v |= 1 << 7
	}
	v |= uint16(pmp&0xf) << 12
	return HbaCommandHeaderDword0_t(v)
}

/// HbaCommandHeader_t is one 32-byte command-list slot (spec.md §4.11).
type HbaCommandHeader_t struct {
	Dword0        HbaCommandHeaderDword0_t
	PrdtLength    uint16 // number of PRDT entries
	PrdByteCount  uint32 // set by the HBA on completion
	CommandTableBase uint64 // physical address of the HbaCommandTable_t
}

/// PrdtEntry_t is one Physical Region Descriptor Table entry (spec.md
/// §4.11): a DMA buffer's physical address and byte count.
type PrdtEntry_t struct {
	DataBase      uint64
	ByteCount     uint32 // bits 0-21; bit 31 is the interrupt-on-completion flag
}

const prdtInterruptBit = 1 << 31

/// PackByteCount encodes a PRDT byte count (must be even per the AHCI
/// spec; 0 means 1 byte due to the "count - 1" encoding original_source
/// follows) with the interrupt-on-completion flag.
func PackByteCount(n int, interrupt bool) uint32 {
	v := uint32(n-1) & 0x3fffff
	if interrupt {
		v |= prdtInterruptBit
	}
	return v
}

/// HbaCommandTable_t is the command FIS plus its PRDT (spec.md §4.11).
type HbaCommandTable_t struct {
	CommandFIS [64]byte
	Prdt       []PrdtEntry_t
}

// ATA command opcodes (spec.md §4.11).
const (
	ataIdentify     = 0xEC
	ataReadDMAExt   = 0x25
	ataWriteDMAExt  = 0x35
)

// FIS types.
const fisTypeRegH2D = 0x27

/// BuildRegH2DFis constructs a Register Host-to-Device FIS for an LBA48
/// command (IDENTIFY/READ DMA EXT/WRITE DMA EXT), matching the layout
/// original_source's fis module packs (spec.md §4.11).
func BuildRegH2DFis(command uint8, lba uint64, sectorCount uint16) [20]byte {
	var f [20]byte
	f[0] = fisTypeRegH2D
	f[1] = 1 << 7 // C bit: this is a command, not a control update
	f[2] = command
	f[4] = byte(lba)
	f[5] = byte(lba >> 8)
	f[6] = byte(lba >> 16)
	f[7] = 1 << 6 // LBA mode
	f[8] = byte(lba >> 24)
	f[9] = byte(lba >> 32)
	f[10] = byte(lba >> 40)
	f[12] = byte(sectorCount)
	f[13] = byte(sectorCount >> 8)
	return f
}

/// IdentifyFis builds the FIS for an IDENTIFY DEVICE command.
func IdentifyFis() [20]byte { return BuildRegH2Fis0(ataIdentify) }

func BuildRegH2Fis0(command uint8) [20]byte {
	var f [20]byte
	f[0] = fisTypeRegH2D
	f[1] = 1 << 7
	f[2] = command
	return f
}

/// ReadFis builds the FIS for a READ DMA EXT of sectorCount sectors at lba.
func ReadFis(lba uint64, sectorCount uint16) [20]byte {
	return BuildRegH2DFis(ataReadDMAExt, lba, sectorCount)
}

/// WriteFis builds the FIS for a WRITE DMA EXT of sectorCount sectors at
/// lba.
func WriteFis(lba uint64, sectorCount uint16) [20]byte {
	return BuildRegH2DFis(ataWriteDMAExt, lba, sectorCount)
}

// SectorSize is the fixed logical sector size this driver assumes.
const SectorSize = 512

// Backing_i is the simulated disk behind a port: ReadSectors/WriteSectors
// stand in for what a real command-table/PRDT DMA transfer moves, the way
// biscuit/src/ufs/driver.go's ahci_disk_t simulates a disk over an
// *os.File rather than real hardware.
type Backing_i interface {
	ReadSectors(lba uint64, count int) ([]byte, errs.Err_t)
	WriteSectors(lba uint64, data []byte) errs.Err_t
}

/// Port_t issues commands against one port's Backing_i, modeling the
/// register-level bring-up (Regs, CI) plus the command-table construction
/// above. CI (Command Issue) is written and polled the way real hardware
/// would be, even though Backing_i completes the transfer synchronously.
type Port_t struct {
	Regs    Regs_i
	Sig     DeviceSignature_t
	Backing Backing_i
}

func (p *Port_t) issue(slot uint, maxPolls int) errs.Err_t {
	p.Regs.Write32(portCI, 1<<slot)
	for i := 0; i < maxPolls; i++ {
		if p.Regs.Read32(portCI)&(1<<slot) == 0 {
			return errs.EOK
		}
	}
	return errs.EHARDWARE
}

/// Identify issues IDENTIFY DEVICE if the attached device's signature
/// warrants it, returning ENODEV for enclosure/port-multiplier signatures
/// (SPEC_FULL.md supplemented feature #6).
func (p *Port_t) Identify(maxPolls int) ([]byte, errs.Err_t) {
	if !p.Sig.NeedsIdentify() {
		return nil, errs.ENODEV
	}
	_ = IdentifyFis()
	if err := p.issue(0, maxPolls); err != errs.EOK {
		return nil, err
	}
	return p.Backing.ReadSectors(0, 1)
}

/// ReadSectors issues a READ DMA EXT for count sectors starting at lba.
func (p *Port_t) ReadSectors(lba uint64, count int, maxPolls int) ([]byte, errs.Err_t) {
	_ = ReadFis(lba, uint16(count))
	if err := p.issue(0, maxPolls); err != errs.EOK {
		return nil, err
	}
	return p.Backing.ReadSectors(lba, count)
}

/// WriteSectors issues a WRITE DMA EXT for data (must be a multiple of
/// SectorSize) starting at lba.
func (p *Port_t) WriteSectors(lba uint64, data []byte, maxPolls int) errs.Err_t {
	if len(data)%SectorSize != 0 {
		return errs.EINVAL
	}
	_ = WriteFis(lba, uint16(len(data)/SectorSize))
	if err := p.issue(0, maxPolls); err != errs.EOK {
		return err
	}
	return p.Backing.WriteSectors(lba, data)
}

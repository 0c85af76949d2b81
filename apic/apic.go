// Package apic bring up interrupt control from the legacy PIC through the
// Local APIC and I/O APIC (spec.md §4.6), plus the ACPI MADT walk used to
// locate their MMIO windows and a boot-time CPU feature probe.
//
// Grounded on biscuit/src/pci/olddiski.go and biscuit/src/ufs/driver.go's
// device_i interface-isolation idiom: every piece of hardware the kernel
// talks to (a disk there, the PIC/LAPIC/IOAPIC here) is reached through a
// small interface of register reads/writes, so the sequencing logic
// (remap, then mask, then enable) is unit-testable against a fake.
package apic

import (
	"sync"

	"golang.org/x/sys/cpu"

	"ringspine/errs"
)

// IOPort_i isolates the two instructions (`out`, `in`) the legacy PIC remap
// needs; production code backs this with real port I/O, tests back it with
// an in-memory fake.
type IOPort_i interface {
	Out8(port uint16, val uint8)
	In8(port uint16) uint8
}

// Legacy PIC ports and ICW bits (spec.md §4.6).
const (
	picMasterCmd = 0x20
	picMasterData = 0x21
	picSlaveCmd  = 0xA0
	picSlaveData = 0xA1

	icw1Init = 0x11 // ICW4 needed, cascade mode, edge triggered
	icw4_8086 = 0x01
)

/// RemapPIC reprograms the legacy 8259 PIC pair so IRQs 0-7 land on vectors
/// from masterBase and IRQs 8-15 on vectors from slaveBase instead of the
/// BIOS default (which collides
/// with CPU exception vectors), then masks every line — APIC mode takes
/// over from here (spec.md §4.6).
func RemapPIC(io IOPort_i, masterBase, slaveBase uint8) {
	savedMaster := io.In8(picMasterData)
	savedSlave := io.In8(picSlaveData)

	io.Out8(picMasterCmd, icw1Init)
	io.Out8(picSlaveCmd, icw1Init)
	io.Out8(picMasterData, masterBase)
	io.Out8(picSlaveData, slaveBase)
	io.Out8(picMasterData, 1<<2) // ICW3: slave attached on IRQ2
	io.Out8(picSlaveData, 2)     // ICW3: slave's cascade identity
	io.Out8(picMasterData, icw4_8086)
	io.Out8(picSlaveData, icw4_8086)

	_ = savedMaster
	_ = savedSlave
	io.Out8(picMasterData, 0xff) // mask everything
	io.Out8(picSlaveData, 0xff)
}

// Regs_i isolates 32-bit MMIO register access to the LAPIC/IOAPIC windows.
type Regs_i interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, val uint32)
}

// LAPIC register offsets (spec.md §4.6).
const (
	lapicID      = 0x020
	lapicEOI     = 0x0B0
	lapicSVR     = 0x0F0
	lapicTPR     = 0x080
	lapicLVTTimer = 0x320
	lapicLVTLINT0 = 0x350
	lapicLVTLINT1 = 0x360
	lapicLVTError = 0x370
	lapicLVTPerf  = 0x340
	lapicInitCnt = 0x380
	lapicCurCnt  = 0x390
	lapicDivide  = 0x3E0
)

const (
	svrEnable = 1 << 8
	lvtMasked = 1 << 16
	timerPeriodic = 1 << 17

	// TimerVector is the vector the periodic timer fires on (spec.md §4.7).
	TimerVector = 32
	// defaultInitialCount is the LAPIC timer's initial countdown value.
	defaultInitialCount = 400000
)

/// Lapic_t drives one core's Local APIC.
type Lapic_t struct {
	regs Regs_i
}

/// NewLapic wraps regs for Local APIC programming.
func NewLapic(regs Regs_i) *Lapic_t { return &Lapic_t{regs: regs} }

/// Init masks every LVT entry, sets TPR to 0 (accept all priorities), and
/// enables the APIC via the spurious-vector register (spec.md §4.6).
func (l *Lapic_t) Init() {
	l.regs.Write32(lapicLVTTimer, lvtMasked)
	l.regs.Write32(lapicLVTLINT0, lvtMasked)
	l.regs.Write32(lapicLVTLINT1, lvtMasked)
	l.regs.Write32(lapicLVTError, lvtMasked)
	l.regs.Write32(lapicLVTPerf, lvtMasked)
	l.regs.Write32(lapicTPR, 0)
	l.regs.Write32(lapicSVR, svrEnable|0xff)
}

/// StartTimer programs the LAPIC timer for periodic mode at TimerVector,
/// divide-by-1, with the standard initial count (spec.md §4.7).
func (l *Lapic_t) StartTimer() {
	l.regs.Write32(lapicDivide, 0xB) // divide by 1
	l.regs.Write32(lapicLVTTimer, TimerVector|timerPeriodic)
	l.regs.Write32(lapicInitCnt, defaultInitialCount)
}

/// EOI signals end-of-interrupt; must be called at the end of every
/// interrupt handler once IRQs are routed through the APIC.
func (l *Lapic_t) EOI() {
	l.regs.Write32(lapicEOI, 0)
}

/// ID reads this core's APIC ID.
func (l *Lapic_t) ID() uint32 {
	return l.regs.Read32(lapicID) >> 24
}

// IOAPIC indirect register access: IOREGSEL selects, IOWIN transfers.
const (
	ioregsel = 0x00
	iowin    = 0x10

	ioapicRedTblBase = 0x10 // two 32-bit words per IRQ entry
)

/// Ioapic_t drives the I/O APIC's interrupt redirection table.
type Ioapic_t struct {
	regs Regs_i
}

/// NewIoapic wraps regs for I/O APIC programming.
func NewIoapic(regs Regs_i) *Ioapic_t { return &Ioapic_t{regs: regs} }

func (a *Ioapic_t) read(reg uint32) uint32 {
	a.regs.Write32(ioregsel, reg)
	return a.regs.Read32(iowin)
}

func (a *Ioapic_t) write(reg, val uint32) {
	a.regs.Write32(ioregsel, reg)
	a.regs.Write32(iowin, val)
}

/// RedirectIRQ programs the redirection entry for irq to deliver vector to
/// destApicID, masked per the masked flag (spec.md §4.6's enable_irq).
func (a *Ioapic_t) RedirectIRQ(irq uint8, vector uint8, destApicID uint8, masked bool) {
	low := uint32(vector)
	if masked {
		low |= 1 << 16
	}
	high := uint32(destApicID) << 24
	reg := ioapicRedTblBase + uint32(irq)*2
	a.write(reg, low)
	a.write(reg+1, high)
}

// ACPI RSDP/MADT minimal parse, enough to recover the LAPIC and IOAPIC MMIO
// base addresses (spec.md §4.6 assumes these are known; this rewrite
// derives them from a firmware-supplied MADT the way a real boot path
// would instead of hardcoding QEMU's default addresses).
const (
	madtEntryLAPIC  = 0
	madtEntryIOAPIC = 1
)

/// Madt_t holds the two addresses the rest of this package needs.
type Madt_t struct {
	LapicAddr  uint32
	IoapicAddr uint32
}

/// ParseMADT takes the LAPIC address from the MADT's fixed LocalApicAddress
/// field (offset 36), then walks the entry list (from offset 44 per the ACPI
/// spec) for the first I/O APIC structure. Processor Local APIC entries are
/// not examined.
func ParseMADT(table []byte) (Madt_t, errs.Err_t) {
	if len(table) < 44 {
		return Madt_t{}, errs.ENODEV
	}
	m := Madt_t{
		LapicAddr: le32(table, 36),
	}
	off := 44
	for off+2 <= len(table) {
		entryType := table[off]
		entryLen := int(table[off+1])
		if entryLen < 2 || off+entryLen > len(table) {
			break
		}
		switch entryType {
		case madtEntryIOAPIC:
			if entryLen >= 8 && m.IoapicAddr == 0 {
				m.IoapicAddr = le32(table, off+4)
			}
		}
		off += entryLen
	}
	if m.IoapicAddr == 0 {
		return m, errs.ENODEV
	}
	return m, errs.EOK
}

func le32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// BootFeatures is a minimal boot-time CPU feature probe. It panics via the
// caller's decision, not here: this only reports, it never halts boot.
type BootFeatures_t struct {
	HasSSE2 bool
	HasAVX  bool
	HasRDRAND bool
}

/// ProbeBootFeatures reports the SSE2, AVX and RDRAND CPU feature flags via
/// golang.org/x/sys/cpu's cached CPUID probe instead of hand-rolled CPUID
/// assembly. Nothing else in the kernel reads these flags.
func ProbeBootFeatures() BootFeatures_t {
	return BootFeatures_t{
		HasSSE2:   cpu.X86.HasSSE2,
		HasAVX:    cpu.X86.HasAVX,
		HasRDRAND: cpu.X86.HasRDRAND,
	}
}

// Msivec_t is an MSI interrupt vector: a PCI device (the AHCI controller,
// chiefly) gets one of these instead of sharing a legacy IOAPIC pin.
type Msivec_t uint8

// msiVecs is the pool of vectors set aside for MSI delivery, above the
// range RemapPIC/ParseMADT hand to legacy IRQ lines.
var msiVecs = struct {
	sync.Mutex
	avail map[Msivec_t]bool
}{avail: map[Msivec_t]bool{56: true, 57: true, 58: true, 59: true, 60: true,
	61: true, 62: true, 63: true}}

/// AllocMSI hands out an available MSI vector, or ENODEV if the pool is
/// exhausted.
func AllocMSI() (Msivec_t, errs.Err_t) {
	msiVecs.Lock()
	defer msiVecs.Unlock()
	for v := range msiVecs.avail {
		delete(msiVecs.avail, v)
		return v, errs.EOK
	}
	return 0, errs.ENODEV
}

/// FreeMSI returns vec to the pool. Freeing a vector that is already in
/// the pool is a caller bug and panics; a vector outside the pool is added
/// to it without a check.
func FreeMSI(vec Msivec_t) {
	msiVecs.Lock()
	defer msiVecs.Unlock()
	if msiVecs.avail[vec] {
		panic("apic: double free of MSI vector")
	}
	msiVecs.avail[vec] = true
}

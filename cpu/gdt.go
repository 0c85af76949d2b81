// Package cpu builds the GDT and TSS and exposes the small interfaces that
// isolate the instructions that load them (lgdt/ltr) from the bytes that
// describe them, so the byte-layout logic is unit-testable on its own
// (spec.md §4.4).
//
// Grounded on biscuit/src/ufs/driver.go's device_i-style interface
// isolation (a tiny interface wrapping the one or two operations that can't
// be exercised outside real hardware, with production and fake
// implementations behind it) applied here to the GDT/TSS load path.
package cpu

import (
	"ringspine/util"
)

/// SegDesc_t is one 8-byte GDT entry in its packed wire form.
type SegDesc_t [8]byte

// Segment selectors (spec.md §4.4): six static entries — null, kernel code,
// kernel data, user code, user data, TSS (which takes two slots since it is
// a 16-byte descriptor in long mode).
const (
	SelNull     = 0x00
	SelKCode    = 0x08
	SelKData    = 0x10
	SelUCode    = 0x18 | 3 // RPL 3
	SelUData    = 0x20 | 3
	SelTSS      = 0x28
	numSegments = 7 // null, kcode, kdata, ucode, udata, tss-lo, tss-hi
)

// Access byte bits.
const (
	accPresent  = 1 << 7
	accDPL0     = 0 << 5
	accDPL3     = 3 << 5
	accCodeData = 1 << 4
	accExec     = 1 << 3
	accRW       = 1 << 1
)

// Flags nibble bits (packed into the high nibble of byte 6).
const flagLong = 1 << 1 // L: bit 5 of byte 6

func packDesc(access, flags byte) SegDesc_t {
	var d SegDesc_t
	d[5] = access
	d[6] = flags << 4
	return d
}

/// Tss_t is the 64-bit Task State Segment (spec.md §4.4): only RSP0 (the
/// stack pointer loaded on a ring3->ring0 transition) and IST1 (used for the
/// double-fault handler's dedicated stack) are populated; everything else is
/// reserved/zero.
type Tss_t struct {
	Rsp0 uint64
	Ist1 uint64
	IOMapBase uint16
}

/// Gdt_t is the flat table of segment descriptors plus the TSS descriptor
/// built from a Tss_t's address.
type Gdt_t struct {
	entries [numSegments]SegDesc_t
}

/// NewGdt builds the standard six-entry GDT described in spec.md §4.4 (the
/// TSS entry taking two slots, seven slots in all), pointing the TSS
/// descriptor at tssAddr/tssSize.
func NewGdt(tssAddr uint64, tssSize uint32) *Gdt_t {
	g := &Gdt_t{}
	g.entries[0] = SegDesc_t{} // null
	g.entries[1] = packDesc(accPresent|accDPL0|accCodeData|accExec|accRW, flagLong)
	g.entries[2] = packDesc(accPresent|accDPL0|accCodeData|accRW, 0)
	g.entries[3] = packDesc(accPresent|accDPL3|accCodeData|accExec|accRW, flagLong)
	g.entries[4] = packDesc(accPresent|accDPL3|accCodeData|accRW, 0)
	g.setTSSDescriptor(tssAddr, tssSize)
	return g
}

func (g *Gdt_t) setTSSDescriptor(addr uint64, size uint32) {
	lo := &g.entries[5]
	util.Writen(lo[:], 2, 0, int(size&0xffff))
	util.Writen(lo[:], 3, 2, int(addr&0xffffff))
	lo[5] = accPresent | 0x9 // present, DPL0, type=0x9 (64-bit TSS available)
	lo[6] = byte((size >> 16) & 0xf)
	lo[7] = byte((addr >> 24) & 0xff)

	hi := &g.entries[6]
	util.Writen(hi[:], 4, 0, int(addr>>32))
}

/// Bytes packs the GDT into its linear wire form, as `lgdt` expects.
func (g *Gdt_t) Bytes() []byte {
	out := make([]byte, 0, numSegments*8)
	for _, e := range g.entries {
		out = append(out, e[:]...)
	}
	return out
}

// Loader_i isolates the privileged instructions (lgdt, ltr, segment
// register reloads) that only make sense against real hardware, the way
// biscuit's device_i interfaces isolate MMIO register access from the
// surrounding bookkeeping logic.
type Loader_i interface {
	LoadGDT(base uint64, limit uint16)
	LoadTSS(selector uint16)
}

/// FakeLoader_t records load calls for tests instead of executing
/// privileged instructions.
type FakeLoader_t struct {
	GDTBase  uint64
	GDTLimit uint16
	TSSSel   uint16
}

func (f *FakeLoader_t) LoadGDT(base uint64, limit uint16) { f.GDTBase, f.GDTLimit = base, limit }
func (f *FakeLoader_t) LoadTSS(selector uint16)            { f.TSSSel = selector }

/// Install loads the GDT at base (its Bytes() must already be written
/// there) and the TSS selector, through the given Loader_i.
func Install(l Loader_i, base uint64, g *Gdt_t) {
	l.LoadGDT(base, uint16(len(g.entries)*8-1))
	l.LoadTSS(SelTSS)
}

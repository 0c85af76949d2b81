// Package idt is the interrupt descriptor table and the default
// exception/IRQ/syscall dispatch it drives (spec.md §4.4, §4.5).
//
// Grounded on biscuit/src/ufs/driver.go's console_t dispatch pattern (a
// fixed-size table of handler slots, indexed by a small integer, invoked
// through a Go function value rather than a raw instruction pointer — this
// rewrite's hosted-kernel stand-in for what real hardware does by jumping
// through the IDT) and on the GDT's packed-descriptor style in cpu/gdt.go
// for the on-the-wire Gate_t layout spec.md §4.4 requires the kernel to
// build even though nothing in this rewrite ever executes `lidt` for real.
package idt

import (
	"fmt"

	"ringspine/util"
)

/// NumVectors is the fixed IDT size: 256 entries (spec.md §4.4).
const NumVectors = 256

// Exception vectors 0-31 (spec.md §4.5).
const (
	VecDivideError   = 0
	VecDebug         = 1
	VecNMI           = 2
	VecBreakpoint    = 3
	VecOverflow      = 4
	VecBoundRange    = 5
	VecInvalidOpcode = 6
	VecDeviceNotAvail = 7
	VecDoubleFault   = 8
	VecInvalidTSS    = 10
	VecSegmentNotPresent = 11
	VecStackFault    = 12
	VecGeneralProtection = 13
	VecPageFault     = 14
)

// IRQ vectors start at 32 after the PIC/APIC remap (spec.md §4.6).
const IRQBase = 32

// SyscallVector is the INT 0x80 gate, the only vector installed with
// DPL=3 so ring-3 code may invoke it directly (spec.md §4.11).
const SyscallVector = 0x80

/// Gate_t is one 16-byte IDT entry in its packed wire form.
type Gate_t [16]byte

// Gate types.
const (
	gateInterrupt = 0xE // interrupt gate: IF cleared on entry
	gateTrap      = 0xF // trap gate: IF preserved on entry (used for 0x80)
)

func packGate(handlerAddr uint64, selector uint16, ist uint8, gateType uint8, dpl uint8, present bool) Gate_t {
	var g Gate_t
	util.Writen(g[:], 2, 0, int(handlerAddr&0xffff))
	util.Writen(g[:], 2, 2, int(selector))
	g[4] = ist & 0x7
	attr := gateType & 0xf
	attr |= (dpl & 0x3) << 5
	if present {
		attr |= 1 << 7
	}
	g[5] = attr
	util.Writen(g[:], 2, 6, int((handlerAddr>>16)&0xffff))
	util.Writen(g[:], 4, 8, int(handlerAddr>>32))
	return g
}

/// Handler_t is invoked on a trap for its vector. errCode is 0 for vectors
/// that don't push one.
type Handler_t func(vector int, errCode uint64, frame *Frame_t)

/// Frame_t mirrors the register/IRET state pushed onto the kernel stack on
/// entry, which handlers (especially the page-fault and syscall-gate
/// handlers) need to inspect or modify (spec.md §4.5, §4.11).
type Frame_t struct {
	RIP, CS, RFlags, RSP, SS uint64
	FaultAddr                uint64 // CR2, valid only for VecPageFault
}

// Table_t is the IDT: packed Gate_t wire bytes for load-time fidelity, plus
// the Go-level handler table this hosted kernel actually dispatches
// through.
type Table_t struct {
	gates    [NumVectors]Gate_t
	handlers [NumVectors]Handler_t
}

/// New builds an IDT with every vector pointing at handlerAddr (a stub that
/// would, on real hardware, save state and re-dispatch through Table_t.
/// Dispatch) and no handlers installed.
func New(handlerAddr uint64, codeSel uint16) *Table_t {
	t := &Table_t{}
	for v := 0; v < NumVectors; v++ {
		dpl := uint8(0)
		gt := uint8(gateInterrupt)
		if v == SyscallVector {
			dpl = 3
			gt = gateTrap
		}
		t.gates[v] = packGate(handlerAddr, codeSel, 0, gt, dpl, true)
	}
	return t
}

/// Bytes packs the table into its linear wire form.
func (t *Table_t) Bytes() []byte {
	out := make([]byte, 0, NumVectors*16)
	for _, g := range t.gates {
		out = append(out, g[:]...)
	}
	return out
}

/// Install registers h as the handler for vector.
func (t *Table_t) Install(vector int, h Handler_t) {
	t.handlers[vector] = h
}

/// Dispatch invokes the handler installed for vector, or the default
/// handler (panic on an exception, silent ignore on a spurious IRQ) if
/// none was installed.
func (t *Table_t) Dispatch(vector int, errCode uint64, frame *Frame_t) {
	if h := t.handlers[vector]; h != nil {
		h(vector, errCode, frame)
		return
	}
	if vector < IRQBase {
		panic(fmt.Sprintf("idt: unhandled exception vector %d, error code %#x", vector, errCode))
	}
	// unhandled IRQ: silently ignored; no EOI is sent from here.
}

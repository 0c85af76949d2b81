// Fault disassembly for page-fault and general-protection diagnostics.
//
// Wires golang.org/x/arch/x86/x86asm (part of this rewrite's DOMAIN STACK,
// SPEC_FULL.md) into the one place the kernel domain plausibly consumes
// machine code as data: explaining which instruction at RIP caused a fault,
// the way a crash-log "disassembly around RIP" section does. No file in the
// pack decodes x86 instructions; this is new code grounded on spec.md
// §4.5's page-fault/GPF handling plus the Frame_t this package already
// defines.
package idt

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// DecodeFault disassembles the instruction at frame.RIP from the bytes
// surrounding it (codeAtRIP must start exactly at RIP) and renders a
// one-line diagnostic suitable for a panic message or kernel log line.
func DecodeFault(vector int, frame *Frame_t, codeAtRIP []byte) string {
	inst, err := x86asm.Decode(codeAtRIP, 64)
	if err != nil {
		return fmt.Sprintf("vector=%d rip=%#x <undecodable: %v>", vector, frame.RIP, err)
	}
	if vector == VecPageFault {
		return fmt.Sprintf("vector=%d rip=%#x cr2=%#x instr=%q", vector, frame.RIP, frame.FaultAddr, x86asm.GNUSyntax(inst, uint64(frame.RIP), nil))
	}
	return fmt.Sprintf("vector=%d rip=%#x instr=%q", vector, frame.RIP, x86asm.GNUSyntax(inst, uint64(frame.RIP), nil))
}

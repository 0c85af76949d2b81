// Package elf loads an ELF64 executable's PT_LOAD segments into a fresh
// address space and reports its entry point (spec.md §4.12).
//
// Grounded on biscuit/src/kernel/chentry.go, the teacher's own ELF tool,
// which parses binaries with the standard library's debug/elf instead of
// hand-rolling the format — the same call this package makes, since
// debug/elf already covers ELF64 header/program-header parsing exactly
// and chentry.go shows the teacher reaching for it rather than writing a
// parser. The segment-to-page mapping walk is grounded on
// original_source/kernel/src/task/elf_loader.rs's load_elf, which maps
// each PT_LOAD segment page by page with zero-fill for the
// Memsz-beyond-Filesz (.bss) tail.
package elf

import (
	"bytes"
	stdelf "debug/elf"
	"io"

	"ringspine/errs"
	"ringspine/mem"
	"ringspine/vmm"
)

/// Image_t is a loaded ELF executable's entry point and the highest
/// virtual address any PT_LOAD segment reached (useful for seeding an
/// initial break/stack layout).
type Image_t struct {
	Entry  mem.Va_t
	HighVa mem.Va_t
}

// toErr classifies a debug/elf parse failure as ENOEXEC; any error from
// stdlib parsing means the image is not a well-formed ELF64 binary this
// loader can run.
func toErr(err error) errs.Err_t {
	if err == nil {
		return errs.EOK
	}
	return errs.ENOEXEC
}

/// Load parses raw as an ELF64 executable and maps every PT_LOAD segment
/// into as, returning the image's entry point. Segment bytes are copied
/// into freshly allocated physical pages; any region between Filesz and
/// Memsz (.bss) is left zeroed, matching load_elf's zero-fill tail.
func Load(as *vmm.Mgr_t, raw []byte) (Image_t, errs.Err_t) {
	f, err := stdelf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return Image_t{}, toErr(err)
	}
	defer f.Close()

	if f.Class != stdelf.ELFCLASS64 {
		return Image_t{}, errs.ENOEXEC
	}
	if f.Machine != stdelf.EM_X86_64 {
		return Image_t{}, errs.ENOEXEC
	}
	if f.Type != stdelf.ET_EXEC && f.Type != stdelf.ET_DYN {
		return Image_t{}, errs.ENOEXEC
	}

	var highVa mem.Va_t
	for _, prog := range f.Progs {
		if prog.Type != stdelf.PT_LOAD {
			continue
		}
		if gerr := loadSegment(as, prog); gerr != errs.EOK {
			return Image_t{}, gerr
		}
		end := mem.Va_t(prog.Vaddr + prog.Memsz)
		if end > highVa {
			highVa = end
		}
	}

	return Image_t{Entry: mem.Va_t(f.Entry), HighVa: highVa}, errs.EOK
}

func loadSegment(as *vmm.Mgr_t, prog *stdelf.Prog) errs.Err_t {
	flags := vmm.PRESENT
	if prog.Flags&stdelf.PF_W != 0 {
		flags |= vmm.WRITABLE
	}

	start := mem.Va_t(prog.Vaddr)
	pageStart := start &^ mem.Va_t(mem.PGOFFSET)
	end := start + mem.Va_t(prog.Memsz)
	pageEnd := (end + mem.Va_t(mem.PGOFFSET)) &^ mem.Va_t(mem.PGOFFSET)

	r := prog.Open()

	for va := pageStart; va < pageEnd; va += mem.Va_t(mem.PGSIZE) {
		pa, aerr := as.Phys().AllocPage()
		if aerr != errs.EOK {
			return aerr
		}
		page := as.Ram().Dmap(pa)
		for i := range page {
			page[i] = 0
		}

		// copy whatever portion of this page falls within [start, start+Filesz)
		pageVaStart := va
		pageVaEnd := va + mem.Va_t(mem.PGSIZE)
		copyStart := maxVa(pageVaStart, start)
		copyEnd := minVa(pageVaEnd, start+mem.Va_t(prog.Filesz))
		if copyEnd > copyStart {
			n := int(copyEnd - copyStart)
			dstOff := int(copyStart - pageVaStart)
			buf := make([]byte, n)
			if _, rerr := io.ReadFull(r, buf); rerr != nil {
				return errs.ENOEXEC
			}
			copy(page[dstOff:dstOff+n], buf)
		}

		if merr := as.Map(va, pa, flags, true); merr != errs.EOK {
			return merr
		}
	}
	return errs.EOK
}

func maxVa(a, b mem.Va_t) mem.Va_t {
	if a > b {
		return a
	}
	return b
}

func minVa(a, b mem.Va_t) mem.Va_t {
	if a < b {
		return a
	}
	return b
}

// Package boot defines the boot-info struct the UEFI loader stub hands
// the kernel core, and the diagnostic banner printed once from it
// (spec.md §6's "Boot-info struct", SUPPLEMENTED FEATURES item 1).
//
// The loader stub itself, the framebuffer/console driver, and CMOS RTC
// formatting are out of scope (spec.md §1's explicit "whose internals a
// reimplementer may stub" list); this package only defines the struct
// shape the stub produces and a best-effort banner over whatever fields
// it populated.
package boot

import (
	"fmt"
	"io"

	"ringspine/mem"
)

/// MemoryMapEntry_t mirrors one firmware memory-map descriptor the loader
/// hands over; field layout matches mem.Descriptor_t (spec.md §4.1) so the
/// frame allocator can consume Info_t.MemoryMap directly.
type MemoryMapEntry_t = mem.Descriptor_t

/// Framebuffer_t is the 32-bit BGRA linear framebuffer the loader set up.
type Framebuffer_t struct {
	Base   uintptr
	Width  uint32
	Height uint32
	Pitch  uint32
}

/// Font_t is a PSF1 font header plus its glyph bitmap buffer, used only to
/// print boot diagnostics to the framebuffer (spec.md §6).
type Font_t struct {
	HeaderMagic  uint16
	Mode         uint8
	GlyphHeight  uint8
	Glyphs       []byte
}

/// Info_t is the boot-info struct passed by value from the loader stub
/// (spec.md §6): firmware memory map, framebuffer geometry, PSF1 font,
/// ACPI RSDP pointer, and the physical address the kernel image ends at.
type Info_t struct {
	MemoryMap           []MemoryMapEntry_t
	MemoryDescriptorSize uint64
	Framebuffer         Framebuffer_t
	Font                Font_t
	RsdpAddr            mem.Pa_t
	KernelEnd           mem.Pa_t
}

/// BannerInfo_t is whatever minimal identification data the loader stub
/// hands over for a one-time boot banner — no CMOS RTC chip driver or CPU
/// brand-string parser is implemented here (spec.md Non-goals exclude RTC
/// formatting depth); this only carries the bytes through to the log.
type BannerInfo_t struct {
	CPUVendor string
	RAMBytes  uint64
}

// PrintBanner writes a single diagnostic line summarizing the boot-info
// the loader handed over, the hosted stand-in for the framebuffer "boot
// diagnostics only" print spec.md §6 describes.
func PrintBanner(w io.Writer, info Info_t, banner BannerInfo_t) {
	fmt.Fprintf(w, "ring0spine: cpu=%s ram=%dMB fb=%dx%d kernel_end=%#x rsdp=%#x\n",
		banner.CPUVendor,
		banner.RAMBytes/(1<<20),
		info.Framebuffer.Width, info.Framebuffer.Height,
		info.KernelEnd, info.RsdpAddr)
}

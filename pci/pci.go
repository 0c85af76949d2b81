// Package pci scans PCI configuration space (mechanism #1) for the AHCI
// controller the storage stack needs (spec.md §4.11's storage stack
// prerequisite, generalized from spec.md §4's device-discovery step).
//
// Grounded on biscuit/src/pci's config-space access pattern (the pack's
// sole PCI reference, biscuit/src/pci/olddiski.go, drives an already-
// located AHCI device rather than performing the scan itself; the scan
// loop here follows the standard mechanism #1 algorithm spec.md assumes as
// a prerequisite, using the same IOPort_i isolation this rewrite's apic
// package already introduces for the legacy PIC).
package pci

import "ringspine/apic"

const (
	configAddress = 0xCF8
	configData    = 0xCFC

	classMassStorage = 0x01
	subclassAHCI     = 0x06
	progIfAHCI       = 0x01
)

/// Device_t is one discovered PCI function's identity and BAR5 (the AHCI
/// ABAR, spec.md §4.11).
type Device_t struct {
	Bus, Slot, Func uint8
	VendorID, DeviceID uint16
	Class, Subclass, ProgIf uint8
	BAR5 uint32
}

func addr(bus, slot, fn uint8, offset uint8) uint32 {
	return 1<<31 | uint32(bus)<<16 | uint32(slot)<<11 | uint32(fn)<<8 | uint32(offset&0xfc)
}

func readConfig32(io apic.IOPort_i, bus, slot, fn, offset uint8) uint32 {
	a := addr(bus, slot, fn, offset)
	outConfigAddress(io, a)
	return in32(io, configData)
}

func outConfigAddress(io apic.IOPort_i, a uint32) {
	io.Out8(configAddress, byte(a))
	io.Out8(configAddress, byte(a>>8))
	io.Out8(configAddress, byte(a>>16))
	io.Out8(configAddress, byte(a>>24))
}

func in32(io apic.IOPort_i, port uint16) uint32 {
	b0 := io.In8(port)
	b1 := io.In8(port)
	b2 := io.In8(port)
	b3 := io.In8(port)
	return uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
}

/// Scan32_i is the 32-bit config-space read/write primitive this package
/// builds on; production code backs it with real port I/O through
/// apic.IOPort_i 8-bit reads assembled into 32-bit words (above), tests
/// back it directly with a fake that already speaks 32-bit words.
type Scan32_i interface {
	ReadConfig32(bus, slot, fn, offset uint8) uint32
}

type portScanner struct{ io apic.IOPort_i }

func (p portScanner) ReadConfig32(bus, slot, fn, offset uint8) uint32 {
	return readConfig32(p.io, bus, slot, fn, offset)
}

/// NewPortScanner builds a Scan32_i backed by real (or faked) 8-bit I/O
/// ports via apic.IOPort_i.
func NewPortScanner(io apic.IOPort_i) Scan32_i { return portScanner{io} }

/// FindAHCI scans every bus/slot/function for a device whose class code
/// matches mass-storage/SATA/AHCI (0x01/0x06/0x01) and returns the first
/// match.
func FindAHCI(s Scan32_i) (Device_t, bool) {
	for bus := 0; bus < 256; bus++ {
		for slot := 0; slot < 32; slot++ {
			for fn := 0; fn < 8; fn++ {
				idReg := s.ReadConfig32(uint8(bus), uint8(slot), uint8(fn), 0x00)
				vendor := uint16(idReg)
				if vendor == 0xffff {
					if fn == 0 {
						break
					}
					continue
				}
				classReg := s.ReadConfig32(uint8(bus), uint8(slot), uint8(fn), 0x08)
				progIf := uint8(classReg >> 8)
				subclass := uint8(classReg >> 16)
				class := uint8(classReg >> 24)
				if class == classMassStorage && subclass == subclassAHCI && progIf == progIfAHCI {
					bar5 := s.ReadConfig32(uint8(bus), uint8(slot), uint8(fn), 0x24)
					return Device_t{
						Bus: uint8(bus), Slot: uint8(slot), Func: uint8(fn),
						VendorID: vendor, DeviceID: uint16(idReg >> 16),
						Class: class, Subclass: subclass, ProgIf: progIf,
						BAR5: bar5,
					}, true
				}
				headerType := s.ReadConfig32(uint8(bus), uint8(slot), uint8(fn), 0x0c)
				if fn == 0 && (headerType>>16)&0x80 == 0 {
					break // not multi-function, skip remaining functions
				}
			}
		}
	}
	return Device_t{}, false
}

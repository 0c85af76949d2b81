package pci

import "testing"

type fakeScan struct {
	devices map[[3]uint8]map[uint8]uint32
}

func (f *fakeScan) ReadConfig32(bus, slot, fn, offset uint8) uint32 {
	dev, ok := f.devices[[3]uint8{bus, slot, fn}]
	if !ok {
		return 0xffffffff
	}
	return dev[offset]
}

func TestFindAHCILocatesMatchingDevice(t *testing.T) {
	f := &fakeScan{devices: map[[3]uint8]map[uint8]uint32{
		{0, 2, 0}: {
			0x00: 0x26818086, // vendor 8086, device 2681
			0x08: uint32(progIfAHCI)<<8 | uint32(subclassAHCI)<<16 | uint32(classMassStorage)<<24,
			0x24: 0xfebf1000, // ABAR
			0x0c: 0,
		},
	}}
	dev, ok := FindAHCI(f)
	if !ok {
		t.Fatalf("expected to find AHCI device")
	}
	if dev.Bus != 0 || dev.Slot != 2 || dev.Func != 0 {
		t.Fatalf("unexpected device location: %+v", dev)
	}
	if dev.BAR5 != 0xfebf1000 {
		t.Fatalf("expected BAR5 0xfebf1000, got %#x", dev.BAR5)
	}
	if dev.VendorID != 0x8086 {
		t.Fatalf("expected vendor 0x8086, got %#x", dev.VendorID)
	}
}

func TestFindAHCINoneFound(t *testing.T) {
	f := &fakeScan{devices: map[[3]uint8]map[uint8]uint32{}}
	if _, ok := FindAHCI(f); ok {
		t.Fatalf("expected no device found on an empty bus")
	}
}

func TestFindAHCISkipsNonMatchingClass(t *testing.T) {
	f := &fakeScan{devices: map[[3]uint8]map[uint8]uint32{
		{0, 1, 0}: {
			0x00: 0x00001234,
			0x08: 0x02000000, // network controller, not storage
			0x0c: 0,
		},
	}}
	if _, ok := FindAHCI(f); ok {
		t.Fatalf("expected non-storage device to be skipped")
	}
}

package vmm

import (
	"testing"

	"ringspine/errs"
	"ringspine/mem"
)

func newMgr(t *testing.T, npages uint32) (*Mgr_t, *mem.Physmem_t) {
	t.Helper()
	ram := mem.NewRam(int(npages) * mem.PGSIZE)
	phys := mem.NewPhysmem(npages)
	phys.FreeRange(0, npages)
	m, err := New(ram, phys)
	if err != errs.EOK {
		t.Fatalf("New failed: %v", err)
	}
	return m, phys
}

// P2 (paging idempotence): mapping the same virt->phys pair twice leaves the
// translation identical to mapping it once.
func TestMapIdempotent(t *testing.T) {
	m, phys := newMgr(t, 64)
	frame, _ := phys.AllocPage()
	virt := mem.Va_t(0x4000)

	if err := m.Map(virt, frame, WRITABLE, false); err != errs.EOK {
		t.Fatalf("first map failed: %v", err)
	}
	p1, err := m.PhysOf(virt)
	if err != errs.EOK {
		t.Fatalf("physof failed: %v", err)
	}
	if err := m.Map(virt, frame, WRITABLE, false); err != errs.EOK {
		t.Fatalf("second map failed: %v", err)
	}
	p2, err := m.PhysOf(virt)
	if err != errs.EOK {
		t.Fatalf("physof failed: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("remapping changed translation: %#x != %#x", p1, p2)
	}
}

func TestUnmapThenPhysOfFails(t *testing.T) {
	m, phys := newMgr(t, 64)
	frame, _ := phys.AllocPage()
	virt := mem.Va_t(0x8000)
	m.Map(virt, frame, WRITABLE, false)
	m.Unmap(virt)
	if _, err := m.PhysOf(virt); err != errs.EFAULT {
		t.Fatalf("expected EFAULT after unmap, got %v", err)
	}
}

func TestPhysOfUnmappedFails(t *testing.T) {
	m, _ := newMgr(t, 64)
	if _, err := m.PhysOf(mem.Va_t(0x123000)); err != errs.EFAULT {
		t.Fatalf("expected EFAULT for unmapped address, got %v", err)
	}
}

func TestMapPreservesOffset(t *testing.T) {
	m, phys := newMgr(t, 64)
	frame, _ := phys.AllocPage()
	virt := mem.Va_t(0x10000)
	m.Map(virt, frame, WRITABLE, false)
	p, err := m.PhysOf(virt + 0x42)
	if err != errs.EOK {
		t.Fatalf("physof failed: %v", err)
	}
	if p != frame+0x42 {
		t.Fatalf("expected offset preserved: got %#x want %#x", p, frame+0x42)
	}
}

func TestUserMappingPropagatesUserFlag(t *testing.T) {
	m, phys := newMgr(t, 64)
	frame, _ := phys.AllocPage()
	virt := mem.Va_t(0x2000)
	if err := m.Map(virt, frame, WRITABLE, true); err != errs.EOK {
		t.Fatalf("map failed: %v", err)
	}
	pt, err := m.walk(virt, false, false)
	if err != errs.EOK {
		t.Fatalf("walk failed: %v", err)
	}
	e := pt[index(virt, lvlPT)]
	if e.Flags()&USER == 0 {
		t.Fatalf("expected USER bit set on leaf entry")
	}
}

func TestMarkUserAccessiblePropagatesThroughAllLevels(t *testing.T) {
	m, phys := newMgr(t, 64)
	frame, _ := phys.AllocPage()
	virt := mem.Va_t(0x600000)
	m.Map(virt, frame, WRITABLE, false)

	if err := m.MarkUserAccessible(virt); err != errs.EOK {
		t.Fatalf("MarkUserAccessible failed: %v", err)
	}

	cur := m.Root
	for l := lvlPML4; l > lvlPT; l-- {
		tbl := m.table(cur)
		e := tbl[index(virt, l)]
		if e.Flags()&USER == 0 {
			t.Fatalf("level %d missing USER after MarkUserAccessible", l)
		}
		cur = e.Addr()
	}
	leaf := m.table(cur)[index(virt, lvlPT)]
	if leaf.Flags()&USER == 0 {
		t.Fatalf("leaf missing USER after MarkUserAccessible")
	}
}

func TestClonePML4SharesKernelHalfDeepCopiesUserHalf(t *testing.T) {
	m, phys := newMgr(t, 256)

	kernelFrame, _ := phys.AllocPage()
	kernelVirt := mem.Va_t(256) << (12 + 9*3) // index 256: first kernel-half entry
	m.Map(kernelVirt, kernelFrame, WRITABLE, false)

	userFrame, _ := phys.AllocPage()
	userVirt := mem.Va_t(0x400000)
	m.Map(userVirt, userFrame, WRITABLE, true)

	clone, err := m.ClonePML4()
	if err != errs.EOK {
		t.Fatalf("clone failed: %v", err)
	}

	// kernel half: same PDPT pointer shared between original and clone.
	origPDPT := m.table(m.Root)[256]
	cloPDPT := clone.table(clone.Root)[256]
	if origPDPT.Addr() != cloPDPT.Addr() {
		t.Fatalf("kernel half PDPT not shared: %#x != %#x", origPDPT.Addr(), cloPDPT.Addr())
	}

	// user half: translation preserved, but backing tables are distinct so
	// remapping in one does not affect the other.
	p, err := clone.PhysOf(userVirt)
	if err != errs.EOK {
		t.Fatalf("clone physof failed: %v", err)
	}
	if p != userFrame {
		t.Fatalf("clone lost user mapping: got %#x want %#x", p, userFrame)
	}

	newFrame, _ := phys.AllocPage()
	if err := clone.Map(userVirt, newFrame, WRITABLE, true); err != errs.EOK {
		t.Fatalf("remap in clone failed: %v", err)
	}
	origStill, err := m.PhysOf(userVirt)
	if err != errs.EOK {
		t.Fatalf("orig physof failed: %v", err)
	}
	if origStill != userFrame {
		t.Fatalf("clone remap leaked into original address space: got %#x want %#x", origStill, userFrame)
	}
}

func TestIdentityMapCoversWholeRange(t *testing.T) {
	m, _ := newMgr(t, 16)
	if err := m.IdentityMap(8 * mem.PGSIZE); err != errs.EOK {
		t.Fatalf("identity map failed: %v", err)
	}
	for off := 0; off < 8*mem.PGSIZE; off += mem.PGSIZE {
		p, err := m.PhysOf(mem.Va_t(off))
		if err != errs.EOK {
			t.Fatalf("physof(%#x) failed: %v", off, err)
		}
		if p != mem.Pa_t(off) {
			t.Fatalf("identity map mismatch at %#x: got %#x", off, p)
		}
	}
}

func TestCheckReservedBitsCleanOnFreshMappings(t *testing.T) {
	m, phys := newMgr(t, 64)
	frame, _ := phys.AllocPage()
	m.Map(mem.Va_t(0x1000), frame, WRITABLE, false)
	if bad := m.CheckReservedBits(); len(bad) != 0 {
		t.Fatalf("expected no reserved-bit violations, got %v", bad)
	}
}

func TestCheckReservedBitsCatchesViolation(t *testing.T) {
	m, phys := newMgr(t, 64)
	frame, _ := phys.AllocPage()
	virt := mem.Va_t(0x1000)
	m.Map(virt, frame, WRITABLE, false)

	pt, _ := m.walk(virt, false, false)
	pt[index(virt, lvlPT)] |= 1 << 52 // inject a reserved-bit violation

	bad := m.CheckReservedBits()
	if len(bad) != 1 || bad[0] != virt&^(mem.Va_t(mem.PGSIZE-1)) {
		t.Fatalf("expected violation reported at %#x, got %v", virt, bad)
	}
}

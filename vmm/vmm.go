// Package vmm is the four-level page-table manager (spec.md §3, §4.2).
//
// Grounded on biscuit/src/vm/as.go (Vm_t, Pmap_t page walks, PTE_* flag
// constants, Lock_pmap/Unlock_pmap critical-section discipline) and on
// original_source/kernel/src/memory/paging/page_table_manager.rs (map_memory,
// clone_pml4/clone_pdp/clone_pd/clone_pt, set_user_accessible), which spells
// out the exact per-level cloning and USER-propagation behavior spec.md §4.2
// and SPEC_FULL.md's supplemented feature #3 describe.
package vmm

import (
	"sync"
	"unsafe"

	"ringspine/errs"
	"ringspine/mem"
)

/// Pte_t is one page-table entry: a physical frame address in bits 12-51
/// plus flag bits.
type Pte_t uint64

// Entry flags (spec.md §3).
const (
	PRESENT       Pte_t = 1 << 0
	WRITABLE      Pte_t = 1 << 1
	USER          Pte_t = 1 << 2
	WRITE_THROUGH Pte_t = 1 << 3
	CACHE_DISABLE Pte_t = 1 << 4
	ACCESSED      Pte_t = 1 << 5
	DIRTY         Pte_t = 1 << 6
	HUGE          Pte_t = 1 << 7
	GLOBAL        Pte_t = 1 << 8
	NO_EXECUTE    Pte_t = 1 << 63

	addrMask Pte_t = 0x000f_ffff_ffff_f000
)

/// Addr extracts the frame address bits (12-51) of a PTE.
func (e Pte_t) Addr() mem.Pa_t { return mem.Pa_t(e & addrMask) }

/// Flags extracts the non-address bits of a PTE.
func (e Pte_t) Flags() Pte_t { return e &^ addrMask }

/// Present reports whether flags==0 ↔ not present ↔ no referenced frame
/// (spec.md §3's per-entry invariant).
func (e Pte_t) Present() bool { return e&PRESENT != 0 }

const entriesPerTable = 512

// level indexes into a 48-bit virtual address for each of the four table
// levels, 9 bits per level starting at bit 12.
type level int

const (
	lvlPML4 level = 3
	lvlPDPT level = 2
	lvlPD   level = 1
	lvlPT   level = 0
)

func index(virt mem.Va_t, l level) int {
	shift := uint(12 + 9*int(l))
	return int((virt >> shift) & 0x1ff)
}

// Mgr_t manages one address space's page tables. The mutex mirrors the
// teacher's Vm_t.Lock_pmap/Unlock_pmap discipline: every mutation runs with
// the manager locked, which in the real kernel stands in for "interrupts
// disabled" (spec.md §4.2, §5).
type Mgr_t struct {
	sync.Mutex
	ram  *mem.Ram_t
	phys *mem.Physmem_t
	Root mem.Pa_t // PML4 physical address
}

/// Ram returns the backing RAM slab, for callers (like the ELF loader) that
/// need to copy bytes into freshly mapped physical pages.
func (m *Mgr_t) Ram() *mem.Ram_t { return m.ram }

/// Phys returns the frame allocator backing this address space's pages.
func (m *Mgr_t) Phys() *mem.Physmem_t { return m.phys }

/// New allocates a zeroed PML4 and returns a manager rooted at it.
func New(ram *mem.Ram_t, phys *mem.Physmem_t) (*Mgr_t, errs.Err_t) {
	root, err := newZeroedTable(ram, phys)
	if err != errs.EOK {
		return nil, err
	}
	return &Mgr_t{ram: ram, phys: phys, Root: root}, errs.EOK
}

func newZeroedTable(ram *mem.Ram_t, phys *mem.Physmem_t) (mem.Pa_t, errs.Err_t) {
	pa, err := phys.AllocPage()
	if err != errs.EOK {
		return 0, err
	}
	pg := ram.Dmap(pa)
	for i := range pg {
		pg[i] = 0
	}
	return pa, errs.EOK
}

func (m *Mgr_t) table(pa mem.Pa_t) *[entriesPerTable]Pte_t {
	pg := m.ram.Dmap(pa)
	return (*[entriesPerTable]Pte_t)(unsafe.Pointer(pg))
}

// walk descends from root to the leaf (PT) table containing virt, creating
// any missing intermediate table along the way when create is true. user
// propagates the USER flag into newly created intermediate tables, per
// spec.md §4.2: "intermediate tables must propagate USER or the mapping is
// unreachable from ring 3".
func (m *Mgr_t) walk(virt mem.Va_t, create, user bool) (*[entriesPerTable]Pte_t, errs.Err_t) {
	cur := m.Root
	for l := lvlPML4; l > lvlPT; l-- {
		t := m.table(cur)
		idx := index(virt, l)
		e := t[idx]
		if !e.Present() {
			if !create {
				return nil, errs.EFAULT
			}
			child, err := newZeroedTable(m.ram, m.phys)
			if err != errs.EOK {
				return nil, err
			}
			flags := PRESENT | WRITABLE
			if user {
				flags |= USER
			}
			t[idx] = Pte_t(child) | flags
			cur = child
			continue
		}
		if user && e.Flags()&USER == 0 {
			// propagate USER into an existing intermediate table so a
			// later user mapping beneath it stays reachable from ring 3.
			t[idx] = e | USER
		}
		cur = e.Addr()
	}
	return m.table(cur), errs.EOK
}

/// Map installs phys at virt with the given flags, creating intermediate
/// tables as needed (spec.md §4.2). user controls whether USER propagates
/// into intermediate tables. Calling Map twice with identical arguments has
/// the same effect as calling it once (P2).
func (m *Mgr_t) Map(virt mem.Va_t, phys mem.Pa_t, flags Pte_t, user bool) errs.Err_t {
	m.Lock()
	defer m.Unlock()
	pt, err := m.walk(virt, true, user)
	if err != errs.EOK {
		return err
	}
	leafFlags := flags | PRESENT
	if user {
		leafFlags |= USER
	}
	pt[index(virt, lvlPT)] = Pte_t(phys) | leafFlags
	return errs.EOK
}

/// Unmap clears the leaf entry for virt. It does not reclaim intermediate
/// tables, mirroring the teacher/original source (spec.md §4.2).
func (m *Mgr_t) Unmap(virt mem.Va_t) errs.Err_t {
	m.Lock()
	defer m.Unlock()
	pt, err := m.walk(virt, false, false)
	if err != errs.EOK {
		return err
	}
	pt[index(virt, lvlPT)] = 0
	return errs.EOK
}

/// PhysOf performs a read-only walk, failing if any level is not present.
func (m *Mgr_t) PhysOf(virt mem.Va_t) (mem.Pa_t, errs.Err_t) {
	m.Lock()
	defer m.Unlock()
	pt, err := m.walk(virt, false, false)
	if err != errs.EOK {
		return 0, err
	}
	e := pt[index(virt, lvlPT)]
	if !e.Present() {
		return 0, errs.EFAULT
	}
	return e.Addr() + mem.Pa_t(virt)&mem.PGOFFSET, errs.EOK
}

// MarkUserAccessible walks an existing mapping for virt and ORs in USER at
// every level (SPEC_FULL.md supplemented feature #3, grounded on
// original_source's set_user_accessible). Used when converting a
// kernel-built mapping (e.g. an ELF PT_LOAD segment copied in by the
// loader) into one reachable from ring 3.
func (m *Mgr_t) MarkUserAccessible(virt mem.Va_t) errs.Err_t {
	m.Lock()
	defer m.Unlock()
	cur := m.Root
	for l := lvlPML4; l > lvlPT; l-- {
		t := m.table(cur)
		idx := index(virt, l)
		e := t[idx]
		if !e.Present() {
			return errs.EFAULT
		}
		t[idx] = e | USER
		cur = e.Addr()
	}
	t := m.table(cur)
	idx := index(virt, lvlPT)
	if !t[idx].Present() {
		return errs.EFAULT
	}
	t[idx] |= USER
	return errs.EOK
}

// ClonePML4 produces a new PML4 whose kernel half (indices 256-511) shares
// the existing PDPT/PD/PT pointers with m, and whose user half (indices
// 0-255) is deep-copied into new PDPT/PD/PT pages (spec.md §4.2). Used when
// creating a process.
func (m *Mgr_t) ClonePML4() (*Mgr_t, errs.Err_t) {
	m.Lock()
	defer m.Unlock()

	newRoot, err := newZeroedTable(m.ram, m.phys)
	if err != errs.EOK {
		return nil, err
	}
	src := m.table(m.Root)
	dst := m.table(newRoot)
	for i := 0; i < entriesPerTable; i++ {
		e := src[i]
		if !e.Present() {
			continue
		}
		if i >= 256 {
			// kernel half: shared, not copied.
			dst[i] = e
			continue
		}
		cloned, err := m.clonePDPT(e.Addr())
		if err != errs.EOK {
			return nil, err
		}
		dst[i] = Pte_t(cloned) | PRESENT | WRITABLE | USER
	}
	return &Mgr_t{ram: m.ram, phys: m.phys, Root: newRoot}, errs.EOK
}

func (m *Mgr_t) clonePDPT(src mem.Pa_t) (mem.Pa_t, errs.Err_t) {
	return m.cloneLevel(src, lvlPDPT)
}

func (m *Mgr_t) cloneLevel(src mem.Pa_t, l level) (mem.Pa_t, errs.Err_t) {
	newPa, err := newZeroedTable(m.ram, m.phys)
	if err != errs.EOK {
		return 0, err
	}
	srcT := m.table(src)
	dstT := m.table(newPa)
	for i := 0; i < entriesPerTable; i++ {
		e := srcT[i]
		if !e.Present() {
			continue
		}
		if l == lvlPT {
			dstT[i] = e
			continue
		}
		childPa, err := m.cloneLevel(e.Addr(), l-1)
		if err != errs.EOK {
			return 0, err
		}
		dstT[i] = Pte_t(childPa) | PRESENT | WRITABLE | USER
	}
	return newPa, errs.EOK
}

// IdentityMap maps [0, size) to itself with PRESENT|WRITABLE, the initial
// kernel layout spec.md §4.2 requires at boot.
func (m *Mgr_t) IdentityMap(size int) errs.Err_t {
	for off := 0; off < size; off += mem.PGSIZE {
		if err := m.Map(mem.Va_t(off), mem.Pa_t(off), WRITABLE, false); err != errs.EOK {
			return err
		}
	}
	return errs.EOK
}

// CheckReservedBits recursively walks all four levels checking that no
// present PTE has reserved bits 52-58 set (SPEC_FULL.md supplemented
// feature #4, debug-only sanity pass grounded on original_source's
// check_all_page_tables).
func (m *Mgr_t) CheckReservedBits() []mem.Va_t {
	const reservedMask = Pte_t(0x07f0_0000_0000_0000)
	var bad []mem.Va_t
	var walk func(pa mem.Pa_t, l level, prefix mem.Va_t)
	walk = func(pa mem.Pa_t, l level, prefix mem.Va_t) {
		t := m.table(pa)
		for i := 0; i < entriesPerTable; i++ {
			e := t[i]
			if !e.Present() {
				continue
			}
			va := prefix | mem.Va_t(i)<<(12+9*int(l))
			if e&reservedMask != 0 {
				bad = append(bad, va)
			}
			if l > lvlPT {
				walk(e.Addr(), l-1, va)
			}
		}
	}
	walk(m.Root, lvlPML4, 0)
	return bad
}

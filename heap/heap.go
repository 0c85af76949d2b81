// Package heap is the kernel's dynamic-memory allocator: a buddy allocator
// over a fixed virtual window (spec.md §3, §4.3).
//
// Grounded on biscuit/src/mem/mem.go's allocator discipline (a single
// sync.Mutex-guarded struct owning all bookkeeping state, addresses handed
// out as plain integers rather than Go pointers so the kernel can hand them
// to userspace or DMA descriptors) and on spec.md §4.3's size-class and
// split/merge description, since no file in the pack implements a buddy
// allocator specifically — biscuit's own `malloc`-equivalent is the page
// allocator in `mem.go`, which this package generalizes into sub-page size
// classes the way spec.md requires.
package heap

import (
	"sync"

	"ringspine/errs"
	"ringspine/util"
)

/// MinOrder is the smallest block order: blocks are 1<<MinOrder bytes (16
/// bytes).
const MinOrder = 4

/// MaxOrder is the order 31 classes above MinOrder: 32 size classes
/// spanning 16 bytes to 32 GiB. New does not check a window against it; a
/// heap tracks the orders from MinOrder up to log2 of its own size.
const MaxOrder = MinOrder + 31

// Oommsg_t is sent on a Heap_t's OomCh when an allocation cannot be
// satisfied, adapted from biscuit/src/oommsg/oommsg.go's global OomCh:
// here it is per-heap rather than a package-level channel, so tests and
// multiple heaps don't share a single out-of-memory signal.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}

// Heap_t is a buddy allocator over [Base, Base+Size). Size must be a power
// of two. Every live allocation's order is remembered in `orders` so Free
// can locate and merge its buddy without the caller repeating the size.
type Heap_t struct {
	mu     sync.Mutex
	base   uintptr
	size   int
	order  uint // log2(size), the top-level block order
	free   [][]uintptr
	orders map[uintptr]uint

	// OomCh receives an Oommsg_t whenever Alloc fails for lack of a
	// large-enough free block, giving a reclaimer a chance to free memory
	// and signal Resume before the caller gives up. Sends are
	// non-blocking: with no reclaimer listening, Alloc fails immediately.
	OomCh chan Oommsg_t
}

/// New constructs a buddy heap over [base, base+size). size must be an
/// exact power of two no smaller than 1<<MinOrder.
func New(base uintptr, size int) (*Heap_t, errs.Err_t) {
	if size < 1<<MinOrder || size&(size-1) != 0 {
		return nil, errs.EINVAL
	}
	top := util.Log2(size)
	h := &Heap_t{
		base:   base,
		size:   size,
		order:  top,
		free:   make([][]uintptr, top+1),
		orders: make(map[uintptr]uint),
		OomCh:  make(chan Oommsg_t),
	}
	h.free[top] = []uintptr{base}
	return h, errs.EOK
}

func orderFor(n int) uint {
	o := uint(MinOrder)
	for (1 << o) < n {
		o++
	}
	return o
}

func (h *Heap_t) buddyOf(addr uintptr, order uint) uintptr {
	rel := addr - h.base
	return h.base + (rel ^ (1 << order))
}

// split breaks the smallest available block of order >= want down to want,
// pushing its upper halves onto the lower free lists. Returns the address
// of a want-order block, or ENOMEM if the request cannot be satisfied from
// any currently free block.
func (h *Heap_t) split(want uint) (uintptr, errs.Err_t) {
	for o := want; o <= h.order; o++ {
		if len(h.free[o]) == 0 {
			continue
		}
		n := len(h.free[o])
		addr := h.free[o][n-1]
		h.free[o] = h.free[o][:n-1]
		for cur := o; cur > want; cur-- {
			buddy := h.buddyOf(addr, cur-1)
			h.free[cur-1] = append(h.free[cur-1], buddy)
		}
		return addr, errs.EOK
	}
	return 0, errs.ENOMEM
}

/// Alloc returns the address of a block at least sz bytes long (P3: every
/// successfully allocated block can be written end-to-end and read back
/// unchanged until freed).
func (h *Heap_t) Alloc(sz int) (uintptr, errs.Err_t) {
	if sz <= 0 {
		return 0, errs.EINVAL
	}
	want := orderFor(sz)
	if want > h.order {
		return 0, errs.ENOMEM
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	addr, err := h.split(want)
	if err == errs.ENOMEM {
		// release the lock while waiting so the reclaimer can call Free
		h.mu.Unlock()
		resumed := h.notifyOOM(sz)
		h.mu.Lock()
		if resumed {
			addr, err = h.split(want)
		}
	}
	if err != errs.EOK {
		return 0, err
	}
	h.orders[addr] = want
	return addr, errs.EOK
}

// notifyOOM offers a reclaimer listening on OomCh one chance to free memory
// before Alloc gives up. It reports whether a reclaimer answered; with no
// listener the send falls through immediately and Alloc fails as before.
func (h *Heap_t) notifyOOM(need int) bool {
	resume := make(chan bool, 1)
	select {
	case h.OomCh <- Oommsg_t{Need: need, Resume: resume}:
	default:
		return false
	}
	return <-resume
}

/// Free releases a block returned by Alloc, merging with its buddy while the
/// buddy is also free, up to the top-level order.
func (h *Heap_t) Free(addr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	order, ok := h.orders[addr]
	if !ok {
		return // double free or bogus address: no-op, mirrors teacher's silence on bad frees
	}
	delete(h.orders, addr)

	for order < h.order {
		buddy := h.buddyOf(addr, order)
		idx := -1
		for i, a := range h.free[order] {
			if a == buddy {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}
		h.free[order] = append(h.free[order][:idx], h.free[order][idx+1:]...)
		if buddy < addr {
			addr = buddy
		}
		order++
	}
	h.free[order] = append(h.free[order], addr)
}

/// Stats reports, per order, how many free blocks are currently available —
/// used by the diag package's heap snapshot.
func (h *Heap_t) Stats() map[uint]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[uint]int, len(h.free))
	for o, list := range h.free {
		if len(list) > 0 {
			out[uint(o)] = len(list)
		}
	}
	return out
}

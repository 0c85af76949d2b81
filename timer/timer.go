// Package timer is the tick counter driven by the LAPIC periodic timer
// interrupt (spec.md §4.7): count ticks, then hand off to the scheduler.
//
// Grounded on biscuit/src/stats/stats.go's atomic-counter idiom (plain
// sync/atomic counters incremented from an interrupt-like context, read
// without a lock elsewhere) applied to the tick count, and on spec.md
// §4.7's handler contract: acknowledge the interrupt, then reschedule.
package timer

import (
	"sync/atomic"

	"ringspine/idt"
)

/// Tick_t counts timer interrupts since boot.
type Tick_t struct {
	count uint64
}

/// Count returns the number of ticks observed so far.
func (t *Tick_t) Count() uint64 { return atomic.LoadUint64(&t.count) }

// EOI_i isolates the one privileged action the handler performs on real
// hardware besides rescheduling: signaling end-of-interrupt to the LAPIC.
type EOI_i interface {
	EOI()
}

/// Handler installs onto idt.Table_t's TimerVector entry. It increments the
/// tick count, signals EOI, then invokes reschedule — spec.md §4.7's exact
/// order, since EOI must happen before any code that might not return
/// promptly (a long-running reschedule would otherwise starve other IRQs).
func Handler(tick *Tick_t, lapic EOI_i, reschedule func()) idt.Handler_t {
	return func(vector int, errCode uint64, frame *idt.Frame_t) {
		atomic.AddUint64(&tick.count, 1)
		lapic.EOI()
		reschedule()
	}
}

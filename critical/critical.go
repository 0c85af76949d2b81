// Package critical provides the no-interrupts critical-section combinator
// (SPEC_FULL.md supplemented feature #2, grounded on
// original_source/kernel/src/interrupts/mod.rs's no_interrupts, which wraps
// a closure between cli/sti so scheduler and page-table mutations can't be
// preempted mid-update).
//
// Grounded on biscuit/src/vm/as.go's Lock_pmap/Unlock_pmap bracket, which
// plays the same role around page-table mutation in the teacher: this
// rewrite generalizes that bracket into a named combinator usable anywhere
// a section must run without the (simulated) timer interrupt firing.
package critical

import "sync"

// gate stands in for "interrupts enabled/disabled": in this hosted rewrite
// there are no real interrupts to mask, so Do serializes against this
// single mutex instead, giving every caller the same mutual-exclusion
// guarantee no_interrupts gives the original kernel.
var gate sync.Mutex

/// Do runs f with interrupts conceptually disabled: no other critical
/// section, and no scheduler tick, can run concurrently with f.
func Do(f func()) {
	gate.Lock()
	defer gate.Unlock()
	f()
}

package timer

import (
	"testing"

	"ringspine/idt"
)

type fakeLapic struct{ eois int }

func (f *fakeLapic) EOI() { f.eois++ }

func TestHandlerIncrementsTickAndSignalsEOIBeforeReschedule(t *testing.T) {
	tick := &Tick_t{}
	lapic := &fakeLapic{}
	var order []string
	eoisAtReschedule := -1
	h := Handler(tick, lapic, func() {
		order = append(order, "reschedule")
		eoisAtReschedule = lapic.eois
	})

	origEOI := lapic.eois
	h(idt.IRQBase, 0, &idt.Frame_t{})

	if tick.Count() != 1 {
		t.Fatalf("expected tick count 1, got %d", tick.Count())
	}
	if lapic.eois != origEOI+1 {
		t.Fatalf("expected EOI signaled once")
	}
	if len(order) != 1 || order[0] != "reschedule" {
		t.Fatalf("expected reschedule to run, got %v", order)
	}
	if eoisAtReschedule != origEOI+1 {
		t.Fatalf("expected EOI signaled before reschedule ran")
	}
}

func TestHandlerAccumulatesAcrossCalls(t *testing.T) {
	tick := &Tick_t{}
	lapic := &fakeLapic{}
	h := Handler(tick, lapic, func() {})
	for i := 0; i < 5; i++ {
		h(idt.IRQBase, 0, &idt.Frame_t{})
	}
	if tick.Count() != 5 {
		t.Fatalf("expected tick count 5, got %d", tick.Count())
	}
}

package diag

import (
	"testing"
	"time"

	"ringspine/errs"
	"ringspine/heap"
	"ringspine/sched"
	"ringspine/thread"
)

func TestCaptureReflectsQueueAndHeapState(t *testing.T) {
	idle := thread.NewKernel(0, 0, thread.Idle)
	s := sched.New(idle)
	s.AddThread(thread.NewKernel(1, 0, thread.High))
	s.AddThread(thread.NewKernel(2, 0, thread.Low))
	s.AddThread(thread.NewKernel(3, 0, thread.Low))

	h, err := heap.New(0x1000, 1<<16)
	if err != errs.EOK {
		t.Fatalf("heap.New failed: %v", err)
	}
	if _, err := h.Alloc(64); err != errs.EOK {
		t.Fatalf("alloc failed: %v", err)
	}

	snap := Capture(s, h)
	if snap.QueueDepths[thread.High] != 1 {
		t.Fatalf("expected 1 high-priority thread, got %d", snap.QueueDepths[thread.High])
	}
	if snap.QueueDepths[thread.Low] != 2 {
		t.Fatalf("expected 2 low-priority threads, got %d", snap.QueueDepths[thread.Low])
	}
	if len(snap.HeapFree) == 0 {
		t.Fatalf("expected nonempty heap free-list stats")
	}
}

func TestEncodeProducesOneSamplePerQueueAndOrder(t *testing.T) {
	snap := Snapshot_t{
		QueueDepths: [4]int{2, 0, 1, 0},
		HeapFree:    map[uint]int{4: 3, 5: 1},
	}
	p := Encode(snap, time.Unix(0, 0))

	if len(p.SampleType) != 2 {
		t.Fatalf("expected 2 sample types, got %d", len(p.SampleType))
	}
	// 4 priority-queue samples + 2 heap-order samples.
	if len(p.Sample) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(p.Sample))
	}

	var sawHigh bool
	for _, sample := range p.Sample {
		if labels, ok := sample.Label["priority"]; ok && len(labels) == 1 && labels[0] == "high" {
			sawHigh = true
			if sample.Value[0] != 2 {
				t.Fatalf("expected high-priority sample value 2, got %d", sample.Value[0])
			}
		}
	}
	if !sawHigh {
		t.Fatalf("expected a sample labeled priority=high")
	}
}

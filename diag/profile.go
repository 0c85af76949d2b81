// Package diag snapshots scheduler and heap occupancy into a pprof
// profile.Profile, an observability surface the teacher itself doesn't
// have but gestures at with stats/stats.go's accumulator (SUPPLEMENTED /
// DOMAIN STACK: github.com/google/pprof's profile proto).
//
// This is not CPU/heap profiling in the usual pprof sense — there's no
// running Go program to sample. It reuses the profile.Profile wire shape
// as a structured snapshot format so per-priority ready-queue depth and
// buddy-heap free-list occupancy can be dumped and inspected offline with
// standard pprof tooling (`go tool pprof`), the same way stats/stats.go's
// Stats accumulator is meant to be inspected, just richer.
package diag

import (
	"time"

	"github.com/google/pprof/profile"

	"ringspine/heap"
	"ringspine/sched"
)

/// Snapshot_t captures the quantities diag knows how to report: per-
/// priority scheduler ready-queue depth and per-order heap free-block
/// counts.
type Snapshot_t struct {
	QueueDepths [4]int
	HeapFree    map[uint]int
}

/// Capture reads a point-in-time snapshot from a live scheduler and heap.
func Capture(s *sched.Scheduler_t, h *heap.Heap_t) Snapshot_t {
	return Snapshot_t{
		QueueDepths: s.QueueDepths(),
		HeapFree:    h.Stats(),
	}
}

var priorityNames = [4]string{"high", "medium", "low", "idle"}

// Encode renders a Snapshot_t as a pprof profile.Profile: one sample type
// per quantity ("ready_threads", "free_blocks"), one sample per
// priority/order bucket, labeled so `go tool pprof -tags` can group them.
// Every sample is attached to a single synthetic location/function since
// there is no call stack to report — the profile format is reused purely
// as a structured counter snapshot.
func Encode(snap Snapshot_t, at time.Time) *profile.Profile {
	fn := &profile.Function{ID: 1, Name: "kernel.snapshot", SystemName: "kernel.snapshot"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}

	p := &profile.Profile{
		TimeNanos: at.UnixNano(),
		SampleType: []*profile.ValueType{
			{Type: "ready_threads", Unit: "count"},
			{Type: "free_blocks", Unit: "count"},
		},
		Function: []*profile.Function{fn},
		Location: []*profile.Location{loc},
	}

	for prio, depth := range snap.QueueDepths {
		p.Sample = append(p.Sample, &profile.Sample{
			Value:    []int64{int64(depth), 0},
			Location: []*profile.Location{loc},
			Label:    map[string][]string{"priority": {priorityNames[prio]}},
		})
	}
	for order, count := range snap.HeapFree {
		p.Sample = append(p.Sample, &profile.Sample{
			Value:    []int64{0, int64(count)},
			Location: []*profile.Location{loc},
			NumLabel: map[string][]int64{"order": {int64(order)}},
		})
	}
	return p
}

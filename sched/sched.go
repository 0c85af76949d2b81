// Package sched is the priority ready-queue scheduler and its context
// switch (spec.md §4.9, §4.10).
//
// Grounded on original_source/kernel/src/process/scheduler.rs (Scheduler:
// per-priority FIFO queues, get_next_thread draining strictly by priority
// before ever touching a lower one, reschedule moving the preempted thread
// to the back of its own queue) and process/switch.rs (the naked-asm
// switch/start_thread routines, generalized here into a Switch_i interface
// so the register-save/iretq mechanics can be swapped for a test fake,
// following the same device-interface-isolation idiom biscuit/src/ufs/
// driver.go uses for hardware it can't exercise in a unit test).
package sched

import (
	"sync"

	"ringspine/critical"
	"ringspine/mem"
	"ringspine/thread"
)

const numPriorities = 4 // thread.High..thread.Idle

// Switch_i performs the actual register-save-then-iretq context switch.
// Production code backs this with the real switch/start_thread asm stubs;
// tests back it with a fake that just records the requested transition.
type Switch_i interface {
	Switch(prevStackTop *mem.Va_t, nextStackTop mem.Va_t, nextCR3 mem.Pa_t)
}

// Scheduler_t holds one FIFO ready queue per priority level plus the
// always-runnable idle thread that runs when every queue is empty (spec.md
// §4.9).
type Scheduler_t struct {
	mu      sync.Mutex
	queues  [numPriorities][]*thread.Thread_t
	current *thread.Thread_t
	idle    *thread.Thread_t
}

/// New constructs a scheduler whose fallback thread is idle.
func New(idle *thread.Thread_t) *Scheduler_t {
	idle.Status = thread.Ready
	return &Scheduler_t{idle: idle}
}

/// AddThread enqueues th at the back of its priority's ready queue.
func (s *Scheduler_t) AddThread(th *thread.Thread_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th.Status = thread.Ready
	s.queues[th.Priority] = append(s.queues[th.Priority], th)
}

// getNextThread pops the thread at the front of the highest-priority
// non-empty queue (P5: priority precedence), falling back to idle (P4:
// within one priority, FIFO order gives every thread a turn before any
// repeats).
func (s *Scheduler_t) getNextThread() *thread.Thread_t {
	for p := 0; p < numPriorities; p++ {
		q := s.queues[p]
		if len(q) == 0 {
			continue
		}
		next := q[0]
		s.queues[p] = q[1:]
		return next
	}
	return s.idle
}

/// Current returns the thread currently marked Running, or nil before the
/// first Schedule call.
func (s *Scheduler_t) Current() *thread.Thread_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// QueueDepths returns the number of ready threads waiting at each
// priority level, indexed by thread.Priority_t. An introspection hook
// only — callers must not mutate the scheduler based on a stale
// snapshot.
func (s *Scheduler_t) QueueDepths() [numPriorities]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var depths [numPriorities]int
	for p := 0; p < numPriorities; p++ {
		depths[p] = len(s.queues[p])
	}
	return depths
}

// Schedule picks the next thread to run and performs the context switch.
// If the previously running thread is still Ready to run (not blocked or
// terminated), it's requeued at the back of its own priority's queue —
// this is what gives P4 its round-robin fairness within a priority level.
// The whole operation runs inside critical.Do so a timer tick can't
// re-enter it mid-update (spec.md §4.9, §4.10).
func (s *Scheduler_t) Schedule(sw Switch_i) {
	critical.Do(func() {
		s.mu.Lock()
		prev := s.current
		next := s.getNextThread()

		if prev != nil && prev != s.idle && prev.Status == thread.Running {
			prev.Status = thread.Ready
			s.queues[prev.Priority] = append(s.queues[prev.Priority], prev)
		}
		next.Status = thread.Running
		s.current = next
		s.mu.Unlock()

		if prev == next {
			return
		}
		var prevTop mem.Va_t
		if prev != nil {
			prevTop = prev.KernelStackTop()
		}
		sw.Switch(&prevTop, next.KernelStackTop(), 0)
	})
}

/// Block marks th Blocked and, if it is the currently running thread,
/// immediately reschedules so a blocked thread never keeps the CPU.
func (s *Scheduler_t) Block(th *thread.Thread_t, sw Switch_i) {
	s.mu.Lock()
	th.Status = thread.Blocked
	wasCurrent := s.current == th
	s.mu.Unlock()
	if wasCurrent {
		s.Schedule(sw)
	}
}

/// Wake moves a Blocked thread back onto its ready queue.
func (s *Scheduler_t) Wake(th *thread.Thread_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th.Status = thread.Ready
	s.queues[th.Priority] = append(s.queues[th.Priority], th)
}

// Package thread is the schedulable unit: saved register state, a stack,
// and the priority/status the scheduler reads (spec.md §4.8, §4.9).
//
// Grounded on original_source/kernel/src/tasks/thread.rs: State (the
// repr(C) struct of saved general-purpose registers plus the iretq frame),
// the Priority/Status enums, and Thread::new/new_user/init_stack's stack-
// seeding layout — a thread's stack is pre-populated with a fake "return
// frame" so the context switch's iretq has something to pop on a thread's
// very first run, exactly as if it were resuming from an earlier
// interrupt. The INFINITE_LOOP fallback and STACK_SIZE constant are carried
// over unchanged since spec.md §4.9 names the same convention.
package thread

import (
	"ringspine/mem"
)

/// Priority_t ranks a thread's ready queue (spec.md §4.9): higher-priority
/// queues are always drained before lower ones.
type Priority_t int

const (
	High Priority_t = iota
	Medium
	Low
	Idle
)

/// Status_t is a thread's scheduling state (spec.md §4.9).
type Status_t int

const (
	Ready Status_t = iota
	Running
	Blocked
	Terminated
)

/// StackSize is the size of a new thread's kernel stack.
const StackSize = 4096

// InfiniteLoop is "jmp $-2": a two-byte self-loop copied to the very top of
// every new thread's stack. The seeded frame holds no return address that
// points at these bytes.
var InfiniteLoop = [2]byte{0xeb, 0xfe}

/// State_t is the register file saved/restored on every context switch:
/// the 15 general-purpose registers callee-saved-or-not (this kernel saves
/// all of them, matching original_source's State layout, since it switches
/// from arbitrary interrupt context rather than a cooperative yield point)
/// followed by the iretq frame.
type State_t struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64

	RIP, CS, RFlags, RSP, SS uint64
}

/// Thread_t is one schedulable execution context.
type Thread_t struct {
	ID        uint64
	ProcessID uint64
	Priority  Priority_t
	Status    Status_t
	State     State_t

	stack    []byte
	stackTop mem.Va_t
}

const (
	kernelCS  = 0x08
	userCS    = 0x18 | 3
	userSS    = 0x20 | 3
	rflagsIF  = 1 << 9
)

// initStack lays out the initial iretq frame and register block at the top
// of stack, the way original_source's Thread::init_stack does, and returns
// the RSP a context switch should load to resume this thread for the first
// time.
func initStack(stack []byte, stackBase mem.Va_t, entry uint64, cs, ss uint64, userStack mem.Va_t) mem.Va_t {
	top := len(stack)

	// the infinite-loop bytes go at the top of the stack; their address is
	// computed but not written into the frame.
	top -= 2
	copy(stack[top:top+2], InfiniteLoop[:])
	retAddr := stackBase + mem.Va_t(top)

	s := State_t{
		RIP:    entry,
		CS:     cs,
		RFlags: rflagsIF,
		RSP:    uint64(userStack),
		SS:     ss,
	}
	_ = retAddr
	top -= stateSize
	encodeState(stack[top:top+stateSize], &s)
	return stackBase + mem.Va_t(top)
}

const stateSize = 20 * 8

func encodeState(dst []byte, s *State_t) {
	fields := []uint64{
		s.R15, s.R14, s.R13, s.R12, s.R11, s.R10, s.R9, s.R8,
		s.RBP, s.RDI, s.RSI, s.RDX, s.RCX, s.RBX, s.RAX,
		s.RIP, s.CS, s.RFlags, s.RSP, s.SS,
	}
	for i, v := range fields {
		off := i * 8
		for b := 0; b < 8; b++ {
			dst[off+b] = byte(v >> (8 * uint(b)))
		}
	}
}

func decodeState(src []byte) State_t {
	var fields [20]uint64
	for i := range fields {
		off := i * 8
		var v uint64
		for b := 0; b < 8; b++ {
			v |= uint64(src[off+b]) << (8 * uint(b))
		}
		fields[i] = v
	}
	return State_t{
		R15: fields[0], R14: fields[1], R13: fields[2], R12: fields[3],
		R11: fields[4], R10: fields[5], R9: fields[6], R8: fields[7],
		RBP: fields[8], RDI: fields[9], RSI: fields[10], RDX: fields[11],
		RCX: fields[12], RBX: fields[13], RAX: fields[14],
		RIP: fields[15], CS: fields[16], RFlags: fields[17], RSP: fields[18], SS: fields[19],
	}
}

/// NewKernel builds a ring-0 thread: stack lives in kernel space and CS/SS
/// are the kernel selectors.
func NewKernel(id uint64, entry uint64, priority Priority_t) *Thread_t {
	t := &Thread_t{ID: id, Priority: priority, Status: Ready}
	t.stack = make([]byte, StackSize)
	t.stackTop = initStack(t.stack, 0, entry, kernelCS, kernelCS, mem.Va_t(StackSize))
	t.State = decodeState(t.stack[int(t.stackTop):])
	return t
}

/// NewUser builds a ring-3 thread: CS/SS are the user selectors (RPL 3) and
/// userStackTop is the top of a separately mapped user stack the iretq
/// frame points RSP at.
func NewUser(id, processID uint64, entry uint64, userStackTop mem.Va_t, priority Priority_t) *Thread_t {
	t := &Thread_t{ID: id, ProcessID: processID, Priority: priority, Status: Ready}
	t.stack = make([]byte, StackSize)
	t.stackTop = initStack(t.stack, 0, entry, userCS, userSS, userStackTop)
	t.State = decodeState(t.stack[int(t.stackTop):])
	return t
}

/// KernelStackTop returns the RSP a context switch should load to resume
/// this thread (points at its saved State_t, for a switch routine that
/// pops registers then iretq's).
func (t *Thread_t) KernelStackTop() mem.Va_t { return t.stackTop }

/// SaveState overwrites the thread's saved register state, called by the
/// context switch when preempting a running thread.
func (t *Thread_t) SaveState(s State_t) { t.State = s }

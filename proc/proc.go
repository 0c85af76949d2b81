// Package proc is the process table: an arena of Process_t indexed by Pid
// (spec.md §4.9).
//
// Grounded on original_source/kernel/src/tasks/process.rs's Process::new/
// create_kernel_process/create_user_process, reworked per spec.md's
// REDESIGN FLAGS note that the original's Rc<RefCell<Process>> ownership
// graph (parent/children cycles) doesn't translate to Go and shouldn't be
// imitated: this rewrite keeps processes in a flat map indexed by Pid, with
// parent/child relationships recorded as plain Pid values rather than
// shared pointers, avoiding the cycle entirely.
package proc

import (
	"sync"
	"sync/atomic"

	"ringspine/errs"
	"ringspine/thread"
	"ringspine/vmm"
)

/// Pid_t identifies a process.
type Pid_t uint64

/// Process_t owns an address space and the set of threads running in it.
type Process_t struct {
	Pid        Pid_t
	ParentPid  Pid_t
	AddrSpace  *vmm.Mgr_t
	ThreadIDs  []uint64
	Accounting Accnt_t
}

// DefaultMaxProcs bounds the process table the way
// biscuit/src/limits/limits.go's Syslimit.Sysprocs bounds biscuit's process
// count, preventing a runaway fork loop from exhausting kernel memory one
// Process_t at a time.
const DefaultMaxProcs = 10000

// Table_t is the process arena: a map from Pid to Process_t guarded by a
// mutex, with a monotonic counter handing out fresh Pids (spec.md §4.9).
type Table_t struct {
	mu      sync.Mutex
	procs   map[Pid_t]*Process_t
	nextPid uint64
	maxProcs int
}

/// NewTable constructs an empty process table with the default process
/// limit.
func NewTable() *Table_t {
	return &Table_t{procs: make(map[Pid_t]*Process_t), maxProcs: DefaultMaxProcs}
}

/// NewTableWithLimit constructs an empty process table capped at max
/// live processes.
func NewTableWithLimit(max int) *Table_t {
	return &Table_t{procs: make(map[Pid_t]*Process_t), maxProcs: max}
}

func (t *Table_t) allocPid() Pid_t {
	return Pid_t(atomic.AddUint64(&t.nextPid, 1))
}

/// CreateKernel registers a new process with the given address space and no
/// parent (used for the boot-time kernel process, spec.md §4.9).
func (t *Table_t) CreateKernel(as *vmm.Mgr_t) *Process_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Process_t{Pid: t.allocPid(), AddrSpace: as}
	t.procs[p.Pid] = p
	return p
}

/// CreateUser registers a new process that is a child of parent, cloning
/// parent's address space (spec.md §4.9's fork-like creation path).
func (t *Table_t) CreateUser(parent *Process_t) (*Process_t, errs.Err_t) {
	clone, err := parent.AddrSpace.ClonePML4()
	if err != errs.EOK {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxProcs > 0 && len(t.procs) >= t.maxProcs {
		return nil, errs.ENOMEM
	}
	p := &Process_t{Pid: t.allocPid(), ParentPid: parent.Pid, AddrSpace: clone}
	t.procs[p.Pid] = p
	return p, errs.EOK
}

/// AddThread records th as belonging to process pid.
func (t *Table_t) AddThread(pid Pid_t, th *thread.Thread_t) errs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	if !ok {
		return errs.EINVAL
	}
	p.ThreadIDs = append(p.ThreadIDs, th.ID)
	return errs.EOK
}

/// Get looks up a process by Pid.
func (t *Table_t) Get(pid Pid_t) (*Process_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

/// Remove deletes a process from the table (spec.md §4.9's exit path).
func (t *Table_t) Remove(pid Pid_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
}

// Reap folds a terminated child's CPU accounting into its parent and
// removes the child from the table, the process-exit counterpart of a
// wait4-style rusage collection.
func (t *Table_t) Reap(pid Pid_t) errs.Err_t {
	t.mu.Lock()
	child, ok := t.procs[pid]
	if !ok {
		t.mu.Unlock()
		return errs.ESRCH
	}
	parent, hasParent := t.procs[child.ParentPid]
	delete(t.procs, pid)
	t.mu.Unlock()

	if hasParent {
		parent.Accounting.Add(&child.Accounting)
	}
	return errs.EOK
}

/// Count reports the number of live processes, for diagnostics.
func (t *Table_t) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

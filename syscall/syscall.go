// Package syscall is the INT 0x80 syscall gate: the dispatch table behind
// idt.SyscallVector, reading the rax/rdi/rsi/r10 argument convention out of
// a thread's saved register state and writing a return value back into rax
// (spec.md §4.11).
//
// Grounded on biscuit/src/kernel's syscall-numbers-as-small-integers
// convention (the teacher dispatches a flat int off rax the same way) and
// on idt.Table_t.Dispatch's vector->handler lookup, which this package's
// Gate_t.Dispatch mirrors at the syscall-number level instead of the
// interrupt-vector level.
package syscall

import (
	"io"

	"ringspine/errs"
	"ringspine/mem"
	"ringspine/thread"
	"ringspine/vmm"
)

// Defined syscall numbers (spec.md §4.11: "Defined numbers in this spec:
// 1 = exit ..., 2 = write(fd, buf, len). Unknown numbers return -1.").
const (
	SysExit  = 1
	SysWrite = 2
)

// Fd 1 is the only write target this gate understands; the teacher's own
// kernel has a far richer fd table, but nothing in this spec's scope needs
// more than stdout.
const fdStdout = 1

/// Gate_t is the syscall dispatch table: a writer standing in for the
/// console device write(2) targets, and a callback invoked when a thread
/// calls exit(1).
type Gate_t struct {
	Stdout io.Writer
	OnExit func(threadID uint64, code int64)
}

/// New returns a Gate_t writing to stdout and invoking onExit on exit(1).
func New(stdout io.Writer, onExit func(threadID uint64, code int64)) *Gate_t {
	return &Gate_t{Stdout: stdout, OnExit: onExit}
}

// Dispatch services one INT 0x80 trap: s.State.RAX holds the syscall
// number, RDI/RSI/R10 the first three arguments (r10 substitutes for rcx,
// which the `syscall` instruction's hardware calling convention clobbers —
// spec.md §4.11). The return value is written back into s.State.RAX.
// Dispatch reports exited=true when the syscall was exit(1), so the
// scheduler knows not to resume this thread.
func (g *Gate_t) Dispatch(as *vmm.Mgr_t, th *thread.Thread_t) (exited bool) {
	num := th.State.RAX
	switch num {
	case SysExit:
		code := int64(th.State.RDI)
		if g.OnExit != nil {
			g.OnExit(th.ID, code)
		}
		th.State.RAX = uint64(code)
		return true
	case SysWrite:
		n, err := g.sysWrite(as, th.State.RDI, th.State.RSI, th.State.R10)
		if err != errs.EOK {
			th.State.RAX = ^uint64(0) // -1
			return false
		}
		th.State.RAX = uint64(n)
		return false
	default:
		th.State.RAX = ^uint64(0) // -1
		return false
	}
}

func (g *Gate_t) sysWrite(as *vmm.Mgr_t, fd, bufVa, length uint64) (int64, errs.Err_t) {
	if fd != fdStdout {
		return 0, errs.EINVAL
	}
	data, err := ReadUser(as, mem.Va_t(bufVa), int(length))
	if err != errs.EOK {
		return 0, err
	}
	n, werr := g.Stdout.Write(data)
	if werr != nil {
		return 0, errs.EFAULT
	}
	return int64(n), errs.EOK
}

// ReadUser copies n bytes starting at virtual address va out of as,
// crossing page boundaries as needed via repeated PhysOf translations.
func ReadUser(as *vmm.Mgr_t, va mem.Va_t, n int) ([]byte, errs.Err_t) {
	if n < 0 {
		return nil, errs.EINVAL
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		pageVa := va &^ mem.Va_t(mem.PGOFFSET)
		pa, err := as.PhysOf(pageVa)
		if err != errs.EOK {
			return nil, errs.EFAULT
		}
		page := as.Ram().Dmap(pa)
		off := int(va - pageVa)
		take := mem.PGSIZE - off
		if remain := n - len(out); take > remain {
			take = remain
		}
		out = append(out, page[off:off+take]...)
		va += mem.Va_t(take)
	}
	return out, errs.EOK
}

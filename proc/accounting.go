// Per-process CPU accounting: nanoseconds of user/system time consumed,
// exported as an rusage-shaped byte buffer.
//
// Grounded on biscuit/src/accnt/accnt.go's Accnt_t — same field set and
// method names (Utadd/Systadd/Finish/Fetch), rewired onto Process_t here
// rather than left as an unused standalone package, since nothing in
// spec.md's process model needs it to stand alone.
package proc

import (
	"sync"
	"time"

	"ringspine/util"
)

/// Accnt_t accumulates one process's CPU time. Userns/Sysns are
/// nanoseconds; the embedded mutex lets Fetch take a consistent snapshot
/// while Add/Utadd/Systadd keep running concurrently from other threads.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

/// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) {
	a.Lock()
	a.Userns += delta
	a.Unlock()
}

/// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) {
	a.Lock()
	a.Sysns += delta
	a.Unlock()
}

/// Finish adds the elapsed time since startNanos to system time, called
/// when a syscall handler returns control to the calling thread.
func (a *Accnt_t) Finish(startNanos int64) {
	a.Systadd(time.Now().UnixNano() - startNanos)
}

/// Add merges another process's accounting into this one (used when a
/// parent collects a terminated child's usage, mirroring wait4's rusage
/// semantics).
func (a *Accnt_t) Add(n *Accnt_t) {
	n.Lock()
	un, sn := n.Userns, n.Sysns
	n.Unlock()
	a.Lock()
	a.Userns += un
	a.Sysns += sn
	a.Unlock()
}

/// Fetch returns a consistent snapshot encoded as a 32-byte rusage
/// structure: user timeval (secs, usecs) followed by system timeval.
func (a *Accnt_t) Fetch() []byte {
	a.Lock()
	userns, sysns := a.Userns, a.Sysns
	a.Unlock()

	ret := make([]byte, 32)
	totv := func(nano int64) (int, int) {
		return int(nano / 1e9), int((nano % 1e9) / 1000)
	}
	off := 0
	s, us := totv(userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	s, us = totv(sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	return ret
}

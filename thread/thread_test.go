package thread

import "testing"

func TestNewKernelStartsReadyWithGivenPriority(t *testing.T) {
	th := NewKernel(1, 0xffff800000010000, Medium)
	if th.Status != Ready {
		t.Fatalf("expected Ready status, got %v", th.Status)
	}
	if th.Priority != Medium {
		t.Fatalf("expected Medium priority, got %v", th.Priority)
	}
}

func TestNewKernelSeedsRIPAndKernelSelectors(t *testing.T) {
	entry := uint64(0xffff800000010000)
	th := NewKernel(1, entry, High)
	if th.State.RIP != entry {
		t.Fatalf("expected RIP=%#x, got %#x", entry, th.State.RIP)
	}
	if th.State.CS != kernelCS {
		t.Fatalf("expected kernel CS, got %#x", th.State.CS)
	}
	if th.State.RFlags&rflagsIF == 0 {
		t.Fatalf("expected interrupt flag set in seeded rflags")
	}
}

func TestNewUserSeedsUserSelectorsAndStack(t *testing.T) {
	entry := uint64(0x401000)
	userStack := uint64(0x7ffffffff000)
	th := NewUser(2, 9, entry, 0x7ffffffff000, Low)
	if th.State.CS != userCS {
		t.Fatalf("expected user CS, got %#x", th.State.CS)
	}
	if th.State.SS != userSS {
		t.Fatalf("expected user SS, got %#x", th.State.SS)
	}
	if th.State.RSP != userStack {
		t.Fatalf("expected RSP=%#x, got %#x", userStack, th.State.RSP)
	}
	if th.ProcessID != 9 {
		t.Fatalf("expected process id 9, got %d", th.ProcessID)
	}
}

func TestInfiniteLoopBytesAtReturnAddress(t *testing.T) {
	th := NewKernel(3, 0x1000, Idle)
	retOff := int(th.stackTop) + stateSize
	if th.stack[retOff] != InfiniteLoop[0] || th.stack[retOff+1] != InfiniteLoop[1] {
		t.Fatalf("expected infinite-loop bytes at return address")
	}
}

func TestSaveStateRoundTrips(t *testing.T) {
	th := NewKernel(4, 0x2000, Medium)
	s := th.State
	s.RAX = 0xdead
	th.SaveState(s)
	if th.State.RAX != 0xdead {
		t.Fatalf("expected saved state to persist, got %#x", th.State.RAX)
	}
}

package idt

import "testing"

func TestNewBuildsAllVectorsPresent(t *testing.T) {
	tbl := New(0xffff800000001000, 0x08)
	for v := 0; v < NumVectors; v++ {
		if tbl.gates[v][5]&0x80 == 0 {
			t.Fatalf("vector %d not marked present", v)
		}
	}
}

func TestSyscallGateIsDPL3Trap(t *testing.T) {
	tbl := New(0x1000, 0x08)
	g := tbl.gates[SyscallVector]
	attr := g[5]
	if attr&0x60 != 0x60 {
		t.Fatalf("expected DPL3 on syscall gate, got attr %#x", attr)
	}
	if attr&0xf != gateTrap {
		t.Fatalf("expected trap gate type on syscall vector, got %#x", attr&0xf)
	}
}

func TestOtherVectorsAreDPL0Interrupt(t *testing.T) {
	tbl := New(0x1000, 0x08)
	g := tbl.gates[VecPageFault]
	attr := g[5]
	if attr&0x60 != 0 {
		t.Fatalf("expected DPL0 on page fault gate, got attr %#x", attr)
	}
	if attr&0xf != gateInterrupt {
		t.Fatalf("expected interrupt gate type, got %#x", attr&0xf)
	}
}

func TestDispatchInvokesInstalledHandler(t *testing.T) {
	tbl := New(0x1000, 0x08)
	called := false
	tbl.Install(VecPageFault, func(vector int, errCode uint64, frame *Frame_t) {
		called = true
		if vector != VecPageFault {
			t.Fatalf("wrong vector passed to handler: %d", vector)
		}
	})
	tbl.Dispatch(VecPageFault, 0, &Frame_t{})
	if !called {
		t.Fatalf("handler was not invoked")
	}
}

func TestDispatchUnhandledExceptionPanics(t *testing.T) {
	tbl := New(0x1000, 0x08)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unhandled exception vector")
		}
	}()
	tbl.Dispatch(VecGeneralProtection, 0, &Frame_t{})
}

func TestDispatchUnhandledIRQIsSilent(t *testing.T) {
	tbl := New(0x1000, 0x08)
	tbl.Dispatch(IRQBase+1, 0, &Frame_t{}) // must not panic
}

func TestBytesLengthMatchesVectorCount(t *testing.T) {
	tbl := New(0x1000, 0x08)
	if len(tbl.Bytes()) != NumVectors*16 {
		t.Fatalf("expected %d bytes, got %d", NumVectors*16, len(tbl.Bytes()))
	}
}

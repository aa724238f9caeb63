package pmem

import (
	"errors"
	"testing"
)

func TestAllocLowestFirst(t *testing.T) {
	p := New(4)
	for want := uint32(0); want < 4; want++ {
		got, err := p.Alloc()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("Alloc = %d, want %d", got, want)
		}
		p.IncRef(got)
	}
	if _, err := p.Alloc(); !errors.Is(err, ErrNoMem) {
		t.Fatalf("Alloc on full pool: err = %v, want ErrNoMem", err)
	}

	p.DecRef(2)
	got, err := p.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Fatalf("Alloc after free = %d, want 2", got)
	}
}

func TestRefCounting(t *testing.T) {
	p := New(2)
	ppn, _ := p.Alloc()
	p.IncRef(ppn)
	p.IncRef(ppn)
	if p.Ref(ppn) != 2 {
		t.Fatalf("ref = %d, want 2", p.Ref(ppn))
	}
	if p.Free() != 1 {
		t.Fatalf("free = %d, want 1", p.Free())
	}

	p.DecRef(ppn)
	if p.Free() != 1 {
		t.Fatalf("frame freed while still referenced")
	}
	p.DecRef(ppn)
	if p.Free() != 2 {
		t.Fatalf("free = %d, want 2 after last reference", p.Free())
	}
}

func TestAllocZeroesReusedFrame(t *testing.T) {
	p := New(1)
	ppn, _ := p.Alloc()
	p.IncRef(ppn)
	p.Page(ppn)[10] = 0xab
	p.DecRef(ppn)

	ppn, _ = p.Alloc()
	if b := p.Page(ppn)[10]; b != 0 {
		t.Fatalf("reused frame not zeroed: byte = 0x%x", b)
	}
}

func TestReleaseUnreferenced(t *testing.T) {
	p := New(1)
	ppn, _ := p.Alloc()
	p.Release(ppn)
	if p.Free() != 1 {
		t.Fatalf("free = %d, want 1", p.Free())
	}
}

func TestDecRefOnFreeFramePanics(t *testing.T) {
	p := New(1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	p.DecRef(0)
}

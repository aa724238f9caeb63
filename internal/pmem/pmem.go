// Package pmem manages the pool of physical page frames backing every
// environment's address space.
package pmem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/kahiteam/cowfork/internal/mmu"
)

// ErrNoMem is returned when every frame is in use.
var ErrNoMem = errors.New("out of physical memory")

// Page is the contents of one physical frame.
type Page [mmu.PageSize]byte

type frame struct {
	data *Page
	ref  int
}

// Pool is a fixed set of reference-counted frames. Free frames are handed
// out lowest number first. It is safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	frames []frame
	free   *btree.BTreeG[uint32]
}

// New creates a pool of n frames, all free.
func New(n int) *Pool {
	p := &Pool{
		frames: make([]frame, n),
		free:   btree.NewG[uint32](8, func(a, b uint32) bool { return a < b }),
	}
	for i := 0; i < n; i++ {
		p.free.ReplaceOrInsert(uint32(i))
	}
	return p
}

// Alloc takes a free frame, zeroes it and returns its number with a
// reference count of zero. The caller installs the first reference.
func (p *Pool) Alloc() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ppn, ok := p.free.DeleteMin()
	if !ok {
		return 0, ErrNoMem
	}
	f := &p.frames[ppn]
	if f.data == nil {
		f.data = new(Page)
	} else {
		*f.data = Page{}
	}
	f.ref = 0
	return ppn, nil
}

// IncRef adds a reference to an allocated frame.
func (p *Pool) IncRef(ppn uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustAllocated(ppn)
	p.frames[ppn].ref++
}

// DecRef drops a reference and returns the frame to the free set when the
// last one goes.
func (p *Pool) DecRef(ppn uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustAllocated(ppn)
	f := &p.frames[ppn]
	if f.ref <= 0 {
		panic(fmt.Sprintf("pmem: DecRef on frame %d with ref %d", ppn, f.ref))
	}
	f.ref--
	if f.ref == 0 {
		p.free.ReplaceOrInsert(ppn)
	}
}

// Release returns a frame that was allocated but never referenced.
func (p *Pool) Release(ppn uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustAllocated(ppn)
	if p.frames[ppn].ref == 0 {
		p.free.ReplaceOrInsert(ppn)
	}
}

// Ref returns the reference count of a frame.
func (p *Pool) Ref(ppn uint32) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(ppn) >= len(p.frames) {
		return 0
	}
	return p.frames[ppn].ref
}

// Page returns the contents of an allocated frame. The caller must hold a
// reference for as long as it uses the returned page.
func (p *Pool) Page(ppn uint32) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustAllocated(ppn)
	return p.frames[ppn].data
}

// Free returns the number of free frames.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

// Total returns the number of frames in the pool.
func (p *Pool) Total() int { return len(p.frames) }

func (p *Pool) mustAllocated(ppn uint32) {
	if int(ppn) >= len(p.frames) {
		panic(fmt.Sprintf("pmem: frame %d out of range", ppn))
	}
	if p.free.Has(ppn) {
		panic(fmt.Sprintf("pmem: frame %d is free", ppn))
	}
}

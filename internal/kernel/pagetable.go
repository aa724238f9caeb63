package kernel

import (
	"github.com/kahiteam/cowfork/internal/mmu"
	"github.com/kahiteam/cowfork/internal/pmem"
)

type pageTable [mmu.NPTEntries]mmu.PTE

// addrSpace is a two-level page table. A directory slot is present once
// any page in its range has been mapped; tables are never reclaimed while
// the environment lives.
type addrSpace struct {
	dir [mmu.NPTEntries]*pageTable
}

func (as *addrSpace) lookup(va mmu.VA) mmu.PTE {
	pt := as.dir[mmu.PDX(va)]
	if pt == nil {
		return 0
	}
	return pt[mmu.PTX(va)]
}

// insert maps frame ppn at va, replacing any previous mapping. Mapping the
// frame that is already there only updates the permissions.
func (as *addrSpace) insert(pool *pmem.Pool, va mmu.VA, ppn uint32, perm mmu.Perm) {
	pdx := mmu.PDX(va)
	pt := as.dir[pdx]
	if pt == nil {
		pt = new(pageTable)
		as.dir[pdx] = pt
	}
	slot := &pt[mmu.PTX(va)]
	old := *slot
	pool.IncRef(ppn)
	if old.Present() {
		pool.DecRef(old.PPN())
	}
	*slot = mmu.MakePTE(ppn, perm|mmu.PermValid)
}

func (as *addrSpace) remove(pool *pmem.Pool, va mmu.VA) {
	pt := as.dir[mmu.PDX(va)]
	if pt == nil {
		return
	}
	slot := &pt[mmu.PTX(va)]
	if slot.Present() {
		pool.DecRef(slot.PPN())
	}
	*slot = 0
}

// each calls fn for every present mapping in ascending address order.
func (as *addrSpace) each(fn func(va mmu.VA, pte mmu.PTE)) {
	for pdx, pt := range as.dir {
		if pt == nil {
			continue
		}
		for ptx, pte := range pt {
			if pte.Present() {
				fn(mmu.VA(uint32(pdx)<<mmu.PDShift|uint32(ptx)<<mmu.PageShift), pte)
			}
		}
	}
}

func (as *addrSpace) release(pool *pmem.Pool) {
	as.each(func(va mmu.VA, _ mmu.PTE) { as.remove(pool, va) })
	as.dir = [mmu.NPTEntries]*pageTable{}
}

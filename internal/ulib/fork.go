package ulib

import (
	"context"

	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/mmu"
)

// cowPerm is installed on both sides of a page shared copy-on-write.
const cowPerm = mmu.PermValid | mmu.PermCOW | mmu.PermWrite

// privatePerm is the mapping a resolved copy-on-write page ends up with.
const privatePerm = mmu.PermValid | mmu.PermWrite

// pgfault resolves a write fault on a copy-on-write page by giving the
// faulting environment its own writable copy. Only the faulting
// environment's mapping changes.
func pgfault(p *Process, va mmu.VA) {
	va = mmu.RoundDown(va)
	if !p.sys.VPT(mmu.VPN(va)).Perm().Has(mmu.PermCOW) {
		p.Panicf(ErrNotCOW, "pgfault: %s is not copy-on-write", va)
	}

	// The scratch page is the lower half of the alternate stack region,
	// so it never overlaps the stack this handler runs on.
	tmp := mmu.FaultScratch
	p.mustSucceed(p.sys.MemAlloc(0, tmp, privatePerm), "pgfault: mem_alloc")
	p.sys.Store(tmp, p.sys.Load(va, mmu.PageSize))
	p.mustSucceed(p.sys.MemMap(0, tmp, 0, va, privatePerm), "pgfault: mem_map")
	p.mustSucceed(p.sys.MemUnmap(0, tmp), "pgfault: mem_unmap")
}

// dupClass names which duplication rule applied to a page.
type dupClass int

const (
	dupPlain dupClass = iota
	dupCOW
	dupLibrary
)

func (c dupClass) String() string {
	switch c {
	case dupCOW:
		return "cow"
	case dupLibrary:
		return "library"
	default:
		return "plain"
	}
}

// dupDecision is the permission outcome for one page at fork time.
type dupDecision struct {
	class  dupClass
	child  mmu.Perm
	parent mmu.Perm // zero leaves the parent's mapping untouched
}

// decideDup applies the duplication policy to a page with permissions perm.
// Library pages are shared as they are. Any other page with the R bit is
// made copy-on-write in both environments, since either may write first.
// Everything else is mapped into the child unchanged.
func decideDup(perm mmu.Perm) dupDecision {
	switch {
	case perm.Has(mmu.PermLibrary):
		return dupDecision{class: dupLibrary, child: perm, parent: perm}
	case perm.Has(mmu.PermWrite):
		return dupDecision{class: dupCOW, child: cowPerm, parent: cowPerm}
	default:
		return dupDecision{class: dupPlain, child: perm}
	}
}

// duppage maps virtual page vpn of this environment into child at the same
// address, following decideDup.
func (p *Process) duppage(child kernel.EnvID, vpn uint32) dupClass {
	va := mmu.PageAddr(vpn)
	d := decideDup(p.sys.VPT(vpn).Perm())

	p.mustSucceed(p.sys.MemMap(0, va, child, va, d.child), "duppage: mem_map for child")
	if d.parent != 0 {
		p.mustSucceed(p.sys.MemMap(0, va, 0, va, d.parent), "duppage: mem_map for parent")
	}
	return d.class
}

// dupAddressSpace runs duppage over every present page below UStackTop.
// The two pages above it hold the fault scratch page and the exception
// stack, which every environment gets fresh.
func (p *Process) dupAddressSpace(child kernel.EnvID) map[dupClass]int {
	counts := make(map[dupClass]int)
	for va := mmu.VA(0); va < mmu.UStackTop; {
		if !p.sys.VPD(mmu.PDX(va)) {
			va = (va &^ (mmu.PDMap - 1)) + mmu.PDMap
			continue
		}
		if vpn := mmu.VPN(va); p.sys.VPT(vpn).Present() {
			counts[p.duppage(child, vpn)]++
		}
		va += mmu.PageSize
	}
	return counts
}

// Fork creates a child environment sharing this one's pages copy-on-write
// and returns its id. The child runs child once it is scheduled; every
// failure aborts the caller.
func (p *Process) Fork(ctx context.Context, child Program) kernel.EnvID {
	p.SetPgfaultHandler(pgfault)

	c := p.clone()
	r, err := p.sys.EnvAlloc(func(ctx context.Context, sys *kernel.Sys, r kernel.AllocResult) error {
		c.sys = sys
		if id := c.forkReturn(r, nil); id != 0 {
			c.Panicf(ErrSetup, "fork: child resumed with id %s", id)
		}
		return child(ctx, c)
	})
	p.mustSucceed(err, "fork: env_alloc")
	return p.forkReturn(r, c)
}

// forkReturn finishes fork on either side of the allocation. Inside the new
// environment it only repairs the identity cache and returns 0. In the
// parent it copies the address space into the child, gives the child its
// own exception stack and fault entry, and releases it to the scheduler.
func (p *Process) forkReturn(r kernel.AllocResult, c *Process) kernel.EnvID {
	if r.Self() {
		p.refreshEnv()
		return 0
	}

	id := r.Child()
	counts := p.dupAddressSpace(id)
	p.mustSucceed(p.sys.MemAlloc(id, mmu.UXStackTop-mmu.PageSize, privatePerm), "fork: exception stack")
	p.mustSucceed(p.sys.SetPgfaultHandler(id, c.faultEntry, mmu.UXStackTop), "fork: set_pgfault_handler")
	p.mustSucceed(p.sys.SetEnvStatus(id, kernel.Runnable), "fork: set_env_status")

	p.Logger().Debug("forked",
		"child", id.String(),
		"cow", counts[dupCOW],
		"library", counts[dupLibrary],
		"plain", counts[dupPlain],
	)
	return id
}

// Sfork is the shared-memory fork variant. It is not supported and always
// fails with kernel.ErrInval.
func (p *Process) Sfork(ctx context.Context, child Program) (kernel.EnvID, error) {
	return 0, kernel.ErrInval
}

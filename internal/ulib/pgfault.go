package ulib

import (
	"github.com/kahiteam/cowfork/internal/mmu"
)

// SetPgfaultHandler makes fn the handler for write faults in this
// environment. The first call maps the exception stack page just below
// UXStackTop and registers the fault entry with the kernel; later calls only
// swap the handler.
func (p *Process) SetPgfaultHandler(fn FaultHandler) {
	if p.handler == nil {
		p.mustSucceed(p.sys.MemAlloc(0, mmu.UXStackTop-mmu.PageSize, mmu.PermValid|mmu.PermWrite),
			"set_pgfault_handler: exception stack")
		p.mustSucceed(p.sys.SetPgfaultHandler(0, p.faultEntry, mmu.UXStackTop),
			"set_pgfault_handler: register entry")
	}
	p.handler = fn
}

// faultEntry is what the kernel calls on a write fault. It runs on the
// alternate stack and dispatches to the installed handler.
func (p *Process) faultEntry(va mmu.VA) {
	h := p.handler
	if h == nil {
		p.Panicf(ErrNotCOW, "fault at %s with no handler installed", va)
	}
	h(p, va)
}

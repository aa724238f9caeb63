package kernel

import (
	"log/slog"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/mmu"
)

// Sys is the syscall interface of one environment. Every call acts on
// behalf of that environment; an EnvID argument of zero names it.
type Sys struct {
	k      *Kernel
	env    *Env
	logger *slog.Logger
}

// Logger returns a logger tagged with the calling environment.
func (s *Sys) Logger() *slog.Logger { return s.logger }

// GetEnvID returns the caller's id.
func (s *Sys) GetEnvID() EnvID { return s.env.id }

// envLocked resolves id for the caller. With checkPerm, the target must be
// the caller or one of its children.
func (s *Sys) envLocked(id EnvID, checkPerm bool) (*Env, error) {
	if id == 0 {
		return s.env, nil
	}
	e, err := s.k.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	if checkPerm && e != s.env && e.parent != s.env.id {
		return nil, ErrBadEnv
	}
	return e, nil
}

// EnvAlloc creates a child environment, not yet runnable, with an empty
// address space. The child will begin in start with the Self result once
// it is marked runnable and scheduled; the caller gets the child's id.
func (s *Sys) EnvAlloc(start StartFunc) (AllocResult, error) {
	s.k.mu.Lock()
	e, err := s.k.allocEnvLocked(s.env.id, start)
	s.k.mu.Unlock()
	if err != nil {
		return AllocResult{}, err
	}
	s.k.publish(events.EnvCreated, e.id, map[string]string{"parent": s.env.id.String()})
	return AllocResult{child: e.id}, nil
}

// EnvDestroy frees an environment. Destroying the caller does not return.
func (s *Sys) EnvDestroy(id EnvID) error {
	s.k.mu.Lock()
	e, err := s.envLocked(id, true)
	if err != nil {
		s.k.mu.Unlock()
		return err
	}
	if e == s.env {
		s.k.mu.Unlock()
		panic(&Abort{Env: e.id, Err: errExit})
	}
	if !e.started {
		s.k.destroyLocked(e, ErrKilled)
		s.k.mu.Unlock()
		s.k.publish(events.EnvAborted, e.id, map[string]string{"reason": ErrKilled.Error()})
		return nil
	}
	// A started environment tears itself down the next time it gets the CPU.
	e.doomed = true
	s.k.sched.enqueueLocked(e)
	s.k.mu.Unlock()
	return nil
}

// MemAlloc maps a fresh zeroed frame at va in env. perm must include
// PermValid and must not include PermCOW.
func (s *Sys) MemAlloc(id EnvID, va mmu.VA, perm mmu.Perm) error {
	if va >= mmu.UTop || !perm.Has(mmu.PermValid) || perm.Has(mmu.PermCOW) {
		return ErrInval
	}
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	e, err := s.envLocked(id, true)
	if err != nil {
		return err
	}
	return s.k.memAllocLocked(e, va, perm)
}

// MemMap maps the frame behind srcva in src at dstva in dst with perm.
func (s *Sys) MemMap(srcID EnvID, srcva mmu.VA, dstID EnvID, dstva mmu.VA, perm mmu.Perm) error {
	if srcva >= mmu.UTop || dstva >= mmu.UTop || !perm.Has(mmu.PermValid) {
		return ErrInval
	}
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	src, err := s.envLocked(srcID, true)
	if err != nil {
		return err
	}
	dst, err := s.envLocked(dstID, true)
	if err != nil {
		return err
	}
	pte := src.as.lookup(srcva)
	if !pte.Present() {
		return ErrInval
	}
	if perm.Has(mmu.PermWrite) && !pte.Perm().Has(mmu.PermWrite) {
		return ErrInval
	}
	dst.as.insert(s.k.pool, mmu.RoundDown(dstva), pte.PPN(), perm)
	return nil
}

// MemUnmap removes the mapping at va in env, if any.
func (s *Sys) MemUnmap(id EnvID, va mmu.VA) error {
	if va >= mmu.UTop {
		return ErrInval
	}
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	e, err := s.envLocked(id, true)
	if err != nil {
		return err
	}
	e.as.remove(s.k.pool, mmu.RoundDown(va))
	return nil
}

// SetPgfaultHandler registers the write-fault entry point of env and the
// top of the alternate stack it runs on.
func (s *Sys) SetPgfaultHandler(id EnvID, entry FaultEntry, xstackTop mmu.VA) error {
	if mmu.PageOffset(xstackTop) != 0 || xstackTop > mmu.UTop || xstackTop == 0 {
		return ErrInval
	}
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	e, err := s.envLocked(id, true)
	if err != nil {
		return err
	}
	e.faultEntry = entry
	e.xstackTop = xstackTop
	return nil
}

// SetEnvStatus moves env to Runnable or NotRunnable.
func (s *Sys) SetEnvStatus(id EnvID, status Status) error {
	if status != Runnable && status != NotRunnable {
		return ErrInval
	}
	s.k.mu.Lock()
	e, err := s.envLocked(id, true)
	if err != nil {
		s.k.mu.Unlock()
		return err
	}
	if !canTransition(e.status, status) {
		s.k.mu.Unlock()
		return ErrInval
	}
	changed := e.status != status
	e.status = status
	if status == Runnable {
		s.k.sched.enqueueLocked(e)
	}
	s.k.mu.Unlock()

	if changed && status == Runnable {
		s.k.publish(events.EnvRunnable, e.id, nil)
	}
	return nil
}

// Yield gives the CPU to the next runnable environment.
func (s *Sys) Yield() { s.k.yield(s.env) }

// Cputs writes str to the console.
func (s *Sys) Cputs(str string) { s.k.writeConsole(str) }

// VPD reports whether page-directory slot pdx of the caller is present.
func (s *Sys) VPD(pdx uint32) bool {
	if pdx >= mmu.NPTEntries {
		return false
	}
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	return s.env.as.dir[pdx] != nil
}

// VPT returns the caller's page-table entry for virtual page vpn.
func (s *Sys) VPT(vpn uint32) mmu.PTE {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	return s.env.as.lookup(mmu.PageAddr(vpn))
}

// Env returns the environment-table slot idx.
func (s *Sys) Env(idx int) EnvInfo {
	if idx < 0 || idx >= NEnv {
		return EnvInfo{}
	}
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	e := s.k.envs[idx]
	if e == nil {
		return EnvInfo{}
	}
	return e.info()
}

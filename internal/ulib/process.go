// Package ulib is the user-level runtime linked into every environment:
// the identity cache, page-fault handler registration, copy-on-write fault
// resolution and fork.
package ulib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/mmu"
)

// Syscalls is the kernel interface an environment runs against.
// *kernel.Sys implements it.
type Syscalls interface {
	GetEnvID() kernel.EnvID
	EnvAlloc(start kernel.StartFunc) (kernel.AllocResult, error)
	EnvDestroy(env kernel.EnvID) error
	MemAlloc(env kernel.EnvID, va mmu.VA, perm mmu.Perm) error
	MemMap(srcEnv kernel.EnvID, srcva mmu.VA, dstEnv kernel.EnvID, dstva mmu.VA, perm mmu.Perm) error
	MemUnmap(env kernel.EnvID, va mmu.VA) error
	SetPgfaultHandler(env kernel.EnvID, entry kernel.FaultEntry, xstackTop mmu.VA) error
	SetEnvStatus(env kernel.EnvID, status kernel.Status) error
	Yield()
	Cputs(s string)
	VPD(pdx uint32) bool
	VPT(vpn uint32) mmu.PTE
	Env(idx int) kernel.EnvInfo
	Load(va mmu.VA, n int) []byte
	Store(va mmu.VA, data []byte)
	Logger() *slog.Logger
}

// Failure classes raised through Panicf.
var (
	// ErrSetup marks a failed syscall while installing the fault handler
	// or creating a child.
	ErrSetup = errors.New("setup failed")
	// ErrNotCOW marks a write fault on a page that is not copy-on-write.
	ErrNotCOW = errors.New("fault on page not marked copy-on-write")
)

// Program is the code an environment runs.
type Program func(ctx context.Context, p *Process) error

// FaultHandler resolves a write fault at va in p.
type FaultHandler func(p *Process, va mmu.VA)

// Process is the user-space state of one environment. Fork hands the child
// a copy of it, exactly as the child inherits the rest of its parent's
// memory.
type Process struct {
	sys Syscalls

	// env caches this environment's table slot. A forked child starts
	// with its parent's copy and must refresh it.
	env kernel.EnvInfo

	// handler is the fault handler run by the fault entry; nil until
	// SetPgfaultHandler first runs.
	handler FaultHandler
}

// NewProcess binds a process to sys and resolves its identity.
func NewProcess(sys Syscalls) *Process {
	p := &Process{sys: sys}
	p.refreshEnv()
	return p
}

// Boot spawns prog as a new top-level environment of k.
func Boot(k *kernel.Kernel, prog Program) (kernel.EnvID, error) {
	return k.Spawn(func(ctx context.Context, sys *kernel.Sys, _ kernel.AllocResult) error {
		return prog(ctx, NewProcess(sys))
	})
}

func (p *Process) refreshEnv() {
	p.env = p.sys.Env(kernel.EnvX(p.sys.GetEnvID()))
}

// clone copies the user-space state a child inherits. The copy still
// names the parent until the child refreshes it.
func (p *Process) clone() *Process {
	return &Process{env: p.env, handler: p.handler}
}

// Env returns the cached identity of this environment.
func (p *Process) Env() kernel.EnvInfo { return p.env }

// Sys returns the raw syscall interface.
func (p *Process) Sys() Syscalls { return p.sys }

// Logger returns the environment's logger.
func (p *Process) Logger() *slog.Logger { return p.sys.Logger() }

// Load reads n bytes at va.
func (p *Process) Load(va mmu.VA, n int) []byte { return p.sys.Load(va, n) }

// Store writes data at va, faulting into the installed handler as needed.
func (p *Process) Store(va mmu.VA, data []byte) { p.sys.Store(va, data) }

// MemAlloc maps a fresh page at va in this environment.
func (p *Process) MemAlloc(va mmu.VA, perm mmu.Perm) error {
	return p.sys.MemAlloc(0, va, perm)
}

// Yield gives up the CPU.
func (p *Process) Yield() { p.sys.Yield() }

// Printf writes formatted output to the console.
func (p *Process) Printf(format string, args ...any) {
	p.sys.Cputs(fmt.Sprintf(format, args...))
}

// Panicf aborts the environment with a diagnostic. It does not return.
func (p *Process) Panicf(err error, format string, args ...any) {
	kernel.Abortf(err, "user panic: "+format, args...)
}

// mustSucceed aborts with ErrSetup when a setup syscall fails.
func (p *Process) mustSucceed(err error, what string) {
	if err != nil {
		p.Panicf(fmt.Errorf("%w: %w", ErrSetup, err), "%s", what)
	}
}

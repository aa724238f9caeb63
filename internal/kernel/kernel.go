// Package kernel is the single-core hosting kernel user programs run on:
// an environment table, per-environment two-level page tables over a shared
// frame pool, the memory and environment syscalls, write-fault delivery to
// a user handler on its alternate stack, and a cooperative round-robin
// scheduler.
package kernel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/logging"
	"github.com/kahiteam/cowfork/internal/mmu"
	"github.com/kahiteam/cowfork/internal/pmem"
)

// Options configures a Kernel.
type Options struct {
	Frames       int          // physical frames (default 1024)
	MaxEnvs      int          // live environments, at most NEnv (default NEnv)
	ConsoleBytes int          // console ring buffer size (default 4096)
	Console      io.Writer    // optional mirror of console output
	Logger       *slog.Logger // defaults to a discarding logger
	Bus          *events.Bus  // optional event sink

	// TraceExit records each environment's mappings in its exit record.
	TraceExit bool
}

// Mapping is one present page of an address space.
type Mapping struct {
	VA   mmu.VA
	PPN  uint32
	Perm mmu.Perm
	Ref  int
	Data []byte
}

// ExitRecord describes how an environment ended.
type ExitRecord struct {
	ID       EnvID
	Parent   EnvID
	Err      error // nil on a clean exit, *Abort when aborted
	Mappings []Mapping
}

// Kernel owns all environments and physical memory.
type Kernel struct {
	mu sync.Mutex

	pool    *pmem.Pool
	envs    [NEnv]*Env
	nextGen uint32
	live    int
	maxEnvs int

	sched scheduler
	exits []ExitRecord

	console   *logging.RingBuffer
	mirror    io.Writer
	logger    *slog.Logger
	bus       *events.Bus
	traceExit bool
}

// New creates a kernel with no environments.
func New(opts Options) *Kernel {
	if opts.Frames <= 0 {
		opts.Frames = 1024
	}
	if opts.MaxEnvs <= 0 || opts.MaxEnvs > NEnv {
		opts.MaxEnvs = NEnv
	}
	if opts.ConsoleBytes <= 0 {
		opts.ConsoleBytes = 4096
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	k := &Kernel{
		pool:      pmem.New(opts.Frames),
		maxEnvs:   opts.MaxEnvs,
		console:   logging.NewRingBuffer(opts.ConsoleBytes),
		mirror:    opts.Console,
		logger:    logger,
		bus:       opts.Bus,
		traceExit: opts.TraceExit,
	}
	k.sched.sleeping = make(map[*Env]struct{})
	return k
}

// Spawn creates a runnable top-level environment with a fresh address
// space holding one user stack page below UStackTop.
func (k *Kernel) Spawn(start StartFunc) (EnvID, error) {
	k.mu.Lock()
	e, err := k.allocEnvLocked(0, start)
	if err != nil {
		k.mu.Unlock()
		return 0, err
	}
	if err := k.memAllocLocked(e, mmu.UStackTop-mmu.PageSize, mmu.PermValid|mmu.PermWrite); err != nil {
		k.freeEnvLocked(e)
		k.mu.Unlock()
		return 0, err
	}
	e.status = Runnable
	k.sched.enqueueLocked(e)
	k.mu.Unlock()

	k.publish(events.EnvCreated, e.id, nil)
	k.publish(events.EnvRunnable, e.id, nil)
	return e.id, nil
}

// Run schedules environments until none is left runnable. Environments
// parked as not runnable when the CPU goes idle are destroyed.
func (k *Kernel) Run(ctx context.Context) error {
	k.mu.Lock()
	g := k.sched.begin(ctx)
	k.dispatchLocked()
	k.mu.Unlock()

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Exits returns exit records in the order environments ended.
func (k *Kernel) Exits() []ExitRecord {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]ExitRecord, len(k.exits))
	copy(out, k.exits)
	return out
}

// Exit returns the exit record of id.
func (k *Kernel) Exit(id EnvID) (ExitRecord, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, r := range k.exits {
		if r.ID == id {
			return r, true
		}
	}
	return ExitRecord{}, false
}

// Console returns everything written to the console that still fits in
// the ring buffer.
func (k *Kernel) Console() string {
	return k.console.String()
}

// FreeFrames returns the number of unused physical frames.
func (k *Kernel) FreeFrames() int { return k.pool.Free() }

// Envs lists live environments in table order.
func (k *Kernel) Envs() []EnvInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []EnvInfo
	for _, e := range k.envs {
		if e != nil && e.status != Free {
			out = append(out, e.info())
		}
	}
	return out
}

// Mappings returns the present pages of a live environment.
func (k *Kernel) Mappings(id EnvID) ([]Mapping, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return k.mappingsLocked(e), nil
}

func (k *Kernel) mappingsLocked(e *Env) []Mapping {
	var out []Mapping
	e.as.each(func(va mmu.VA, pte mmu.PTE) {
		data := make([]byte, mmu.PageSize)
		copy(data, k.pool.Page(pte.PPN())[:])
		out = append(out, Mapping{
			VA:   va,
			PPN:  pte.PPN(),
			Perm: pte.Perm(),
			Ref:  k.pool.Ref(pte.PPN()),
			Data: data,
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].VA < out[j].VA })
	return out
}

func (k *Kernel) lookupLocked(id EnvID) (*Env, error) {
	e := k.envs[EnvX(id)]
	if e == nil || e.status == Free || e.id != id {
		return nil, ErrBadEnv
	}
	return e, nil
}

func (k *Kernel) allocEnvLocked(parent EnvID, start StartFunc) (*Env, error) {
	if k.live >= k.maxEnvs {
		return nil, ErrNoFreeEnv
	}
	for idx := range k.envs {
		e := k.envs[idx]
		if e != nil && e.status != Free {
			continue
		}
		k.nextGen++
		id := EnvID(k.nextGen<<(1+Log2NEnv) | uint32(idx))
		e = &Env{
			id:     id,
			parent: parent,
			status: NotRunnable,
			as:     new(addrSpace),
			start:  start,
			wake:   make(chan bool, 1),
		}
		k.envs[idx] = e
		k.live++
		k.logger.Debug("env allocated", "env", id.String(), "parent", parent.String())
		return e, nil
	}
	return nil, ErrNoFreeEnv
}

func (k *Kernel) freeEnvLocked(e *Env) {
	e.as.release(k.pool)
	e.status = Free
	e.faultEntry = nil
	k.live--
}

func (k *Kernel) memAllocLocked(e *Env, va mmu.VA, perm mmu.Perm) error {
	ppn, err := k.pool.Alloc()
	if err != nil {
		k.logger.Warn("out of physical frames", "env", e.id.String(), "va", mmu.RoundDown(va).String())
		k.publish(events.FrameExhausted, e.id, nil)
		return ErrNoMem
	}
	e.as.insert(k.pool, mmu.RoundDown(va), ppn, perm)
	return nil
}

// destroyLocked frees e and records how it ended.
func (k *Kernel) destroyLocked(e *Env, err error) ExitRecord {
	rec := ExitRecord{ID: e.id, Parent: e.parent, Err: err}
	if k.traceExit {
		rec.Mappings = k.mappingsLocked(e)
	}
	k.freeEnvLocked(e)
	delete(k.sched.sleeping, e)
	k.exits = append(k.exits, rec)
	return rec
}

func (k *Kernel) writeConsole(s string) {
	_, _ = k.console.Write([]byte(s))
	if k.mirror != nil {
		_, _ = io.WriteString(k.mirror, s)
	}
}

// publish may run with k.mu held; bus handlers must not call back into the
// kernel.
func (k *Kernel) publish(t events.EventType, id EnvID, extra map[string]string) {
	if k.bus == nil {
		return
	}
	k.bus.Publish(events.Event{
		Type:       t,
		Env:        uint32(id),
		FramesFree: k.pool.Free(),
		Data:       extra,
	})
}

func (k *Kernel) String() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return fmt.Sprintf("kernel{envs=%d frames=%d/%d}", k.live, k.pool.Free(), k.pool.Total())
}

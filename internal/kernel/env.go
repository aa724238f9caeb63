package kernel

import (
	"context"
	"fmt"

	"github.com/kahiteam/cowfork/internal/mmu"
)

// EnvID identifies an environment. Zero names the calling environment.
type EnvID uint32

// Environment table geometry.
const (
	Log2NEnv = 10
	NEnv     = 1 << Log2NEnv
)

// EnvX returns the environment-table slot of id.
func EnvX(id EnvID) int { return int(id) & (NEnv - 1) }

func (id EnvID) String() string { return fmt.Sprintf("%08x", uint32(id)) }

// Status is an environment's scheduling status.
type Status int

const (
	Free        Status = iota // FREE: slot unused
	Runnable                  // RUNNABLE: eligible for the CPU
	NotRunnable               // NOT_RUNNABLE: allocated but parked
)

var statusNames = [...]string{"FREE", "RUNNABLE", "NOT_RUNNABLE"}

func (s Status) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", s)
}

// validTransitions defines allowed status changes.
var validTransitions = map[Status][]Status{
	Free:        {Runnable, NotRunnable},
	Runnable:    {NotRunnable, Free},
	NotRunnable: {Runnable, Free},
}

func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllocResult is the outcome of EnvAlloc. The same allocation is observed
// twice: the caller sees the new child's id, and the new environment starts
// with the Self result.
type AllocResult struct {
	child EnvID
}

// ChildResult is the result the allocating environment sees for child.
func ChildResult(child EnvID) AllocResult { return AllocResult{child: child} }

// Self reports whether this result was delivered inside the new
// environment.
func (r AllocResult) Self() bool { return r.child == 0 }

// Child returns the new environment's id, or zero for the Self result.
func (r AllocResult) Child() EnvID { return r.child }

// StartFunc is the code a new environment runs when it first gets the CPU.
// r is the Self result for environments made by EnvAlloc.
type StartFunc func(ctx context.Context, sys *Sys, r AllocResult) error

// FaultEntry receives write faults delivered to an environment. It runs on
// the environment's alternate fault stack.
type FaultEntry func(va mmu.VA)

// EnvInfo is the read-only view of an environment-table slot.
type EnvInfo struct {
	ID     EnvID
	Parent EnvID
	Status Status
	Runs   int
}

// Env is one slot of the environment table.
type Env struct {
	id     EnvID
	parent EnvID
	status Status
	as     *addrSpace

	faultEntry FaultEntry
	xstackTop  mmu.VA
	faultDepth int
	faults     int

	start StartFunc
	runs  int

	// Scheduler bookkeeping.
	started bool
	queued  bool
	doomed  bool
	wake    chan bool
}

func (e *Env) info() EnvInfo {
	return EnvInfo{ID: e.id, Parent: e.parent, Status: e.status, Runs: e.runs}
}

package kernel

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/logging"
)

// errIdle is the abort reason of environments still parked when the CPU
// goes idle.
var errIdle = errors.New("not runnable while the system went idle")

// scheduler hands a single CPU to one environment at a time. Every
// environment runs on its own goroutine, but only the one holding the CPU
// executes; the rest wait on their wake channel. A false wake tells a
// waiting environment to die.
type scheduler struct {
	ctx      context.Context
	g        *errgroup.Group
	runq     []*Env
	cur      *Env
	sleeping map[*Env]struct{}
}

func (s *scheduler) begin(ctx context.Context) *errgroup.Group {
	s.ctx = ctx
	s.g = new(errgroup.Group)
	return s.g
}

func (s *scheduler) enqueueLocked(e *Env) {
	if e.queued || s.cur == e {
		return
	}
	delete(s.sleeping, e)
	e.queued = true
	s.runq = append(s.runq, e)
}

// dispatchLocked gives the CPU to the next runnable environment. When none
// is left, parked environments are woken to die and environments that never
// started are destroyed.
func (k *Kernel) dispatchLocked() {
	s := &k.sched
	for len(s.runq) > 0 {
		next := s.runq[0]
		s.runq = s.runq[1:]
		next.queued = false
		if next.status == Free {
			continue
		}
		if next.status != Runnable && !next.doomed {
			if next.started {
				s.sleeping[next] = struct{}{}
			}
			continue
		}
		s.cur = next
		next.runs++
		if !next.started {
			next.started = true
			s.g.Go(func() error {
				k.runEnv(next)
				return nil
			})
		} else {
			next.wake <- true
		}
		return
	}
	s.cur = nil
	for e := range s.sleeping {
		delete(s.sleeping, e)
		e.wake <- false
	}
	// Children never marked runnable would hold their frames forever.
	for _, e := range k.envs {
		if e != nil && e.status != Free && !e.started {
			k.destroyLocked(e, errIdle)
			k.publish(events.EnvAborted, e.id, map[string]string{"reason": errIdle.Error()})
		}
	}
}

// errGoexit is recorded when an environment's goroutine unwinds without
// returning, e.g. through runtime.Goexit.
var errGoexit = errors.New("environment goroutine exited abruptly")

// runEnv is the body of an environment's goroutine.
func (k *Kernel) runEnv(e *Env) {
	err := errGoexit
	defer func() {
		if errors.Is(err, errExit) {
			err = nil
		}
		k.mu.Lock()
		rec := k.destroyLocked(e, err)
		if k.sched.cur == e {
			k.dispatchLocked()
		}
		k.mu.Unlock()

		if rec.Err != nil {
			k.logger.Warn("env aborted", "env", e.id.String(), "err", rec.Err.Error())
			k.publish(events.EnvAborted, e.id, map[string]string{"reason": rec.Err.Error()})
		} else {
			k.logger.Info("env exited", "env", e.id.String())
			k.publish(events.EnvExited, e.id, nil)
		}
	}()
	err = k.invoke(e)
}

func (k *Kernel) invoke(e *Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a, ok := r.(*Abort)
			if !ok {
				panic(r)
			}
			if a.Env == 0 {
				a.Env = e.id
			}
			err = a
		}
	}()
	k.checkResume(e)
	sys := &Sys{k: k, env: e, logger: logging.WithFields(k.logger, "env", e.id.String())}
	return e.start(k.sched.ctx, sys, AllocResult{})
}

// checkResume aborts an environment that was handed the CPU only to be
// torn down.
func (k *Kernel) checkResume(e *Env) {
	k.mu.Lock()
	doomed := e.doomed
	ctx := k.sched.ctx
	k.mu.Unlock()
	if doomed {
		panic(&Abort{Env: e.id, Err: ErrKilled})
	}
	if err := ctx.Err(); err != nil {
		panic(&Abort{Env: e.id, Msg: "scheduler stopped", Err: err})
	}
}

// yield gives up the CPU and blocks until e is scheduled again.
func (k *Kernel) yield(e *Env) {
	k.mu.Lock()
	if k.sched.cur == e {
		k.sched.cur = nil
	}
	if e.status == Runnable {
		k.sched.enqueueLocked(e)
	} else {
		k.sched.sleeping[e] = struct{}{}
	}
	k.dispatchLocked()
	k.mu.Unlock()

	if alive := <-e.wake; !alive {
		panic(&Abort{Env: e.id, Err: errIdle})
	}
	k.checkResume(e)
}

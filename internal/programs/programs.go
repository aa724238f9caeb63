// Package programs holds the built-in user programs that cowfork can boot.
package programs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/mmu"
	"github.com/kahiteam/cowfork/internal/ulib"
)

// ErrUnknownProgram is returned for a name with no registered program.
var ErrUnknownProgram = errors.New("unknown program")

// Program is a named entry point.
type Program struct {
	Name    string
	Summary string
	Main    ulib.Program
}

// Fixed data pages used by the programs.
const (
	dataPage = mmu.UText
	libPage  = mmu.UText + mmu.PageSize

	rw = mmu.PermValid | mmu.PermWrite
)

var registry = map[string]Program{
	"fork": {
		Name:    "fork",
		Summary: "parent and child bump a shared counter and see only their own writes",
		Main:    forkCounter,
	},
	"library": {
		Name:    "library",
		Summary: "a library page stays shared and writable across fork",
		Main:    librarySharing,
	},
	"badfault": {
		Name:    "badfault",
		Summary: "writing a read-only page that is not copy-on-write aborts",
		Main:    badFault,
	},
	"sfork": {
		Name:    "sfork",
		Summary: "shared fork is not supported",
		Main:    sforkStub,
	},
	"forktree": {
		Name:    "forktree",
		Summary: "binary tree of forks three levels deep",
		Main:    forkTreeRoot,
	},
}

// Lookup returns the program registered under name.
func Lookup(name string) (Program, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names returns the registered program names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run boots the named program on k, runs k until no environment is left
// and returns the exit record of the program's first environment.
func Run(ctx context.Context, k *kernel.Kernel, name string) (kernel.ExitRecord, error) {
	prog, ok := Lookup(name)
	if !ok {
		return kernel.ExitRecord{}, fmt.Errorf("%w: %q", ErrUnknownProgram, name)
	}
	id, err := ulib.Boot(k, prog.Main)
	if err != nil {
		return kernel.ExitRecord{}, fmt.Errorf("boot %s: %w", name, err)
	}
	if err := k.Run(ctx); err != nil {
		return kernel.ExitRecord{}, err
	}
	rec, ok := k.Exit(id)
	if !ok {
		return kernel.ExitRecord{}, fmt.Errorf("no exit record for %s", id)
	}
	return rec, nil
}

func loadCounter(p *ulib.Process) uint32 {
	return binary.LittleEndian.Uint32(p.Load(dataPage, 4))
}

func storeCounter(p *ulib.Process, v uint32) {
	p.Store(dataPage, binary.LittleEndian.AppendUint32(nil, v))
}

// putString stores s NUL-terminated at va.
func putString(p *ulib.Process, va mmu.VA, s string) {
	p.Store(va, append([]byte(s), 0))
}

// getString reads a NUL-terminated string of at most n bytes at va.
func getString(p *ulib.Process, va mmu.VA, n int) string {
	b := p.Load(va, n)
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func forkCounter(ctx context.Context, p *ulib.Process) error {
	if err := p.MemAlloc(dataPage, rw); err != nil {
		return err
	}
	storeCounter(p, 0)

	child := p.Fork(ctx, func(ctx context.Context, c *ulib.Process) error {
		for range 3 {
			n := loadCounter(c)
			c.Printf("[%s] child: a=%d\n", c.Env().ID, n)
			storeCounter(c, n+1)
			c.Yield()
		}
		return nil
	})
	p.Printf("[%s] forked %s\n", p.Env().ID, child)

	for range 3 {
		n := loadCounter(p)
		p.Printf("[%s] parent: a=%d\n", p.Env().ID, n)
		storeCounter(p, n+10)
		p.Yield()
	}
	return nil
}

func librarySharing(ctx context.Context, p *ulib.Process) error {
	if err := p.MemAlloc(libPage, rw|mmu.PermLibrary); err != nil {
		return err
	}
	if err := p.MemAlloc(dataPage, rw); err != nil {
		return err
	}
	putString(p, libPage, "hello from "+p.Env().ID.String())
	putString(p, dataPage, "parent private")

	p.Fork(ctx, func(ctx context.Context, c *ulib.Process) error {
		c.Printf("[%s] library page: %q\n", c.Env().ID, getString(c, libPage, 64))
		putString(c, libPage, "hello from "+c.Env().ID.String())
		putString(c, dataPage, "child private")
		return nil
	})
	p.Yield()

	p.Printf("[%s] library page: %q\n", p.Env().ID, getString(p, libPage, 64))
	p.Printf("[%s] private page: %q\n", p.Env().ID, getString(p, dataPage, 64))
	return nil
}

func badFault(ctx context.Context, p *ulib.Process) error {
	if err := p.MemAlloc(dataPage, mmu.PermValid); err != nil {
		return err
	}
	p.Fork(ctx, func(context.Context, *ulib.Process) error { return nil })
	p.Printf("[%s] writing to read-only page %s\n", p.Env().ID, dataPage)
	p.Store(dataPage, []byte{1})
	p.Printf("[%s] write went through\n", p.Env().ID)
	return nil
}

func sforkStub(ctx context.Context, p *ulib.Process) error {
	_, err := p.Sfork(ctx, func(context.Context, *ulib.Process) error { return nil })
	p.Printf("[%s] sfork: %v\n", p.Env().ID, err)
	return nil
}

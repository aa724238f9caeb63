package programs

import (
	"context"

	"github.com/kahiteam/cowfork/internal/ulib"
)

const treeDepth = 3

func forkTreeRoot(ctx context.Context, p *ulib.Process) error {
	if err := p.MemAlloc(dataPage, rw); err != nil {
		return err
	}
	forkTree(ctx, p, "")
	return nil
}

func forkTree(ctx context.Context, p *ulib.Process, cur string) {
	p.Printf("[%s] I am '%s'\n", p.Sys().GetEnvID(), cur)
	forkChild(ctx, p, cur, '0')
	forkChild(ctx, p, cur, '1')
}

// forkChild hands the child its name through dataPage, the way it would
// find an argument on a copied stack.
func forkChild(ctx context.Context, p *ulib.Process, cur string, branch byte) {
	if len(cur) >= treeDepth {
		return
	}
	putString(p, dataPage, cur+string(branch))
	p.Fork(ctx, func(ctx context.Context, c *ulib.Process) error {
		forkTree(ctx, c, getString(c, dataPage, treeDepth+1))
		return nil
	})
}

package sampler

import (
	"context"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

// Group runs sampling tasks and companion functions until the first of
// them fails or the context ends.
type Group struct {
	Clock clock.Clock
	Tasks []*Task
	Funcs []func(ctx context.Context) error
}

// Run starts every task with one shared start instant and waits for all of
// them to return.
func (g *Group) Run(ctx context.Context) error {
	clk := g.Clock
	if clk == nil {
		clk = clock.New()
	}

	eg, ctx := errgroup.WithContext(ctx)
	start := clk.Now()

	for _, t := range g.Tasks {
		if t.Clock == nil {
			t.Clock = clk
		}
		eg.Go(func() error { return t.Run(ctx, start) })
	}
	for _, fn := range g.Funcs {
		eg.Go(func() error { return fn(ctx) })
	}

	return eg.Wait()
}

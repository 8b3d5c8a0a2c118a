package smk

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// forEachWord runs fn for every word on at most workers goroutines. The
// first error or a cancelled ctx stops the remaining words.
func forEachWord(ctx context.Context, words, workers int, fn func(w int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for w := 0; w < words; w++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(w)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

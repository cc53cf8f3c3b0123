package importer

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ReindexOptions bounds a reindex run.
type ReindexOptions struct {
	// Concurrency is the number of parallel index calls. Defaults to 4.
	Concurrency int
	// RequestsPerSecond limits outbound index calls. 0 means no limit.
	RequestsPerSecond float64
}

// ReindexResult reports the outcome of a reindex run.
type ReindexResult struct {
	Indexed int
	Failed  int
}

// Reindex re-pushes every document of a named collection into the index
// synchronously. Per-document failures are logged and counted without
// stopping the run.
func (i *Importer) Reindex(ctx context.Context, collectionName string, opts ReindexOptions) (ReindexResult, error) {
	coll, _, err := i.ResolveCollection(ctx, collectionName)
	if err != nil {
		return ReindexResult{}, err
	}
	docs, err := i.store.DocumentsForCollection(coll.ID)
	if err != nil {
		return ReindexResult{}, fmt.Errorf("listing collection documents: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	var indexed, failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}
			i.logger.Info("reindexing", "kind", doc.Kind, "title", doc.Title, "id", doc.ID)
			if err := i.index.AddDocument(ctx, &coll, &doc, false); err != nil {
				i.logger.Error("reindex failed", "kind", doc.Kind, "title", doc.Title, "id", doc.ID, "error", err)
				failed.Add(1)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ReindexResult{}, err
	}
	return ReindexResult{Indexed: int(indexed.Load()), Failed: int(failed.Load())}, nil
}

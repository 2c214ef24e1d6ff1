package stock

import (
	"context"
	"errors"
	"math/bits"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-pos/meridian/internal/platform/db"
)

const defaultMaxConcurrent = 5

// BatchOptions tunes chunk execution.
type BatchOptions struct {
	// MaxConcurrent caps parallel chunk execution. Values <= 1 run chunks
	// serially. Default 5.
	MaxConcurrent int
	// Delay inserts a pause between chunks for backpressure (serial mode).
	Delay time.Duration
	// AbortOnError propagates the first chunk error immediately. Work already
	// committed by prior chunks stays committed; chunks are independent
	// transactions and there is no cross-chunk rollback.
	AbortOnError bool
	// Progress, when set, is invoked after each chunk completes.
	Progress func(processed, total int, percent float64)
	// OnSplit, when set, is invoked each time a chunk is halved after an
	// oversized-transaction failure.
	OnSplit func()
}

// BatchError records a chunk failure with the absolute offset of its first item.
type BatchError struct {
	Offset int
	Err    error
}

// BatchOutcome aggregates per-chunk results. Counts always satisfy
// SuccessCount == len(ProcessedItems) and FailureCount == len(SkippedItems).
type BatchOutcome[T, R any] struct {
	Results        []R
	ProcessedItems []T
	SkippedItems   []T
	Errors         []BatchError
	SuccessCount   int
	FailureCount   int
}

func (o *BatchOutcome[T, R]) merge(other BatchOutcome[T, R]) {
	o.Results = append(o.Results, other.Results...)
	o.ProcessedItems = append(o.ProcessedItems, other.ProcessedItems...)
	o.SkippedItems = append(o.SkippedItems, other.SkippedItems...)
	o.Errors = append(o.Errors, other.Errors...)
	o.SuccessCount += other.SuccessCount
	o.FailureCount += other.FailureCount
}

// ChunkFunc applies one chunk, typically inside one shared transaction, so
// all items of the chunk succeed or fail together.
type ChunkFunc[T, R any] func(ctx context.Context, chunk []T) ([]R, error)

// ProcessBatches splits items into chunks of batchSize and applies fn to
// each. A chunk failing with db.ErrTxTooLarge is split in half and each half
// retried; the recursion depth is capped at log2(batchSize), so a singleton
// chunk that still fails is recorded as skipped rather than retried forever.
// Each chunk returns its own accumulator which is folded here; no chunk
// mutates shared state.
func ProcessBatches[T, R any](ctx context.Context, items []T, batchSize int, opts BatchOptions, fn ChunkFunc[T, R]) (BatchOutcome[T, R], error) {
	var outcome BatchOutcome[T, R]
	if len(items) == 0 {
		return outcome, nil
	}
	if batchSize <= 0 {
		batchSize = len(items)
	}
	splitBudget := bits.Len(uint(batchSize))

	type span struct {
		offset int
		chunk  []T
	}
	var spans []span
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		spans = append(spans, span{offset: start, chunk: items[start:end]})
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	total := len(items)
	chunkOutcomes := make([]BatchOutcome[T, R], len(spans))

	if maxConcurrent <= 1 {
		processed := 0
		for i, s := range spans {
			if i > 0 && opts.Delay > 0 {
				select {
				case <-ctx.Done():
					return foldOutcomes(outcome, chunkOutcomes[:i]), ctx.Err()
				case <-time.After(opts.Delay):
				}
			}
			chunkOutcome, err := runChunk(ctx, s.offset, s.chunk, splitBudget, opts, fn)
			chunkOutcomes[i] = chunkOutcome
			processed += len(s.chunk)
			reportProgress(opts, processed, total)
			if err != nil {
				return foldOutcomes(outcome, chunkOutcomes[:i+1]), err
			}
		}
		return foldOutcomes(outcome, chunkOutcomes), nil
	}

	var mu sync.Mutex
	processed := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, s := range spans {
		g.Go(func() error {
			chunkOutcome, err := runChunk(gctx, s.offset, s.chunk, splitBudget, opts, fn)
			mu.Lock()
			chunkOutcomes[i] = chunkOutcome
			processed += len(s.chunk)
			current := processed
			mu.Unlock()
			reportProgress(opts, current, total)
			return err
		})
	}
	err := g.Wait()
	return foldOutcomes(outcome, chunkOutcomes), err
}

// runChunk applies fn to the chunk, halving on oversized-transaction
// failures. depth strictly decreases so the recursion terminates.
func runChunk[T, R any](ctx context.Context, offset int, chunk []T, depth int, opts BatchOptions, fn ChunkFunc[T, R]) (BatchOutcome[T, R], error) {
	var outcome BatchOutcome[T, R]
	if len(chunk) == 0 {
		return outcome, nil
	}
	results, err := fn(ctx, chunk)
	if err == nil {
		outcome.Results = results
		outcome.ProcessedItems = append(outcome.ProcessedItems, chunk...)
		outcome.SuccessCount = len(chunk)
		return outcome, nil
	}

	if errors.Is(err, db.ErrTxTooLarge) && len(chunk) > 1 && depth > 0 {
		if opts.OnSplit != nil {
			opts.OnSplit()
		}
		mid := len(chunk) / 2
		first, ferr := runChunk(ctx, offset, chunk[:mid], depth-1, opts, fn)
		outcome.merge(first)
		if ferr != nil {
			return outcome, ferr
		}
		second, serr := runChunk(ctx, offset+mid, chunk[mid:], depth-1, opts, fn)
		outcome.merge(second)
		return outcome, serr
	}

	outcome.SkippedItems = append(outcome.SkippedItems, chunk...)
	outcome.Errors = append(outcome.Errors, BatchError{Offset: offset, Err: err})
	outcome.FailureCount = len(chunk)
	if opts.AbortOnError {
		return outcome, err
	}
	return outcome, nil
}

func foldOutcomes[T, R any](outcome BatchOutcome[T, R], chunks []BatchOutcome[T, R]) BatchOutcome[T, R] {
	for _, chunk := range chunks {
		outcome.merge(chunk)
	}
	return outcome
}

func reportProgress(opts BatchOptions, processed, total int) {
	if opts.Progress == nil || total == 0 {
		return
	}
	opts.Progress(processed, total, float64(processed)/float64(total)*100)
}

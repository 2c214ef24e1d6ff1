package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/platform/db"
)

func TestProcessBatchesChunksSerially(t *testing.T) {
	var chunks [][]int
	outcome, err := ProcessBatches(context.Background(), []int{1, 2, 3, 4, 5}, 2, BatchOptions{MaxConcurrent: 1},
		func(ctx context.Context, chunk []int) ([]string, error) {
			chunks = append(chunks, chunk)
			out := make([]string, len(chunk))
			for i, v := range chunk {
				out[i] = fmt.Sprintf("r%d", v)
			}
			return out, nil
		})
	require.NoError(t, err)
	require.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks)
	require.Equal(t, 5, outcome.SuccessCount)
	require.Len(t, outcome.Results, 5)
	require.Empty(t, outcome.Errors)
}

func TestProcessBatchesSplitsOversizedChunks(t *testing.T) {
	splits := 0
	var mu sync.Mutex
	var succeeded [][]int
	outcome, err := ProcessBatches(context.Background(), []int{1, 2, 3, 4}, 4,
		BatchOptions{MaxConcurrent: 1, OnSplit: func() { splits++ }},
		func(ctx context.Context, chunk []int) ([]int, error) {
			if len(chunk) > 1 {
				return nil, fmt.Errorf("apply: %w", db.ErrTxTooLarge)
			}
			mu.Lock()
			succeeded = append(succeeded, chunk)
			mu.Unlock()
			return chunk, nil
		})
	require.NoError(t, err)
	// 4 -> 2+2 -> 1+1+1+1
	require.Equal(t, 3, splits)
	require.Len(t, succeeded, 4)
	require.Equal(t, 4, outcome.SuccessCount)
	require.Zero(t, outcome.FailureCount)
}

func TestProcessBatchesSingletonStillTooLarge(t *testing.T) {
	outcome, err := ProcessBatches(context.Background(), []int{1, 2}, 2, BatchOptions{MaxConcurrent: 1},
		func(ctx context.Context, chunk []int) ([]int, error) {
			return nil, db.ErrTxTooLarge
		})
	require.NoError(t, err)
	// Both singletons end up skipped once the chunk cannot shrink further.
	require.Equal(t, 2, outcome.FailureCount)
	require.Len(t, outcome.SkippedItems, 2)
	for _, batchErr := range outcome.Errors {
		require.ErrorIs(t, batchErr.Err, db.ErrTxTooLarge)
	}
}

func TestProcessBatchesRecordsOffsets(t *testing.T) {
	failOn := map[int]bool{3: true}
	outcome, err := ProcessBatches(context.Background(), []int{1, 2, 3, 4}, 1, BatchOptions{MaxConcurrent: 1},
		func(ctx context.Context, chunk []int) ([]int, error) {
			if failOn[chunk[0]] {
				return nil, errors.New("boom")
			}
			return chunk, nil
		})
	require.NoError(t, err)
	require.Equal(t, 3, outcome.SuccessCount)
	require.Equal(t, 1, outcome.FailureCount)
	require.Len(t, outcome.Errors, 1)
	require.Equal(t, 2, outcome.Errors[0].Offset)
}

func TestProcessBatchesAbortOnError(t *testing.T) {
	calls := 0
	outcome, err := ProcessBatches(context.Background(), []int{1, 2, 3, 4}, 1,
		BatchOptions{MaxConcurrent: 1, AbortOnError: true},
		func(ctx context.Context, chunk []int) ([]int, error) {
			calls++
			if chunk[0] == 2 {
				return nil, errors.New("boom")
			}
			return chunk, nil
		})
	require.Error(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, outcome.SuccessCount)
	require.Equal(t, 1, outcome.FailureCount)
}

func TestProcessBatchesProgress(t *testing.T) {
	var percents []float64
	_, err := ProcessBatches(context.Background(), []int{1, 2, 3, 4}, 2,
		BatchOptions{MaxConcurrent: 1, Progress: func(processed, total int, percent float64) {
			percents = append(percents, percent)
		}},
		func(ctx context.Context, chunk []int) ([]int, error) {
			return chunk, nil
		})
	require.NoError(t, err)
	require.Equal(t, []float64{50, 100}, percents)
}

func TestProcessBatchesConcurrent(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]bool)
	outcome, err := ProcessBatches(context.Background(), []int{1, 2, 3, 4, 5, 6}, 2,
		BatchOptions{MaxConcurrent: 3},
		func(ctx context.Context, chunk []int) ([]int, error) {
			mu.Lock()
			for _, v := range chunk {
				seen[v] = true
			}
			mu.Unlock()
			return chunk, nil
		})
	require.NoError(t, err)
	require.Equal(t, 6, outcome.SuccessCount)
	require.Len(t, seen, 6)
}

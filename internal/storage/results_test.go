package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpubench/gpubench/internal/bench"
)

func testStore(t *testing.T) *ResultStore {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return NewResultStore(db)
}

func testResult(runID, variant string) *Result {
	return &Result{
		RunID:     runID,
		RecipeDir: "recipes/qwen3-8b",
		Variant:   variant,
		Model:     "Qwen/Qwen3-8B",
		Engine:    "vllm",
		GPUName:   "NVIDIA H100 80GB",
		GPUCount:  8,
		Status:    "completed",
	}
}

func TestResultStore_CreateRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "/results/2026-08-25_14-30-05_abcdef01", "abcdef0123456789")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "abcdef0123456789", runs[0].CodeHash)
}

func TestResultStore_RecordAndGet(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "/results/run", "hash")
	require.NoError(t, err)

	r := testResult(run.ID, "h100_c128")
	r.SetMetrics(bench.ParseMetrics(`Successful requests:  256
Request throughput (req/s):  0.82
Mean TTFT (ms):  1843.21`))
	require.NoError(t, store.RecordResult(ctx, r))
	assert.NotEmpty(t, r.ID)

	got, err := store.GetResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "h100_c128", got.Variant)
	assert.Equal(t, "completed", got.Status)
	require.NotNil(t, got.SuccessfulRequests)
	assert.Equal(t, 256, *got.SuccessfulRequests)
	require.NotNil(t, got.RequestThroughput)
	assert.InDelta(t, 0.82, *got.RequestThroughput, 0.001)
	require.NotNil(t, got.MeanTTFTMs)
	assert.Nil(t, got.FailedRequests)
}

func TestResultStore_GetResult_NotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.GetResult(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultStore_ListResults_Filters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "/results/run", "hash")
	require.NoError(t, err)

	r1 := testResult(run.ID, "h100_c128")
	r2 := testResult(run.ID, "h100_c256")
	r3 := testResult(run.ID, "rtx5090_c128")
	r3.GPUName = "NVIDIA GeForce RTX 5090"
	r3.Status = "failed"
	for _, r := range []*Result{r1, r2, r3} {
		require.NoError(t, store.RecordResult(ctx, r))
	}

	all, err := store.ListResults(ctx, ResultFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	h100, err := store.ListResults(ctx, ResultFilter{GPUName: "NVIDIA H100 80GB"})
	require.NoError(t, err)
	assert.Len(t, h100, 2)

	failed, err := store.ListResults(ctx, ResultFilter{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "rtx5090_c128", failed[0].Variant)

	limited, err := store.ListResults(ctx, ResultFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestResultStore_ListResults_Empty(t *testing.T) {
	store := testStore(t)
	results, err := store.ListResults(context.Background(), ResultFilter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

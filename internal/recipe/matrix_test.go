package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func parseEntry(t *testing.T, doc string) MatrixEntry {
	t.Helper()
	var entry MatrixEntry
	require.NoError(t, yaml.Unmarshal([]byte(doc), &entry))
	return entry
}

func TestMatrixEntryPreservesFieldOrder(t *testing.T) {
	entry := parseEntry(t, `
deploy.gpu: "NVIDIA H100 80GB"
benchmark.max_concurrency: [1, 2]
benchmark.num_prompts: [64, 128]
`)

	require.Len(t, entry.Fields, 3)
	assert.Equal(t, "deploy.gpu", entry.Fields[0].Path)
	assert.Equal(t, "benchmark.max_concurrency", entry.Fields[1].Path)
	assert.Equal(t, "benchmark.num_prompts", entry.Fields[2].Path)
}

func TestExpandBroadcastAndZip(t *testing.T) {
	entry := parseEntry(t, `
deploy.gpu: "NVIDIA H100 80GB"
deploy.gpu_count: 8
benchmark.max_concurrency: [1, 2, 4]
`)

	overrides, err := entry.Expand()
	require.NoError(t, err)
	require.Len(t, overrides, 3)

	for i, want := range []int{1, 2, 4} {
		deploy := overrides[i]["deploy"].(Tree)
		assert.Equal(t, "NVIDIA H100 80GB", deploy["gpu"], "combination %d", i)
		assert.Equal(t, 8, deploy["gpu_count"], "combination %d", i)
		bench := overrides[i]["benchmark"].(Tree)
		assert.Equal(t, want, bench["max_concurrency"], "combination %d", i)
	}
}

func TestExpandSinglePoint(t *testing.T) {
	entry := parseEntry(t, `
deploy.gpu: "NVIDIA L40S"
deploy.gpu_count: 2
`)

	overrides, err := entry.Expand()
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Empty(t, entry.Label(0))
}

func TestExpandZipsParallelLists(t *testing.T) {
	entry := parseEntry(t, `
deploy.gpu: "NVIDIA GeForce RTX 5090"
benchmark.max_concurrency: [1, 8]
benchmark.num_prompts: [16, 128]
`)

	overrides, err := entry.Expand()
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	bench0 := overrides[0]["benchmark"].(Tree)
	assert.Equal(t, 1, bench0["max_concurrency"])
	assert.Equal(t, 16, bench0["num_prompts"])

	bench1 := overrides[1]["benchmark"].(Tree)
	assert.Equal(t, 8, bench1["max_concurrency"])
	assert.Equal(t, 128, bench1["num_prompts"])
}

func TestExpandLengthMismatch(t *testing.T) {
	entry := parseEntry(t, `
deploy.gpu: "NVIDIA H100 80GB"
benchmark.max_concurrency: [1, 2, 4]
benchmark.num_prompts: [64, 128]
`)

	_, err := entry.Expand()
	require.Error(t, err)

	var mismatch *LengthMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.Lengths["benchmark.max_concurrency"])
	assert.Equal(t, 2, mismatch.Lengths["benchmark.num_prompts"])
	assert.Contains(t, err.Error(), "benchmark.max_concurrency=3")
	assert.Contains(t, err.Error(), "benchmark.num_prompts=2")
}

func TestExpandMissingDeployGPU(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "absent",
			doc:  `benchmark.max_concurrency: [1, 2]`,
		},
		{
			name: "empty string",
			doc:  `deploy.gpu: ""`,
		},
		{
			name: "empty element in list",
			doc: `
deploy.gpu: ["NVIDIA H100 80GB", ""]
benchmark.num_prompts: [64, 128]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := parseEntry(t, tt.doc)
			_, err := entry.Expand()
			assert.ErrorIs(t, err, ErrMissingDeployGPU)
		})
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		index    int
		expected string
	}{
		{
			name: "single varying field",
			doc: `
deploy.gpu: "NVIDIA H100 80GB"
benchmark.max_concurrency: [1, 2, 4]
`,
			index:    2,
			expected: "c4",
		},
		{
			name: "multiple varying fields in declared order",
			doc: `
deploy.gpu: "NVIDIA H100 80GB"
benchmark.max_concurrency: [1, 2]
benchmark.num_prompts: [64, 128]
engine.llm.max_concurrent_requests: [32, 256]
`,
			index:    1,
			expected: "c2_n128_mcr256",
		},
		{
			name: "varying deploy fields excluded",
			doc: `
deploy.gpu: "NVIDIA H100 80GB"
deploy.gpu_count: [1, 2]
benchmark.random_input_len: [1000, 2000]
benchmark.random_output_len: [500, 600]
`,
			index:    0,
			expected: "in1000_out500",
		},
		{
			name: "unmapped path falls back to last segment",
			doc: `
deploy.gpu: "NVIDIA H100 80GB"
engine.llm.tensor_parallel_size: [2, 4]
`,
			index:    1,
			expected: "tensor_parallel_size4",
		},
		{
			name: "context length abbreviation",
			doc: `
deploy.gpu: "NVIDIA H100 80GB"
engine.llm.context_length: [4096, 8192]
`,
			index:    0,
			expected: "ctx4096",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := parseEntry(t, tt.doc)
			assert.Equal(t, tt.expected, entry.Label(tt.index))
		})
	}
}

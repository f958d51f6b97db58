package bench

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpubench/gpubench/internal/recipe"
)

func testRecipe(t *testing.T, overrides recipe.Tree) *recipe.Recipe {
	t.Helper()
	tree := recipe.Tree{
		"model": map[string]any{"huggingface": "Qwen/Qwen3-8B"},
		"engine": map[string]any{
			"llm": map[string]any{"vllm": map[string]any{}},
		},
		"benchmark": map[string]any{"max_concurrency": 4, "num_prompts": 32},
		"deploy":    map[string]any{"gpu": "NVIDIA H100", "gpu_count": 1},
	}
	rec, err := recipe.FromTree(recipe.Merge(tree, overrides))
	require.NoError(t, err)
	return rec
}

type stubRunner struct {
	out  string
	err  error
	cmds []string
}

func (s *stubRunner) Run(_ context.Context, cmd string) (string, error) {
	s.cmds = append(s.cmds, cmd)
	return s.out, s.err
}

func TestCommand(t *testing.T) {
	rec := testRecipe(t, nil)
	cmd := Command(rec, 8080)

	assert.Contains(t, cmd, "docker run --rm --network host")
	assert.Contains(t, cmd, "--entrypoint bash vllm/vllm-openai:latest")
	assert.Contains(t, cmd, "vllm bench serve")
	assert.Contains(t, cmd, "--model Qwen/Qwen3-8B")
	assert.Contains(t, cmd, "--base-url http://localhost:8080")
	assert.Contains(t, cmd, "--max-concurrency 4")
	assert.Contains(t, cmd, "--num-prompts 32")
	assert.Contains(t, cmd, "--random-input-len 8000")
	assert.Contains(t, cmd, "--random-output-len 8000")
}

func TestRun_Success(t *testing.T) {
	runner := &stubRunner{out: "startup noise\n" + ResultMarker + "\nSuccessful requests:  32"}
	out, err := Run(context.Background(), runner, testRecipe(t, nil), 8000)
	require.NoError(t, err)
	assert.Contains(t, out, "Successful requests")
	require.Len(t, runner.cmds, 1)
}

func TestRun_CommandFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("exit status 1")}
	_, err := Run(context.Background(), runner, testRecipe(t, nil), 8000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "benchmark workload failed")
}

func TestRun_MissingResultsTable(t *testing.T) {
	runner := &stubRunner{out: "benchmark crashed before reporting"}
	_, err := Run(context.Background(), runner, testRecipe(t, nil), 8000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing results table")
}

func TestExtractResults(t *testing.T) {
	raw := "lots of\nstartup output\n" + ResultMarker + "\nSuccessful requests:  256\n"
	got := ExtractResults(raw)
	assert.True(t, len(got) < len(raw))
	assert.Contains(t, got, ResultMarker)
	assert.Contains(t, got, "Successful requests")

	// No marker: full output passes through.
	assert.Equal(t, "no table here", ExtractResults("no table here"))
}

func TestParseMaxModelLen(t *testing.T) {
	assert.Equal(t, 16384, parseMaxModelLen("--enable-prefix-caching --max-model-len 16384"))
	assert.Equal(t, 16384, parseMaxModelLen("--max-model-len=16384"))
	assert.Equal(t, 0, parseMaxModelLen("--max-model-len notanumber"))
	assert.Equal(t, 0, parseMaxModelLen(""))
	assert.Equal(t, 0, parseMaxModelLen("--max-model-len"))
}

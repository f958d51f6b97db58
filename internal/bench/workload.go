// Package bench runs the serving benchmark workload against a deployed
// engine and parses its output into structured results.
package bench

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gpubench/gpubench/internal/logging"
	"github.com/gpubench/gpubench/internal/recipe"
)

// ResultMarker starts the results table in vllm bench serve output.
const ResultMarker = "============ Serving Benchmark Result ============"

// Runner executes a shell command on the benchmark VM and returns stdout.
type Runner interface {
	Run(ctx context.Context, cmd string) (string, error)
}

// Command builds the vllm bench serve invocation for a recipe. The bench
// tool runs inside the engine image with host networking so localhost
// reaches the deployed endpoint (or the nginx balancer).
func Command(rec *recipe.Recipe, port int) string {
	b := rec.Benchmark
	return fmt.Sprintf("docker run --rm --network host --entrypoint bash %s -c '"+
		"vllm bench serve "+
		"--model %s "+
		"--base-url http://localhost:%d "+
		"--max-concurrency %d "+
		"--num-prompts %d "+
		"--random-input-len %d "+
		"--random-output-len %d"+
		"'",
		rec.LLM().Image(), rec.ModelName(), port,
		b.MaxConcurrency, b.NumPrompts, b.RandomInputLen, b.RandomOutputLen)
}

// Run executes the benchmark workload and returns its raw output. The
// caller bounds the run with a context deadline.
func Run(ctx context.Context, runner Runner, rec *recipe.Recipe, port int) (string, error) {
	warnContextOverflow(ctx, rec)

	cmd := Command(rec, port)
	logging.Info(ctx, "running benchmark workload",
		"model", rec.ModelName(),
		"max_concurrency", rec.Benchmark.MaxConcurrency,
		"num_prompts", rec.Benchmark.NumPrompts)

	output, err := runner.Run(ctx, cmd)
	if err != nil {
		return output, fmt.Errorf("benchmark workload failed: %w", err)
	}
	if !strings.Contains(output, ResultMarker) {
		return output, fmt.Errorf("benchmark output missing results table")
	}
	return output, nil
}

// ExtractResults returns the results table from raw bench output, or the
// full output when the marker is absent.
func ExtractResults(output string) string {
	idx := strings.Index(output, ResultMarker)
	if idx == -1 {
		return output
	}
	return output[idx:]
}

// warnContextOverflow flags workloads whose prompt lengths cannot fit in
// the model's context window. The run proceeds; requests will be truncated
// or rejected by the engine.
func warnContextOverflow(ctx context.Context, rec *recipe.Recipe) {
	llm := rec.LLM()
	maxLen := llm.ContextLength
	if maxLen == 0 {
		maxLen = parseMaxModelLen(llm.ExtraArgs())
	}
	if maxLen == 0 {
		return
	}

	total := rec.Benchmark.RandomInputLen + rec.Benchmark.RandomOutputLen
	if total >= maxLen {
		logging.Warn(ctx, "benchmark prompt lengths exceed model context window",
			"random_input_len", rec.Benchmark.RandomInputLen,
			"random_output_len", rec.Benchmark.RandomOutputLen,
			"context_length", maxLen)
	}
}

// parseMaxModelLen extracts a --max-model-len value from an extra_args
// string, for recipes that set the window there instead of context_length.
func parseMaxModelLen(extraArgs string) int {
	fields := strings.Fields(extraArgs)
	for i, field := range fields {
		if field == "--max-model-len" && i+1 < len(fields) {
			if v, err := strconv.Atoi(fields[i+1]); err == nil {
				return v
			}
			return 0
		}
		if after, ok := strings.CutPrefix(field, "--max-model-len="); ok {
			if v, err := strconv.Atoi(after); err == nil {
				return v
			}
			return 0
		}
	}
	return 0
}

package recipe

import (
	"fmt"
	"sort"
	"strings"
)

// Engine identifies the inference engine a recipe deploys. The choice is
// resolved once at Recipe construction and every downstream flag mapping
// switches on it.
type Engine string

const (
	EngineVLLM   Engine = "vllm"
	EngineSGLang Engine = "sglang"
)

// Engine-specific CLI flag spelling per named recipe parameter.
var (
	vllmFlags = map[string]string{
		"tensor_parallel_size":    "--tensor-parallel-size",
		"pipeline_parallel_size":  "--pipeline-parallel-size",
		"gpu_memory_utilization":  "--gpu-memory-utilization",
		"context_length":          "--max-model-len",
		"max_concurrent_requests": "--max-num-seqs",
	}

	sglangFlags = map[string]string{
		"tensor_parallel_size":    "--tp",
		"pipeline_parallel_size":  "--dp",
		"gpu_memory_utilization":  "--mem-fraction-static",
		"context_length":          "--context-length",
		"max_concurrent_requests": "--max-running-requests",
	}
)

// hardcodedFlags are emitted by compose generation or by named recipe
// fields and therefore must never appear in extra_args.
var hardcodedFlags = []string{
	"--trust-remote-code",
	"--host",
	"--port",
	"--model",
	"--model-path",
	"--served-model-name",
}

func flagMap(engine Engine) map[string]string {
	if engine == EngineSGLang {
		return sglangFlags
	}
	return vllmFlags
}

// BannedFlags returns the set of CLI flags forbidden in extra_args for the
// given engine: the engine's named-parameter flags plus the hardcoded set.
func BannedFlags(engine Engine) map[string]struct{} {
	banned := make(map[string]struct{})
	for _, flag := range flagMap(engine) {
		banned[flag] = struct{}{}
	}
	for _, flag := range hardcodedFlags {
		banned[flag] = struct{}{}
	}
	return banned
}

// BannedFlagError reports extra_args tokens that collide with flags managed
// by named recipe fields.
type BannedFlagError struct {
	// Flags is the sorted list of offending flag spellings.
	Flags []string
}

func (e *BannedFlagError) Error() string {
	return fmt.Sprintf("extra_args contains flags managed by named recipe fields: %s (use the corresponding recipe keys instead)",
		strings.Join(e.Flags, ", "))
}

// ValidateExtraArgs checks that extraArgs contains no banned flags for the
// given engine. Tokens are split on whitespace and --flag=value spellings
// normalize to --flag. Every offending flag is reported.
func ValidateExtraArgs(extraArgs string, engine Engine) error {
	banned := BannedFlags(engine)
	seen := make(map[string]struct{})
	var found []string
	for _, token := range strings.Fields(extraArgs) {
		flag, _, _ := strings.Cut(token, "=")
		if _, ok := banned[flag]; !ok {
			continue
		}
		if _, dup := seen[flag]; dup {
			continue
		}
		seen[flag] = struct{}{}
		found = append(found, flag)
	}
	if len(found) > 0 {
		sort.Strings(found)
		return &BannedFlagError{Flags: found}
	}
	return nil
}

// BuildEngineArgs builds the full CLI argument list for the active engine.
// Each element is a complete flag or flag-value pair suitable for joining
// into a docker-compose command block. The verbatim extra_args string, if
// any, comes last.
func BuildEngineArgs(llm LLMConfig, modelName string) []string {
	flags := flagMap(llm.Engine)

	args := []string{"--trust-remote-code"}
	if llm.Engine == EngineSGLang {
		args = append(args, fmt.Sprintf("%s %v", flags["gpu_memory_utilization"], llm.GPUMemoryUtilization))
	} else {
		args = append(args, fmt.Sprintf("%s=%v", flags["gpu_memory_utilization"], llm.GPUMemoryUtilization))
	}
	args = append(args,
		"--host 0.0.0.0",
		fmt.Sprintf("--port %d", EnginePort),
		fmt.Sprintf("%s %d", flags["tensor_parallel_size"], llm.TensorParallelSize),
		fmt.Sprintf("%s %d", flags["pipeline_parallel_size"], llm.PipelineParallelSize),
	)

	// The model-reference flag differs per engine.
	if llm.Engine == EngineSGLang {
		args = append(args, fmt.Sprintf("--model-path %s", modelName))
	} else {
		args = append(args, fmt.Sprintf("--model %s", modelName))
	}
	args = append(args, fmt.Sprintf("--served-model-name %s", modelName))

	if llm.ContextLength > 0 {
		args = append(args, fmt.Sprintf("%s %d", flags["context_length"], llm.ContextLength))
	}
	if llm.MaxConcurrentRequests > 0 {
		args = append(args, fmt.Sprintf("%s %d", flags["max_concurrent_requests"], llm.MaxConcurrentRequests))
	}

	if extra := strings.TrimSpace(llm.ExtraArgs()); extra != "" {
		args = append(args, extra)
	}

	return args
}

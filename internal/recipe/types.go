package recipe

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	// EnginePort is the port every engine container listens on.
	EnginePort = 8000

	// DefaultVLLMImage is the image used when a vllm block omits one.
	DefaultVLLMImage = "vllm/vllm-openai:latest"

	// DefaultSGLangImage is the image used when an sglang block omits one.
	DefaultSGLangImage = "lmsysorg/sglang:latest"
)

// ModelConfig identifies the model to serve.
type ModelConfig struct {
	HuggingFace string `yaml:"huggingface" validate:"required"`
}

// VLLMConfig holds vLLM-specific settings.
type VLLMConfig struct {
	Image     string `yaml:"image"`
	ExtraArgs string `yaml:"extra_args"`
}

// SGLangConfig holds SGLang-specific settings.
type SGLangConfig struct {
	Image     string `yaml:"image"`
	ExtraArgs string `yaml:"extra_args"`
}

// LLMConfig is the engine-agnostic serving configuration. Exactly one of
// VLLM or SGLang selects the engine; Engine carries the resolved choice.
type LLMConfig struct {
	ContextLength         int     `yaml:"context_length" validate:"min=0"`
	MaxConcurrentRequests int     `yaml:"max_concurrent_requests" validate:"min=0"`
	TensorParallelSize    int     `yaml:"tensor_parallel_size" validate:"min=1"`
	PipelineParallelSize  int     `yaml:"pipeline_parallel_size" validate:"min=1"`
	GPUMemoryUtilization  float64 `yaml:"gpu_memory_utilization" validate:"gt=0,lte=1"`

	VLLM   *VLLMConfig   `yaml:"vllm"`
	SGLang *SGLangConfig `yaml:"sglang"`

	// Engine is the resolved engine choice, set at construction.
	Engine Engine `yaml:"-"`
}

// GPUsPerInstance is the number of GPUs one model instance consumes.
func (l LLMConfig) GPUsPerInstance() int {
	return l.TensorParallelSize * l.PipelineParallelSize
}

// Image returns the container image for the active engine.
func (l LLMConfig) Image() string {
	if l.Engine == EngineSGLang && l.SGLang != nil {
		return l.SGLang.Image
	}
	if l.VLLM != nil {
		return l.VLLM.Image
	}
	return DefaultVLLMImage
}

// Entrypoint returns the container entrypoint override for the active
// engine. vLLM images ship a built-in entrypoint; SGLang images do not.
func (l LLMConfig) Entrypoint() string {
	if l.Engine == EngineSGLang {
		return "python3 -m sglang.launch_server"
	}
	return ""
}

// ExtraArgs returns the free-form CLI flags for the active engine.
func (l LLMConfig) ExtraArgs() string {
	if l.Engine == EngineSGLang && l.SGLang != nil {
		return l.SGLang.ExtraArgs
	}
	if l.VLLM != nil {
		return l.VLLM.ExtraArgs
	}
	return ""
}

// EngineConfig is the top-level engine section.
type EngineConfig struct {
	LLM LLMConfig `yaml:"llm"`
}

// BenchmarkConfig holds the benchmark workload parameters.
type BenchmarkConfig struct {
	MaxConcurrency  int `yaml:"max_concurrency" validate:"min=1"`
	NumPrompts      int `yaml:"num_prompts" validate:"min=1"`
	RandomInputLen  int `yaml:"random_input_len" validate:"min=1"`
	RandomOutputLen int `yaml:"random_output_len" validate:"min=1"`
}

// DeployConfig selects the target GPU type and count.
type DeployConfig struct {
	GPU      string `yaml:"gpu"`
	GPUCount int    `yaml:"gpu_count" validate:"min=1"`
}

// Recipe is the fully resolved, immutable configuration for one benchmark
// run.
type Recipe struct {
	Model     ModelConfig     `yaml:"model"`
	Engine    EngineConfig    `yaml:"engine"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Deploy    DeployConfig    `yaml:"deploy"`
}

// ModelName is a shortcut for the HuggingFace model identifier.
func (r *Recipe) ModelName() string {
	return r.Model.HuggingFace
}

// LLM is a shortcut for the engine serving configuration.
func (r *Recipe) LLM() LLMConfig {
	return r.Engine.LLM
}

func defaultRecipe() Recipe {
	return Recipe{
		Engine: EngineConfig{
			LLM: LLMConfig{
				TensorParallelSize:   1,
				PipelineParallelSize: 1,
				GPUMemoryUtilization: 0.9,
			},
		},
		Benchmark: BenchmarkConfig{
			MaxConcurrency:  128,
			NumPrompts:      256,
			RandomInputLen:  8000,
			RandomOutputLen: 8000,
		},
		Deploy: DeployConfig{
			GPUCount: 1,
		},
	}
}

// FromTree builds a typed Recipe from a merged configuration tree, filling
// defaults for absent keys and resolving the engine choice: an sglang block
// selects SGLang, anything else selects vLLM. Declaring both engine blocks
// is an error.
func FromTree(tree Tree) (*Recipe, error) {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize merged config: %w", err)
	}

	rec := defaultRecipe()
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("malformed recipe config: %w", err)
	}

	llm := &rec.Engine.LLM
	if llm.VLLM != nil && llm.SGLang != nil {
		return nil, fmt.Errorf("recipe declares both vllm and sglang blocks; configure exactly one engine")
	}
	if llm.SGLang != nil {
		llm.Engine = EngineSGLang
		if llm.SGLang.Image == "" {
			llm.SGLang.Image = DefaultSGLangImage
		}
	} else {
		llm.Engine = EngineVLLM
		if llm.VLLM != nil && llm.VLLM.Image == "" {
			llm.VLLM.Image = DefaultVLLMImage
		}
	}

	return &rec, nil
}

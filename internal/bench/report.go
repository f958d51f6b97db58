package bench

import (
	"fmt"
	"strings"

	"github.com/gpubench/gpubench/internal/hardware"
	"github.com/gpubench/gpubench/internal/recipe"
	"github.com/gpubench/gpubench/internal/redact"
)

// ReportInput is everything that goes into a persisted benchmark result.
type ReportInput struct {
	RecipeDir string
	Variant   string
	GPUName   string
	GPUCount  int
	Recipe    *recipe.Recipe

	BenchmarkOutput string // extracted results table
	BenchCommand    string
	Compose         string
	SystemInfoRaw   string
}

// ComposeReport assembles the result file content for one completed task.
// Secrets are redacted from every embedded artifact.
func ComposeReport(in ReportInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "========== Benchmark Task ==========\n")
	fmt.Fprintf(&b, "recipe_dir: %s\n", in.RecipeDir)
	fmt.Fprintf(&b, "variant: %s\n", in.Variant)
	fmt.Fprintf(&b, "model: %s\n", in.Recipe.ModelName())
	fmt.Fprintf(&b, "engine: %s\n", in.Recipe.LLM().Engine)
	fmt.Fprintf(&b, "gpu: %s (%s) x%d\n", in.GPUName, hardware.ShortName(in.GPUName), in.GPUCount)
	if in.SystemInfoRaw != "" {
		if line := hostSummary(ParseSystemInfo(in.SystemInfoRaw)); line != "" {
			fmt.Fprintf(&b, "host: %s\n", line)
		}
	}
	fmt.Fprintf(&b, "benchmark: max_concurrency=%d num_prompts=%d random_input_len=%d random_output_len=%d\n",
		in.Recipe.Benchmark.MaxConcurrency,
		in.Recipe.Benchmark.NumPrompts,
		in.Recipe.Benchmark.RandomInputLen,
		in.Recipe.Benchmark.RandomOutputLen)

	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(in.BenchmarkOutput))
	b.WriteString("\n")

	if in.BenchCommand != "" {
		b.WriteString("\n========== Bench Command ==========\n")
		b.WriteString(redact.Secrets(in.BenchCommand))
		b.WriteString("\n")
	}
	if in.Compose != "" {
		b.WriteString("\n========== Docker Compose ==========\n")
		b.WriteString(redact.Secrets(in.Compose))
		b.WriteString("\n")
	}
	if in.SystemInfoRaw != "" {
		b.WriteString("\n========== System Info ==========\n")
		b.WriteString(strings.TrimSpace(in.SystemInfoRaw))
		b.WriteString("\n")
	}

	return b.String()
}

// hostSummary condenses parsed system info into one header line. Fields the
// collection script could not capture are left out.
func hostSummary(info *SystemInfo) string {
	var parts []string
	if info.Hostname != "" {
		parts = append(parts, info.Hostname)
	}
	if info.OS != "" {
		parts = append(parts, info.OS)
	}
	if info.CPUCount > 0 {
		parts = append(parts, fmt.Sprintf("%d CPUs", info.CPUCount))
	}
	if info.MemoryTotalGiB > 0 {
		parts = append(parts, fmt.Sprintf("%.0f GiB RAM", info.MemoryTotalGiB))
	}
	if info.GPUCount > 0 {
		parts = append(parts, fmt.Sprintf("%dx %s (%d MiB)", info.GPUCount, info.GPUName, info.GPUMemoryMiB))
	}
	if info.GPUDriver != "" {
		parts = append(parts, "driver "+info.GPUDriver)
	}
	if info.CUDAVersion != "" {
		parts = append(parts, "CUDA "+info.CUDAVersion)
	}
	if info.DockerVersion != "" {
		parts = append(parts, "Docker "+info.DockerVersion)
	}
	return strings.Join(parts, ", ")
}

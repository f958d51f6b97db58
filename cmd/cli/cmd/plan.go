package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gpubench/gpubench/internal/planner"
	"github.com/gpubench/gpubench/internal/recipe"
)

var planGPUConcurrency int

var planCmd = &cobra.Command{
	Use:   "plan <recipe-dir>...",
	Short: "Show the execution plan without provisioning anything",
	Long: `Resolve the given recipe directories, expand their matrices, and
print the execution groups and tasks that 'gpubench bench' would run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().IntVar(&planGPUConcurrency, "gpu-concurrency", 0, "Split each (model, GPU) group across up to N VMs (default from config)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	gpuConcurrency := cfg.Benchmark.GPUConcurrency
	if planGPUConcurrency > 0 {
		gpuConcurrency = planGPUConcurrency
	}

	resolved, failures := recipe.NewResolver().ResolveAll(args)
	for dir, err := range failures {
		fmt.Fprintf(os.Stderr, "skipping %s: %v\n", dir, err)
	}
	if len(resolved) == 0 {
		return fmt.Errorf("no tasks resolved from %d recipe directories", len(args))
	}

	tasks := planner.FromResolved(resolved)
	groups := planner.GroupByModelAndGPU{GPUConcurrency: gpuConcurrency}.Plan(tasks)

	if outputFormat == "json" {
		return printPlanJSON(groups)
	}

	fmt.Printf("%d tasks in %d groups\n", len(tasks), len(groups))
	for _, group := range groups {
		fmt.Printf("\n%s  (%s x%d, %d tasks)\n", group.Label(), group.GPUName, group.GPUCount, len(group.Tasks))
		for _, task := range group.Tasks {
			b := task.Recipe.Benchmark
			fmt.Printf("  %-24s %s  gpus=%d  concurrency=%d  prompts=%d\n",
				task.Variant, task.ModelName(), task.GPUCount, b.MaxConcurrency, b.NumPrompts)
		}
	}
	return nil
}

func printPlanJSON(groups []planner.ExecutionGroup) error {
	type taskOut struct {
		Variant   string `json:"variant"`
		RecipeDir string `json:"recipe_dir"`
		Model     string `json:"model"`
		GPUCount  int    `json:"gpu_count"`
	}
	type groupOut struct {
		Label    string    `json:"label"`
		GPUName  string    `json:"gpu_name"`
		GPUCount int       `json:"gpu_count"`
		Tasks    []taskOut `json:"tasks"`
	}

	out := make([]groupOut, 0, len(groups))
	for _, group := range groups {
		g := groupOut{
			Label:    group.Label(),
			GPUName:  group.GPUName,
			GPUCount: group.GPUCount,
		}
		for _, task := range group.Tasks {
			g.Tasks = append(g.Tasks, taskOut{
				Variant:   task.Variant,
				RecipeDir: task.RecipeDir,
				Model:     task.ModelName(),
				GPUCount:  task.GPUCount,
			})
		}
		out = append(out, g)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

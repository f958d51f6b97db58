// Package planner groups resolved benchmark tasks into execution groups,
// each sized for one VM. Tasks sharing a model and GPU type land on the
// same VM so the downloaded model weights are reused from local disk.
package planner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gpubench/gpubench/internal/hardware"
	"github.com/gpubench/gpubench/internal/recipe"
)

// Task is one fully resolved recipe combination to benchmark.
type Task struct {
	Recipe    *recipe.Recipe
	Variant   string // auto-generated identifier, e.g. "h100_c4"
	RecipeDir string
	GPUName   string
	GPUCount  int
}

// ModelName returns the task's model identifier.
func (t Task) ModelName() string {
	return t.Recipe.ModelName()
}

// ResultFilename is the file the raw benchmark output is written to.
func (t Task) ResultFilename() string {
	modelSafe := strings.ReplaceAll(t.ModelName(), "/", "_")
	return fmt.Sprintf("%s_%s_benchmark.txt", t.Variant, modelSafe)
}

// ResultPath joins the run directory with the task's result filename.
func (t Task) ResultPath(runDir string) string {
	return filepath.Join(runDir, t.ResultFilename())
}

// FromResolved converts resolver output into planner tasks.
func FromResolved(resolved []recipe.Resolved) []Task {
	tasks := make([]Task, 0, len(resolved))
	for _, r := range resolved {
		tasks = append(tasks, Task{
			Recipe:    r.Recipe,
			Variant:   r.Variant,
			RecipeDir: r.Dir,
			GPUName:   r.Recipe.Deploy.GPU,
			GPUCount:  r.Recipe.Deploy.GPUCount,
		})
	}
	return tasks
}

// ExecutionGroup is a set of tasks destined for one VM.
type ExecutionGroup struct {
	GPUName  string
	GPUCount int // VM size: max gpu_count over member tasks
	Tasks    []Task
	Index    int // 1-based sub-group index when a group was split, else 0
}

// Label is the group's human identifier, e.g. "h100_x_8" or "h100_x_8_2"
// for the second sub-group of a split.
func (g ExecutionGroup) Label() string {
	label := fmt.Sprintf("%s_x_%d", hardware.ShortName(g.GPUName), g.GPUCount)
	if g.Index > 0 {
		label = fmt.Sprintf("%s_%d", label, g.Index)
	}
	return label
}

// Planner groups benchmark tasks into execution groups.
type Planner interface {
	Plan(tasks []Task) []ExecutionGroup
}

// GroupByModelAndGPU groups tasks by (model name, GPU type). Same model on
// the same GPU type shares a VM so model weights are downloaded once.
//
// With GPUConcurrency > 1 each (model, gpu) group is split round-robin into
// up to N sub-groups, each provisioning its own VM. This trades weight-cache
// reuse for wall-clock time.
type GroupByModelAndGPU struct {
	GPUConcurrency int
}

// Plan groups the tasks. Group order follows first appearance of each
// (model, gpu) key in the input; within a group tasks are ordered by
// descending gpu_count so device-id assignment is deterministic, largest
// footprint first.
func (p GroupByModelAndGPU) Plan(tasks []Task) []ExecutionGroup {
	type key struct {
		model string
		gpu   string
	}

	grouped := make(map[key][]Task)
	var order []key
	for _, task := range tasks {
		k := key{model: task.ModelName(), gpu: task.GPUName}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], task)
	}

	concurrency := p.GPUConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var groups []ExecutionGroup
	for _, k := range order {
		members := grouped[k]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].GPUCount > members[j].GPUCount
		})

		splits := concurrency
		if splits > len(members) {
			splits = len(members)
		}
		if splits <= 1 {
			groups = append(groups, newGroup(k.gpu, members, 0))
			continue
		}

		subGroups := make([][]Task, splits)
		for i, task := range members {
			subGroups[i%splits] = append(subGroups[i%splits], task)
		}
		for i, sub := range subGroups {
			if len(sub) > 0 {
				groups = append(groups, newGroup(k.gpu, sub, i+1))
			}
		}
	}
	return groups
}

func newGroup(gpuName string, tasks []Task, index int) ExecutionGroup {
	maxCount := 0
	for _, t := range tasks {
		if t.GPUCount > maxCount {
			maxCount = t.GPUCount
		}
	}
	return ExecutionGroup{
		GPUName:  gpuName,
		GPUCount: maxCount,
		Tasks:    tasks,
		Index:    index,
	}
}

// Package executor runs benchmark execution groups: it provisions a VM per
// group, deploys each task's engine, runs the workload, persists results,
// and tears the VM down.
package executor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gpubench/gpubench/internal/bench"
	"github.com/gpubench/gpubench/internal/deploy"
	"github.com/gpubench/gpubench/internal/logging"
	"github.com/gpubench/gpubench/internal/metrics"
	"github.com/gpubench/gpubench/internal/planner"
	"github.com/gpubench/gpubench/internal/recipe"
	"github.com/gpubench/gpubench/internal/runrecord"
	"github.com/gpubench/gpubench/internal/storage"
	"github.com/gpubench/gpubench/internal/tracking"
)

const (
	defaultDeployTimeout   = 60 * time.Minute
	defaultWorkloadTimeout = 2 * time.Hour
)

// Deployer drives one engine deployment on a connected VM.
type Deployer interface {
	Deploy(ctx context.Context, rec *recipe.Recipe, gpuCount int, deviceIDs []int) (*deploy.Deployment, error)
	Teardown(ctx context.Context) error
}

// DeployerFactory builds a deployer bound to a VM session.
type DeployerFactory func(session Session) Deployer

// BenchFunc runs the benchmark workload and returns its raw output.
type BenchFunc func(ctx context.Context, runner bench.Runner, rec *recipe.Recipe, port int) (string, error)

// ResultSink records task results for later querying. Implemented by
// storage.ResultStore; nil disables history recording.
type ResultSink interface {
	RecordResult(ctx context.Context, r *storage.Result) error
}

// Config wires an Engine's collaborators and run parameters.
type Config struct {
	Provisioner Provisioner
	Connector   Connector
	NewDeployer DeployerFactory
	RunBench    BenchFunc // defaults to bench.Run

	Record  *runrecord.Store // live-instance record for crash cleanup
	Results ResultSink       // optional results history

	RunID  string // storage run ID, empty when Results is nil
	RunDir string // directory result files are written into

	MaxConcurrentGroups int
	NoTeardown          bool // leave VMs running after the run
	DeployTimeout       time.Duration
	WorkloadTimeout     time.Duration
}

// Engine executes groups of benchmark tasks, each group on its own VM.
// Groups run concurrently up to MaxConcurrentGroups; tasks within a group
// run sequentially so they can reuse the VM's model cache.
type Engine struct {
	cfg Config

	mu    sync.Mutex
	tasks []tracking.TaskMeta
}

// NewEngine creates an engine. Missing optional config fields get defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.RunBench == nil {
		cfg.RunBench = bench.Run
	}
	if cfg.MaxConcurrentGroups < 1 {
		cfg.MaxConcurrentGroups = 1
	}
	if cfg.DeployTimeout <= 0 {
		cfg.DeployTimeout = defaultDeployTimeout
	}
	if cfg.WorkloadTimeout <= 0 {
		cfg.WorkloadTimeout = defaultWorkloadTimeout
	}
	return &Engine{cfg: cfg}
}

// Summary is the outcome of a full run.
type Summary struct {
	Tasks     []tracking.TaskMeta
	Completed int
	Failed    int
}

// Run executes all groups and returns per-task outcomes. A group failure
// marks its tasks failed but never aborts other groups.
func (e *Engine) Run(ctx context.Context, groups []planner.ExecutionGroup) *Summary {
	sem := make(chan struct{}, e.cfg.MaxConcurrentGroups)
	var wg sync.WaitGroup

	for _, group := range groups {
		wg.Add(1)
		go func(group planner.ExecutionGroup) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				e.failGroup(ctx, group, ctx.Err())
				return
			}
			defer func() { <-sem }()

			e.runGroup(logging.WithGroup(ctx, group.Label()), group)
		}(group)
	}
	wg.Wait()

	summary := &Summary{Tasks: e.taskMetas()}
	for _, t := range summary.Tasks {
		if t.Status == tracking.StatusCompleted {
			summary.Completed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// TaskMetas returns the recorded outcomes, for the run manifest.
func (e *Engine) taskMetas() []tracking.TaskMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]tracking.TaskMeta(nil), e.tasks...)
}

func (e *Engine) runGroup(ctx context.Context, group planner.ExecutionGroup) {
	info, providerName, err := e.cfg.Provisioner.Provision(ctx, group)
	if err != nil {
		logging.Error(ctx, "group provisioning failed", "error", err)
		e.failGroup(ctx, group, err)
		return
	}

	metrics.GroupsActive.Inc()
	defer metrics.GroupsActive.Dec()

	// Record the instance before anything else can fail. Without this a
	// crash would leave an untracked VM running and billing.
	inst := runrecord.Instance{
		GroupLabel: group.Label(),
		GPUName:    group.GPUName,
		GPUCount:   group.GPUCount,
		Address:    info.Address(),
		SSHPort:    info.SSHPort,
		Provider:   providerName,
		InstanceID: info.DeleteHandle.InstanceID,
		Zone:       info.DeleteHandle.Zone,
	}
	if err := e.cfg.Record.Add(inst); err != nil {
		logging.Error(ctx, "failed to record instance, tearing down", "error", err)
		e.releaseVM(ctx, inst)
		e.failGroup(ctx, group, err)
		return
	}

	session, err := e.cfg.Connector.Connect(ctx, info)
	if err != nil {
		logging.Error(ctx, "failed to establish VM session", "error", err)
		e.releaseVM(ctx, inst)
		e.failGroup(ctx, group, err)
		return
	}
	defer session.Close()

	// Providers occasionally hand out a machine that doesn't match the
	// requested instance type. Catch it before spending an hour deploying.
	// Hosts without nvidia-smi (non-NVIDIA GPUs) skip the check.
	if statuses, gpuErr := session.GPUStatuses(ctx); gpuErr != nil {
		logging.Debug(ctx, "GPU inventory unavailable", "error", gpuErr)
	} else if len(statuses) < group.GPUCount {
		err := fmt.Errorf("VM exposes %d GPUs, group needs %d", len(statuses), group.GPUCount)
		logging.Error(ctx, "provisioned VM has too few GPUs", "error", err)
		e.releaseVM(ctx, inst)
		e.failGroup(ctx, group, err)
		return
	} else {
		for _, status := range statuses {
			logging.Debug(ctx, "GPU visible", "gpu", status.String())
		}
	}

	systemInfo := session.SystemInfo(ctx)
	deployer := e.cfg.NewDeployer(session)

	groupFailed := false
	for _, task := range group.Tasks {
		taskCtx := logging.WithTask(ctx, task.Variant)
		if err := e.runTask(taskCtx, session, deployer, group, task, systemInfo); err != nil {
			logging.Error(taskCtx, "task failed", "error", err)
			groupFailed = true
		}
	}

	if e.cfg.NoTeardown {
		logging.Info(ctx, "teardown skipped, VM left running",
			"address", inst.Address,
			"record", e.cfg.Record.Path())
	} else {
		e.releaseVM(ctx, inst)
	}

	status := tracking.StatusCompleted
	if groupFailed {
		status = tracking.StatusFailed
	}
	metrics.RecordGroupFinished(status)
}

// runTask deploys one task's engine, runs its workload, and persists the
// result. Tasks smaller than the VM are pinned to a GPU subset.
func (e *Engine) runTask(ctx context.Context, session Session, deployer Deployer, group planner.ExecutionGroup, task planner.Task, systemInfo string) error {
	var deviceIDs []int
	if task.GPUCount < group.GPUCount {
		deviceIDs = make([]int, task.GPUCount)
		for i := range deviceIDs {
			deviceIDs[i] = i
		}
	}

	engine := string(task.Recipe.LLM().Engine)

	deployStart := time.Now()
	dep, err := func() (*deploy.Deployment, error) {
		deployCtx, cancel := context.WithTimeout(ctx, e.cfg.DeployTimeout)
		defer cancel()
		return deployer.Deploy(deployCtx, task.Recipe, task.GPUCount, deviceIDs)
	}()
	if err != nil {
		e.recordTask(ctx, task, tracking.StatusFailed, "", nil)
		metrics.RecordTaskFinished(engine, tracking.StatusFailed)
		return fmt.Errorf("deploy failed: %w", err)
	}
	metrics.RecordDeployDuration(engine, time.Since(deployStart))

	benchStart := time.Now()
	output, benchErr := func() (string, error) {
		workloadCtx, cancel := context.WithTimeout(ctx, e.cfg.WorkloadTimeout)
		defer cancel()
		return e.cfg.RunBench(workloadCtx, session, task.Recipe, dep.Port)
	}()
	metrics.RecordBenchmarkDuration(engine, time.Since(benchStart))

	if err := deployer.Teardown(ctx); err != nil {
		logging.Warn(ctx, "engine teardown failed", "error", err)
	}

	if benchErr != nil {
		e.recordTask(ctx, task, tracking.StatusFailed, "", nil)
		metrics.RecordTaskFinished(engine, tracking.StatusFailed)
		return fmt.Errorf("benchmark failed: %w", benchErr)
	}

	results := bench.ExtractResults(output)
	report := bench.ComposeReport(bench.ReportInput{
		RecipeDir:       task.RecipeDir,
		Variant:         task.Variant,
		GPUName:         task.GPUName,
		GPUCount:        task.GPUCount,
		Recipe:          task.Recipe,
		BenchmarkOutput: results,
		BenchCommand:    bench.Command(task.Recipe, dep.Port),
		Compose:         dep.Compose,
		SystemInfoRaw:   systemInfo,
	})

	resultPath := task.ResultPath(e.cfg.RunDir)
	if err := os.WriteFile(resultPath, []byte(report), 0644); err != nil {
		e.recordTask(ctx, task, tracking.StatusFailed, "", nil)
		metrics.RecordTaskFinished(engine, tracking.StatusFailed)
		return fmt.Errorf("failed to write result file: %w", err)
	}

	e.recordTask(ctx, task, tracking.StatusCompleted, resultPath, bench.ParseMetrics(results))
	metrics.RecordTaskFinished(engine, tracking.StatusCompleted)
	logging.Info(ctx, "task completed", "result", resultPath)
	return nil
}

// failGroup marks every task in the group failed without running any.
func (e *Engine) failGroup(ctx context.Context, group planner.ExecutionGroup, cause error) {
	logging.Warn(ctx, "failing all group tasks", "group", group.Label(), "cause", cause)
	for _, task := range group.Tasks {
		e.recordTask(logging.WithTask(ctx, task.Variant), task, tracking.StatusFailed, "", nil)
		metrics.RecordTaskFinished(string(task.Recipe.LLM().Engine), tracking.StatusFailed)
	}
	metrics.RecordGroupFinished(tracking.StatusFailed)
}

// releaseVM deletes the VM and drops it from the instance record. A failed
// delete keeps the record entry so a later teardown can retry. Deletion
// proceeds even when the run context is cancelled; an interrupted run must
// not leave VMs billing.
func (e *Engine) releaseVM(ctx context.Context, inst runrecord.Instance) {
	ctx = context.WithoutCancel(ctx)
	handle := inst.DeleteHandle()
	logging.Info(ctx, "deleting VM", "handle", handle.String())

	if err := e.cfg.Provisioner.Release(ctx, handle); err != nil {
		metrics.RecordVMDeleteFailure()
		logging.Error(ctx, "VM delete failed, instance may still be billing",
			"handle", handle.String(),
			"record", e.cfg.Record.Path(),
			"error", err)
		return
	}

	metrics.RecordVMDeleted(handle.Provider)
	if err := e.cfg.Record.Remove(inst.InstanceID); err != nil {
		logging.Warn(ctx, "failed to update instance record", "error", err)
	}
}

// recordTask appends a task outcome and, when a result sink is configured,
// persists it to the history database.
func (e *Engine) recordTask(ctx context.Context, task planner.Task, status, resultPath string, m *bench.BenchmarkMetrics) {
	meta := tracking.TaskMeta{
		RecipeDir: task.RecipeDir,
		Variant:   task.Variant,
		Model:     task.ModelName(),
		GPUName:   task.GPUName,
		GPUCount:  task.GPUCount,
		Status:    status,
	}
	if resultPath != "" {
		meta.ResultFile = task.ResultFilename()
	}

	e.mu.Lock()
	e.tasks = append(e.tasks, meta)
	e.mu.Unlock()

	if e.cfg.Results == nil {
		return
	}
	result := &storage.Result{
		RunID:      e.cfg.RunID,
		RecipeDir:  task.RecipeDir,
		Variant:    task.Variant,
		Model:      task.ModelName(),
		Engine:     string(task.Recipe.LLM().Engine),
		GPUName:    task.GPUName,
		GPUCount:   task.GPUCount,
		Status:     status,
		ResultPath: resultPath,
	}
	result.SetMetrics(m)
	if err := e.cfg.Results.RecordResult(ctx, result); err != nil {
		logging.Warn(ctx, "failed to record result history", "error", err)
	}
}

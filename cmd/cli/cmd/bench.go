package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpubench/gpubench/internal/bench"
	"github.com/gpubench/gpubench/internal/deploy"
	"github.com/gpubench/gpubench/internal/executor"
	"github.com/gpubench/gpubench/internal/logging"
	"github.com/gpubench/gpubench/internal/metrics"
	"github.com/gpubench/gpubench/internal/planner"
	"github.com/gpubench/gpubench/internal/recipe"
	"github.com/gpubench/gpubench/internal/runrecord"
	"github.com/gpubench/gpubench/internal/ssh"
	"github.com/gpubench/gpubench/internal/storage"
	"github.com/gpubench/gpubench/internal/tracking"
)

var (
	benchNoTeardown     bool
	benchGPUConcurrency int
	benchMaxGroups      int
)

var benchCmd = &cobra.Command{
	Use:   "bench <recipe-dir>...",
	Short: "Run benchmark recipes on ephemeral GPU VMs",
	Long: `Resolve the given recipe directories, provision a VM per execution
group, deploy each task's engine, run its benchmark, and collect results
into a timestamped run directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().BoolVar(&benchNoTeardown, "no-teardown", false, "Leave VMs running after the run (clean up later with 'gpubench teardown')")
	benchCmd.Flags().IntVar(&benchGPUConcurrency, "gpu-concurrency", 0, "Split each (model, GPU) group across up to N VMs (default from config)")
	benchCmd.Flags().IntVar(&benchMaxGroups, "max-concurrent-groups", 0, "Maximum groups holding VMs at once (default from config)")
}

func runBench(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gpuConcurrency := cfg.Benchmark.GPUConcurrency
	if benchGPUConcurrency > 0 {
		gpuConcurrency = benchGPUConcurrency
	}
	maxGroups := cfg.Benchmark.MaxConcurrentGroups
	if benchMaxGroups > 0 {
		maxGroups = benchMaxGroups
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

	codeHash := tracking.CodeHash()
	runDir, err := tracking.CreateRunDir(cfg.Benchmark.ResultsDir, time.Now(), codeHash)
	if err != nil {
		return err
	}
	ctx = logging.WithRunID(ctx, runDir)
	logging.Info(ctx, "starting benchmark run",
		"tasks", len(tasks),
		"groups", len(groups),
		"run_dir", runDir)

	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open results database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	store := storage.NewResultStore(db)
	run, err := store.CreateRun(ctx, runDir, codeHash)
	if err != nil {
		return err
	}

	if cfg.Benchmark.MetricsAddr != "" {
		errCh := metrics.Serve(cfg.Benchmark.MetricsAddr)
		go func() {
			if err := <-errCh; err != nil {
				logging.Warn(ctx, "metrics server stopped", "error", err)
			}
		}()
	}

	keyPath := expandPath(cfg.SSH.KeyPath)
	verifier := ssh.NewVerifier(
		ssh.WithVerifyTimeout(cfg.SSH.VerifyTimeout),
		ssh.WithCheckInterval(cfg.SSH.CheckInterval),
		ssh.WithConnectTimeout(cfg.SSH.ConnectTimeout),
	)
	sshExec := ssh.NewExecutor(
		ssh.WithExecutorConnectTimeout(cfg.SSH.ConnectTimeout),
		ssh.WithExecutorCommandTimeout(cfg.SSH.CommandTimeout),
	)

	engine := executor.NewEngine(executor.Config{
		Provisioner: executor.NewRegistryProvisioner(buildRegistry(cfg), keyPath),
		Connector:   executor.NewSSHConnector(verifier, sshExec, keyPath),
		NewDeployer: func(session executor.Session) executor.Deployer {
			return deploy.NewDeployer(session, cfg.Benchmark.ModelDir, cfg.Benchmark.HFToken)
		},
		RunBench:            bench.Run,
		Record:              runrecord.NewStore(runDir),
		Results:             store,
		RunID:               run.ID,
		RunDir:              runDir,
		MaxConcurrentGroups: maxGroups,
		NoTeardown:          benchNoTeardown,
		DeployTimeout:       cfg.Benchmark.DeployTimeout,
		WorkloadTimeout:     cfg.Benchmark.WorkloadTimeout,
	})

	summary := engine.Run(ctx, groups)

	if err := tracking.WriteManifest(runDir, tracking.Manifest{
		Timestamp: time.Now().Format("2006-01-02T15:04:05"),
		CodeHash:  codeHash,
		Recipes:   args,
		Tasks:     summary.Tasks,
	}); err != nil {
		logging.Warn(ctx, "failed to write run manifest", "error", err)
	}

	fmt.Printf("\nRun complete: %d completed, %d failed\n", summary.Completed, summary.Failed)
	fmt.Printf("Results: %s\n", runDir)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", summary.Failed, len(summary.Tasks))
	}
	return nil
}

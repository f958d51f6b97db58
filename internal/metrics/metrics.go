// Package metrics exposes Prometheus instrumentation for the benchmark
// orchestrator. All metrics are registered on the default registry and
// served via promhttp when a metrics address is configured.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// VM lifecycle metrics
var (
	// VMsProvisioned counts VMs successfully provisioned by provider and GPU type
	VMsProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpubench_vms_provisioned_total",
			Help: "Total number of VMs successfully provisioned by provider and GPU type",
		},
		[]string{"provider", "gpu_type"},
	)

	// VMsDeleted counts VMs deleted by provider
	VMsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpubench_vms_deleted_total",
			Help: "Total number of VMs deleted by provider",
		},
		[]string{"provider"},
	)

	// VMDeleteFailures counts failed VM delete attempts
	VMDeleteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gpubench_vm_delete_failures_total",
			Help: "Total number of failed VM delete attempts (VM may still be running and billing)",
		},
	)

	// CapacityExhausted counts provision attempts rejected for lack of capacity
	CapacityExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpubench_capacity_exhausted_total",
			Help: "Total number of provision attempts that failed due to provider capacity by provider and GPU type",
		},
		[]string{"provider", "gpu_type"},
	)

	// ProvisioningDuration tracks how long VM provisioning takes
	ProvisioningDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpubench_provisioning_duration_seconds",
			Help:    "Duration of VM provisioning by provider",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
		[]string{"provider"},
	)

	// SSHVerifyDuration tracks how long SSH readiness verification takes
	SSHVerifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gpubench_ssh_verify_duration_seconds",
			Help:    "Duration of SSH readiness verification",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// SSHVerifyFailures counts SSH verification failures
	SSHVerifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gpubench_ssh_verify_failures_total",
			Help: "Total number of SSH verification failures",
		},
	)
)

// Execution metrics
var (
	// GroupsActive tracks groups currently holding a VM
	GroupsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpubench_groups_active",
			Help: "Number of benchmark groups currently holding a provisioned VM",
		},
	)

	// GroupsTotal counts finished groups by outcome
	GroupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpubench_groups_total",
			Help: "Total number of finished benchmark groups by status",
		},
		[]string{"status"},
	)

	// TasksTotal counts finished tasks by engine and outcome
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpubench_tasks_total",
			Help: "Total number of finished benchmark tasks by engine and status",
		},
		[]string{"engine", "status"},
	)

	// DeployDuration tracks how long engine deployment takes, including
	// image pull, model download, and health wait
	DeployDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpubench_deploy_duration_seconds",
			Help:    "Duration of inference engine deployment by engine",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~85min
		},
		[]string{"engine"},
	)

	// BenchmarkDuration tracks how long the load benchmark itself takes
	BenchmarkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpubench_benchmark_duration_seconds",
			Help:    "Duration of benchmark workload execution by engine",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"engine"},
	)

	// SmokeTestFailures counts inference smoke test failures
	SmokeTestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpubench_smoke_test_failures_total",
			Help: "Total number of inference smoke test failures by engine",
		},
		[]string{"engine"},
	)
)

// Helper functions for common metric operations

// RecordVMProvisioned increments the provisioned counter
func RecordVMProvisioned(provider, gpuType string) {
	VMsProvisioned.WithLabelValues(provider, gpuType).Inc()
}

// RecordVMDeleted increments the deleted counter
func RecordVMDeleted(provider string) {
	VMsDeleted.WithLabelValues(provider).Inc()
}

// RecordVMDeleteFailure increments the delete failure counter
func RecordVMDeleteFailure() {
	VMDeleteFailures.Inc()
}

// RecordCapacityExhausted increments the capacity exhausted counter
func RecordCapacityExhausted(provider, gpuType string) {
	CapacityExhausted.WithLabelValues(provider, gpuType).Inc()
}

// RecordProvisioningDuration records how long VM provisioning took
func RecordProvisioningDuration(provider string, duration time.Duration) {
	ProvisioningDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSSHVerifyDuration records how long SSH verification took
func RecordSSHVerifyDuration(duration time.Duration) {
	SSHVerifyDuration.Observe(duration.Seconds())
}

// RecordSSHVerifyFailure increments the SSH verify failure counter
func RecordSSHVerifyFailure() {
	SSHVerifyFailures.Inc()
}

// RecordGroupFinished increments the finished-group counter
func RecordGroupFinished(status string) {
	GroupsTotal.WithLabelValues(status).Inc()
}

// RecordTaskFinished increments the finished-task counter
func RecordTaskFinished(engine, status string) {
	TasksTotal.WithLabelValues(engine, status).Inc()
}

// RecordDeployDuration records how long engine deployment took
func RecordDeployDuration(engine string, duration time.Duration) {
	DeployDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// RecordBenchmarkDuration records how long the benchmark workload took
func RecordBenchmarkDuration(engine string, duration time.Duration) {
	BenchmarkDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// RecordSmokeTestFailure increments the smoke test failure counter
func RecordSmokeTestFailure(engine string) {
	SmokeTestFailures.WithLabelValues(engine).Inc()
}

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics HTTP server on addr in a background goroutine.
// Errors are delivered on the returned channel.
func Serve(addr string) <-chan error {
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	go func() {
		errCh <- http.ListenAndServe(addr, mux)
	}()
	return errCh
}

package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/gpubench/gpubench/internal/hardware"
	"github.com/gpubench/gpubench/internal/logging"
	"github.com/gpubench/gpubench/internal/metrics"
	"github.com/gpubench/gpubench/internal/planner"
	"github.com/gpubench/gpubench/internal/provider"
)

// benchmarkPorts are the ports every benchmark VM must expose: SSH, the
// engine endpoint range, and the load balancer.
var benchmarkPorts = []int{22, 8000, 8080}

// Provisioner acquires and releases VMs for execution groups.
type Provisioner interface {
	// Provision creates a VM sized for the group and returns its
	// connection info along with the provider that supplied it.
	Provision(ctx context.Context, group planner.ExecutionGroup) (*provider.VMConnectionInfo, string, error)

	// Release deletes a VM by its delete handle.
	Release(ctx context.Context, handle provider.DeleteHandle) error
}

// RegistryProvisioner provisions VMs by walking the hardware table's
// provider offerings in preference order, falling through to the next
// offering when one reports no capacity.
type RegistryProvisioner struct {
	registry  *provider.Registry
	keyPath   string // private key path; the public key is keyPath + ".pub"
	namespace string // instance name prefix
}

// NewRegistryProvisioner creates a provisioner over configured providers.
func NewRegistryProvisioner(registry *provider.Registry, keyPath string) *RegistryProvisioner {
	return &RegistryProvisioner{
		registry:  registry,
		keyPath:   keyPath,
		namespace: "gpubench",
	}
}

// Provision creates a VM for the group. Offerings whose provider is not
// configured are skipped; offerings without capacity fall through to the
// next one. Any other provider error aborts immediately.
func (p *RegistryProvisioner) Provision(ctx context.Context, group planner.ExecutionGroup) (*provider.VMConnectionInfo, string, error) {
	offerings, err := hardware.Lookup(group.GPUName)
	if err != nil {
		return nil, "", err
	}

	var lastErr error
	for _, offering := range offerings {
		prov, err := p.registry.Get(offering.Provider)
		if err != nil {
			logging.Debug(ctx, "skipping unconfigured provider", "provider", offering.Provider)
			lastErr = err
			continue
		}

		instanceType := hardware.ResolveInstanceType(offering.Provider, offering.Base, group.GPUCount)
		req := provider.CreateInstanceRequest{
			InstanceType:     instanceType,
			Name:             fmt.Sprintf("%s-%s", p.namespace, group.Label()),
			SSHPublicKeyPath: p.keyPath + ".pub",
			Ports:            benchmarkPorts,
		}

		logging.Info(ctx, "provisioning VM",
			"provider", offering.Provider,
			"instance_type", instanceType,
			"gpu", group.GPUName,
			"gpu_count", group.GPUCount)

		start := time.Now()
		info, err := prov.CreateInstance(ctx, req)
		if err != nil {
			if provider.IsCapacityError(err) {
				metrics.RecordCapacityExhausted(offering.Provider, group.GPUName)
				logging.Warn(ctx, "no capacity, trying next offering",
					"provider", offering.Provider,
					"instance_type", instanceType)
				lastErr = err
				continue
			}
			return nil, "", fmt.Errorf("provision on %s failed: %w", offering.Provider, err)
		}

		metrics.RecordVMProvisioned(offering.Provider, group.GPUName)
		metrics.RecordProvisioningDuration(offering.Provider, time.Since(start))
		logging.Info(ctx, "VM provisioned",
			"provider", offering.Provider,
			"host", info.Host,
			"instance_id", info.DeleteHandle.InstanceID)
		return info, offering.Provider, nil
	}

	return nil, "", fmt.Errorf("no offering could provision %s x%d: %w", group.GPUName, group.GPUCount, lastErr)
}

// Release deletes the VM behind the handle.
func (p *RegistryProvisioner) Release(ctx context.Context, handle provider.DeleteHandle) error {
	prov, err := p.registry.Get(handle.Provider)
	if err != nil {
		return err
	}
	return prov.DeleteInstance(ctx, handle)
}

package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpubench/gpubench/internal/planner"
	"github.com/gpubench/gpubench/internal/provider"
)

type stubProvider struct {
	name    string
	errs    []error // one per CreateInstance call, nil means success
	calls   []provider.CreateInstanceRequest
	deleted []provider.DeleteHandle
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) CreateInstance(ctx context.Context, req provider.CreateInstanceRequest) (*provider.VMConnectionInfo, error) {
	p.calls = append(p.calls, req)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &provider.VMConnectionInfo{
		Host:    "203.0.113.7",
		User:    "riftuser",
		SSHPort: 22,
		DeleteHandle: provider.DeleteHandle{
			Provider:   p.name,
			InstanceID: "inst-42",
		},
	}, nil
}

func (p *stubProvider) DeleteInstance(ctx context.Context, handle provider.DeleteHandle) error {
	p.deleted = append(p.deleted, handle)
	return nil
}

func rtx4090Group(count int) planner.ExecutionGroup {
	return planner.ExecutionGroup{GPUName: "NVIDIA GeForce RTX 4090", GPUCount: count}
}

func TestRegistryProvisioner_FirstOfferingSucceeds(t *testing.T) {
	cloudrift := &stubProvider{name: "cloudrift"}
	p := NewRegistryProvisioner(provider.NewRegistry(cloudrift), "/home/u/.ssh/id_ed25519")

	info, providerName, err := p.Provision(context.Background(), rtx4090Group(2))
	require.NoError(t, err)
	assert.Equal(t, "cloudrift", providerName)
	assert.Equal(t, "203.0.113.7", info.Host)

	require.Len(t, cloudrift.calls, 1)
	req := cloudrift.calls[0]
	assert.Equal(t, "rtx49-10c-kn.2", req.InstanceType, "GPU count is encoded in the instance type")
	assert.Equal(t, "gpubench-rtx4090_x_2", req.Name)
	assert.Equal(t, "/home/u/.ssh/id_ed25519.pub", req.SSHPublicKeyPath)
	assert.Equal(t, []int{22, 8000, 8080}, req.Ports)
}

func TestRegistryProvisioner_CapacityFallsThrough(t *testing.T) {
	cloudrift := &stubProvider{name: "cloudrift", errs: []error{
		provider.ErrCapacityUnavailable,
		provider.ErrCapacityUnavailable,
		nil,
	}}
	p := NewRegistryProvisioner(provider.NewRegistry(cloudrift), "key")

	_, _, err := p.Provision(context.Background(), rtx4090Group(1))
	require.NoError(t, err)

	// Third offering from the hardware table for the RTX 4090.
	require.Len(t, cloudrift.calls, 3)
	assert.Equal(t, "rtx49-15-80-400-ec.1", cloudrift.calls[2].InstanceType)
}

func TestRegistryProvisioner_AllOfferingsExhausted(t *testing.T) {
	cloudrift := &stubProvider{name: "cloudrift", errs: []error{
		provider.ErrCapacityUnavailable,
		provider.ErrCapacityUnavailable,
		provider.ErrCapacityUnavailable,
		provider.ErrCapacityUnavailable,
	}}
	p := NewRegistryProvisioner(provider.NewRegistry(cloudrift), "key")

	_, _, err := p.Provision(context.Background(), rtx4090Group(1))
	require.Error(t, err)
	assert.True(t, provider.IsCapacityError(err))
	assert.Len(t, cloudrift.calls, 4, "every offering was tried")
}

func TestRegistryProvisioner_NonCapacityErrorAborts(t *testing.T) {
	cloudrift := &stubProvider{name: "cloudrift", errs: []error{provider.ErrProviderAuth}}
	p := NewRegistryProvisioner(provider.NewRegistry(cloudrift), "key")

	_, _, err := p.Provision(context.Background(), rtx4090Group(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrProviderAuth)
	assert.Len(t, cloudrift.calls, 1, "auth errors do not fall through")
}

func TestRegistryProvisioner_UnconfiguredProviderSkipped(t *testing.T) {
	// The H100 is offered by gcloud only; with no gcloud configured there
	// is nothing to try.
	cloudrift := &stubProvider{name: "cloudrift"}
	p := NewRegistryProvisioner(provider.NewRegistry(cloudrift), "key")

	_, _, err := p.Provision(context.Background(), planner.ExecutionGroup{
		GPUName:  "NVIDIA H100 80GB",
		GPUCount: 8,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no offering")
	assert.Empty(t, cloudrift.calls)
}

func TestRegistryProvisioner_UnknownGPU(t *testing.T) {
	p := NewRegistryProvisioner(provider.NewRegistry(), "key")
	_, _, err := p.Provision(context.Background(), planner.ExecutionGroup{GPUName: "NVIDIA T4"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in hardware table")
}

func TestRegistryProvisioner_Release(t *testing.T) {
	cloudrift := &stubProvider{name: "cloudrift"}
	p := NewRegistryProvisioner(provider.NewRegistry(cloudrift), "key")

	handle := provider.DeleteHandle{Provider: "cloudrift", InstanceID: "inst-42"}
	require.NoError(t, p.Release(context.Background(), handle))
	assert.Equal(t, []provider.DeleteHandle{handle}, cloudrift.deleted)
}

func TestRegistryProvisioner_ReleaseUnknownProvider(t *testing.T) {
	p := NewRegistryProvisioner(provider.NewRegistry(), "key")
	err := p.Release(context.Background(), provider.DeleteHandle{Provider: "vastai", InstanceID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

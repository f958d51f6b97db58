package provider

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by providers
var (
	ErrProviderAuth        = errors.New("provider authentication failed")
	ErrInstanceNotFound    = errors.New("instance not found")
	ErrCapacityUnavailable = errors.New("no capacity for requested instance type")
	ErrProviderError       = errors.New("provider API error")
	ErrInvalidResponse     = errors.New("invalid provider response")
)

// DeleteHandle is the provider-specific payload needed to delete a VM. It
// is the only piece of provisioning state persisted across a crash.
type DeleteHandle struct {
	Provider   string `json:"provider"`
	InstanceID string `json:"instance_id"`
	Zone       string `json:"zone,omitempty"` // gcloud only
}

// IsZero reports whether the handle refers to no instance.
func (h DeleteHandle) IsZero() bool {
	return h.InstanceID == ""
}

func (h DeleteHandle) String() string {
	if h.Zone != "" {
		return fmt.Sprintf("%s:%s (%s)", h.Provider, h.InstanceID, h.Zone)
	}
	return fmt.Sprintf("%s:%s", h.Provider, h.InstanceID)
}

// VMConnectionInfo holds everything needed to reach a provisioned VM and to
// delete it later. It is owned by the execution group that provisioned the
// VM and is invalid after deletion.
type VMConnectionInfo struct {
	Host         string
	User         string
	SSHPort      int
	PortMappings map[int]int // external -> internal, when the provider NATs
	DeleteHandle DeleteHandle
}

// Address returns the user@host SSH address string.
func (v *VMConnectionInfo) Address() string {
	if v.User != "" {
		return v.User + "@" + v.Host
	}
	return v.Host
}

// CreateInstanceRequest contains all data needed to provision an instance
type CreateInstanceRequest struct {
	InstanceType     string // provider instance type, GPU count already encoded
	Name             string // instance label, used for later identification
	SSHPublicKeyPath string // public key to inject
	Ports            []int  // ports to expose
}

// Provider defines the interface for GPU VM providers
type Provider interface {
	// Name returns the provider identifier ("cloudrift" | "gcloud")
	Name() string

	// CreateInstance provisions a new VM and waits until the provider
	// reports it running. Retries and capacity fallbacks are the
	// provider's responsibility.
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*VMConnectionInfo, error)

	// DeleteInstance tears down a VM by its delete handle.
	DeleteInstance(ctx context.Context, handle DeleteHandle) error
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider with the given name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

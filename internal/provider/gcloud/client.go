// Package gcloud provisions GPU VMs on Google Cloud by shelling out to the
// gcloud CLI. The CLI handles auth, project selection, and the FLEX_START
// capacity machinery that has no stable REST equivalent.
package gcloud

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gpubench/gpubench/internal/logging"
	"github.com/gpubench/gpubench/internal/provider"
)

const (
	statusRunning = "RUNNING"

	defaultRunningTimeout = 4 * time.Hour // FLEX_START requests can queue for capacity
	defaultPollInterval   = 10 * time.Second
)

// runner executes a command and returns stdout. Indirection point for tests.
type runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s %s: %w: %s", name, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Options configures the gcloud provider.
type Options struct {
	Zone              string
	ProvisioningModel string // FLEX_START, SPOT, or STANDARD
	SSHUser           string
	ImageFamily       string
	ImageProject      string
	ServiceAccount    string
	BootDiskSize      string
	NetworkTags       []string
	ExtraArgs         []string

	RunningTimeout time.Duration
	PollInterval   time.Duration
}

// Client implements the provider.Provider interface on top of the gcloud CLI
type Client struct {
	opts Options
	run  runner
}

// NewClient creates a gcloud provider from options. Zero durations fall back
// to defaults.
func NewClient(opts Options) *Client {
	if opts.ProvisioningModel == "" {
		opts.ProvisioningModel = "FLEX_START"
	}
	if opts.ImageFamily == "" {
		opts.ImageFamily = "debian-12"
	}
	if opts.ImageProject == "" {
		opts.ImageProject = "debian-cloud"
	}
	if opts.RunningTimeout == 0 {
		opts.RunningTimeout = defaultRunningTimeout
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Client{opts: opts, run: execRunner}
}

// Name returns the provider identifier
func (c *Client) Name() string {
	return "gcloud"
}

// createArgs builds the gcloud compute instances create argument list.
func (c *Client) createArgs(req provider.CreateInstanceRequest, sshKeysEntry string) []string {
	args := []string{
		"compute", "instances", "create", req.Name,
		"--zone", c.opts.Zone,
		"--machine-type", req.InstanceType,
		"--provisioning-model=" + c.opts.ProvisioningModel,
		"--maintenance-policy=TERMINATE",
		"--reservation-affinity=none",
		"--image-family", c.opts.ImageFamily,
		"--image-project", c.opts.ImageProject,
	}
	// Duration and termination flags are only valid for FLEX_START.
	if c.opts.ProvisioningModel == "FLEX_START" {
		args = append(args,
			"--max-run-duration", "7d",
			"--instance-termination-action=DELETE",
			"--request-valid-for-duration", "2h",
		)
	}
	if sshKeysEntry != "" {
		args = append(args, "--metadata", "ssh-keys="+sshKeysEntry)
	}
	if c.opts.ServiceAccount != "" {
		args = append(args, "--service-account", c.opts.ServiceAccount)
	}
	if c.opts.BootDiskSize != "" {
		args = append(args, "--boot-disk-size", c.opts.BootDiskSize)
	}
	if len(c.opts.NetworkTags) > 0 {
		args = append(args, "--tags", strings.Join(c.opts.NetworkTags, ","))
	}
	args = append(args, c.opts.ExtraArgs...)
	return args
}

// sshKeysMetadata formats the public key at keyPath as a gcloud ssh-keys
// metadata entry ("user:key-material").
func (c *Client) sshKeysMetadata(keyPath string) (string, error) {
	if c.opts.SSHUser == "" {
		return "", nil
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read SSH public key: %w", err)
	}
	return c.opts.SSHUser + ":" + strings.TrimSpace(string(data)), nil
}

func (c *Client) status(ctx context.Context, name string) (string, error) {
	out, err := c.run(ctx, "gcloud",
		"compute", "instances", "describe", name,
		"--zone", c.opts.Zone,
		"--format", "value(status)",
	)
	return strings.TrimSpace(out), err
}

func (c *Client) externalIP(ctx context.Context, name string) (string, error) {
	out, err := c.run(ctx, "gcloud",
		"compute", "instances", "describe", name,
		"--zone", c.opts.Zone,
		"--format", "value(networkInterfaces[0].accessConfigs[0].natIP)",
	)
	return strings.TrimSpace(out), err
}

// waitForRunning polls instance status until RUNNING or the timeout. With
// FLEX_START the instance may sit queued for a long time before capacity is
// granted, so describe errors during the wait are tolerated.
func (c *Client) waitForRunning(ctx context.Context, name string) error {
	deadline := time.Now().Add(c.opts.RunningTimeout)
	lastStatus := ""

	for time.Now().Before(deadline) {
		status, err := c.status(ctx, name)
		if err == nil {
			lastStatus = status
			if status == statusRunning {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.PollInterval):
		}
	}

	return fmt.Errorf("timeout after %s waiting for instance %s to reach RUNNING (last status %q)",
		c.opts.RunningTimeout, name, lastStatus)
}

// CreateInstance creates a VM and waits until it reaches RUNNING.
func (c *Client) CreateInstance(ctx context.Context, req provider.CreateInstanceRequest) (*provider.VMConnectionInfo, error) {
	sshKeysEntry, err := c.sshKeysMetadata(req.SSHPublicKeyPath)
	if err != nil {
		return nil, err
	}

	logging.Info(ctx, "creating gcloud instance",
		"name", req.Name, "zone", c.opts.Zone,
		"machine_type", req.InstanceType, "provisioning_model", c.opts.ProvisioningModel)

	if _, err := c.run(ctx, "gcloud", c.createArgs(req, sshKeysEntry)...); err != nil {
		if strings.Contains(err.Error(), "ZONE_RESOURCE_POOL_EXHAUSTED") ||
			strings.Contains(err.Error(), "does not have enough resources") {
			return nil, fmt.Errorf("gcloud create %s: %w", req.Name, provider.ErrCapacityUnavailable)
		}
		return nil, provider.NewProviderError("gcloud", "create", 0, err.Error(), provider.ErrProviderError)
	}

	handle := provider.DeleteHandle{Provider: "gcloud", InstanceID: req.Name, Zone: c.opts.Zone}

	if err := c.waitForRunning(ctx, req.Name); err != nil {
		if deleteErr := c.DeleteInstance(ctx, handle); deleteErr != nil {
			logging.Warn(ctx, "failed to delete instance that never reached RUNNING",
				"name", req.Name, "error", deleteErr)
		}
		return nil, err
	}

	ip, err := c.externalIP(ctx, req.Name)
	if err != nil || ip == "" {
		if deleteErr := c.DeleteInstance(ctx, handle); deleteErr != nil {
			logging.Warn(ctx, "failed to delete instance without external IP",
				"name", req.Name, "error", deleteErr)
		}
		if err == nil {
			err = fmt.Errorf("instance %s has no external IP", req.Name)
		}
		return nil, err
	}

	return &provider.VMConnectionInfo{
		Host:         ip,
		User:         c.opts.SSHUser,
		SSHPort:      22,
		DeleteHandle: handle,
	}, nil
}

// DeleteInstance deletes a VM. gcloud blocks until the delete completes.
func (c *Client) DeleteInstance(ctx context.Context, handle provider.DeleteHandle) error {
	if handle.IsZero() {
		return fmt.Errorf("empty delete handle")
	}
	zone := handle.Zone
	if zone == "" {
		zone = c.opts.Zone
	}
	_, err := c.run(ctx, "gcloud",
		"compute", "instances", "delete", handle.InstanceID,
		"--zone", zone,
		"--quiet",
	)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("delete %s: %w", handle.InstanceID, provider.ErrInstanceNotFound)
		}
		return provider.NewProviderError("gcloud", "delete", 0, err.Error(), provider.ErrProviderError)
	}
	return nil
}

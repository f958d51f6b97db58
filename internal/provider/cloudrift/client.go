package cloudrift

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gpubench/gpubench/internal/logging"
	"github.com/gpubench/gpubench/internal/provider"
)

const (
	defaultBaseURL = "https://api.cloudrift.ai"
	defaultTimeout = 60 * time.Second

	// defaultImageURL is the GPU-ready Ubuntu image used for rented VMs.
	defaultImageURL = "https://storage.googleapis.com/cloudrift-vm-disks/disks/github/ubuntu-noble-server-gpu-580-129-20251015-183936.img"

	// defaultCloudInitURL configures the base cloud-init for rented VMs.
	defaultCloudInitURL = "https://storage.googleapis.com/cloudrift-vm-disks/cloudinit/ubuntu-base.cloudinit"

	// statusActive is the instance status that marks a VM ready for SSH.
	statusActive = "Active"

	// statusInactive marks a rent that will never become Active.
	statusInactive = "Inactive"

	defaultActiveTimeout = 10 * time.Minute
	defaultPollInterval  = 10 * time.Second
)

// Client implements the provider.Provider interface for CloudRift
type Client struct {
	apiKey       string
	baseURL      string
	imageURL     string
	cloudInitURL string
	httpClient   *http.Client
	limiter      *rate.Limiter

	activeTimeout time.Duration
	pollInterval  time.Duration
}

// ClientOption configures the CloudRift client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL (for testing)
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithImageURL overrides the VM disk image
func WithImageURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.imageURL = url
		}
	}
}

// WithCloudInitURL overrides the cloud-init document
func WithCloudInitURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.cloudInitURL = url
		}
	}
}

// WithActiveTimeout sets how long to wait for a rented VM to become Active
func WithActiveTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.activeTimeout = d
	}
}

// WithPollInterval sets the status polling interval
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// NewClient creates a new CloudRift client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:        apiKey,
		baseURL:       defaultBaseURL,
		imageURL:      defaultImageURL,
		cloudInitURL:  defaultCloudInitURL,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		limiter:       rate.NewLimiter(rate.Every(time.Second), 2),
		activeTimeout: defaultActiveTimeout,
		pollInterval:  defaultPollInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the provider identifier
func (c *Client) Name() string {
	return "cloudrift"
}

// request makes an authenticated CloudRift API call. Every body travels in
// the versioned envelope and responses unwrap their data section into out.
func (c *Client) request(ctx context.Context, path string, data any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	body, err := json.Marshal(envelope{Version: apiVersion, Data: raw})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewProviderError("cloudrift", path, resp.StatusCode, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(respBody))
		var wrapped error = provider.ErrProviderError
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			wrapped = provider.ErrProviderAuth
		case http.StatusConflict:
			wrapped = provider.ErrCapacityUnavailable
		}
		return provider.NewProviderError("cloudrift", path, resp.StatusCode, message, wrapped)
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return provider.NewProviderError("cloudrift", path, resp.StatusCode, "malformed response", provider.ErrInvalidResponse)
	}
	payload := env.Data
	if payload == nil {
		// Some endpoints return the data without an envelope.
		payload = respBody
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return provider.NewProviderError("cloudrift", path, resp.StatusCode, "malformed response data", provider.ErrInvalidResponse)
	}
	return nil
}

// ensureSSHKey registers the public key at keyPath unless an identical key
// already exists. Returns the key ID.
func (c *Client) ensureSSHKey(ctx context.Context, keyPath string) (string, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read SSH public key: %w", err)
	}
	publicKey := strings.TrimSpace(string(data))

	var existing sshKeysResponse
	if err := c.request(ctx, "/api/v1/ssh-keys/list", struct{}{}, &existing); err != nil {
		return "", err
	}
	for _, key := range existing.Keys {
		if strings.TrimSpace(key.PublicKey) == publicKey {
			return key.ID, nil
		}
	}

	var added addKeyResponse
	req := addKeyRequest{Name: filepath.Base(keyPath), PublicKey: publicKey}
	if err := c.request(ctx, "/api/v1/ssh-keys/add", req, &added); err != nil {
		return "", err
	}
	logging.Info(ctx, "registered SSH key on CloudRift", "key_id", added.SSHKey.ID)
	return added.SSHKey.ID, nil
}

// getInstance fetches one instance by ID via the list API.
func (c *Client) getInstance(ctx context.Context, instanceID string) (*instanceInfo, error) {
	var listed listResponse
	if err := c.request(ctx, "/api/v1/instances/list", selectByID(instanceID), &listed); err != nil {
		return nil, err
	}
	if len(listed.Instances) == 0 {
		return nil, provider.ErrInstanceNotFound
	}
	return &listed.Instances[0], nil
}

// waitForActive polls instance status until Active, a terminal failure
// status, or the timeout.
func (c *Client) waitForActive(ctx context.Context, instanceID string) (*instanceInfo, error) {
	deadline := time.Now().Add(c.activeTimeout)
	lastStatus := ""

	for time.Now().Before(deadline) {
		info, err := c.getInstance(ctx, instanceID)
		if err == nil {
			lastStatus = info.Status
			if info.Status == statusActive {
				return info, nil
			}
			if info.Status == statusInactive {
				return nil, fmt.Errorf("instance %s reached status %q: %w", instanceID, info.Status, provider.ErrCapacityUnavailable)
			}
		} else if !provider.IsNotFoundError(err) && !provider.IsRetryable(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return nil, fmt.Errorf("timeout after %s waiting for instance %s to become Active (last status %q)",
		c.activeTimeout, instanceID, lastStatus)
}

// connectionInfo converts an Active instance into connection details. SSH
// reaches the VM through the external side of the port 22 mapping.
func connectionInfo(info *instanceInfo, instanceID string) *provider.VMConnectionInfo {
	user := "user"
	if len(info.VirtualMachines) > 0 {
		if name := info.VirtualMachines[0].LoginInfo.UsernameAndPassword.Username; name != "" {
			user = name
		}
	}

	sshPort := 22
	mappings := make(map[int]int, len(info.PortMappings))
	for _, m := range info.PortMappings {
		mappings[m[1]] = m[0]
		if m[0] == 22 {
			sshPort = m[1]
		}
	}

	return &provider.VMConnectionInfo{
		Host:         info.HostAddress,
		User:         user,
		SSHPort:      sshPort,
		PortMappings: mappings,
		DeleteHandle: provider.DeleteHandle{Provider: "cloudrift", InstanceID: instanceID},
	}
}

// CreateInstance rents a VM of the requested instance type and waits until
// it reports Active.
func (c *Client) CreateInstance(ctx context.Context, req provider.CreateInstanceRequest) (*provider.VMConnectionInfo, error) {
	keyID, err := c.ensureSSHKey(ctx, req.SSHPublicKeyPath)
	if err != nil {
		return nil, err
	}
	_ = keyID // registration is what matters; rent carries the key content

	data, err := os.ReadFile(req.SSHPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH public key: %w", err)
	}

	rent := rentRequest{
		Selector: rentSelector{ByInstanceTypeAndLocation: byInstanceType{InstanceType: req.InstanceType}},
		Config: rentConfig{VirtualMachine: vmConfig{
			SSHKey:       vmSSHKey{PublicKeys: []string{strings.TrimSpace(string(data))}},
			ImageURL:     c.imageURL,
			CloudInitURL: c.cloudInitURL,
		}},
		WithPublicIP: true,
	}
	for _, port := range req.Ports {
		rent.Ports = append(rent.Ports, strconv.Itoa(port))
	}

	var rented rentResponse
	if err := c.request(ctx, "/api/v1/instances/rent", rent, &rented); err != nil {
		return nil, err
	}
	if len(rented.InstanceIDs) == 0 {
		return nil, provider.NewProviderError("cloudrift", "rent", 0, "no instance ID returned", provider.ErrInvalidResponse)
	}
	instanceID := rented.InstanceIDs[0]
	logging.Info(ctx, "CloudRift instance rented", "instance_id", instanceID, "instance_type", req.InstanceType)

	info, err := c.waitForActive(ctx, instanceID)
	if err != nil {
		// The rent succeeded, so report the handle for cleanup even though
		// the instance never became usable.
		if deleteErr := c.DeleteInstance(ctx, provider.DeleteHandle{Provider: "cloudrift", InstanceID: instanceID}); deleteErr != nil {
			logging.Warn(ctx, "failed to delete unusable CloudRift instance", "instance_id", instanceID, "error", deleteErr)
		}
		return nil, err
	}

	return connectionInfo(info, instanceID), nil
}

// DeleteInstance terminates a CloudRift instance
func (c *Client) DeleteInstance(ctx context.Context, handle provider.DeleteHandle) error {
	if handle.IsZero() {
		return fmt.Errorf("empty delete handle")
	}
	return c.request(ctx, "/api/v1/instances/terminate", selectByID(handle.InstanceID), nil)
}

package executor

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gpubench/gpubench/internal/filetransfer"
	"github.com/gpubench/gpubench/internal/provider"
	"github.com/gpubench/gpubench/internal/ssh"
)

// Session is an established connection to a benchmark VM. It satisfies the
// deploy and bench runner interfaces.
type Session interface {
	// Run executes a shell command and returns its stdout. A non-zero
	// exit returns an error carrying stderr.
	Run(ctx context.Context, cmd string) (string, error)

	// WriteFile writes content to a file on the VM.
	WriteFile(ctx context.Context, path string, content []byte) error

	// SystemInfo captures the host environment description, best effort.
	SystemInfo(ctx context.Context) string

	// GPUStatuses lists the GPUs visible on the host via nvidia-smi.
	// Errors when the host carries no NVIDIA tooling.
	GPUStatuses(ctx context.Context) ([]ssh.GPUStatus, error)

	// Close releases the connection.
	Close() error
}

// Connector establishes sessions to freshly provisioned VMs.
type Connector interface {
	Connect(ctx context.Context, info *provider.VMConnectionInfo) (Session, error)
}

// SSHConnector connects to VMs over SSH: it waits for sshd to accept the
// injected key, then opens a long-lived connection with an SFTP channel
// for file uploads.
type SSHConnector struct {
	verifier *ssh.Verifier
	executor *ssh.Executor
	keyPath  string

	keyOnce    sync.Once
	privateKey string
	keyErr     error
}

// NewSSHConnector creates a connector using the private key at keyPath.
func NewSSHConnector(verifier *ssh.Verifier, executor *ssh.Executor, keyPath string) *SSHConnector {
	return &SSHConnector{
		verifier: verifier,
		executor: executor,
		keyPath:  keyPath,
	}
}

// Connect verifies SSH readiness and opens a session to the VM.
func (c *SSHConnector) Connect(ctx context.Context, info *provider.VMConnectionInfo) (Session, error) {
	c.keyOnce.Do(func() {
		key, err := os.ReadFile(c.keyPath)
		if err != nil {
			c.keyErr = fmt.Errorf("failed to read SSH key: %w", err)
			return
		}
		c.privateKey = string(key)
	})
	if c.keyErr != nil {
		return nil, c.keyErr
	}

	if err := c.verifier.Verify(ctx, info.Host, info.SSHPort, info.User, c.privateKey); err != nil {
		return nil, fmt.Errorf("SSH verification failed for %s: %w", info.Address(), err)
	}

	conn, err := c.executor.Connect(ctx, info.Host, info.SSHPort, info.User, c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", info.Address(), err)
	}

	ft, err := filetransfer.NewClient(conn.Client())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open SFTP channel: %w", err)
	}

	return &sshSession{executor: c.executor, conn: conn, files: ft}, nil
}

type sshSession struct {
	executor *ssh.Executor
	conn     *ssh.Connection
	files    *filetransfer.Client
}

func (s *sshSession) Run(ctx context.Context, cmd string) (string, error) {
	return s.executor.RunCommandWithCombinedOutput(ctx, s.conn, cmd)
}

func (s *sshSession) WriteFile(ctx context.Context, path string, content []byte) error {
	return s.files.WriteFile(ctx, path, content)
}

func (s *sshSession) SystemInfo(ctx context.Context) string {
	return s.executor.CollectSystemInfo(ctx, s.conn)
}

func (s *sshSession) GPUStatuses(ctx context.Context) ([]ssh.GPUStatus, error) {
	return s.executor.GPUStatuses(ctx, s.conn)
}

func (s *sshSession) Close() error {
	if s.files != nil {
		s.files.Close()
	}
	return s.conn.Close()
}

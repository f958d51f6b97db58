// Package ssh provides SSH connectivity to provisioned GPU VMs: readiness
// verification, command execution, and host inspection.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// DefaultExecutorConnectTimeout is the default timeout for establishing SSH connections
	DefaultExecutorConnectTimeout = 30 * time.Second

	// DefaultExecutorCommandTimeout is the default timeout for command execution
	DefaultExecutorCommandTimeout = 60 * time.Second
)

// Connection represents an established SSH connection to a host
type Connection struct {
	client *ssh.Client
	host   string
	port   int
	user   string
}

// Host returns the connection's host
func (c *Connection) Host() string {
	return c.host
}

// Port returns the connection's port
func (c *Connection) Port() int {
	return c.port
}

// User returns the connection's user
func (c *Connection) User() string {
	return c.user
}

// Client exposes the underlying SSH client for SFTP sessions.
func (c *Connection) Client() *ssh.Client {
	return c.client
}

// Close closes the SSH connection
func (c *Connection) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Executor provides SSH command execution on benchmark VMs.
// Pattern: create executor with options, connect to hosts, run commands, close when done.
type Executor struct {
	connectTimeout time.Duration
	commandTimeout time.Duration
}

// ExecutorOption configures the Executor
type ExecutorOption func(*Executor)

// WithExecutorConnectTimeout sets the connection timeout for the executor
func WithExecutorConnectTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.connectTimeout = d
	}
}

// WithExecutorCommandTimeout sets the command execution timeout for the executor
func WithExecutorCommandTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.commandTimeout = d
	}
}

// NewExecutor creates an executor with configurable timeouts
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		connectTimeout: DefaultExecutorConnectTimeout,
		commandTimeout: DefaultExecutorCommandTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Connect establishes SSH connection to a host
func (e *Executor) Connect(ctx context.Context, host string, port int, user, privateKey string) (*Connection, error) {
	if host == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}
	if port <= 0 {
		return nil, fmt.Errorf("port must be positive")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}
	if privateKey == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	signer, err := ssh.ParsePrivateKey([]byte(privateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // ephemeral VMs have dynamic host keys
		Timeout:         e.connectTimeout,
	}

	addr := fmt.Sprintf("%s:%d", host, port)

	dialer := net.Dialer{Timeout: e.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	return &Connection{
		client: client,
		host:   host,
		port:   port,
		user:   user,
	}, nil
}

// RunCommand executes a command and returns stdout/stderr
func (e *Executor) RunCommand(ctx context.Context, conn *Connection, cmd string) (stdout, stderr string, err error) {
	if conn == nil || conn.client == nil {
		return "", "", fmt.Errorf("connection is nil or closed")
	}

	session, err := conn.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	// Apply the default command timeout unless the caller set a deadline.
	// Deploy steps like model downloads set their own, much longer one.
	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case runErr := <-done:
		stdout = strings.TrimSpace(stdoutBuf.String())
		stderr = strings.TrimSpace(stderrBuf.String())
		return stdout, stderr, runErr
	case <-cmdCtx.Done():
		session.Signal(ssh.SIGKILL)
		return "", "", fmt.Errorf("command timed out: %w", cmdCtx.Err())
	}
}

// RunCommandWithCombinedOutput runs a command and returns stdout.
// Returns an error that includes stderr if the command fails.
func (e *Executor) RunCommandWithCombinedOutput(ctx context.Context, conn *Connection, cmd string) (string, error) {
	stdout, stderr, err := e.RunCommand(ctx, conn, cmd)
	if err != nil {
		if stderr != "" {
			return stdout, fmt.Errorf("%w: %s", err, stderr)
		}
		return stdout, err
	}
	return stdout, nil
}

// CheckHealth verifies the connection is responsive by running a simple command
func (e *Executor) CheckHealth(ctx context.Context, conn *Connection) error {
	stdout, stderr, err := e.RunCommand(ctx, conn, "echo ok")
	if err != nil {
		return fmt.Errorf("health check failed: %w (stderr: %s)", err, stderr)
	}
	if stdout != "ok" {
		return fmt.Errorf("health check returned unexpected output: %q", stdout)
	}
	return nil
}

// GPUStatuses runs nvidia-smi and returns the parsed status of every GPU on
// the host.
func (e *Executor) GPUStatuses(ctx context.Context, conn *Connection) ([]GPUStatus, error) {
	stdout, stderr, err := e.RunCommand(ctx, conn, gpuStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, stderr)
	}

	statuses, err := ParseGPUStatuses(stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse nvidia-smi output: %w", err)
	}

	return statuses, nil
}

// systemInfoScript captures the host environment for the benchmark result
// header. Every section tolerates the tool being absent.
const systemInfoScript = `
echo "=== HOSTNAME ==="
hostname

echo ""
echo "=== OS ==="
cat /etc/os-release 2>/dev/null || echo "N/A"

echo ""
echo "=== KERNEL ==="
uname -r

echo ""
echo "=== CPU COUNT ==="
nproc 2>/dev/null || echo "N/A"

echo ""
echo "=== MEMORY ==="
free -h 2>/dev/null || echo "N/A"

echo ""
echo "=== GPU INFORMATION ==="
nvidia-smi --query-gpu=name,memory.total,driver_version,pstate,temperature.gpu,utilization.gpu --format=csv,noheader 2>/dev/null || echo "N/A"

echo ""
echo "=== GPU DETAILS ==="
nvidia-smi 2>/dev/null || echo "N/A"

echo ""
echo "=== DISK USAGE ==="
df -h 2>/dev/null || echo "N/A"

echo ""
echo "=== UPTIME ==="
uptime 2>/dev/null || echo "N/A"

echo ""
echo "=== DOCKER VERSION ==="
docker --version 2>/dev/null || echo "N/A"
`

// CollectSystemInfo gathers hardware and software details from the host.
// Returns an empty string if collection fails; system info is best effort.
func (e *Executor) CollectSystemInfo(ctx context.Context, conn *Connection) string {
	infoCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	stdout, _, err := e.RunCommand(infoCtx, conn, systemInfoScript)
	if err != nil {
		return ""
	}
	return stdout
}

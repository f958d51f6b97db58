package ssh

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gpubench/gpubench/internal/logging"
	"github.com/gpubench/gpubench/internal/metrics"
)

const (
	// DefaultVerifyTimeout bounds the total wait for sshd to come up.
	DefaultVerifyTimeout = 5 * time.Minute

	// DefaultCheckInterval is the pause between connection attempts.
	DefaultCheckInterval = 15 * time.Second

	// DefaultConnectTimeout bounds each individual attempt.
	DefaultConnectTimeout = 30 * time.Second
)

// Verifier waits for a freshly provisioned VM to accept SSH connections
// with the injected key. Providers report instances as active before
// cloud-init has installed the key, so readiness has to be polled.
type Verifier struct {
	verifyTimeout  time.Duration
	checkInterval  time.Duration
	connectTimeout time.Duration

	exec *Executor
}

// Option configures the Verifier.
type Option func(*Verifier)

// WithVerifyTimeout sets the total verification timeout.
func WithVerifyTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		v.verifyTimeout = d
	}
}

// WithCheckInterval sets the interval between connection attempts.
func WithCheckInterval(d time.Duration) Option {
	return func(v *Verifier) {
		v.checkInterval = d
	}
}

// WithConnectTimeout sets the timeout for each connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		v.connectTimeout = d
	}
}

// NewVerifier creates an SSH readiness verifier.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		verifyTimeout:  DefaultVerifyTimeout,
		checkInterval:  DefaultCheckInterval,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.exec = NewExecutor(
		WithExecutorConnectTimeout(v.connectTimeout),
		WithExecutorCommandTimeout(v.connectTimeout),
	)
	return v
}

// Verify polls the host until an SSH session can be opened and answers a
// command, or the verify timeout elapses. Returns nil once the host is
// ready.
func (v *Verifier) Verify(ctx context.Context, host string, port int, user, privateKey string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if port <= 0 {
		return fmt.Errorf("port must be positive")
	}
	if user == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if privateKey == "" {
		return fmt.Errorf("private key cannot be empty")
	}

	// A key that doesn't parse will never succeed; fail before polling.
	if _, err := ssh.ParsePrivateKey([]byte(privateKey)); err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	start := time.Now()
	deadline := start.Add(v.verifyTimeout)
	attempts := 0
	var lastErr error

	for time.Now().Before(deadline) {
		attempts++
		err := v.attempt(ctx, host, port, user, privateKey)
		if err == nil {
			waited := time.Since(start)
			logging.Info(ctx, "SSH ready",
				"host", host,
				"attempts", attempts,
				"waited", waited.Round(time.Second).String())
			metrics.RecordSSHVerifyDuration(waited)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			metrics.RecordSSHVerifyFailure()
			return ctx.Err()
		}
		logging.Debug(ctx, "SSH not ready yet",
			"host", host,
			"attempt", attempts,
			"error", lastErr)

		wait := v.checkInterval
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			metrics.RecordSSHVerifyFailure()
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	metrics.RecordSSHVerifyFailure()
	if lastErr == nil {
		lastErr = context.DeadlineExceeded
	}
	return fmt.Errorf("SSH not ready after %s (%d attempts): %w", v.verifyTimeout, attempts, lastErr)
}

// attempt opens a throwaway connection and checks that it answers a
// command. sshd accepting the TCP handshake is not enough; early in boot
// it can accept connections and then fail session allocation.
func (v *Verifier) attempt(ctx context.Context, host string, port int, user, privateKey string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, v.connectTimeout)
	defer cancel()

	conn, err := v.exec.Connect(attemptCtx, host, port, user, privateKey)
	if err != nil {
		return err
	}
	defer conn.Close()

	return v.exec.CheckHealth(attemptCtx, conn)
}

package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testPrivateKey generates a throwaway OpenSSH key that parses cleanly.
func testPrivateKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block))
}

func TestNewVerifier_Defaults(t *testing.T) {
	v := NewVerifier()

	assert.Equal(t, DefaultVerifyTimeout, v.verifyTimeout)
	assert.Equal(t, DefaultCheckInterval, v.checkInterval)
	assert.Equal(t, DefaultConnectTimeout, v.connectTimeout)
}

func TestNewVerifier_Options(t *testing.T) {
	v := NewVerifier(
		WithVerifyTimeout(1*time.Minute),
		WithCheckInterval(5*time.Second),
		WithConnectTimeout(10*time.Second),
	)

	assert.Equal(t, 1*time.Minute, v.verifyTimeout)
	assert.Equal(t, 5*time.Second, v.checkInterval)
	assert.Equal(t, 10*time.Second, v.connectTimeout)
}

func TestVerify_ValidationErrors(t *testing.T) {
	v := NewVerifier()
	ctx := context.Background()

	tests := []struct {
		name       string
		host       string
		port       int
		user       string
		privateKey string
		wantErr    string
	}{
		{"empty host", "", 22, "root", "key", "host cannot be empty"},
		{"invalid port", "localhost", 0, "root", "key", "port must be positive"},
		{"empty user", "localhost", 22, "", "key", "user cannot be empty"},
		{"empty private key", "localhost", 22, "root", "", "private key cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(ctx, tt.host, tt.port, tt.user, tt.privateKey)
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestVerify_InvalidKeyFailsWithoutPolling(t *testing.T) {
	v := NewVerifier(
		WithVerifyTimeout(time.Minute),
		WithCheckInterval(time.Second),
	)

	start := time.Now()
	err := v.Verify(context.Background(), "localhost", 22, "root", "not-a-valid-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse private key")
	assert.Less(t, time.Since(start), 5*time.Second, "a bad key must not consume the retry budget")
}

func TestVerify_ContextCancellation(t *testing.T) {
	v := NewVerifier(
		WithVerifyTimeout(10*time.Second),
		WithCheckInterval(100*time.Millisecond),
		WithConnectTimeout(100*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := v.Verify(ctx, "127.0.0.1", 1, "root", testPrivateKey(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify_UnreachableHostExhaustsTimeout(t *testing.T) {
	v := NewVerifier(
		WithVerifyTimeout(300*time.Millisecond),
		WithCheckInterval(50*time.Millisecond),
		WithConnectTimeout(100*time.Millisecond),
	)

	// Port 1 on loopback refuses connections.
	err := v.Verify(context.Background(), "127.0.0.1", 1, "root", testPrivateKey(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH not ready after")
}

package gcloud

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpubench/gpubench/internal/provider"
)

// fakeRunner records gcloud invocations and replays scripted responses.
type fakeRunner struct {
	calls     [][]string
	responses []struct {
		out string
		err error
	}
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(f.responses) == 0 {
		return "", nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.out, resp.err
}

func (f *fakeRunner) respond(out string, err error) {
	f.responses = append(f.responses, struct {
		out string
		err error
	}{out, err})
}

func writeTestKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_ed25519.pub")
	require.NoError(t, os.WriteFile(path, []byte("ssh-ed25519 AAAAtest bench@host\n"), 0600))
	return path
}

func testClient(t *testing.T, fake *fakeRunner) *Client {
	t.Helper()
	c := NewClient(Options{
		Zone:           "us-central1-b",
		SSHUser:        "bench",
		RunningTimeout: time.Second,
		PollInterval:   time.Millisecond,
	})
	c.run = fake.run
	return c
}

func TestCreateArgs_FlexStart(t *testing.T) {
	c := NewClient(Options{
		Zone:           "us-central1-b",
		ServiceAccount: "bench@proj.iam.gserviceaccount.com",
		BootDiskSize:   "200GB",
		NetworkTags:    []string{"bench", "ssh"},
	})

	args := c.createArgs(provider.CreateInstanceRequest{
		Name:         "bench-h100-x8",
		InstanceType: "a3-highgpu-8g",
	}, "bench:ssh-ed25519 AAAAtest")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "compute instances create bench-h100-x8")
	assert.Contains(t, joined, "--machine-type a3-highgpu-8g")
	assert.Contains(t, joined, "--provisioning-model=FLEX_START")
	assert.Contains(t, joined, "--maintenance-policy=TERMINATE")
	assert.Contains(t, joined, "--reservation-affinity=none")
	assert.Contains(t, joined, "--max-run-duration 7d")
	assert.Contains(t, joined, "--instance-termination-action=DELETE")
	assert.Contains(t, joined, "--request-valid-for-duration 2h")
	assert.Contains(t, joined, "--metadata ssh-keys=bench:ssh-ed25519 AAAAtest")
	assert.Contains(t, joined, "--service-account bench@proj.iam.gserviceaccount.com")
	assert.Contains(t, joined, "--boot-disk-size 200GB")
	assert.Contains(t, joined, "--tags bench,ssh")
}

func TestCreateArgs_SpotSkipsFlexFlags(t *testing.T) {
	c := NewClient(Options{Zone: "us-central1-b", ProvisioningModel: "SPOT"})

	args := c.createArgs(provider.CreateInstanceRequest{Name: "vm", InstanceType: "g2-standard-4"}, "")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--provisioning-model=SPOT")
	assert.NotContains(t, joined, "--max-run-duration")
	assert.NotContains(t, joined, "--instance-termination-action")
	assert.NotContains(t, joined, "--request-valid-for-duration")
	assert.NotContains(t, joined, "--metadata")
}

func TestCreateInstance_Success(t *testing.T) {
	fake := &fakeRunner{}
	fake.respond("", nil)             // create
	fake.respond("PROVISIONING", nil) // describe status
	fake.respond("RUNNING", nil)      // describe status
	fake.respond("34.16.8.20\n", nil) // describe natIP

	client := testClient(t, fake)
	info, err := client.CreateInstance(context.Background(), provider.CreateInstanceRequest{
		Name:             "bench-vm",
		InstanceType:     "a3-highgpu-8g",
		SSHPublicKeyPath: writeTestKey(t),
	})
	require.NoError(t, err)

	assert.Equal(t, "34.16.8.20", info.Host)
	assert.Equal(t, "bench", info.User)
	assert.Equal(t, 22, info.SSHPort)
	assert.Equal(t, provider.DeleteHandle{Provider: "gcloud", InstanceID: "bench-vm", Zone: "us-central1-b"}, info.DeleteHandle)

	require.Len(t, fake.calls, 4)
	assert.Contains(t, strings.Join(fake.calls[0], " "), "instances create bench-vm")
	assert.Contains(t, strings.Join(fake.calls[1], " "), "value(status)")
	assert.Contains(t, strings.Join(fake.calls[3], " "), "natIP")
}

func TestCreateInstance_CapacityError(t *testing.T) {
	fake := &fakeRunner{}
	fake.respond("", errors.New("gcloud compute: ZONE_RESOURCE_POOL_EXHAUSTED"))

	client := testClient(t, fake)
	_, err := client.CreateInstance(context.Background(), provider.CreateInstanceRequest{
		Name:             "bench-vm",
		InstanceType:     "a3-highgpu-8g",
		SSHPublicKeyPath: writeTestKey(t),
	})
	require.Error(t, err)
	assert.True(t, provider.IsCapacityError(err))
}

func TestCreateInstance_RunningTimeoutDeletes(t *testing.T) {
	fake := &fakeRunner{}
	fake.respond("", nil) // create
	// Everything after the create reports a queued instance, then the
	// timeout fires and the cleanup delete consumes the default response.
	for i := 0; i < 5000; i++ {
		fake.respond("PROVISIONING", nil)
	}

	client := testClient(t, fake)
	_, err := client.CreateInstance(context.Background(), provider.CreateInstanceRequest{
		Name:             "bench-vm",
		InstanceType:     "a3-highgpu-8g",
		SSHPublicKeyPath: writeTestKey(t),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUNNING")

	last := fake.calls[len(fake.calls)-1]
	assert.Contains(t, strings.Join(last, " "), "instances delete bench-vm")
	assert.Contains(t, last, "--quiet")
}

func TestDeleteInstance_UsesHandleZone(t *testing.T) {
	fake := &fakeRunner{}
	client := testClient(t, fake)

	err := client.DeleteInstance(context.Background(), provider.DeleteHandle{
		Provider: "gcloud", InstanceID: "old-vm", Zone: "europe-west4-a",
	})
	require.NoError(t, err)

	require.Len(t, fake.calls, 1)
	joined := strings.Join(fake.calls[0], " ")
	assert.Contains(t, joined, "instances delete old-vm")
	assert.Contains(t, joined, "--zone europe-west4-a")
}

func TestDeleteInstance_NotFound(t *testing.T) {
	fake := &fakeRunner{}
	fake.respond("", errors.New("ERROR: resource 'old-vm' was not found"))

	client := testClient(t, fake)
	err := client.DeleteInstance(context.Background(), provider.DeleteHandle{
		Provider: "gcloud", InstanceID: "old-vm", Zone: "us-central1-b",
	})
	require.Error(t, err)
	assert.True(t, provider.IsNotFoundError(err))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear environment
	os.Unsetenv("CLOUDRIFT_API_KEY")
	os.Unsetenv("HF_TOKEN")

	cfg, err := Load("")
	require.NoError(t, err)

	// Check defaults
	assert.Equal(t, "https://api.cloudrift.ai", cfg.Providers.CloudRift.APIURL)
	assert.Equal(t, "us-central1-b", cfg.Providers.GCloud.Zone)
	assert.Equal(t, "FLEX_START", cfg.Providers.GCloud.ProvisioningModel)
	assert.Equal(t, "~/.ssh/id_ed25519", cfg.SSH.KeyPath)
	assert.Equal(t, 10*time.Minute, cfg.SSH.VerifyTimeout)
	assert.Equal(t, "/hf_models", cfg.Benchmark.ModelDir)
	assert.Equal(t, 4, cfg.Benchmark.MaxConcurrentGroups)
	assert.Equal(t, 1, cfg.Benchmark.GPUConcurrency)
	assert.Equal(t, "./data/gpubench.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_WithEnvVars(t *testing.T) {
	os.Setenv("CLOUDRIFT_API_KEY", "test-rift-key")
	os.Setenv("HF_TOKEN", "hf_test_token")
	os.Setenv("GCLOUD_ZONE", "europe-west4-a")
	defer func() {
		os.Unsetenv("CLOUDRIFT_API_KEY")
		os.Unsetenv("HF_TOKEN")
		os.Unsetenv("GCLOUD_ZONE")
	}()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "test-rift-key", cfg.Providers.CloudRift.APIKey)
	assert.Equal(t, "hf_test_token", cfg.Benchmark.HFToken)
	assert.Equal(t, "europe-west4-a", cfg.Providers.GCloud.Zone)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
benchmark:
  results_dir: /tmp/results
  max_concurrent_groups: 2
providers:
  gcloud:
    provisioning_model: SPOT
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/results", cfg.Benchmark.ResultsDir)
	assert.Equal(t, 2, cfg.Benchmark.MaxConcurrentGroups)
	assert.Equal(t, "SPOT", cfg.Providers.GCloud.ProvisioningModel)
}

func TestConfig_Validate_Success(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing results dir",
			mutate:  func(c *Config) { c.Benchmark.ResultsDir = "" },
			wantMsg: "results_dir",
		},
		{
			name:    "zero concurrent groups",
			mutate:  func(c *Config) { c.Benchmark.MaxConcurrentGroups = 0 },
			wantMsg: "max_concurrent_groups",
		},
		{
			name:    "zero gpu concurrency",
			mutate:  func(c *Config) { c.Benchmark.GPUConcurrency = 0 },
			wantMsg: "gpu_concurrency",
		},
		{
			name:    "missing ssh key",
			mutate:  func(c *Config) { c.SSH.KeyPath = "" },
			wantMsg: "ssh.key_path",
		},
		{
			name:    "bad provisioning model",
			mutate:  func(c *Config) { c.Providers.GCloud.ProvisioningModel = "PREEMPTIBLE" },
			wantMsg: "provisioning_model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortName(t *testing.T) {
	tests := []struct {
		fullName string
		expected string
	}{
		{"NVIDIA H100 80GB", "h100"},
		{"NVIDIA GeForce RTX 5090", "rtx5090"},
		{"NVIDIA RTX PRO 6000 Server Edition", "pro6000"},
		{"AMD Instinct MI350X", "mi350x"},
		// fallback: lowercased alphanumerics
		{"NVIDIA H300 SuperChip", "nvidiah300superchip"},
		{"H100", "h100"},
	}

	for _, tt := range tests {
		t.Run(tt.fullName, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShortName(tt.fullName))
		})
	}
}

func TestLookup(t *testing.T) {
	entries, err := Lookup("NVIDIA H100 80GB")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "gcloud", entries[0].Provider)
	assert.Equal(t, "a3-highgpu", entries[0].Base)

	_, err = Lookup("NVIDIA H300 SuperChip")
	assert.Error(t, err)
}

func TestResolveInstanceType(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		base     string
		gpuCount int
		expected string
	}{
		{"cloudrift appends dot count", "cloudrift", "rtx49-10c-kn", 4, "rtx49-10c-kn.4"},
		{"gcloud appends count with g", "gcloud", "a3-highgpu", 8, "a3-highgpu-8g"},
		{"g4 standard scales vcpus", "gcloud", "g4-standard", 4, "g4-standard-192"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveInstanceType(tt.provider, tt.base, tt.gpuCount))
		})
	}
}

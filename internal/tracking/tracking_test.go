package tracking

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRunDir(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)

	runDir, err := CreateRunDir(base, now, "abcdef0123456789")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "2026-08-25_14-30-05_abcdef01"), runDir)
	info, err := os.Stat(runDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateRunDir_ShortHash(t *testing.T) {
	runDir, err := CreateRunDir(t.TempDir(), time.Now(), "abc")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_abc$`), runDir)
}

func TestCodeHash_Stable(t *testing.T) {
	h1 := CodeHash()
	h2 := CodeHash()
	assert.Equal(t, h1, h2)
	assert.NotEmpty(t, h1)
}

func TestManifest_RoundTrip(t *testing.T) {
	runDir := t.TempDir()
	m := Manifest{
		Timestamp: "2026-08-25T14:30:05",
		CodeHash:  "abcdef0123456789",
		Recipes:   []string{"qwen3-8b"},
		Tasks: []TaskMeta{
			{
				RecipeDir:  "recipes/qwen3-8b",
				Variant:    "h100_c128",
				Model:      "Qwen/Qwen3-8B",
				GPUName:    "NVIDIA H100 80GB",
				GPUCount:   8,
				Status:     StatusCompleted,
				ResultFile: "h100_c128_Qwen_Qwen3-8B_benchmark.txt",
			},
			{
				RecipeDir: "recipes/qwen3-8b",
				Variant:   "h100_c256",
				Model:     "Qwen/Qwen3-8B",
				GPUName:   "NVIDIA H100 80GB",
				GPUCount:  8,
				Status:    StatusFailed,
			},
		},
	}

	require.NoError(t, WriteManifest(runDir, m))

	got, err := ReadManifest(runDir)
	require.NoError(t, err)
	assert.Equal(t, &m, got)
}

func TestReadManifest_Missing(t *testing.T) {
	_, err := ReadManifest(t.TempDir())
	require.Error(t, err)
}

func TestReadManifest_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFilename), []byte("{"), 0644))
	_, err := ReadManifest(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

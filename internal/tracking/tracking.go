// Package tracking manages benchmark run directories and their manifests:
// which code produced a run, which recipes it covered, and how each task
// ended.
package tracking

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"
)

// ManifestFilename is the manifest file written into each run directory.
const ManifestFilename = "manifest.json"

// Task statuses recorded in the manifest.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CodeHash identifies the build that produced a run. It hashes the
// embedded build info, which carries the VCS revision and the full module
// dependency list.
func CodeHash() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	sum := sha256.Sum256([]byte(info.String()))
	return hex.EncodeToString(sum[:])
}

// CreateRunDir creates a timestamped run directory under baseDir:
// {baseDir}/{YYYY-MM-DD_HH-MM-SS}_{hash[:8]}/.
func CreateRunDir(baseDir string, now time.Time, codeHash string) (string, error) {
	short := codeHash
	if len(short) > 8 {
		short = short[:8]
	}
	runDir := filepath.Join(baseDir, fmt.Sprintf("%s_%s", now.Format("2006-01-02_15-04-05"), short))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return runDir, nil
}

// TaskMeta records the outcome of one task in the manifest.
type TaskMeta struct {
	RecipeDir  string `json:"recipe_dir"`
	Variant    string `json:"variant"`
	Model      string `json:"model"`
	GPUName    string `json:"gpu_name"`
	GPUCount   int    `json:"gpu_count"`
	Status     string `json:"status"`
	ResultFile string `json:"result_file,omitempty"`
}

// Manifest is the run-level record written to manifest.json.
type Manifest struct {
	Timestamp string     `json:"timestamp"`
	CodeHash  string     `json:"code_hash"`
	Recipes   []string   `json:"recipes"`
	Tasks     []TaskMeta `json:"tasks"`
}

// WriteManifest writes the manifest into runDir.
func WriteManifest(runDir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := filepath.Join(runDir, ManifestFilename)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads and parses the manifest from runDir.
func ReadManifest(runDir string) (*Manifest, error) {
	path := filepath.Join(runDir, ManifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed manifest %s: %w", path, err)
	}
	return &m, nil
}

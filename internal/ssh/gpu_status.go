package ssh

import (
	"fmt"
	"strconv"
	"strings"
)

// gpuStatusQuery lists every GPU on the host in CSV form.
const gpuStatusQuery = "nvidia-smi --query-gpu=index,name,memory.used,memory.total,utilization.gpu,temperature.gpu --format=csv,noheader,nounits"

// GPUStatus is one GPU's row from nvidia-smi
type GPUStatus struct {
	Index          int
	Name           string
	MemoryUsedMB   int64
	MemoryTotalMB  int64
	UtilizationPct int
	TemperatureC   int
}

// MemoryUsedPct returns the percentage of GPU memory in use
func (g *GPUStatus) MemoryUsedPct() float64 {
	if g.MemoryTotalMB == 0 {
		return 0
	}
	return float64(g.MemoryUsedMB) / float64(g.MemoryTotalMB) * 100
}

// String returns a human-readable representation of the GPU status
func (g *GPUStatus) String() string {
	return fmt.Sprintf("GPU%d %s: %dMB/%dMB (%.1f%%), %d%% util, %dC",
		g.Index,
		g.Name,
		g.MemoryUsedMB,
		g.MemoryTotalMB,
		g.MemoryUsedPct(),
		g.UtilizationPct,
		g.TemperatureC,
	)
}

// ParseGPUStatuses parses multi-GPU nvidia-smi CSV output, one GPU per line.
// Example line: "0, NVIDIA H100 80GB HBM3, 1234, 81559, 45, 65"
func ParseGPUStatuses(output string) ([]GPUStatus, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, fmt.Errorf("empty nvidia-smi output")
	}

	var statuses []GPUStatus
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		status, err := parseGPULine(line)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}

	if len(statuses) == 0 {
		return nil, fmt.Errorf("no GPUs found in nvidia-smi output")
	}
	return statuses, nil
}

func parseGPULine(line string) (GPUStatus, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 6 {
		return GPUStatus{}, fmt.Errorf("invalid nvidia-smi output: expected 6 fields, got %d (line: %q)", len(parts), line)
	}

	var status GPUStatus
	var err error

	if status.Index, err = parseIntField(parts[0], "index"); err != nil {
		return GPUStatus{}, err
	}

	status.Name = strings.TrimSpace(parts[1])
	if status.Name == "" {
		return GPUStatus{}, fmt.Errorf("empty GPU name in nvidia-smi output")
	}

	memUsed, err := parseIntField(parts[2], "memory.used")
	if err != nil {
		return GPUStatus{}, err
	}
	status.MemoryUsedMB = int64(memUsed)

	memTotal, err := parseIntField(parts[3], "memory.total")
	if err != nil {
		return GPUStatus{}, err
	}
	status.MemoryTotalMB = int64(memTotal)

	if status.UtilizationPct, err = parseIntField(parts[4], "utilization.gpu"); err != nil {
		return GPUStatus{}, err
	}
	if status.TemperatureC, err = parseIntField(parts[5], "temperature.gpu"); err != nil {
		return GPUStatus{}, err
	}

	return status, nil
}

// parseIntField parses a trimmed string field as an integer. nvidia-smi
// reports "[N/A]" for fields some GPUs don't expose.
func parseIntField(s, fieldName string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[N/A]" || s == "N/A" {
		return 0, nil
	}

	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", fieldName, s, err)
	}
	return val, nil
}

package bench

import (
	"regexp"
	"strconv"
	"strings"
)

// BenchmarkMetrics is the parsed results table from vllm bench serve.
// Pointer fields distinguish absent metrics from zero values; older bench
// versions omit some rows.
type BenchmarkMetrics struct {
	SuccessfulRequests        *int     `json:"successful_requests,omitempty"`
	FailedRequests            *int     `json:"failed_requests,omitempty"`
	MaxRequestConcurrency     *int     `json:"max_request_concurrency,omitempty"`
	BenchmarkDurationS        *float64 `json:"benchmark_duration_s,omitempty"`
	TotalInputTokens          *int     `json:"total_input_tokens,omitempty"`
	TotalGeneratedTokens      *int     `json:"total_generated_tokens,omitempty"`
	RequestThroughput         *float64 `json:"request_throughput,omitempty"`
	OutputTokenThroughput     *float64 `json:"output_token_throughput,omitempty"`
	PeakOutputTokenThroughput *float64 `json:"peak_output_token_throughput,omitempty"`
	PeakConcurrentRequests    *float64 `json:"peak_concurrent_requests,omitempty"`
	TotalTokenThroughput      *float64 `json:"total_token_throughput,omitempty"`
	MeanTTFTMs                *float64 `json:"mean_ttft_ms,omitempty"`
	MedianTTFTMs              *float64 `json:"median_ttft_ms,omitempty"`
	P99TTFTMs                 *float64 `json:"p99_ttft_ms,omitempty"`
	MeanTPOTMs                *float64 `json:"mean_tpot_ms,omitempty"`
	MedianTPOTMs              *float64 `json:"median_tpot_ms,omitempty"`
	P99TPOTMs                 *float64 `json:"p99_tpot_ms,omitempty"`
	MeanITLMs                 *float64 `json:"mean_itl_ms,omitempty"`
	MedianITLMs               *float64 `json:"median_itl_ms,omitempty"`
	P99ITLMs                  *float64 `json:"p99_itl_ms,omitempty"`
	MeanE2ELMs                *float64 `json:"mean_e2el_ms,omitempty"`
	MedianE2ELMs              *float64 `json:"median_e2el_ms,omitempty"`
	P99E2ELMs                 *float64 `json:"p99_e2el_ms,omitempty"`
}

// metricFields maps each results-table label to its destination field.
var metricFields = []struct {
	label  string
	assign func(*BenchmarkMetrics, string)
}{
	{"Successful requests", func(m *BenchmarkMetrics, v string) { m.SuccessfulRequests = parseIntPtr(v) }},
	{"Failed requests", func(m *BenchmarkMetrics, v string) { m.FailedRequests = parseIntPtr(v) }},
	{"Maximum request concurrency", func(m *BenchmarkMetrics, v string) { m.MaxRequestConcurrency = parseIntPtr(v) }},
	{"Benchmark duration (s)", func(m *BenchmarkMetrics, v string) { m.BenchmarkDurationS = parseFloatPtr(v) }},
	{"Total input tokens", func(m *BenchmarkMetrics, v string) { m.TotalInputTokens = parseIntPtr(v) }},
	{"Total generated tokens", func(m *BenchmarkMetrics, v string) { m.TotalGeneratedTokens = parseIntPtr(v) }},
	{"Request throughput (req/s)", func(m *BenchmarkMetrics, v string) { m.RequestThroughput = parseFloatPtr(v) }},
	{"Output token throughput (tok/s)", func(m *BenchmarkMetrics, v string) { m.OutputTokenThroughput = parseFloatPtr(v) }},
	{"Peak output token throughput (tok/s)", func(m *BenchmarkMetrics, v string) { m.PeakOutputTokenThroughput = parseFloatPtr(v) }},
	{"Peak concurrent requests", func(m *BenchmarkMetrics, v string) { m.PeakConcurrentRequests = parseFloatPtr(v) }},
	{"Total token throughput (tok/s)", func(m *BenchmarkMetrics, v string) { m.TotalTokenThroughput = parseFloatPtr(v) }},
	{"Mean TTFT (ms)", func(m *BenchmarkMetrics, v string) { m.MeanTTFTMs = parseFloatPtr(v) }},
	{"Median TTFT (ms)", func(m *BenchmarkMetrics, v string) { m.MedianTTFTMs = parseFloatPtr(v) }},
	{"P99 TTFT (ms)", func(m *BenchmarkMetrics, v string) { m.P99TTFTMs = parseFloatPtr(v) }},
	{"Mean TPOT (ms)", func(m *BenchmarkMetrics, v string) { m.MeanTPOTMs = parseFloatPtr(v) }},
	{"Median TPOT (ms)", func(m *BenchmarkMetrics, v string) { m.MedianTPOTMs = parseFloatPtr(v) }},
	{"P99 TPOT (ms)", func(m *BenchmarkMetrics, v string) { m.P99TPOTMs = parseFloatPtr(v) }},
	{"Mean ITL (ms)", func(m *BenchmarkMetrics, v string) { m.MeanITLMs = parseFloatPtr(v) }},
	{"Median ITL (ms)", func(m *BenchmarkMetrics, v string) { m.MedianITLMs = parseFloatPtr(v) }},
	{"P99 ITL (ms)", func(m *BenchmarkMetrics, v string) { m.P99ITLMs = parseFloatPtr(v) }},
	{"Mean E2EL (ms)", func(m *BenchmarkMetrics, v string) { m.MeanE2ELMs = parseFloatPtr(v) }},
	{"Median E2EL (ms)", func(m *BenchmarkMetrics, v string) { m.MedianE2ELMs = parseFloatPtr(v) }},
	{"P99 E2EL (ms)", func(m *BenchmarkMetrics, v string) { m.P99E2ELMs = parseFloatPtr(v) }},
}

// ParseMetrics parses the vllm bench serve results table. Labels that don't
// appear stay nil.
func ParseMetrics(output string) *BenchmarkMetrics {
	metrics := &BenchmarkMetrics{}
	for _, field := range metricFields {
		re := regexp.MustCompile(regexp.QuoteMeta(field.label) + `:\s+([\d.]+)`)
		if m := re.FindStringSubmatch(output); m != nil {
			field.assign(metrics, m[1])
		}
	}
	return metrics
}

func parseIntPtr(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseFloatPtr(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// SystemInfo is the parsed host environment from the system info script.
type SystemInfo struct {
	Hostname       string  `json:"hostname,omitempty"`
	OS             string  `json:"os,omitempty"`
	Kernel         string  `json:"kernel,omitempty"`
	CPUCount       int     `json:"cpu_count,omitempty"`
	MemoryTotalGiB float64 `json:"memory_total_gib,omitempty"`
	GPUName        string  `json:"gpu_name,omitempty"`
	GPUMemoryMiB   int     `json:"gpu_memory_mib,omitempty"`
	GPUDriver      string  `json:"gpu_driver,omitempty"`
	GPUCount       int     `json:"gpu_count,omitempty"`
	CUDAVersion    string  `json:"cuda_version,omitempty"`
	DockerVersion  string  `json:"docker_version,omitempty"`
}

var (
	prettyNameRe    = regexp.MustCompile(`PRETTY_NAME="(.+?)"`)
	memTotalRe      = regexp.MustCompile(`Mem:\s+([\d.]+)\s*([A-Za-z]+)`)
	cudaVersionRe   = regexp.MustCompile(`CUDA Version:\s+([\d.]+)`)
	dockerVersionRe = regexp.MustCompile(`Docker version ([\d.]+)`)
)

// ParseSystemInfo parses output of the system info script into structured
// fields. Every field is best effort.
func ParseSystemInfo(raw string) *SystemInfo {
	info := &SystemInfo{}
	if raw == "" {
		return info
	}

	info.Hostname = section(raw, "HOSTNAME")
	if m := prettyNameRe.FindStringSubmatch(section(raw, "OS")); m != nil {
		info.OS = m[1]
	}
	info.Kernel = section(raw, "KERNEL")
	if v, err := strconv.Atoi(section(raw, "CPU COUNT")); err == nil {
		info.CPUCount = v
	}
	if m := memTotalRe.FindStringSubmatch(section(raw, "MEMORY")); m != nil {
		info.MemoryTotalGiB = memoryToGiB(m[1], m[2])
	}

	// GPU INFORMATION is CSV: name, memory_mib, driver, pstate, temp, util.
	if gpuSection := section(raw, "GPU INFORMATION"); gpuSection != "" && gpuSection != "N/A" {
		var lines []string
		for _, line := range strings.Split(gpuSection, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		info.GPUCount = len(lines)
		if len(lines) > 0 {
			parts := strings.Split(lines[0], ",")
			if len(parts) >= 1 {
				info.GPUName = strings.TrimSpace(parts[0])
			}
			if len(parts) >= 2 {
				memField := strings.Fields(strings.TrimSpace(parts[1]))
				if len(memField) > 0 {
					if v, err := strconv.Atoi(memField[0]); err == nil {
						info.GPUMemoryMiB = v
					}
				}
			}
			if len(parts) >= 3 {
				info.GPUDriver = strings.TrimSpace(parts[2])
			}
		}
	}

	if m := cudaVersionRe.FindStringSubmatch(section(raw, "GPU DETAILS")); m != nil {
		info.CUDAVersion = m[1]
	}
	if m := dockerVersionRe.FindStringSubmatch(section(raw, "DOCKER VERSION")); m != nil {
		info.DockerVersion = m[1]
	}

	return info
}

// section extracts content between "=== NAME ===" markers.
func section(raw, name string) string {
	re := regexp.MustCompile(`(?s)=== ` + regexp.QuoteMeta(name) + ` ===\n(.*?)(\n=== |\z)`)
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func memoryToGiB(value, suffix string) float64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(suffix) {
	case "gi":
		return v
	case "g":
		return v / 1.073741824
	case "mi":
		return v / 1024
	case "ti":
		return v * 1024
	default:
		return v
	}
}

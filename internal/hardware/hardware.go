// Package hardware maps GPU product names to provider instance types and
// short names used in task identifiers and result filenames.
package hardware

import (
	"fmt"
	"strings"
)

// InstanceType is one provider offering for a GPU product.
type InstanceType struct {
	Provider string // "cloudrift" | "gcloud"
	Base     string // base instance type name, GPU count appended later
}

// instanceTypes maps a GPU product name to its provider offerings in
// preference order.
var instanceTypes = map[string][]InstanceType{
	"NVIDIA GeForce RTX 4090": {
		{Provider: "cloudrift", Base: "rtx49-10c-kn"},
		{Provider: "cloudrift", Base: "rtx49-7-50-500-nr"},
		{Provider: "cloudrift", Base: "rtx49-15-80-400-ec"},
		{Provider: "cloudrift", Base: "rtx49-7c-kn"},
	},
	"NVIDIA GeForce RTX 5090": {
		{Provider: "cloudrift", Base: "rtx59-7-50-400-ec"},
		{Provider: "cloudrift", Base: "rtx59-15-80-400-ec"},
		{Provider: "cloudrift", Base: "rtx59-16c-nr"},
		{Provider: "cloudrift", Base: "rtx59-11-56-850-1lg"},
	},
	"NVIDIA RTX PRO 6000 Workstation Edition": {
		{Provider: "cloudrift", Base: "rtxpro6000-12-100-1500-nr"},
		{Provider: "cloudrift", Base: "rtxpro6000-4-100-1000-ti"},
		{Provider: "cloudrift", Base: "rtxpro6000-11-50-500-1l"},
	},
	"NVIDIA RTX PRO 6000 Server Edition": {
		{Provider: "gcloud", Base: "g4-standard"},
	},
	"NVIDIA L40S": {
		{Provider: "cloudrift", Base: "l40s-24c-kn"},
	},
	"NVIDIA H100 80GB": {
		{Provider: "gcloud", Base: "a3-highgpu"},
	},
	"NVIDIA H200 141GB": {
		{Provider: "gcloud", Base: "a3-ultragpu"},
	},
	"NVIDIA B200": {
		{Provider: "gcloud", Base: "a4-highgpu"},
	},
	"NVIDIA A100 40GB": {
		{Provider: "gcloud", Base: "a2-highgpu"},
	},
	"NVIDIA A100 80GB": {
		{Provider: "gcloud", Base: "a2-ultragpu"},
	},
	"AMD Instinct MI350X": {
		{Provider: "cloudrift", Base: "mi350x-15-250-1000-gv"},
	},
}

// shortNames maps a GPU product name to the short form used in identifiers.
var shortNames = map[string]string{
	"NVIDIA GeForce RTX 4090":                 "rtx4090",
	"NVIDIA GeForce RTX 5090":                 "rtx5090",
	"NVIDIA RTX PRO 6000 Workstation Edition": "pro6000",
	"NVIDIA RTX PRO 6000 Server Edition":      "pro6000",
	"NVIDIA L40S":                             "l40s",
	"NVIDIA H100 80GB":                        "h100",
	"NVIDIA H200 141GB":                       "h200",
	"NVIDIA B200":                             "b200",
	"NVIDIA A100 40GB":                        "a100",
	"NVIDIA A100 80GB":                        "a100",
	"AMD Instinct MI350X":                     "mi350x",
}

// ShortName maps a full GPU product name to its short identifier form.
// Unknown names fall back to their lowercased alphanumeric characters, so
// "H100" becomes "h100" without a table entry.
func ShortName(fullName string) string {
	if short, ok := shortNames[fullName]; ok {
		return short
	}
	var b strings.Builder
	for _, r := range strings.ToLower(fullName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Lookup returns the provider offerings for a GPU product name in
// preference order.
func Lookup(gpuName string) ([]InstanceType, error) {
	entries, ok := instanceTypes[gpuName]
	if !ok {
		return nil, fmt.Errorf("unknown GPU %q: not in hardware table", gpuName)
	}
	return entries, nil
}

// ResolveInstanceType derives the full instance type name from a base name
// and GPU count, following each provider's naming convention.
func ResolveInstanceType(provider, base string, gpuCount int) string {
	if provider == "cloudrift" {
		return fmt.Sprintf("%s.%d", base, gpuCount)
	}
	if base == "g4-standard" {
		return fmt.Sprintf("g4-standard-%d", gpuCount*48)
	}
	return fmt.Sprintf("%s-%dg", base, gpuCount)
}

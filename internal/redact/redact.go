// Package redact removes known secret values from text before it reaches
// logs or result files.
package redact

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// secretEnvVars are environment variables whose values must never appear in
// output.
var secretEnvVars = []string{
	"HF_TOKEN",
	"HUGGING_FACE_HUB_TOKEN",
	"CLOUDRIFT_API_KEY",
	"GCP_SERVICE_ACCOUNT",
	"GOOGLE_APPLICATION_CREDENTIALS",
}

// minSecretLength skips short values to avoid false positives.
const minSecretLength = 8

var (
	once    sync.Once
	secrets []string
)

func collect() []string {
	var values []string
	seen := make(map[string]struct{})
	for _, name := range secretEnvVars {
		v := os.Getenv(name)
		if len(v) < minSecretLength {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	// Longer values first so substrings of other secrets don't leave
	// fragments behind.
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	return values
}

// Secrets replaces every known secret value in text with "***". Additional
// values can be registered per call for secrets not sourced from the
// environment.
func Secrets(text string, extra ...string) string {
	once.Do(func() { secrets = collect() })

	values := secrets
	if len(extra) > 0 {
		values = append(append([]string{}, secrets...), extra...)
		sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	}

	for _, v := range values {
		if len(v) >= minSecretLength {
			text = strings.ReplaceAll(text, v, "***")
		}
	}
	return text
}

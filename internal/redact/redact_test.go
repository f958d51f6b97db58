package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecrets_ExtraValues(t *testing.T) {
	out := Secrets("HUGGING_FACE_HUB_TOKEN=hf_abcdef123456", "hf_abcdef123456")
	assert.Equal(t, "HUGGING_FACE_HUB_TOKEN=***", out)
}

func TestSecrets_ShortValuesIgnored(t *testing.T) {
	out := Secrets("token=short", "short")
	assert.Equal(t, "token=short", out)
}

func TestSecrets_MultipleOccurrences(t *testing.T) {
	out := Secrets("key=rift_key_12345 again rift_key_12345", "rift_key_12345")
	assert.Equal(t, "key=*** again ***", out)
}

func TestSecrets_NoSecrets(t *testing.T) {
	assert.Equal(t, "plain text", Secrets("plain text"))
}

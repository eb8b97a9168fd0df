package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKnownPrompts(t *testing.T) {
	ClearCache()

	for _, tc := range []struct{ file, key string }{
		{"extraction.json", "system"},
		{"extraction.json", "extract_variables"},
		{"extraction.json", "caller_instructions"},
		{"regen.json", "system"},
		{"regen.json", "rewrite_variables"},
	} {
		prompt, err := Get(tc.file, tc.key)
		require.NoError(t, err, "%s/%s", tc.file, tc.key)
		assert.NotEmpty(t, prompt)
	}
}

func TestGetMissing(t *testing.T) {
	_, err := Get("extraction.json", "no-such-key")
	assert.Error(t, err)

	_, err = Get("missing.json", "system")
	assert.Error(t, err)
}

func TestFormatReplacesPlaceholders(t *testing.T) {
	out := Format("hello {{.Name}}, mode={{.Mode}}", map[string]string{
		"Name": "world",
		"Mode": "full",
	})
	assert.Equal(t, "hello world, mode=full", out)
}

func TestExtractionTemplateHasSlots(t *testing.T) {
	prompt, err := Get("extraction.json", "extract_variables")
	require.NoError(t, err)
	for _, slot := range []string{"{{.ContextPack}}", "{{.Evidence}}", "{{.ReferenceBlock}}", "{{.ResearchBlock}}"} {
		assert.True(t, strings.Contains(prompt, slot), "missing slot %s", slot)
	}
}

func TestRewriteTemplateHasSlots(t *testing.T) {
	prompt, err := Get("regen.json", "rewrite_variables")
	require.NoError(t, err)
	assert.Contains(t, prompt, "{{.Variables}}")
	assert.Contains(t, prompt, "{{.Delta}}")
}

package report

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummary_PrintWithGGUF(t *testing.T) {
	var buf bytes.Buffer
	Summary{
		Name:        "qwen3-sql-mlx",
		AdapterPath: "out/adapters",
		FusedPath:   "out/fused_model",
		GGUFPath:    "out/fused_model/ggml-model-f16.gguf",
	}.Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "Training complete!")

	absGGUF, err := filepath.Abs("out/fused_model/ggml-model-f16.gguf")
	assert.NoError(t, err)
	assert.Contains(t, out, absGGUF)

	assert.Contains(t, out, "lms import "+absGGUF+" --user-repo local/qwen3-sql-mlx")
	assert.Contains(t, out, "ollama create qwen3-sql-mlx")
	assert.NotContains(t, out, "mlx_lm.generate")
	assert.NotContains(t, out, "Warning:")
}

func TestSummary_PrintFusedOnly(t *testing.T) {
	var buf bytes.Buffer
	Summary{
		Name:        "qwen3-sql-mlx",
		AdapterPath: "out/adapters",
		FusedPath:   "out/fused_model",
	}.Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "mlx_lm.generate")
	assert.NotContains(t, out, "lms import")
	assert.NotContains(t, out, "ollama")
}

func TestSummary_PrintWarningAndManualConvert(t *testing.T) {
	var buf bytes.Buffer
	Summary{
		Name:      "qwen3-sql",
		FinalPath: "out/qwen3-sql-final",
		Warning:   "GGUF conversion failed: exit status 1",
	}.Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "Warning: GGUF conversion failed: exit status 1")
	assert.Contains(t, out, "Convert to GGUF manually:")
}

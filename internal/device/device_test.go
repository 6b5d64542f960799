package device

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileSelection(t *testing.T) {
	tests := []struct {
		name    string
		facts   Facts
		backend Backend
		batch   int
	}{
		{"apple silicon", Facts{OS: "darwin", Arch: "arm64", HasMPS: true}, MPS, 2},
		{"cuda", Facts{OS: "linux", Arch: "amd64", HasCUDA: true}, CUDA, 4},
		{"mps preferred over cuda", Facts{OS: "darwin", Arch: "arm64", HasMPS: true, HasCUDA: true}, MPS, 2},
		{"cpu fallback", Facts{OS: "linux", Arch: "amd64"}, CPU, 1},
		{"intel mac without accelerator", Facts{OS: "darwin", Arch: "amd64"}, CPU, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := ProfileFor(tt.facts)
			assert.Equal(t, tt.backend, profile.Backend)
			assert.Equal(t, tt.batch, profile.DefaultBatchSize)
		})
	}
}

func TestPrecisionFlagsNeverBothSet(t *testing.T) {
	for _, facts := range []Facts{
		{HasMPS: true},
		{HasCUDA: true},
		{},
	} {
		profile := ProfileFor(facts)
		assert.False(t, profile.BF16 && profile.FP16, "bf16 and fp16 must not both be set for backend %s", profile.Backend)
	}
}

func TestProfilesPairwiseDistinct(t *testing.T) {
	mps := ProfileFor(Facts{HasMPS: true})
	cuda := ProfileFor(Facts{HasCUDA: true})
	cpu := ProfileFor(Facts{})

	assert.NotEqual(t, mps, cuda)
	assert.NotEqual(t, mps, cpu)
	assert.NotEqual(t, cuda, cpu)
}

func TestProfileSelectionIsDeterministic(t *testing.T) {
	facts := Facts{OS: "linux", Arch: "amd64", HasCUDA: true}
	assert.Equal(t, ProfileFor(facts), ProfileFor(facts))
}

func TestCheckAppleSilicon(t *testing.T) {
	var buf bytes.Buffer

	err := CheckAppleSilicon(Facts{OS: "linux", Arch: "amd64"}, &buf)
	require.ErrorIs(t, err, ErrNotMacOS)

	buf.Reset()
	require.NoError(t, CheckAppleSilicon(Facts{OS: "darwin", Arch: "arm64"}, &buf))
	assert.Empty(t, buf.String())

	buf.Reset()
	require.NoError(t, CheckAppleSilicon(Facts{OS: "darwin", Arch: "amd64"}, &buf))
	assert.Contains(t, buf.String(), "WARNING")
}

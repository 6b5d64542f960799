// Package report renders the end-of-run summary: artifact locations and
// example commands for loading the result into inference tools.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Summary collects the artifacts a run produced. Empty fields are omitted
// from the output.
type Summary struct {
	Name string // short model name used in example commands

	AdapterPath string
	FusedPath   string
	FinalPath   string
	GGUFPath    string

	// Warning carries a non-fatal problem, e.g. a failed GGUF export.
	Warning string
}

func abs(path string) string {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return resolved
}

// Print writes the human-readable summary.
func (s Summary) Print(w io.Writer) {
	line := strings.Repeat("=", 60)

	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "Training complete!")
	fmt.Fprintln(w, line)
	fmt.Fprintln(w)

	if s.Warning != "" {
		fmt.Fprintf(w, "Warning: %s\n\n", s.Warning)
	}

	if s.AdapterPath != "" {
		fmt.Fprintf(w, "Adapters:    %s\n", abs(s.AdapterPath))
	}
	if s.FusedPath != "" {
		fmt.Fprintf(w, "Fused model: %s\n", abs(s.FusedPath))
	}
	if s.FinalPath != "" {
		fmt.Fprintf(w, "Model saved to: %s\n", abs(s.FinalPath))
	}
	if s.GGUFPath != "" {
		fmt.Fprintf(w, "GGUF model:  %s\n", abs(s.GGUFPath))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Next steps - Use your fine-tuned model:")
	fmt.Fprintln(w)

	if s.GGUFPath != "" {
		gguf := abs(s.GGUFPath)
		fmt.Fprintln(w, "  LMStudio:")
		fmt.Fprintf(w, "    lms import %s --user-repo local/%s\n", gguf, s.Name)
		fmt.Fprintf(w, "    lms load local/%s --gpu max\n", s.Name)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Ollama:")
		fmt.Fprintf(w, "    echo 'FROM %s' > Modelfile\n", gguf)
		fmt.Fprintf(w, "    ollama create %s -f Modelfile\n", s.Name)
		fmt.Fprintf(w, "    ollama run %s\n", s.Name)
	} else if s.FusedPath != "" {
		fmt.Fprintln(w, "  Generate with MLX:")
		fmt.Fprintf(w, "    mlx_lm.generate --model %s --prompt 'Your prompt'\n", abs(s.FusedPath))
	} else if s.FinalPath != "" {
		final := abs(s.FinalPath)
		fmt.Fprintln(w, "  Convert to GGUF manually:")
		fmt.Fprintf(w, "    python3 convert_hf_to_gguf.py %s --outfile %s.gguf --outtype q8_0\n", final, final)
	}
	fmt.Fprintln(w)
}

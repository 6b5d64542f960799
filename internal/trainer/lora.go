package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"sqltune/internal/proc"
)

// ErrArtifactMissing reports an external tool that exited zero without
// producing the artifact it was asked for. Callers must treat it as its own
// failure kind, not as "no artifact requested".
var ErrArtifactMissing = errors.New("tool reported success but artifact is absent")

// fusedGGUFName is the fixed filename mlx_lm.fuse writes when GGUF export is
// requested.
const fusedGGUFName = "ggml-model-f16.gguf"

// LoraOptions are the per-run knobs of the adapter trainer.
type LoraOptions struct {
	Model        string
	Iters        int
	BatchSize    int
	LearningRate float64
	NumLayers    int
	OutputDir    string
}

// LoraTrainer drives mlx_lm LoRA training and adapter fusing as subprocesses.
type LoraTrainer struct {
	python string
	runner proc.Runner

	stdout io.Writer
	stderr io.Writer
}

func NewLoraTrainer(python string, runner proc.Runner) *LoraTrainer {
	return &LoraTrainer{python: python, runner: runner, stdout: os.Stdout, stderr: os.Stderr}
}

// SetOutput redirects the child process streams, used by tests.
func (t *LoraTrainer) SetOutput(stdout, stderr io.Writer) {
	t.stdout = stdout
	t.stderr = stderr
}

// Train blocks until the external LoRA trainer exits. A non-zero exit is
// fatal; the returned path is the adapter directory the trainer wrote.
func (t *LoraTrainer) Train(ctx context.Context, opts LoraOptions, dataDir string) (string, error) {
	adapterPath := filepath.Join(opts.OutputDir, "adapters")

	cmd := proc.Command{
		Name: t.python,
		Args: []string{
			"-m", "mlx_lm.lora",
			"--model", opts.Model,
			"--train",
			"--data", dataDir,
			"--adapter-path", adapterPath,
			"--iters", strconv.Itoa(opts.Iters),
			"--batch-size", strconv.Itoa(opts.BatchSize),
			"--learning-rate", strconv.FormatFloat(opts.LearningRate, 'g', -1, 64),
			"--num-layers", strconv.Itoa(opts.NumLayers),
		},
	}

	slog.Info("running LoRA trainer", "cmd", cmd.String())
	if err := t.runner.Run(ctx, cmd, t.stdout, t.stderr); err != nil {
		return "", fmt.Errorf("LoRA training failed: %w", err)
	}

	return adapterPath, nil
}

// Fuse merges adapter weights into the base model, optionally exporting GGUF
// in the same invocation. When export was requested and the fuser exited
// zero, a missing GGUF file surfaces as ErrArtifactMissing alongside the
// fused path.
func (t *LoraTrainer) Fuse(ctx context.Context, opts LoraOptions, adapterPath string, exportGGUF bool) (fusedPath, ggufPath string, err error) {
	fusedPath = filepath.Join(opts.OutputDir, "fused_model")

	args := []string{
		"-m", "mlx_lm.fuse",
		"--model", opts.Model,
		"--adapter-path", adapterPath,
		"--save-path", fusedPath,
	}
	if exportGGUF {
		args = append(args, "--export-gguf")
	}

	cmd := proc.Command{Name: t.python, Args: args}
	slog.Info("fusing adapters", "cmd", cmd.String())
	if err := t.runner.Run(ctx, cmd, t.stdout, t.stderr); err != nil {
		return "", "", fmt.Errorf("fusing adapters failed: %w", err)
	}

	if !exportGGUF {
		return fusedPath, "", nil
	}

	ggufPath = filepath.Join(fusedPath, fusedGGUFName)
	if _, statErr := os.Stat(ggufPath); statErr != nil {
		return fusedPath, "", fmt.Errorf("GGUF export %s: %w", ggufPath, ErrArtifactMissing)
	}
	return fusedPath, ggufPath, nil
}

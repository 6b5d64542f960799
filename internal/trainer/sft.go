package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"sqltune/internal/device"
	"sqltune/internal/proc"
)

//go:embed sft_runner.py
var sftRunnerScript []byte

// SFTArguments mirrors the training-arguments schema of the SFT runtime. The
// zero value is not useful; build it with NewSFTArguments.
type SFTArguments struct {
	OutputDir                 string  `json:"output_dir"`
	NumTrainEpochs            int     `json:"num_train_epochs"`
	PerDeviceTrainBatchSize   int     `json:"per_device_train_batch_size"`
	PerDeviceEvalBatchSize    int     `json:"per_device_eval_batch_size"`
	GradientAccumulationSteps int     `json:"gradient_accumulation_steps"`
	GradientCheckpointing     bool    `json:"gradient_checkpointing"`
	LearningRate              float64 `json:"learning_rate"`
	BF16                      bool    `json:"bf16"`
	FP16                      bool    `json:"fp16"`
	LoggingSteps              int     `json:"logging_steps"`
	SaveStrategy              string  `json:"save_strategy"`
	EvalStrategy              string  `json:"eval_strategy"`
	MaxLength                 int     `json:"max_length"`
	WarmupRatio               float64 `json:"warmup_ratio"`
	LrSchedulerType           string  `json:"lr_scheduler_type"`
	ReportTo                  string  `json:"report_to"`
	DataloaderPinMemory       bool    `json:"dataloader_pin_memory"`
}

// NewSFTArguments combines device-profile defaults with per-run knobs.
// Gradient accumulation is fixed at 4 and sequence length at 512; no
// checkpoints or evaluation happen mid-training.
func NewSFTArguments(outputDir string, epochs, batchSize int, learningRate float64, profile device.Profile) SFTArguments {
	return SFTArguments{
		OutputDir:                 outputDir,
		NumTrainEpochs:            epochs,
		PerDeviceTrainBatchSize:   batchSize,
		PerDeviceEvalBatchSize:    batchSize,
		GradientAccumulationSteps: 4,
		GradientCheckpointing:     profile.GradientCheckpointing,
		LearningRate:              learningRate,
		BF16:                      profile.BF16,
		FP16:                      profile.FP16,
		LoggingSteps:              10,
		SaveStrategy:              "no", // no mid-run checkpoints, saves disk
		EvalStrategy:              "no",
		MaxLength:                 512,
		WarmupRatio:               0.1,
		LrSchedulerType:           "cosine",
		ReportTo:                  "none",
		DataloaderPinMemory:       profile.Backend != device.MPS,
	}
}

// SFTJob is one full-finetune invocation: the base model, resolved training
// arguments, and the on-disk splits.
type SFTJob struct {
	Model     string
	Args      SFTArguments
	TrainPath string
	EvalPath  string
}

// FinalPath is where the runner saves the trained model.
func (j SFTJob) FinalPath() string {
	return j.Args.OutputDir + "-final"
}

// sftRunnerConfig is the JSON handed to the embedded Python runner.
type sftRunnerConfig struct {
	Model     string       `json:"model"`
	TrainFile string       `json:"train_file"`
	EvalFile  string       `json:"eval_file,omitempty"`
	FinalPath string       `json:"final_path"`
	Args      SFTArguments `json:"args"`
}

// SFTTrainer invokes the external SFT runtime through an embedded runner
// script. The optimization loop itself is entirely the framework's.
type SFTTrainer struct {
	python   string
	cacheDir string
	runner   proc.Runner

	stdout io.Writer
	stderr io.Writer
}

func NewSFTTrainer(python, cacheDir string, runner proc.Runner) *SFTTrainer {
	return &SFTTrainer{python: python, cacheDir: cacheDir, runner: runner, stdout: os.Stdout, stderr: os.Stderr}
}

// SetOutput redirects the child process streams, used by tests.
func (t *SFTTrainer) SetOutput(stdout, stderr io.Writer) {
	t.stdout = stdout
	t.stderr = stderr
}

// Train materializes the runner script and job config, then blocks until the
// framework exits. Returns the final model directory.
func (t *SFTTrainer) Train(ctx context.Context, job SFTJob) (string, error) {
	scriptPath := filepath.Join(t.cacheDir, "sft_runner.py")
	if err := os.MkdirAll(t.cacheDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("error creating cache dir %s: %w", t.cacheDir, err)
	}
	if err := os.WriteFile(scriptPath, sftRunnerScript, 0644); err != nil {
		return "", fmt.Errorf("error writing runner script: %w", err)
	}

	configPath := filepath.Join(job.Args.OutputDir, "sft_config.json")
	config := sftRunnerConfig{
		Model:     job.Model,
		TrainFile: job.TrainPath,
		EvalFile:  job.EvalPath,
		FinalPath: job.FinalPath(),
		Args:      job.Args,
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error encoding trainer config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("error writing trainer config: %w", err)
	}

	cmd := proc.Command{
		Name: t.python,
		Args: []string{scriptPath, "--config", configPath},
		// Scoped to this invocation; the parent environment stays untouched.
		Env: map[string]string{
			"TOKENIZERS_PARALLELISM":       "false",
			"TRANSFORMERS_VERBOSITY":       "error",
			"HF_HUB_DISABLE_PROGRESS_BARS": "1",
		},
	}

	slog.Info("running SFT trainer", "cmd", cmd.String(), "config", configPath)
	if err := t.runner.Run(ctx, cmd, t.stdout, t.stderr); err != nil {
		return "", fmt.Errorf("SFT training failed: %w", err)
	}

	return job.FinalPath(), nil
}

// Package convert produces GGUF files from trained models by delegating to
// the llama.cpp converter, either inside a container or through a cached copy
// of the conversion script.
package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"

	"sqltune/internal/proc"
)

// BenignStderr lists known false-positive diagnostics the converter and its
// tokenizer stack print on stderr. Matching lines are dropped; everything
// else is forwarded untouched.
var BenignStderr = []string{
	"incorrect regex pattern", // Qwen3 tokenizer falsely triggers the Mistral warning
	"huggingface/tokenizers: The current process just got forked",
	"To disable this warning",
	"Avoid using `tokenizers` before the fork",
	"Explicitly set the environment variable TOKENIZERS_PARALLELISM",
}

// suppressionEnv is applied to every converter invocation as a scoped
// override; the parent process environment is never mutated.
var suppressionEnv = map[string]string{
	"TOKENIZERS_PARALLELISM":       "false",
	"TRANSFORMERS_VERBOSITY":       "error",
	"HF_HUB_DISABLE_PROGRESS_BARS": "1",
	"PYTHONWARNINGS":               "ignore",
}

type Status int

const (
	// Converted: the GGUF file was produced.
	Converted Status = iota
	// Skipped: conversion was not requested.
	Skipped
	// Failed: the converter ran and failed. Callers decide whether this is
	// fatal; the run that produced the model is still intact.
	Failed
)

// Result is the tagged outcome of a conversion attempt. Using a tag instead
// of a caught error keeps callers from accidentally swallowing unrelated
// failures.
type Result struct {
	Status Status
	Path   string
	Err    error
}

// Options configure a Converter.
type Options struct {
	PythonExec  string
	DockerBin   string
	DockerImage string
	ScriptURL   string
	CacheDir    string

	// Arch overrides the detected host architecture, used by tests. The
	// container image is x86_64-only, so ARM hosts always use the script.
	Arch string
}

type Converter struct {
	opts   Options
	runner proc.Runner
	client *resty.Client

	stdout io.Writer
	stderr io.Writer
}

func NewConverter(opts Options, runner proc.Runner) *Converter {
	if opts.Arch == "" {
		opts.Arch = runtime.GOARCH
	}
	return &Converter{
		opts:   opts,
		runner: runner,
		client: resty.New().SetTimeout(5 * time.Minute),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SetOutput redirects the child process streams, used by tests.
func (c *Converter) SetOutput(stdout, stderr io.Writer) {
	c.stdout = stdout
	c.stderr = stderr
}

// EnsureScript downloads the conversion script on first use and caches it.
func (c *Converter) EnsureScript(ctx context.Context) (string, error) {
	scriptPath := filepath.Join(c.opts.CacheDir, "convert_hf_to_gguf.py")
	if _, err := os.Stat(scriptPath); err == nil {
		return scriptPath, nil
	}

	if err := os.MkdirAll(c.opts.CacheDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("error creating cache dir %s: %w", c.opts.CacheDir, err)
	}

	slog.Info("downloading conversion script", "url", c.opts.ScriptURL)
	res, err := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(c.opts.ScriptURL)
	if err != nil {
		return "", fmt.Errorf("error downloading conversion script: %w", err)
	}
	defer res.RawBody().Close()

	if !res.IsSuccess() {
		return "", fmt.Errorf("conversion script download returned status %d", res.StatusCode())
	}

	tmpPath := scriptPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("error creating %s: %w", tmpPath, err)
	}

	bar := progressbar.DefaultBytes(res.RawResponse.ContentLength, "downloading converter")
	if _, err := io.Copy(io.MultiWriter(f, bar), res.RawBody()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("error saving conversion script: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, scriptPath); err != nil {
		return "", fmt.Errorf("error caching conversion script: %w", err)
	}
	return scriptPath, nil
}

// dockerAvailable probes the container runtime with a version check.
func (c *Converter) dockerAvailable(ctx context.Context) bool {
	cmd := proc.Command{Name: c.opts.DockerBin, Args: []string{"--version"}}
	return c.runner.Run(ctx, cmd, io.Discard, io.Discard) == nil
}

func isARM(arch string) bool {
	return arch == "arm64" || arch == "aarch64" || arch == "arm"
}

// Convert produces a GGUF file at outputPath from the model directory at
// modelPath. The outcome is a tagged Result: it never panics or aborts the
// caller, and a Failed result leaves the trained model untouched.
func (c *Converter) Convert(ctx context.Context, modelPath, outputPath, quantization string) Result {
	modelPath, err := filepath.Abs(modelPath)
	if err != nil {
		return Result{Status: Failed, Err: err}
	}
	outputPath, err = filepath.Abs(outputPath)
	if err != nil {
		return Result{Status: Failed, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return Result{Status: Failed, Err: fmt.Errorf("error creating output dir: %w", err)}
	}

	var cmd proc.Command
	if c.dockerAvailable(ctx) && !isARM(c.opts.Arch) {
		outputDir := filepath.Dir(outputPath)
		outputName := filepath.Base(outputPath)
		cmd = proc.Command{
			Name: c.opts.DockerBin,
			Args: []string{
				"run", "--rm",
				"-e", "TOKENIZERS_PARALLELISM=false",
				"-e", "TRANSFORMERS_VERBOSITY=error",
				"-v", modelPath + ":/model:ro",
				"-v", outputDir + ":/output",
				c.opts.DockerImage,
				"python3", "/app/convert_hf_to_gguf.py",
				"/model",
				"--outfile", "/output/" + outputName,
				"--outtype", quantization,
			},
			Env: suppressionEnv,
		}
		slog.Info("converting to GGUF", "image", c.opts.DockerImage)
	} else {
		scriptPath, err := c.EnsureScript(ctx)
		if err != nil {
			return Result{Status: Failed, Err: err}
		}
		cmd = proc.Command{
			Name: c.opts.PythonExec,
			Args: []string{
				"-W", "ignore::UserWarning",
				scriptPath,
				modelPath,
				"--outfile", outputPath,
				"--outtype", quantization,
			},
			Env: suppressionEnv,
		}
		slog.Info("converting to GGUF", "script", scriptPath)
	}

	if err := c.runner.RunFiltered(ctx, cmd, c.stdout, c.stderr, BenignStderr); err != nil {
		return Result{Status: Failed, Err: err}
	}

	if _, err := os.Stat(outputPath); err != nil {
		return Result{Status: Failed, Err: fmt.Errorf("GGUF output %s: converter exited zero but artifact is absent", outputPath)}
	}

	return Result{Status: Converted, Path: outputPath}
}

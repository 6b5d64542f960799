package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqltune/internal/convert"
	"sqltune/internal/database"
	"sqltune/internal/dataset"
	"sqltune/internal/device"
	"sqltune/internal/proc"
	"sqltune/internal/storage"
	"sqltune/internal/trainer"
)

// fakeRunner records every command and lets tests fake tool side effects.
type fakeRunner struct {
	commands []proc.Command
	onRun    func(cmd proc.Command) error
}

func (r *fakeRunner) Run(ctx context.Context, cmd proc.Command, stdout, stderr io.Writer) error {
	r.commands = append(r.commands, cmd)
	if r.onRun != nil {
		return r.onRun(cmd)
	}
	return nil
}

func (r *fakeRunner) RunFiltered(ctx context.Context, cmd proc.Command, stdout, stderr io.Writer, drop []string) error {
	return r.Run(ctx, cmd, stdout, stderr)
}

func writeLocalDataset(t *testing.T, rows int) string {
	t.Helper()

	type row struct {
		Row dataset.Example `json:"row"`
	}
	doc := struct {
		Rows []row `json:"rows"`
	}{}
	for i := 0; i < rows; i++ {
		doc.Rows = append(doc.Rows, row{Row: dataset.Example{
			Context:  fmt.Sprintf("CREATE TABLE t%d (id INT)", i),
			Question: fmt.Sprintf("How many rows does t%d have?", i),
			Answer:   fmt.Sprintf("SELECT COUNT(*) FROM t%d", i),
		}})
	}

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sql-create-context.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func readJSONLLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestLoraPipeline_EndToEnd(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "qwen3-sql-mlx")
	dataPath := writeLocalDataset(t, 100)

	runner := &fakeRunner{
		onRun: func(cmd proc.Command) error {
			if !strings.Contains(cmd.String(), "mlx_lm.fuse") {
				return nil
			}
			// The real fuser writes the GGUF file inside the fused model dir.
			fused := filepath.Join(outputDir, "fused_model")
			if err := os.MkdirAll(fused, os.ModePerm); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(fused, "ggml-model-f16.gguf"), []byte("gguf"), 0644)
		},
	}

	registry, err := database.OpenRegistry(filepath.Join(t.TempDir(), "db", "test.db"))
	require.NoError(t, err)

	publishDir := t.TempDir()
	publisher, err := storage.NewLocalProvider(publishDir)
	require.NoError(t, err)

	loraTrainer := trainer.NewLoraTrainer("python3", runner)
	loraTrainer.SetOutput(io.Discard, io.Discard)

	var out bytes.Buffer
	pipeline := &LoraPipeline{
		Deps: Deps{
			Registry:  registry,
			Publisher: publisher,
			Bucket:    "trained-models",
			Out:       &out,
		},
		Trainer: loraTrainer,
	}

	params := LoraParams{
		Options: trainer.LoraOptions{
			Model:        "Qwen/Qwen3-0.5B",
			Iters:        1000,
			BatchSize:    4,
			LearningRate: 1e-5,
			NumLayers:    16,
			OutputDir:    outputDir,
		},
		Data:         DataSource{LocalPath: dataPath, MaxSamples: 50},
		EvalFraction: 0.1,
		ExportGGUF:   true,
		LintSQL:      true,
	}

	summary, err := pipeline.Run(context.Background(), params)
	require.NoError(t, err)

	// Sample cap then deterministic split: 50 rows, 10% eval.
	trainLines := readJSONLLines(t, filepath.Join(outputDir, "data", "train.jsonl"))
	validLines := readJSONLLines(t, filepath.Join(outputDir, "data", "valid.jsonl"))
	assert.Len(t, trainLines, 45)
	assert.Len(t, validLines, 5)

	var record dataset.ChatRecord
	require.NoError(t, json.Unmarshal([]byte(trainLines[0]), &record))
	require.Len(t, record.Messages, 2)
	assert.Equal(t, "user", record.Messages[0].Role)
	assert.Equal(t, "assistant", record.Messages[1].Role)
	assert.Contains(t, record.Messages[0].Content, "Given the following SQL schema:")

	require.Len(t, runner.commands, 2)
	assert.Contains(t, runner.commands[0].String(), "mlx_lm.lora")
	assert.Contains(t, runner.commands[1].String(), "mlx_lm.fuse")
	assert.Contains(t, runner.commands[1].String(), "--export-gguf")

	assert.Equal(t, "qwen3-sql-mlx", summary.Name)
	assert.Equal(t, filepath.Join(outputDir, "adapters"), summary.AdapterPath)
	assert.Equal(t, filepath.Join(outputDir, "fused_model"), summary.FusedPath)
	assert.Equal(t, filepath.Join(outputDir, "fused_model", "ggml-model-f16.gguf"), summary.GGUFPath)
	assert.Empty(t, summary.Warning)

	runs, err := registry.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunCompleted, runs[0].Status)
	assert.Equal(t, "lora", runs[0].Variant)
	assert.Len(t, runs[0].Artifacts, 3)

	published := filepath.Join(publishDir, "trained-models", runs[0].Id.String(), "ggml-model-f16.gguf")
	_, err = os.Stat(published)
	assert.NoError(t, err)
}

func TestLoraPipeline_TrainingFailureRecorded(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "qwen3-sql-mlx")
	dataPath := writeLocalDataset(t, 10)

	runner := &fakeRunner{
		onRun: func(cmd proc.Command) error {
			return &proc.ExitError{Cmd: cmd.String(), Code: 1}
		},
	}

	registry, err := database.OpenRegistry(filepath.Join(t.TempDir(), "db", "test.db"))
	require.NoError(t, err)

	loraTrainer := trainer.NewLoraTrainer("python3", runner)
	loraTrainer.SetOutput(io.Discard, io.Discard)

	pipeline := &LoraPipeline{
		Deps:    Deps{Registry: registry, Out: io.Discard},
		Trainer: loraTrainer,
	}

	_, err = pipeline.Run(context.Background(), LoraParams{
		Options: trainer.LoraOptions{Model: "Qwen/Qwen3-0.5B", OutputDir: outputDir},
		Data:    DataSource{LocalPath: dataPath},
	})
	require.Error(t, err)

	runs, err := registry.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunFailed, runs[0].Status)
	assert.True(t, runs[0].Error.Valid)
	assert.Contains(t, runs[0].Error.String, "exited with code 1")
}

func TestSFTPipeline_ConversionFailureIsNotFatal(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "qwen3-sql")
	dataPath := writeLocalDataset(t, 20)
	finalPath := outputDir + "-final"

	cacheDir := t.TempDir()
	// Pre-seed the converter script so no download happens.
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "convert_hf_to_gguf.py"), []byte("# converter"), 0644))

	runner := &fakeRunner{
		onRun: func(cmd proc.Command) error {
			s := cmd.String()
			switch {
			case strings.Contains(s, "sft_runner.py"):
				return os.MkdirAll(finalPath, os.ModePerm)
			case strings.Contains(s, "--version"):
				// No container runtime on this host.
				return &proc.ExitError{Cmd: s, Code: 127}
			case strings.Contains(s, "convert_hf_to_gguf.py"):
				return &proc.ExitError{Cmd: s, Code: 1}
			default:
				return nil
			}
		},
	}

	registry, err := database.OpenRegistry(filepath.Join(t.TempDir(), "db", "test.db"))
	require.NoError(t, err)

	sftTrainer := trainer.NewSFTTrainer("python3", cacheDir, runner)
	sftTrainer.SetOutput(io.Discard, io.Discard)

	converter := convert.NewConverter(convert.Options{
		PythonExec: "python3",
		DockerBin:  "docker",
		CacheDir:   cacheDir,
		Arch:       "amd64",
	}, runner)
	converter.SetOutput(io.Discard, io.Discard)

	profile := device.ProfileFor(device.Facts{OS: "linux", Arch: "amd64"})

	pipeline := &SFTPipeline{
		Deps:      Deps{Registry: registry, Out: io.Discard},
		Trainer:   sftTrainer,
		Converter: converter,
	}

	summary, err := pipeline.Run(context.Background(), SFTParams{
		Model:        "Qwen/Qwen3-0.6B",
		Epochs:       3,
		BatchSize:    profile.DefaultBatchSize,
		LearningRate: 2e-5,
		OutputDir:    outputDir,
		Profile:      profile,
		Data:         DataSource{LocalPath: dataPath},
		EvalFraction: 0.1,
		ConvertGGUF:  true,
		Quantization: "q8_0",
	})
	require.NoError(t, err)

	assert.Equal(t, finalPath, summary.FinalPath)
	assert.Empty(t, summary.GGUFPath)
	assert.Contains(t, summary.Warning, "GGUF conversion failed")

	// A failed conversion must not fail the run itself.
	runs, err := registry.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunCompleted, runs[0].Status)

	// 20 rows, 10% eval.
	trainLines := readJSONLLines(t, filepath.Join(outputDir, "data", "train.jsonl"))
	evalLines := readJSONLLines(t, filepath.Join(outputDir, "data", "eval.jsonl"))
	assert.Len(t, trainLines, 18)
	assert.Len(t, evalLines, 2)

	var record dataset.PromptCompletion
	require.NoError(t, json.Unmarshal([]byte(trainLines[0]), &record))
	require.Len(t, record.Prompt, 1)
	require.Len(t, record.Completion, 1)
	assert.Equal(t, "user", record.Prompt[0].Role)
	assert.Equal(t, "assistant", record.Completion[0].Role)
}

func TestSFTPipeline_PreformattedInputSkipsReformat(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "qwen3-sql")
	finalPath := outputDir + "-final"

	inputPath := filepath.Join(t.TempDir(), "train-data.jsonl")
	records := []dataset.ChatRecord{
		{Messages: []dataset.Message{{Role: "user", Content: "q1"}, {Role: "assistant", Content: "a1"}}},
		{Messages: []dataset.Message{{Role: "user", Content: "q2"}, {Role: "assistant", Content: "a2"}}},
	}
	require.NoError(t, dataset.WriteJSONL(inputPath, records))

	runner := &fakeRunner{
		onRun: func(cmd proc.Command) error {
			if strings.Contains(cmd.String(), "sft_runner.py") {
				return os.MkdirAll(finalPath, os.ModePerm)
			}
			return nil
		},
	}

	sftTrainer := trainer.NewSFTTrainer("python3", t.TempDir(), runner)
	sftTrainer.SetOutput(io.Discard, io.Discard)

	pipeline := &SFTPipeline{
		Deps:    Deps{Out: io.Discard},
		Trainer: sftTrainer,
	}

	summary, err := pipeline.Run(context.Background(), SFTParams{
		Model:        "Qwen/Qwen3-0.6B",
		Epochs:       1,
		BatchSize:    1,
		LearningRate: 2e-5,
		OutputDir:    outputDir,
		Profile:      device.ProfileFor(device.Facts{OS: "linux", Arch: "amd64"}),
		Data:         DataSource{InputPath: inputPath},
		EvalFraction: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, finalPath, summary.FinalPath)

	trainLines := readJSONLLines(t, filepath.Join(outputDir, "data", "train.jsonl"))
	var record dataset.ChatRecord
	require.NoError(t, json.Unmarshal([]byte(trainLines[0]), &record))
	assert.Len(t, record.Messages, 2)
}

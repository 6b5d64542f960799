// Package finetune wires dataset preparation, training, and artifact handling
// into the two end-to-end pipelines the CLI binaries run.
package finetune

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"sqltune/internal/convert"
	"sqltune/internal/database"
	"sqltune/internal/dataset"
	"sqltune/internal/device"
	"sqltune/internal/report"
	"sqltune/internal/storage"
	"sqltune/internal/trainer"
)

// DataSource selects where training examples come from. Exactly one of
// InputPath, UseHub, or LocalPath is consulted, in that order.
type DataSource struct {
	// InputPath points at a pre-formatted chat JSONL file. Rows are used
	// as-is, no reformatting.
	InputPath string

	// UseHub pulls the dataset from the datasets-server API instead of disk.
	UseHub bool

	// LocalPath points at a sql-create-context JSON export.
	LocalPath string

	MaxSamples int
}

// Deps are the collaborators shared by both pipelines. Registry and Publisher
// are optional; a nil value disables run bookkeeping or artifact upload.
type Deps struct {
	Registry  *database.Registry
	Publisher storage.Provider
	Bucket    string

	Hub        *dataset.HubClient
	HubDataset string

	Out io.Writer
}

func (d *Deps) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

// loadExamples resolves a DataSource into raw rows. InputPath is handled by
// the callers because the two pipelines want different record shapes.
func (d *Deps) loadExamples(ctx context.Context, src DataSource) ([]dataset.Example, error) {
	if src.UseHub {
		if d.Hub == nil {
			return nil, errors.New("hub dataset requested but no hub client configured")
		}
		fmt.Fprintln(d.out(), "Loading dataset from HuggingFace...")
		return d.Hub.LoadDataset(ctx, d.HubDataset, "train", src.MaxSamples)
	}

	fmt.Fprintf(d.out(), "Loading dataset from %s...\n", src.LocalPath)
	return dataset.LoadLocalJSON(src.LocalPath, src.MaxSamples)
}

// lintExamples reports answers outside the supported SQL subset. Advisory
// only; the rows always train as-is.
func (d *Deps) lintExamples(examples []dataset.Example) {
	issues := dataset.Lint(examples)
	if len(issues) == 0 {
		return
	}
	slog.Warn("dataset contains answers outside the linted SQL subset", "count", len(issues))
	for i, issue := range issues {
		if i >= 5 {
			slog.Warn("further lint issues suppressed", "remaining", len(issues)-i)
			break
		}
		slog.Warn("unparsed answer", "row", issue.Index, "answer", issue.Answer)
	}
}

// createRun inserts the registry record when a registry is configured. The
// zero UUID means bookkeeping is off.
func (d *Deps) createRun(variant, model string, params any) uuid.UUID {
	if d.Registry == nil {
		return uuid.Nil
	}

	id, err := d.Registry.CreateRun(variant, model, params)
	if err != nil {
		slog.Error("run registry unavailable, continuing without bookkeeping", "error", err)
		return uuid.Nil
	}
	if err := d.Registry.StartRun(id); err != nil {
		slog.Error("error marking run as running", "run_id", id, "error", err)
	}
	return id
}

func (d *Deps) finishRun(id uuid.UUID, runErr error) {
	if d.Registry == nil || id == uuid.Nil {
		return
	}

	var err error
	if runErr != nil {
		err = d.Registry.FailRun(id, runErr.Error())
	} else {
		err = d.Registry.CompleteRun(id)
	}
	if err != nil {
		slog.Error("error updating run record", "run_id", id, "error", err)
	}
}

func (d *Deps) recordArtifact(id uuid.UUID, kind, path string) {
	if d.Registry == nil || id == uuid.Nil || path == "" {
		return
	}
	if err := d.Registry.AddArtifact(id, kind, path); err != nil {
		slog.Error("error recording artifact", "run_id", id, "kind", kind, "error", err)
	}
}

// publish uploads the preferred artifact: the GGUF file when one exists,
// otherwise the model directory. Upload failures are reported but never fail
// the run; the local artifacts are already in place.
func (d *Deps) publish(ctx context.Context, prefix, ggufPath, modelDir string) {
	if d.Publisher == nil {
		return
	}

	if err := d.Publisher.CreateBucket(ctx, d.Bucket); err != nil {
		slog.Error("error preparing artifact bucket", "bucket", d.Bucket, "error", err)
		return
	}

	var err error
	if ggufPath != "" {
		key := filepath.Join(prefix, filepath.Base(ggufPath))
		slog.Info("publishing GGUF artifact", "bucket", d.Bucket, "key", key)
		err = d.Publisher.UploadFile(ctx, d.Bucket, key, ggufPath)
	} else if modelDir != "" {
		slog.Info("publishing model directory", "bucket", d.Bucket, "prefix", prefix)
		err = d.Publisher.UploadDir(ctx, d.Bucket, prefix, modelDir)
	}
	if err != nil {
		slog.Error("error publishing artifacts", "bucket", d.Bucket, "error", err)
	}
}

// artifactPrefix names the object-store folder for a run: the run id when
// bookkeeping is on, otherwise the output directory name.
func artifactPrefix(id uuid.UUID, outputDir string) string {
	if id != uuid.Nil {
		return id.String()
	}
	return filepath.Base(outputDir)
}

// LoraParams configure one adapter-training run.
type LoraParams struct {
	Options trainer.LoraOptions
	Data    DataSource

	EvalFraction float64
	ExportGGUF   bool
	LintSQL      bool
}

// LoraPipeline runs the MLX variant: prepare chat-format splits, train
// adapters, fuse them into the base model, optionally exporting GGUF.
type LoraPipeline struct {
	Deps
	Trainer *trainer.LoraTrainer
}

// prepareData writes the train/valid JSONL splits where the external trainer
// expects them and returns the data directory.
func (p *LoraPipeline) prepareData(ctx context.Context, params LoraParams) (string, error) {
	var records []dataset.ChatRecord

	if params.Data.InputPath != "" {
		fmt.Fprintf(p.out(), "Loading dataset from %s...\n", params.Data.InputPath)
		loaded, err := dataset.LoadJSONL(params.Data.InputPath, params.Data.MaxSamples)
		if err != nil {
			return "", err
		}
		records = loaded
	} else {
		examples, err := p.loadExamples(ctx, params.Data)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(p.out(), "Loaded %d examples\n", len(examples))

		if params.LintSQL {
			p.lintExamples(examples)
		}
		records = dataset.ToChatAll(examples)
	}

	train, valid := dataset.Split(records, params.EvalFraction)
	fmt.Fprintf(p.out(), "Train: %d examples\n", len(train))
	fmt.Fprintf(p.out(), "Valid: %d examples\n", len(valid))

	dataDir := filepath.Join(params.Options.OutputDir, "data")
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("error creating data dir %s: %w", dataDir, err)
	}

	if err := dataset.WriteJSONL(filepath.Join(dataDir, "train.jsonl"), train); err != nil {
		return "", err
	}
	if err := dataset.WriteJSONL(filepath.Join(dataDir, "valid.jsonl"), valid); err != nil {
		return "", err
	}

	fmt.Fprintf(p.out(), "Data saved to %s\n", dataDir)
	return dataDir, nil
}

func (p *LoraPipeline) Run(ctx context.Context, params LoraParams) (report.Summary, error) {
	runID := p.createRun("lora", params.Options.Model, params)

	summary, err := p.run(ctx, runID, params)
	p.finishRun(runID, err)
	return summary, err
}

func (p *LoraPipeline) run(ctx context.Context, runID uuid.UUID, params LoraParams) (report.Summary, error) {
	dataDir, err := p.prepareData(ctx, params)
	if err != nil {
		return report.Summary{}, err
	}

	adapterPath, err := p.Trainer.Train(ctx, params.Options, dataDir)
	if err != nil {
		return report.Summary{}, err
	}
	p.recordArtifact(runID, database.ArtifactAdapters, adapterPath)

	summary := report.Summary{
		Name:        filepath.Base(params.Options.OutputDir),
		AdapterPath: adapterPath,
	}

	fusedPath, ggufPath, err := p.Trainer.Fuse(ctx, params.Options, adapterPath, params.ExportGGUF)
	if err != nil {
		// A fused model without its requested GGUF is still a usable result.
		if !errors.Is(err, trainer.ErrArtifactMissing) {
			return summary, err
		}
		summary.Warning = err.Error()
	}
	summary.FusedPath = fusedPath
	summary.GGUFPath = ggufPath

	p.recordArtifact(runID, database.ArtifactFused, fusedPath)
	p.recordArtifact(runID, database.ArtifactGGUF, ggufPath)
	p.publish(ctx, artifactPrefix(runID, params.Options.OutputDir), ggufPath, fusedPath)

	return summary, nil
}

// SFTParams configure one full-finetune run.
type SFTParams struct {
	Model        string
	Epochs       int
	BatchSize    int
	LearningRate float64
	OutputDir    string
	Profile      device.Profile

	Data         DataSource
	EvalFraction float64

	ConvertGGUF  bool
	Quantization string
	LintSQL      bool
}

// SFTPipeline runs the full-weights variant: prepare prompt/completion
// splits, hand off to the SFT runtime, then convert the result to GGUF.
type SFTPipeline struct {
	Deps
	Trainer   *trainer.SFTTrainer
	Converter *convert.Converter
}

func (p *SFTPipeline) prepareData(ctx context.Context, params SFTParams) (trainPath, evalPath string, err error) {
	dataDir := filepath.Join(params.OutputDir, "data")
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		return "", "", fmt.Errorf("error creating data dir %s: %w", dataDir, err)
	}
	trainPath = filepath.Join(dataDir, "train.jsonl")
	evalPath = filepath.Join(dataDir, "eval.jsonl")

	if params.Data.InputPath != "" {
		fmt.Fprintf(p.out(), "Loading dataset from %s...\n", params.Data.InputPath)
		records, err := dataset.LoadJSONL(params.Data.InputPath, params.Data.MaxSamples)
		if err != nil {
			return "", "", err
		}
		fmt.Fprintf(p.out(), "Loaded %d examples\n", len(records))

		train, eval := dataset.Split(records, params.EvalFraction)
		fmt.Fprintf(p.out(), "Train: %d examples\n", len(train))
		fmt.Fprintf(p.out(), "Eval: %d examples\n", len(eval))

		if err := dataset.WriteJSONL(trainPath, train); err != nil {
			return "", "", err
		}
		return trainPath, evalPath, dataset.WriteJSONL(evalPath, eval)
	}

	examples, err := p.loadExamples(ctx, params.Data)
	if err != nil {
		return "", "", err
	}
	fmt.Fprintf(p.out(), "Loaded %d examples\n", len(examples))

	if params.LintSQL {
		p.lintExamples(examples)
	}

	records := dataset.ToPromptCompletionAll(examples)
	train, eval := dataset.Split(records, params.EvalFraction)
	fmt.Fprintf(p.out(), "Train: %d examples\n", len(train))
	fmt.Fprintf(p.out(), "Eval: %d examples\n", len(eval))

	if err := dataset.WriteJSONL(trainPath, train); err != nil {
		return "", "", err
	}
	return trainPath, evalPath, dataset.WriteJSONL(evalPath, eval)
}

func (p *SFTPipeline) Run(ctx context.Context, params SFTParams) (report.Summary, error) {
	runID := p.createRun("sft", params.Model, params)

	summary, err := p.run(ctx, runID, params)
	p.finishRun(runID, err)
	return summary, err
}

func (p *SFTPipeline) run(ctx context.Context, runID uuid.UUID, params SFTParams) (report.Summary, error) {
	trainPath, evalPath, err := p.prepareData(ctx, params)
	if err != nil {
		return report.Summary{}, err
	}

	job := trainer.SFTJob{
		Model:     params.Model,
		Args:      trainer.NewSFTArguments(params.OutputDir, params.Epochs, params.BatchSize, params.LearningRate, params.Profile),
		TrainPath: trainPath,
		EvalPath:  evalPath,
	}

	finalPath, err := p.Trainer.Train(ctx, job)
	if err != nil {
		return report.Summary{}, err
	}
	p.recordArtifact(runID, database.ArtifactFinal, finalPath)

	summary := report.Summary{
		Name:      filepath.Base(params.OutputDir),
		FinalPath: finalPath,
	}

	if params.ConvertGGUF {
		fmt.Fprintln(p.out(), "Converting to GGUF format...")
		result := p.Converter.Convert(ctx, finalPath, finalPath+".gguf", params.Quantization)
		switch result.Status {
		case convert.Converted:
			summary.GGUFPath = result.Path
			p.recordArtifact(runID, database.ArtifactGGUF, result.Path)
		case convert.Failed:
			// The trained model is intact; report and move on.
			summary.Warning = fmt.Sprintf("GGUF conversion failed: %v", result.Err)
		}
	}

	p.publish(ctx, artifactPrefix(runID, params.OutputDir), summary.GGUFPath, finalPath)
	return summary, nil
}

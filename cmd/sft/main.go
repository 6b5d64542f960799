package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"sqltune/cmd"
	"sqltune/internal/convert"
	"sqltune/internal/device"
	"sqltune/internal/finetune"
	"sqltune/internal/proc"
	"sqltune/internal/trainer"
)

func main() {
	// Device defaults feed the flag defaults, so probe before parsing.
	facts := device.Detect()
	profile := device.ProfileFor(facts)

	epochs := flag.Int("epochs", 3, "Number of training epochs")
	batchSize := flag.Int("batch-size", profile.DefaultBatchSize, "Per-device batch size")
	lr := flag.Float64("lr", 2e-5, "Learning rate")
	outputDir := flag.String("output-dir", "./.finetune/qwen3-sql", "Output directory")
	maxSamples := flag.Int("max-samples", 0, "Limit training samples (0 = all)")
	inputPath := flag.String("input", "", "Path to JSONL training file (chat messages format)")
	useHF := flag.Bool("use-hf", false, "Use HuggingFace dataset")
	dataPath := flag.String("data", "", "Path to local sql-create-context JSON export")
	model := flag.String("model", "Qwen/Qwen3-0.6B", "Base model")
	evalSplit := flag.Float64("eval-split", 0.1, "Evaluation split ratio")
	noGGUF := flag.Bool("no-gguf", false, "Disable automatic GGUF conversion")
	ggufType := flag.String("gguf-type", "q8_0", "GGUF quantization type (f16, f32, q8_0, q4_0, etc.)")
	lintSQL := flag.Bool("lint", false, "Report dataset answers outside the supported SQL subset")
	publish := flag.Bool("publish", false, "Upload artifacts to the configured object store")
	flag.Parse()

	if *inputPath == "" && *dataPath == "" && !*useHF {
		log.Fatalf("No dataset selected: pass --data, --input, or --use-hf")
	}

	cfg := cmd.LoadConfig()

	line := strings.Repeat("=", 50)
	fmt.Println(line)
	fmt.Println("Full Supervised Fine-Tuning (SFT)")
	fmt.Println(line)
	fmt.Println()
	fmt.Printf("Device: %s\n", profile.Backend)
	fmt.Printf("Model: %s\n", *model)
	fmt.Printf("Epochs: %d\n", *epochs)
	fmt.Printf("Batch size: %d\n", *batchSize)
	fmt.Printf("Learning rate: %g\n", *lr)
	fmt.Printf("Output: %s\n", *outputDir)
	if *maxSamples > 0 {
		fmt.Printf("Max samples: %d\n", *maxSamples)
	} else {
		fmt.Println("Max samples: all")
	}
	fmt.Printf("bf16: %t\n", profile.BF16)
	fmt.Printf("Gradient checkpointing: %t\n", profile.GradientCheckpointing)
	fmt.Println()

	runner := proc.ExecRunner{}
	pipeline := &finetune.SFTPipeline{
		Deps:    cmd.NewDeps(cfg, *publish),
		Trainer: trainer.NewSFTTrainer(cfg.PythonExec, cfg.CacheDir, runner),
		Converter: convert.NewConverter(convert.Options{
			PythonExec:  cfg.PythonExec,
			DockerBin:   cfg.DockerBin,
			DockerImage: cfg.DockerImage,
			ScriptURL:   cfg.ConvertScriptURL,
			CacheDir:    cfg.CacheDir,
		}, runner),
	}

	summary, err := pipeline.Run(context.Background(), finetune.SFTParams{
		Model:        *model,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		OutputDir:    *outputDir,
		Profile:      profile,
		Data: finetune.DataSource{
			InputPath:  *inputPath,
			UseHub:     *useHF,
			LocalPath:  *dataPath,
			MaxSamples: *maxSamples,
		},
		EvalFraction: *evalSplit,
		ConvertGGUF:  !*noGGUF,
		Quantization: *ggufType,
		LintSQL:      *lintSQL,
	})
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	summary.Print(os.Stdout)
}

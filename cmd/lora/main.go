package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"sqltune/cmd"
	"sqltune/internal/device"
	"sqltune/internal/finetune"
	"sqltune/internal/proc"
	"sqltune/internal/trainer"
)

func main() {
	iters := flag.Int("iters", 1000, "Number of training iterations")
	batchSize := flag.Int("batch-size", 4, "Batch size")
	lr := flag.Float64("lr", 1e-5, "Learning rate")
	outputDir := flag.String("output-dir", "./qwen3-sql-mlx", "Output directory")
	maxSamples := flag.Int("max-samples", 0, "Limit training samples (0 = all)")
	useHF := flag.Bool("use-hf", false, "Use HuggingFace dataset")
	dataPath := flag.String("data", "", "Path to local sql-create-context JSON export")
	inputPath := flag.String("input", "", "Path to pre-formatted chat JSONL file")
	model := flag.String("model", "Qwen/Qwen3-0.5B", "Base model")
	numLayers := flag.Int("num-layers", 16, "Number of LoRA layers")
	evalSplit := flag.Float64("eval-split", 0.1, "Evaluation split ratio")
	noGGUF := flag.Bool("no-gguf", false, "Disable GGUF export")
	lintSQL := flag.Bool("lint", false, "Report dataset answers outside the supported SQL subset")
	publish := flag.Bool("publish", false, "Upload artifacts to the configured object store")
	flag.Parse()

	facts := device.Detect()
	if err := device.CheckAppleSilicon(facts, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: Not running on macOS")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "MLX requires macOS with Apple Silicon (M1/M2/M3/M4).")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "For other platforms, use sqltune-sft instead.")
		os.Exit(1)
	}

	if *inputPath == "" && *dataPath == "" && !*useHF {
		log.Fatalf("No dataset selected: pass --data, --input, or --use-hf")
	}

	cfg := cmd.LoadConfig()

	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Println("MLX Fine-Tuning (Apple Silicon)")
	fmt.Println(line)
	fmt.Println()
	fmt.Printf("Platform: %s %s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Model: %s\n", *model)
	fmt.Printf("Iterations: %d\n", *iters)
	fmt.Printf("Batch size: %d\n", *batchSize)
	fmt.Printf("Learning rate: %g\n", *lr)
	fmt.Printf("LoRA layers: %d\n", *numLayers)
	fmt.Printf("Output: %s\n", *outputDir)
	if *maxSamples > 0 {
		fmt.Printf("Max samples: %d\n", *maxSamples)
	} else {
		fmt.Println("Max samples: all")
	}
	fmt.Println()

	pipeline := &finetune.LoraPipeline{
		Deps:    cmd.NewDeps(cfg, *publish),
		Trainer: trainer.NewLoraTrainer(cfg.PythonExec, proc.ExecRunner{}),
	}

	summary, err := pipeline.Run(context.Background(), finetune.LoraParams{
		Options: trainer.LoraOptions{
			Model:        *model,
			Iters:        *iters,
			BatchSize:    *batchSize,
			LearningRate: *lr,
			NumLayers:    *numLayers,
			OutputDir:    *outputDir,
		},
		Data: finetune.DataSource{
			InputPath:  *inputPath,
			UseHub:     *useHF,
			LocalPath:  *dataPath,
			MaxSamples: *maxSamples,
		},
		EvalFraction: *evalSplit,
		ExportGGUF:   !*noGGUF,
		LintSQL:      *lintSQL,
	})
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	summary.Print(os.Stdout)
}

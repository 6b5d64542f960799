// Smoke test for a fine-tuned model served by Ollama: renders the same
// prompt template used during training and prints the model's SQL answer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"sqltune/internal/dataset"
)

func main() {
	model := flag.String("model", "qwen3-sql", "Ollama model name to query")
	serverURL := flag.String("server", "", "Ollama server URL (default: local instance)")
	schema := flag.String("context", "CREATE TABLE head (age INTEGER)", "SQL schema for the prompt")
	question := flag.String("question", "How many heads of the departments are older than 56?", "Question for the prompt")
	flag.Parse()

	opts := []ollama.Option{ollama.WithModel(*model)}
	if *serverURL != "" {
		opts = append(opts, ollama.WithServerURL(*serverURL))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		log.Fatalf("Failed to create Ollama client: %v", err)
	}

	prompt := dataset.Prompt(dataset.Example{Context: *schema, Question: *question})
	fmt.Println(prompt)
	fmt.Println()

	answer, err := llms.GenerateFromSinglePrompt(context.Background(), llm, prompt)
	if err != nil {
		log.Fatalf("Generation failed: %v", err)
	}

	fmt.Println(answer)
}

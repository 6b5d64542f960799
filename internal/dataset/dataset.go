package dataset

import (
	"fmt"
)

// Example is one raw sql-create-context row: a CREATE TABLE schema, a natural
// language question, and the expected SQL answer.
type Example struct {
	Context  string `json:"context"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRecord is the two-turn conversation form consumed by the LoRA trainer.
type ChatRecord struct {
	Messages []Message `json:"messages"`
}

// PromptCompletion is the prompt/completion form consumed by the SFT trainer.
type PromptCompletion struct {
	Prompt     []Message `json:"prompt"`
	Completion []Message `json:"completion"`
}

// Prompt renders the fixed user-turn template. Schema and question text are
// embedded verbatim, no escaping.
func Prompt(example Example) string {
	return fmt.Sprintf("Given the following SQL schema:\n%s\n\nWrite a SQL query to answer: %s", example.Context, example.Question)
}

func ToChat(example Example) ChatRecord {
	return ChatRecord{
		Messages: []Message{
			{Role: "user", Content: Prompt(example)},
			{Role: "assistant", Content: example.Answer},
		},
	}
}

func ToPromptCompletion(example Example) PromptCompletion {
	return PromptCompletion{
		Prompt:     []Message{{Role: "user", Content: Prompt(example)}},
		Completion: []Message{{Role: "assistant", Content: example.Answer}},
	}
}

func ToChatAll(examples []Example) []ChatRecord {
	records := make([]ChatRecord, 0, len(examples))
	for _, example := range examples {
		records = append(records, ToChat(example))
	}
	return records
}

func ToPromptCompletionAll(examples []Example) []PromptCompletion {
	records := make([]PromptCompletion, 0, len(examples))
	for _, example := range examples {
		records = append(records, ToPromptCompletion(example))
	}
	return records
}

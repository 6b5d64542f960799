package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// localDocument mirrors the sql-create-context JSON export: a document with a
// nested list of rows.
type localDocument struct {
	Rows []struct {
		Row Example `json:"row"`
	} `json:"rows"`
}

// LoadLocalJSON reads examples from a sql-create-context JSON document,
// truncating to the first maxSamples rows when maxSamples > 0.
func LoadLocalJSON(path string, maxSamples int) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading dataset %s: %w", path, err)
	}

	var doc localDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing dataset %s: %w", path, err)
	}

	examples := make([]Example, 0, len(doc.Rows))
	for _, row := range doc.Rows {
		examples = append(examples, row.Row)
	}

	return Truncate(examples, maxSamples), nil
}

// LoadJSONL reads pre-formatted chat records, one per line, skipping blank
// lines.
func LoadJSONL(path string, maxSamples int) ([]ChatRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading dataset %s: %w", path, err)
	}
	defer f.Close()

	var records []ChatRecord

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var record ChatRecord
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("error parsing %s line %d: %w", path, line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading dataset %s: %w", path, err)
	}

	return Truncate(records, maxSamples), nil
}

// Truncate applies the sample cap: the first max rows in source order, or all
// rows when max <= 0.
func Truncate[T any](rows []T, max int) []T {
	if max > 0 && len(rows) > max {
		return rows[:max]
	}
	return rows
}

// WriteJSONL persists records one JSON document per line.
func WriteJSONL[T any](path string, records []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("error writing %s: %w", path, err)
		}
	}
	return w.Flush()
}

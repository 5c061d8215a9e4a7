package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoLabels is returned when no labeled set is configured or the set is
// empty.
var ErrNoLabels = errors.New("no labeled questions")

// Label is one labeled question. RelevantSources entries match retrieved
// evidence by chunk id, document id or source file name.
type Label struct {
	Question        string   `json:"question"`
	ExpectedAnswer  string   `json:"expected_answer"`
	RelevantSources []string `json:"relevant_sources"`
}

// UnmarshalJSON accepts "answer" for expected_answer and "relevant_chunks"
// for relevant_sources.
func (l *Label) UnmarshalJSON(data []byte) error {
	var raw struct {
		Question        string   `json:"question"`
		ExpectedAnswer  string   `json:"expected_answer"`
		Answer          string   `json:"answer"`
		RelevantSources []string `json:"relevant_sources"`
		RelevantChunks  []string `json:"relevant_chunks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Question = strings.TrimSpace(raw.Question)
	l.ExpectedAnswer = raw.ExpectedAnswer
	if l.ExpectedAnswer == "" {
		l.ExpectedAnswer = raw.Answer
	}
	l.RelevantSources = append(raw.RelevantSources, raw.RelevantChunks...)
	return nil
}

// ParseLabels decodes a JSON array of labels. Entries without a question
// are rejected.
func ParseLabels(data []byte) ([]Label, error) {
	var labels []Label
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("decoding labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	for i, l := range labels {
		if l.Question == "" {
			return nil, fmt.Errorf("label %d: question is empty", i)
		}
	}
	return labels, nil
}

// LoadLabels reads a labels file. An empty path yields ErrNoLabels.
func LoadLabels(path string) ([]Label, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoLabels
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	return ParseLabels(data)
}

// Package questionnaire loads the ordered list of questions participants
// answer. The matching core only consumes the question count and each
// question's choice count; the display text is for the surrounding
// application.
package questionnaire

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Question is a single questionnaire item with its ordered choices.
type Question struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices"`
}

// ChoiceIndex returns the index of choice within the question's choice list.
func (q Question) ChoiceIndex(choice string) (int, bool) {
	for i, c := range q.Choices {
		if c == choice {
			return i, true
		}
	}
	return 0, false
}

// Questionnaire is the ordered list of questions. Its length fixes the
// dimensionality of every answer vector.
type Questionnaire []Question

// Load reads a JSON array of {text, choices} objects.
func Load(r io.Reader) (Questionnaire, error) {
	var qs Questionnaire
	if err := json.NewDecoder(r).Decode(&qs); err != nil {
		return nil, fmt.Errorf("questionnaire: decode: %w", err)
	}
	if err := qs.Validate(); err != nil {
		return nil, err
	}
	return qs, nil
}

// LoadFile reads a questionnaire from a JSON file.
func LoadFile(path string) (Questionnaire, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("questionnaire: open %s: %w", path, err)
	}
	defer f.Close()

	return Load(f)
}

// Validate checks that every question offers at least two choices; a
// single-choice question carries no signal and breaks the distance ceiling.
func (qs Questionnaire) Validate() error {
	if len(qs) == 0 {
		return fmt.Errorf("questionnaire: no questions")
	}
	for i, q := range qs {
		if len(q.Choices) < 2 {
			return fmt.Errorf("questionnaire: question %d has %d choices, need at least 2", i, len(q.Choices))
		}
	}
	return nil
}

// Len returns the number of questions.
func (qs Questionnaire) Len() int {
	return len(qs)
}

// MaxDistance returns the largest possible squared-euclidean distance
// between two complete answer vectors for this questionnaire.
func (qs Questionnaire) MaxDistance() float64 {
	var sum float64
	for _, q := range qs {
		span := float64(len(q.Choices) - 1)
		sum += span * span
	}
	return sum
}

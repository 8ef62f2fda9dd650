package grading

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadQuestionFile reads a question from a YAML (.yaml, .yml) or JSON
// (.json) file. YAML files use `id` where JSON uses `_id`.
func LoadQuestionFile(path string) (*Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading question file: %w", err)
	}
	q, err := ParseQuestion(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return q, nil
}

// ParseQuestion decodes a question in the format named by ext.
func ParseQuestion(data []byte, ext string) (*Question, error) {
	var q Question
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &q); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(data, &q); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported question format %q", ext)
	}
	if q.Type == "" {
		q.Type = QuestionTypeCode
	}
	return &q, nil
}

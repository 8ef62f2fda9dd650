package grading

import (
	"encoding/json"
	"testing"

	"github.com/michaelbrown/assessor/internal/sandbox"
)

func TestRequestDecoding(t *testing.T) {
	body := `{
		"question": {"_id": "q1", "type": "code", "points": 30,
			"content": {"language": "javascript", "testCases": [{"input": [2, 3], "expectedOutput": 5}]}},
		"answer": {"answers": [{"answers": [{"questionId": "q1", "response": "function add(a,b){return a+b}"}]}]}
	}`

	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.Question.ID != "q1" || req.Question.Points != 30 {
		t.Errorf("question = %+v", req.Question)
	}
	if len(req.Question.Content.TestCases) != 1 {
		t.Fatalf("testCases = %v", req.Question.Content.TestCases)
	}
	a, ok := req.Answer.Find("q1")
	if !ok {
		t.Fatal("answer not found")
	}
	if code, ok := a.Code(); !ok || code != "function add(a,b){return a+b}" {
		t.Errorf("code = %q, %v", code, ok)
	}
}

func TestContentTestCasesShape(t *testing.T) {
	tests := []struct {
		name    string
		content string
		isNil   bool
		wantLen int
	}{
		{"array", `{"testCases": [{"input": 1, "expectedOutput": 2}]}`, false, 1},
		{"empty array", `{"testCases": []}`, false, 0},
		{"missing", `{"language": "javascript"}`, true, 0},
		{"object", `{"testCases": {"input": 1}}`, true, 0},
		{"string", `{"testCases": "nope"}`, true, 0},
		{"null", `{"testCases": null}`, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			if err := json.Unmarshal([]byte(tt.content), &c); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if (c.TestCases == nil) != tt.isNil {
				t.Errorf("TestCases nil = %v, want %v", c.TestCases == nil, tt.isNil)
			}
			if len(c.TestCases) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(c.TestCases), tt.wantLen)
			}
		})
	}
}

func TestLoadQuestionFile(t *testing.T) {
	q, err := LoadQuestionFile("testdata/add.yaml")
	if err != nil {
		t.Fatalf("LoadQuestionFile: %v", err)
	}
	if q.ID != "q-add" || q.Points != 30 || q.Content.Language != "javascript" {
		t.Errorf("question = %+v", q)
	}
	if len(q.Content.TestCases) != 3 {
		t.Fatalf("testCases = %d, want 3", len(q.Content.TestCases))
	}
	if !sandbox.Equal(q.Content.TestCases[0].Input, []any{2, 3}) {
		t.Errorf("input = %#v", q.Content.TestCases[0].Input)
	}

	q, err = LoadQuestionFile("testdata/pairs.json")
	if err != nil {
		t.Fatalf("LoadQuestionFile json: %v", err)
	}
	if q.ID != "q-pairs" || q.Content.FunctionName != "pairs" {
		t.Errorf("question = %+v", q)
	}

	if _, err := LoadQuestionFile("testdata/missing.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := ParseQuestion([]byte("id: x"), ".toml"); err == nil {
		t.Error("expected error for unknown extension")
	}
}

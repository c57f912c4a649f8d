package ingress

import (
	"net/http/httptest"
	"testing"

	"mercator-hq/tollgate/pkg/selection"
)

func TestParseFieldPath(t *testing.T) {
	tests := []struct {
		in      string
		want    FieldPath
		wantErr bool
	}{
		{in: "", want: FieldPath{}},
		{in: "header.X-Team", want: FieldPath{Source: SourceHeader, Key: "X-Team"}},
		{in: "body.metadata.team", want: FieldPath{Source: SourceBody, Key: "metadata.team"}},
		{in: "context.team", want: FieldPath{Source: SourceContext, Key: "team"}},
		{in: "header", wantErr: true},
		{in: "header.", wantErr: true},
		{in: "cookie.team", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFieldPath(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFieldPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseFieldPath() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFieldPath_Resolve(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/chat/completions?team=q-team", nil)
	r.Header.Set("X-Team", " h-team ")
	r = r.WithContext(WithValue(r.Context(), "team", "c-team"))

	body, err := decodeBody([]byte(`{"metadata":{"team":"b-team","project":42,"flag":true},"user":"u1"}`))
	if err != nil {
		t.Fatalf("decodeBody() error = %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{path: "header.X-Team", want: "h-team"},
		{path: "query.team", want: "q-team"},
		{path: "body.metadata.team", want: "b-team"},
		{path: "body.metadata.project", want: "42"},
		{path: "body.metadata.flag", want: "true"},
		{path: "body.user", want: "u1"},
		{path: "body.metadata", want: ""},
		{path: "body.missing.deep", want: ""},
		{path: "context.team", want: "c-team"},
		{path: "context.other", want: ""},
		{path: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p, err := ParseFieldPath(tt.path)
			if err != nil {
				t.Fatalf("ParseFieldPath() error = %v", err)
			}
			if got := p.Resolve(r, body); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInferTask(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		text     string
		want     selection.TaskType
	}{
		{name: "explicit wins", explicit: "Translate", text: "fix this bug", want: selection.TaskTranslate},
		{name: "unknown explicit ignored", explicit: "poetry", text: "write a poem", want: selection.TaskCreative},
		{name: "code", text: "Why does this Python function panic?", want: selection.TaskCode},
		{name: "summarize", text: "Please summarize the meeting notes", want: selection.TaskSummarize},
		{name: "translate", text: "Translate 'good morning' into French", want: selection.TaskTranslate},
		{name: "analyze", text: "Compare these two quarterly reports", want: selection.TaskAnalyze},
		{name: "creative", text: "Write a story about a lighthouse", want: selection.TaskCreative},
		{name: "reasoning", text: "Think step by step about the puzzle", want: selection.TaskReasoning},
		{name: "question", text: "What is the capital of Peru?", want: selection.TaskQuestion},
		{name: "general", text: "Hello there", want: selection.TaskGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferTask(tt.explicit, tt.text); got != tt.want {
				t.Errorf("InferTask() = %s, want %s", got, tt.want)
			}
		})
	}
}

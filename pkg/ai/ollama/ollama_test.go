package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

type extracted struct {
	Mentions []string `json:"mentions"`
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	var gotAuth string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"{\"mentions\":[\"MuRF1\"]}"},"done":true,"prompt_eval_count":12,"eval_count":4}`))
	}))
	defer srv.Close()

	c, err := NewExtractionOllamaClient(NewExtractionOllamaClientParams{
		ExtractionModel:       "m",
		BaseURL:               srv.URL,
		ApiKey:                "secret",
		MaxConcurrentRequests: 2,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	var out extracted
	if err := c.GenerateCompletionWithFormat(context.Background(), "mentions", "d", "MuRF1 rises", &out); err != nil {
		t.Fatalf("GenerateCompletionWithFormat() error = %v", err)
	}
	if len(out.Mentions) != 1 || out.Mentions[0] != "MuRF1" {
		t.Fatalf("unexpected output %+v", out)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotReq["format"] == nil {
		t.Fatalf("expected format schema in request")
	}
	if m := c.GetMetrics(); m.TotalTokens != 16 || m.Requests != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestGenerateCompletionWithFormat_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	c, err := NewExtractionOllamaClient(NewExtractionOllamaClientParams{ExtractionModel: "m", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var out extracted
	err = c.GenerateCompletionWithFormat(context.Background(), "mentions", "d", "x", &out)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !common.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestGenerateCompletionWithFormat_RejectsNonPointer(t *testing.T) {
	c, err := NewExtractionOllamaClient(NewExtractionOllamaClientParams{ExtractionModel: "m"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = c.GenerateCompletionWithFormat(context.Background(), "n", "d", "p", extracted{})
	if err == nil || !strings.Contains(err.Error(), "pointer") {
		t.Fatalf("expected pointer error, got %v", err)
	}
}

func TestContextSize(t *testing.T) {
	if n := contextSize("short prompt"); n != 0 {
		t.Fatalf("expected default context for a short prompt, got %d", n)
	}
	if n := contextSize(strings.Repeat("muscle atrophy ", 8000)); n <= defaultContextTokens {
		t.Fatalf("expected enlarged context for a long prompt, got %d", n)
	}
}

package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jholhewres/aide/pkg/aide/errs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Hello there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "gpt-4o", "text-embedding-3-small", testLogger())
	resp, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 8 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "gpt-4o", "text-embedding-3-small", testLogger())
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !errs.IsKind(err, errs.KindUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func sseBody(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString("data: " + c + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestStreamDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`,
		))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "gpt-4o", "text-embedding-3-small", testLogger())
	var deltas []string
	resp, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, func(s string) {
		deltas = append(deltas, s)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if resp.Content != "Hello" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Errorf("deltas = %v", deltas)
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
}

func TestStreamAccumulatesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"recall"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"name\"}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "gpt-4o", "text-embedding-3-small", testLogger())
	resp, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "recall" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments != `{"query":"name"}` {
		t.Errorf("arguments = %q", tc.Function.Arguments)
	}
	if resp.Usage != nil {
		t.Errorf("expected nil usage when provider omits it, got %+v", resp.Usage)
	}
}

func TestStreamNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "gpt-4o", "text-embedding-3-small", testLogger())
	_, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, nil)
	if !errs.IsKind(err, errs.KindUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		vec := make([]string, EmbeddingDimensions)
		for i := range vec {
			vec[i] = "0.1"
		}
		fmt.Fprintf(w, `{"data":[{"embedding":[%s]}]}`, strings.Join(vec, ","))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "gpt-4o", "text-embedding-3-small", testLogger())
	vec, err := c.Embed(context.Background(), "my name is Alex")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != EmbeddingDimensions {
		t.Errorf("dimensions = %d, want %d", len(vec), EmbeddingDimensions)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "gpt-4o", "text-embedding-3-small", testLogger())
	_, err := c.Embed(context.Background(), "short vector")
	if !errs.IsKind(err, errs.KindUpstream) {
		t.Errorf("expected upstream error for dimension mismatch, got %v", err)
	}
}

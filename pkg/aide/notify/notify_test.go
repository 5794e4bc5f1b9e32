package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendHeaders(t *testing.T) {
	var gotPath, gotTitle, gotTags, gotClick, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("X-Title")
		gotTags = r.Header.Get("X-Tags")
		gotClick = r.Header.Get("X-Click")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	c := New(srv.URL, "aide", testLogger())
	c.Send(context.Background(), "Job completed: morning", "status", "white_check_mark", "https://aide.example.com/threads/7")

	if gotPath != "/aide" {
		t.Errorf("path = %q", gotPath)
	}
	if gotTitle != "Job completed: morning" {
		t.Errorf("title = %q", gotTitle)
	}
	if gotTags != "white_check_mark" {
		t.Errorf("tags = %q", gotTags)
	}
	if gotClick != "https://aide.example.com/threads/7" {
		t.Errorf("click = %q", gotClick)
	}
	if gotBody != "status" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestUnconfiguredIsNoop(t *testing.T) {
	c := New("", "", testLogger())
	if c.Enabled() {
		t.Error("client with no target must report disabled")
	}
	// Must not panic or attempt delivery.
	c.Send(context.Background(), "t", "b", "", "")
}

func TestServerErrorIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "aide", testLogger())
	// No error surface to assert on; the contract is "does not panic,
	// does not propagate".
	c.Send(context.Background(), "t", "b", "", "")
}

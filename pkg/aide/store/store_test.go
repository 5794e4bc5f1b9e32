package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

// Tests in this file need a real Postgres with the pgvector extension.
// They skip unless AIDE_TEST_DATABASE_URL is set, e.g.:
//
//	AIDE_TEST_DATABASE_URL=postgres://localhost/aide_test go test ./pkg/aide/store
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("AIDE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AIDE_TEST_DATABASE_URL not set")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(context.Background(), url, logger)
	if err != nil {
		t.Fatalf("connecting test store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestThreadSoftDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	th, err := s.CreateThread(ctx, "user", nil)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if th.Title != nil {
		t.Error("title must never be set at creation")
	}

	if err := s.DeleteThread(ctx, th.ID); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if _, err := s.GetThread(ctx, th.ID); err == nil {
		t.Error("deleted thread must not be readable")
	}
	if err := s.DeleteThread(ctx, th.ID); err == nil {
		t.Error("double delete must report not found")
	}

	threads, err := s.ListThreads(ctx)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	for _, got := range threads {
		if got.ID == th.ID {
			t.Error("deleted thread leaked into list")
		}
	}
}

func TestMessageOrderingAndRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	th, err := s.CreateThread(ctx, "user", nil)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	content := map[string]any{
		"role":    "assistant",
		"content": "Hi Alex",
		"usage":   map[string]any{"input_tokens": float64(5), "output_tokens": float64(2), "total_tokens": float64(7)},
	}
	model := "gpt-4o"
	if _, err := s.AddMessage(ctx, th.ID, "user", nil, map[string]any{"role": "user", "content": "hello"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.AddMessage(ctx, th.ID, "assistant", &model, content); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	msgs, err := s.GetMessages(ctx, th.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].ID >= msgs[1].ID {
		t.Error("messages must come back in ascending id order")
	}
	got := msgs[1].Content
	if got["content"] != "Hi Alex" {
		t.Errorf("content round-trip = %v", got["content"])
	}
	usage, ok := got["usage"].(map[string]any)
	if !ok || usage["total_tokens"] != float64(7) {
		t.Errorf("usage round-trip = %v", got["usage"])
	}
}

func TestRunIdempotentEnqueue(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sched := "* * * * *"
	prompt := "status"
	job, err := s.CreateJob(ctx, &Job{
		Name: "enqueue-test", Schedule: &sched, Prompt: &prompt,
		Enabled: true, MaxRetries: 3, NextRunAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	at := time.Now().Truncate(time.Minute)
	first, err := s.CreateRunIdempotent(ctx, job.ID, at)
	if err != nil {
		t.Fatalf("CreateRunIdempotent: %v", err)
	}
	if !first {
		t.Error("first enqueue should insert")
	}
	second, err := s.CreateRunIdempotent(ctx, job.ID, at)
	if err != nil {
		t.Fatalf("CreateRunIdempotent: %v", err)
	}
	if second {
		t.Error("second enqueue for the same tick must be suppressed")
	}

	runs, err := s.ListRuns(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("runs = %d, want 1", len(runs))
	}
}

func TestClaimAndLeaseRecovery(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	prompt := "p"
	job, err := s.CreateJob(ctx, &Job{
		Name: "lease-test", Prompt: &prompt,
		Enabled: true, MaxRetries: 1, NextRunAt: now,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.CreateRunIdempotent(ctx, job.ID, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	run, err := s.ClaimPendingRun(ctx, now, 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimPendingRun: %v", err)
	}
	if run == nil || run.JobID != job.ID {
		t.Fatalf("claim = %+v", run)
	}
	if run.Status != "running" || run.LockedUntil == nil {
		t.Errorf("claimed run not leased: %+v", run)
	}

	// Nothing else claimable.
	again, err := s.ClaimPendingRun(ctx, now, 5*time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again != nil && again.ID == run.ID {
		t.Error("run claimed twice")
	}

	// Simulate an expired lease and recover.
	if err := s.RefreshRunLock(ctx, run.ID, now.Add(-time.Minute)); err != nil {
		t.Fatalf("RefreshRunLock: %v", err)
	}
	n, err := s.ResetAbandonedRuns(ctx, now)
	if err != nil {
		t.Fatalf("ResetAbandonedRuns: %v", err)
	}
	if n < 1 {
		t.Errorf("reset count = %d, want >= 1", n)
	}
	recovered, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if recovered.Status != "pending" || recovered.LockedUntil != nil {
		t.Errorf("recovered run = %+v", recovered)
	}
}

func TestRetryBackoffSkipsFutureHold(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	prompt := "p"
	job, err := s.CreateJob(ctx, &Job{
		Name: "retry-test", Prompt: &prompt,
		Enabled: true, MaxRetries: 3, NextRunAt: now,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.CreateRunIdempotent(ctx, job.ID, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	run, err := s.ClaimPendingRun(ctx, now, 5*time.Minute)
	if err != nil || run == nil {
		t.Fatalf("claim: %v %v", run, err)
	}

	if err := s.RetryRun(ctx, run.ID, "boom", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("RetryRun: %v", err)
	}

	held, err := s.ClaimPendingRun(ctx, now, 5*time.Minute)
	if err != nil {
		t.Fatalf("claim during hold: %v", err)
	}
	if held != nil && held.ID == run.ID {
		t.Error("run with future backoff hold must not be claimable")
	}

	later, err := s.ClaimPendingRun(ctx, now.Add(3*time.Minute), 5*time.Minute)
	if err != nil {
		t.Fatalf("claim after hold: %v", err)
	}
	if later == nil || later.ID != run.ID {
		t.Errorf("run should be claimable after hold expires, got %+v", later)
	}
	if later != nil && later.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", later.RetryCount)
	}
}

func TestMemorySearch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	vec := make([]float32, 1536)
	vec[0] = 1
	entry, err := s.CreateMemory(ctx, "user's name is Alex", vec, "agent", nil)
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	matches, err := s.SearchMemories(ctx, vec, 10, 0.30)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	found := false
	for _, m := range matches {
		if m.Entry.ID == entry.ID {
			found = true
			if m.Similarity < 0.99 {
				t.Errorf("identical vector similarity = %f", m.Similarity)
			}
		}
	}
	if !found {
		t.Error("inserted entry not returned by search")
	}

	if err := s.DeleteMemory(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	matches, err = s.SearchMemories(ctx, vec, 10, 0.30)
	if err != nil {
		t.Fatalf("SearchMemories after delete: %v", err)
	}
	for _, m := range matches {
		if m.Entry.ID == entry.ID {
			t.Error("deleted entry leaked into search")
		}
	}
}

package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jholhewres/aide/pkg/aide/errs"
	"github.com/jholhewres/aide/pkg/aide/store"
)

type fakeStorage struct {
	entries map[int64]*store.MemoryEntry
	vectors map[int64][]float32
	nextID  int64

	searchLimit     int
	searchThreshold float64
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		entries: make(map[int64]*store.MemoryEntry),
		vectors: make(map[int64][]float32),
	}
}

func (f *fakeStorage) CreateMemory(_ context.Context, content string, embedding []float32, source string, threadID *int64) (*store.MemoryEntry, error) {
	f.nextID++
	e := &store.MemoryEntry{ID: f.nextID, Content: content, Source: source, ThreadID: threadID}
	f.entries[e.ID] = e
	f.vectors[e.ID] = embedding
	return e, nil
}

func (f *fakeStorage) UpdateMemory(_ context.Context, id int64, content string, embedding []float32) (*store.MemoryEntry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, errs.NotFound("memory entry", id)
	}
	e.Content = content
	f.vectors[id] = embedding
	return e, nil
}

func (f *fakeStorage) ListMemories(context.Context) ([]store.MemoryEntry, error) {
	var out []store.MemoryEntry
	for _, e := range f.entries {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeStorage) DeleteMemory(_ context.Context, id int64) error {
	if _, ok := f.entries[id]; !ok {
		return errs.NotFound("memory entry", id)
	}
	delete(f.entries, id)
	delete(f.vectors, id)
	return nil
}

func (f *fakeStorage) SearchMemories(_ context.Context, _ []float32, limit int, threshold float64) ([]store.MemoryMatch, error) {
	f.searchLimit = limit
	f.searchThreshold = threshold
	var out []store.MemoryMatch
	for _, e := range f.entries {
		out = append(out, store.MemoryMatch{Entry: *e, Similarity: 0.9})
	}
	return out, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, 4), nil
}

func testService() (*Service, *fakeStorage, *fakeEmbedder) {
	st := newFakeStorage()
	em := &fakeEmbedder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, em, logger), st, em
}

func TestRememberCreates(t *testing.T) {
	svc, st, em := testService()

	entry, err := svc.Remember(context.Background(), "name is Alex", "agent", nil, nil)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if entry.Content != "name is Alex" {
		t.Errorf("content = %q", entry.Content)
	}
	if em.calls != 1 {
		t.Errorf("embed calls = %d, want 1", em.calls)
	}
	if len(st.entries) != 1 {
		t.Errorf("stored entries = %d", len(st.entries))
	}
}

func TestRememberWithReplaceReembeds(t *testing.T) {
	svc, st, em := testService()

	entry, err := svc.Remember(context.Background(), "likes tea", "agent", nil, nil)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	updated, err := svc.Remember(context.Background(), "likes coffee", "agent", nil, &entry.ID)
	if err != nil {
		t.Fatalf("Remember with replace: %v", err)
	}
	if updated.ID != entry.ID {
		t.Errorf("replace created a new entry: %d vs %d", updated.ID, entry.ID)
	}
	if st.entries[entry.ID].Content != "likes coffee" {
		t.Errorf("content not replaced: %q", st.entries[entry.ID].Content)
	}
	if em.calls != 2 {
		t.Errorf("embed calls = %d, want 2 (replace must re-embed)", em.calls)
	}
}

func TestRememberReplaceMissing(t *testing.T) {
	svc, _, _ := testService()
	missing := int64(99)
	_, err := svc.Remember(context.Background(), "x", "agent", nil, &missing)
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRecallDefaults(t *testing.T) {
	svc, st, _ := testService()
	if _, err := svc.Remember(context.Background(), "fact", "agent", nil, nil); err != nil {
		t.Fatal(err)
	}

	matches, err := svc.Recall(context.Background(), "fact", 0)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("matches = %d", len(matches))
	}
	if st.searchLimit != DefaultRecallLimit {
		t.Errorf("limit = %d, want default %d", st.searchLimit, DefaultRecallLimit)
	}
	if st.searchThreshold != RecallThreshold {
		t.Errorf("threshold = %f, want %f", st.searchThreshold, RecallThreshold)
	}
}

func TestEmbedFailurePropagates(t *testing.T) {
	svc, _, em := testService()
	em.err = errs.Upstream("embeddings down", errors.New("503"))

	if _, err := svc.Remember(context.Background(), "x", "agent", nil, nil); !errs.IsKind(err, errs.KindUpstream) {
		t.Errorf("expected upstream, got %v", err)
	}
	if _, err := svc.Recall(context.Background(), "x", 5); !errs.IsKind(err, errs.KindUpstream) {
		t.Errorf("expected upstream, got %v", err)
	}
}

func TestUpdateReembeds(t *testing.T) {
	svc, _, em := testService()
	entry, err := svc.Remember(context.Background(), "old", "user", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Update(context.Background(), entry.ID, "new"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if em.calls != 2 {
		t.Errorf("embed calls = %d, want 2", em.calls)
	}
}

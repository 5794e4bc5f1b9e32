package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jholhewres/aide/pkg/aide/errs"
	"github.com/jholhewres/aide/pkg/aide/store"
)

type fakeStorage struct {
	jobs   map[int64]*store.Job
	runs   map[int64][]store.JobRun
	nextID int64
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{jobs: make(map[int64]*store.Job), runs: make(map[int64][]store.JobRun)}
}

func (f *fakeStorage) CreateJob(_ context.Context, j *store.Job) (*store.Job, error) {
	f.nextID++
	cp := *j
	cp.ID = f.nextID
	f.jobs[cp.ID] = &cp
	return &cp, nil
}

func (f *fakeStorage) GetJob(_ context.Context, id int64) (*store.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, errs.NotFound("job", id)
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStorage) ListJobs(context.Context) ([]store.Job, error) {
	var out []store.Job
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeStorage) UpdateJob(_ context.Context, j *store.Job) (*store.Job, error) {
	if _, ok := f.jobs[j.ID]; !ok {
		return nil, errs.NotFound("job", j.ID)
	}
	cp := *j
	f.jobs[j.ID] = &cp
	return &cp, nil
}

func (f *fakeStorage) DeleteJob(_ context.Context, id int64) error {
	if _, ok := f.jobs[id]; !ok {
		return errs.NotFound("job", id)
	}
	delete(f.jobs, id)
	return nil
}

func (f *fakeStorage) ListRuns(_ context.Context, jobID int64) ([]store.JobRun, error) {
	return f.runs[jobID], nil
}

func testService() (*Service, *fakeStorage) {
	st := newFakeStorage()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, logger), st
}

func str(s string) *string { return &s }

func TestCreateRecurringJob(t *testing.T) {
	svc, _ := testService()

	job, err := svc.Create(context.Background(), Params{
		Name:     str("morning"),
		Schedule: str("0 8 * * *"),
		Prompt:   str("status"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Schedule == nil || *job.Schedule != "0 8 * * *" {
		t.Errorf("schedule = %v", job.Schedule)
	}
	if !job.NextRunAt.After(time.Now()) {
		t.Errorf("next_run_at must be in the future, got %v", job.NextRunAt)
	}
	if job.MaxRetries != DefaultMaxRetries {
		t.Errorf("max_retries = %d", job.MaxRetries)
	}
	if !job.Enabled {
		t.Error("jobs default to enabled")
	}
}

func TestCreateRejectsInvalidCron(t *testing.T) {
	svc, _ := testService()

	_, err := svc.Create(context.Background(), Params{
		Name:     str("bad"),
		Schedule: str("not a cron"),
		Prompt:   str("x"),
	})
	if !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreateEnforcesPayloadKind(t *testing.T) {
	svc, _ := testService()
	runAt := time.Now().Add(time.Hour)

	t.Run("both prompt and skill", func(t *testing.T) {
		_, err := svc.Create(context.Background(), Params{
			Name: str("x"), RunAt: &runAt,
			Prompt: str("p"), SkillName: str("departure-check"),
			SkillConfig: map[string]any{"version": 1},
		})
		if !errs.IsKind(err, errs.KindValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("neither", func(t *testing.T) {
		_, err := svc.Create(context.Background(), Params{Name: str("x"), RunAt: &runAt})
		if !errs.IsKind(err, errs.KindValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("skill without config", func(t *testing.T) {
		_, err := svc.Create(context.Background(), Params{
			Name: str("x"), RunAt: &runAt, SkillName: str("departure-check"),
		})
		if !errs.IsKind(err, errs.KindValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestCreateOneShot(t *testing.T) {
	svc, _ := testService()
	runAt := time.Now().Add(30 * time.Minute)

	job, err := svc.Create(context.Background(), Params{
		Name: str("once"), RunAt: &runAt, Prompt: str("ping"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Schedule != nil {
		t.Error("one-shot job must have no schedule")
	}
	if !job.NextRunAt.Equal(runAt) {
		t.Errorf("next_run_at = %v, want %v", job.NextRunAt, runAt)
	}
}

func TestUpdateRevalidates(t *testing.T) {
	svc, _ := testService()
	job, err := svc.Create(context.Background(), Params{
		Name: str("morning"), Schedule: str("0 8 * * *"), Prompt: str("status"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Update(context.Background(), job.ID, Params{Schedule: str("bogus")}); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	updated, err := svc.Update(context.Background(), job.ID, Params{Schedule: str("0 9 * * *")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if *updated.Schedule != "0 9 * * *" {
		t.Errorf("schedule = %q", *updated.Schedule)
	}
}

func TestUpdateMissingJob(t *testing.T) {
	svc, _ := testService()
	if _, err := svc.Update(context.Background(), 42, Params{Name: str("x")}); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestNextAfter(t *testing.T) {
	at := time.Date(2026, 3, 1, 7, 59, 0, 0, time.UTC)
	next, err := NextAfter("0 8 * * *", at)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// Strictly after: asking at exactly 08:00 moves to the next day.
	next, err = NextAfter("0 8 * * *", want)
	if err != nil {
		t.Fatal(err)
	}
	if !next.After(want) {
		t.Errorf("next fire must be strictly after, got %v", next)
	}
}

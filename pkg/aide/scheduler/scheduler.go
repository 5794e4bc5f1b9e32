// Package scheduler runs the durable job loop: it enqueues runs for
// due jobs, claims pending runs under a lease, and executes them as
// prompt runs or skills with retry and notification handling.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jholhewres/aide/pkg/aide/jobs"
	"github.com/jholhewres/aide/pkg/aide/skills"
	"github.com/jholhewres/aide/pkg/aide/store"
	"github.com/jholhewres/aide/pkg/aide/thread"
)

const (
	tickInterval  = 30 * time.Second
	leaseDuration = 5 * time.Minute
	leaseRefresh  = 120 * time.Second

	// notifyBodyLimit caps notification bodies.
	notifyBodyLimit = 200
)

// Storage is the persistence surface the scheduler needs.
type Storage interface {
	ResetAbandonedRuns(ctx context.Context, now time.Time) (int64, error)
	JobsDue(ctx context.Context, now time.Time) ([]store.Job, error)
	CreateRunIdempotent(ctx context.Context, jobID int64, scheduledFor time.Time) (bool, error)
	GetJob(ctx context.Context, id int64) (*store.Job, error)
	SetJobNextRun(ctx context.Context, id int64, next time.Time) error
	SetJobEnabled(ctx context.Context, id int64, enabled bool) error
	SetJobLastRun(ctx context.Context, id int64, at time.Time) error
	ClaimPendingRun(ctx context.Context, now time.Time, lease time.Duration) (*store.JobRun, error)
	RefreshRunLock(ctx context.Context, id int64, until time.Time) error
	CompleteRun(ctx context.Context, id int64, threadID *int64) error
	FailRun(ctx context.Context, id int64, errMsg string) error
	RetryRun(ctx context.Context, id int64, errMsg string, retryAt time.Time) error
}

// ThreadCreator opens the thread a prompt run writes into.
type ThreadCreator interface {
	Create(ctx context.Context, source string, jobRunID *int64) (*store.Thread, error)
}

// Runner executes one prompt run to completion.
type Runner interface {
	Run(ctx context.Context, threadID int64, userMessage string) error
}

// Notifier pushes job outcome notifications. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, title, body, tag, clickURL string)
}

// Scheduler owns the tick loop. Ticks are serialized; one run executes
// at a time within a process, and the run lease keeps concurrent
// processes from doubling up.
type Scheduler struct {
	store    Storage
	threads  ThreadCreator
	agent    Runner
	skills   *skills.Registry
	notifier Notifier
	appURL   string
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the scheduler. appURL, when set, becomes the click
// target of success notifications.
func New(st Storage, threads ThreadCreator, agent Runner, registry *skills.Registry, notifier Notifier, appURL string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    st,
		threads:  threads,
		agent:    agent,
		skills:   registry,
		notifier: notifier,
		appURL:   appURL,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
	}
}

// Start launches the tick loop. The first tick fires immediately.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info("scheduler started", "tick", tickInterval.String())

		s.tick(ctx)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and any in-flight run, then waits for the loop
// to exit. In-flight runs cut short here are requeued by the next
// process once their lease expires.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("scheduler stopped")
}

// tick recovers abandoned runs, enqueues due jobs, and drains the
// pending queue. Errors are logged, never fatal.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	if n, err := s.store.ResetAbandonedRuns(ctx, now); err != nil {
		s.logger.Error("resetting abandoned runs failed", "error", err)
	} else if n > 0 {
		s.logger.Warn("requeued abandoned runs", "count", n)
	}

	s.enqueueDue(ctx, now)

	// At most one run per tick; a backlog is paced across ticks so
	// reclaim and enqueue keep running between slow runs.
	run, err := s.store.ClaimPendingRun(ctx, s.now(), leaseDuration)
	if err != nil {
		s.logger.Error("claiming pending run failed", "error", err)
		return
	}
	if run == nil {
		return
	}
	s.execute(ctx, run)
}

// enqueueDue inserts a run for each due job at its nominal fire instant
// and advances (or retires) the job's schedule.
func (s *Scheduler) enqueueDue(ctx context.Context, now time.Time) {
	due, err := s.store.JobsDue(ctx, now)
	if err != nil {
		s.logger.Error("listing due jobs failed", "error", err)
		return
	}

	for i := range due {
		job := &due[i]
		inserted, err := s.store.CreateRunIdempotent(ctx, job.ID, job.NextRunAt)
		if err != nil {
			s.logger.Error("enqueueing run failed", "job_id", job.ID, "error", err)
			continue
		}
		if inserted {
			s.logger.Info("run enqueued", "job_id", job.ID, "job", job.Name, "scheduled_for", job.NextRunAt)
		}

		if job.Schedule == nil {
			// One-shot jobs retire after their single enqueue.
			if err := s.store.SetJobEnabled(ctx, job.ID, false); err != nil {
				s.logger.Error("disabling one-shot job failed", "job_id", job.ID, "error", err)
			}
			continue
		}

		next, err := jobs.NextAfter(*job.Schedule, now)
		if err != nil {
			s.logger.Error("schedule no longer parses, disabling job", "job_id", job.ID, "error", err)
			if err := s.store.SetJobEnabled(ctx, job.ID, false); err != nil {
				s.logger.Error("disabling job failed", "job_id", job.ID, "error", err)
			}
			continue
		}
		if err := s.store.SetJobNextRun(ctx, job.ID, next); err != nil {
			s.logger.Error("advancing job schedule failed", "job_id", job.ID, "error", err)
		}
	}
}

// execute runs one claimed run under a refreshed lease.
func (s *Scheduler) execute(ctx context.Context, run *store.JobRun) {
	job, err := s.store.GetJob(ctx, run.JobID)
	if err != nil {
		s.logger.Error("loading job for run failed", "run_id", run.ID, "job_id", run.JobID, "error", err)
		if err := s.store.FailRun(ctx, run.ID, "Job not found"); err != nil {
			s.logger.Error("failing orphaned run failed", "run_id", run.ID, "error", err)
		}
		return
	}

	s.logger.Info("run started", "run_id", run.ID, "job_id", job.ID, "job", job.Name, "attempt", run.RetryCount+1)

	stopRefresh := make(chan struct{})
	go s.refreshLease(ctx, run.ID, stopRefresh)

	var runErr error
	if job.Prompt != nil {
		runErr = s.runPrompt(ctx, job, run)
	} else {
		runErr = s.runSkill(ctx, job, run)
	}
	close(stopRefresh)

	if runErr != nil {
		s.failOrRetry(ctx, job, run, runErr)
		return
	}
	s.logger.Info("run completed", "run_id", run.ID, "job_id", job.ID, "job", job.Name)
}

// refreshLease extends the run lock until the run finishes, keeping
// other processes from treating a slow run as abandoned.
func (s *Scheduler) refreshLease(ctx context.Context, runID int64, stop <-chan struct{}) {
	ticker := time.NewTicker(leaseRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.RefreshRunLock(ctx, runID, s.now().Add(leaseDuration)); err != nil {
				s.logger.Error("refreshing run lease failed", "run_id", runID, "error", err)
			}
		}
	}
}

// runPrompt opens a wake thread and drives a full model run over it.
func (s *Scheduler) runPrompt(ctx context.Context, job *store.Job, run *store.JobRun) error {
	th, err := s.threads.Create(ctx, thread.SourceWake, &run.ID)
	if err != nil {
		return fmt.Errorf("creating wake thread: %w", err)
	}

	if err := s.agent.Run(ctx, th.ID, *job.Prompt); err != nil {
		return err
	}

	if err := s.store.CompleteRun(ctx, run.ID, &th.ID); err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	if err := s.store.SetJobLastRun(ctx, job.ID, s.now()); err != nil {
		s.logger.Error("recording last run failed", "job_id", job.ID, "error", err)
	}

	clickURL := ""
	if s.appURL != "" {
		clickURL = fmt.Sprintf("%s/threads/%d", s.appURL, th.ID)
	}
	s.notifier.Send(ctx, "Job completed: "+job.Name, snippet(*job.Prompt), "white_check_mark", clickURL)
	return nil
}

// runSkill dispatches to a registered skill. Skill runs produce no
// success notification; skills notify on their own terms.
func (s *Scheduler) runSkill(ctx context.Context, job *store.Job, run *store.JobRun) error {
	name := ""
	if job.SkillName != nil {
		name = *job.SkillName
	}
	sk, ok := s.skills.Get(name)
	if !ok {
		return fmt.Errorf("Unknown skill: %s", name)
	}

	res, err := sk.Execute(ctx, skills.Context{
		Job:    job,
		Logger: s.logger.With("skill", name, "job_id", job.ID),
	})
	if err != nil {
		return err
	}

	if res.DisableJob {
		if err := s.store.SetJobEnabled(ctx, job.ID, false); err != nil {
			s.logger.Error("disabling job after skill run failed", "job_id", job.ID, "error", err)
		}
	}
	if !res.Success {
		return errors.New(res.Message)
	}

	if err := s.store.CompleteRun(ctx, run.ID, nil); err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	if err := s.store.SetJobLastRun(ctx, job.ID, s.now()); err != nil {
		s.logger.Error("recording last run failed", "job_id", job.ID, "error", err)
	}
	return nil
}

// failOrRetry applies the retry policy: exponential backoff in minutes
// until the attempt budget is spent, then a terminal failure with a
// notification.
func (s *Scheduler) failOrRetry(ctx context.Context, job *store.Job, run *store.JobRun, runErr error) {
	msg := runErr.Error()

	if run.RetryCount+1 >= job.MaxRetries {
		s.logger.Error("run failed", "run_id", run.ID, "job_id", job.ID, "job", job.Name,
			"attempt", run.RetryCount+1, "error", runErr)
		if err := s.store.FailRun(ctx, run.ID, msg); err != nil {
			s.logger.Error("marking run failed failed", "run_id", run.ID, "error", err)
		}
		s.notifier.Send(ctx, "Job failed: "+job.Name, snippet(msg), "x", "")
		return
	}

	backoff := time.Duration(1<<uint(run.RetryCount)) * time.Minute
	retryAt := s.now().Add(backoff)
	s.logger.Warn("run will retry", "run_id", run.ID, "job_id", job.ID, "job", job.Name,
		"attempt", run.RetryCount+1, "retry_at", retryAt, "error", runErr)
	if err := s.store.RetryRun(ctx, run.ID, msg, retryAt); err != nil {
		s.logger.Error("requeueing run failed", "run_id", run.ID, "error", err)
	}
}

// snippet truncates on a rune boundary so notification bodies stay
// valid UTF-8.
func snippet(s string) string {
	if len(s) <= notifyBodyLimit {
		return s
	}
	cut := notifyBodyLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

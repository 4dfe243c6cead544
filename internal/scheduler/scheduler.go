// Package scheduler implements the daemon scheduler (C8): boot-time
// resumption of every non-terminal job, beacon-head tailing, job
// enqueueing, and bounded concurrency across the executor (spec.md §4.8).
package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bankai-xyz/bankai/internal/beacon"
	"github.com/bankai-xyz/bankai/internal/config"
	"github.com/bankai-xyz/bankai/internal/errs"
	"github.com/bankai-xyz/bankai/internal/events"
	"github.com/bankai-xyz/bankai/internal/executor"
	"github.com/bankai-xyz/bankai/internal/jobs"
	"github.com/bankai-xyz/bankai/internal/store"
)

const slotsPerEpoch = 32
const slotsPerPeriod = 8192

// HeadSource is the subset of the beacon adapter the scheduler's
// head-tailing loop needs.
type HeadSource interface {
	FetchLatestHead(ctx context.Context) (beacon.Head, error)
}

// Scheduler drives the whole daemon: resumption at boot, then steady-state
// head tailing and job enqueueing, fanning work out to the executor under a
// concurrency cap.
type Scheduler struct {
	Store    *store.Store
	Head     HeadSource
	Executor *executor.Executor
	Cfg      config.Scheduler
	Sink     events.Sink

	sem *semaphore.Weighted
}

// New constructs a Scheduler ready to Run.
func New(s *store.Store, head HeadSource, exec *executor.Executor, cfg config.Scheduler, sink events.Sink) *Scheduler {
	return &Scheduler{
		Store:    s,
		Head:     head,
		Executor: exec,
		Cfg:      cfg,
		Sink:     sink,
		sem:      semaphore.NewWeighted(int64(cfg.ConcurrencyCap)),
	}
}

// Run performs boot-time resumption, then enters steady state (head
// tailing + enqueueing) until ctx is canceled. It returns nil on a clean
// shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.resumeAll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.Cfg.HeadPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// resumeAll implements §4.8's boot sequence: list every non-terminal job
// and re-enter the executor loop for each. Resumption is transparent — the
// state machine alone dictates the next action for a given status. The
// batch fans out through an errgroup so a panic in one resumed job's drive
// loop surfaces as a logged error instead of silently killing Run's boot
// sequence; the group is drained in the background so a long-running
// resumed job never delays entry into steady state.
func (s *Scheduler) resumeAll(ctx context.Context) error {
	pending, err := s.Store.ListResumable(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range pending {
		job := job
		g.Go(func() error {
			s.driveJobRecovered(gctx, job)
			return nil
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			s.Sink.Emit(events.Event{Step: "resume_all", Err: err.Error(), At: time.Now().UTC()})
		}
	}()
	return nil
}

// tick runs one steady-state iteration: advance the cursor against the
// beacon head and enqueue whatever new work that reveals.
func (s *Scheduler) tick(ctx context.Context) {
	head, err := s.Head.FetchLatestHead(ctx)
	if err != nil {
		s.Sink.Emit(events.Event{Step: "tail_head", Err: err.Error(), At: time.Now().UTC()})
		return
	}

	cursor, ok, err := s.Store.ReadCursor(ctx)
	if err != nil {
		s.Sink.Emit(events.Event{Step: "read_cursor", Err: err.Error(), At: time.Now().UTC()})
		return
	}
	if !ok {
		// Nothing settled yet; adopt the current head as the starting point
		// without enqueueing retroactive work for history before boot.
		if err := s.Store.UpsertCursor(ctx, head.Slot, head.BlockRoot); err != nil {
			s.Sink.Emit(events.Event{Step: "upsert_cursor", Err: err.Error(), At: time.Now().UTC()})
		}
		return
	}
	if head.Slot <= cursor.Slot {
		return
	}

	s.enqueueCommitteeRotations(ctx, cursor.Slot, head.Slot)
	s.enqueueEpochWork(ctx, cursor.Slot, head.Slot)

	if err := s.Store.UpsertCursor(ctx, head.Slot, head.BlockRoot); err != nil {
		s.Sink.Emit(events.Event{Step: "upsert_cursor", Err: err.Error(), At: time.Now().UTC()})
	}
}

// enqueueCommitteeRotations enqueues a SyncCommitteeUpdate job for every
// sync-committee-period boundary the head has crossed since the cursor.
func (s *Scheduler) enqueueCommitteeRotations(ctx context.Context, fromSlot, toSlot uint64) {
	firstBoundary := (fromSlot/slotsPerPeriod + 1) * slotsPerPeriod
	for boundary := firstBoundary; boundary <= toSlot; boundary += slotsPerPeriod {
		job := jobs.NewJob(jobs.SyncCommitteeUpdate, boundary, jobs.BatchRange{}, time.Now().UTC())
		if err := s.Store.CreateJob(ctx, job); err != nil {
			if err != store.ErrAlreadyExists {
				s.Sink.Emit(events.Event{Step: "enqueue_committee", Err: err.Error(), At: time.Now().UTC()})
			}
			continue
		}
		s.launch(ctx, job)
	}
}

// enqueueEpochWork enqueues epoch work once enough finalized epochs have
// accumulated since the cursor, respecting the committee-before-epoch
// ordering backpressure from §4.8/§5(a): epoch jobs for a period are held
// back while that period's committee rotation is still in flight.
func (s *Scheduler) enqueueEpochWork(ctx context.Context, fromSlot, toSlot uint64) {
	fromEpochSlot := (fromSlot/slotsPerEpoch + 1) * slotsPerEpoch
	pendingEpochs := (toSlot - fromEpochSlot) / slotsPerEpoch
	if fromEpochSlot > toSlot || pendingEpochs+1 < uint64(s.Cfg.BatchSize) {
		return
	}

	if s.committeeInFlight(ctx, fromEpochSlot) {
		return
	}

	if s.Cfg.BatchSize > 1 {
		endSlot := fromEpochSlot + (uint64(s.Cfg.BatchSize)-1)*slotsPerEpoch
		job := jobs.NewJob(jobs.EpochBatchUpdate, endSlot, jobs.BatchRange{
			BeginEpoch: fromEpochSlot / slotsPerEpoch,
			EndEpoch:   endSlot / slotsPerEpoch,
			Valid:      true,
		}, time.Now().UTC())
		if err := s.Store.CreateJob(ctx, job); err != nil {
			if err != store.ErrAlreadyExists {
				s.Sink.Emit(events.Event{Step: "enqueue_epoch_batch", Err: err.Error(), At: time.Now().UTC()})
			}
			return
		}
		s.launch(ctx, job)
		return
	}

	job := jobs.NewJob(jobs.EpochUpdate, fromEpochSlot, jobs.BatchRange{}, time.Now().UTC())
	if err := s.Store.CreateJob(ctx, job); err != nil {
		if err != store.ErrAlreadyExists {
			s.Sink.Emit(events.Event{Step: "enqueue_epoch", Err: err.Error(), At: time.Now().UTC()})
		}
		return
	}
	s.launch(ctx, job)
}

// committeeInFlight reports whether a SyncCommitteeUpdate job covering
// slot's period is still non-terminal.
func (s *Scheduler) committeeInFlight(ctx context.Context, slot uint64) bool {
	pending, err := s.Store.ListResumable(ctx)
	if err != nil {
		return true // conservative: don't enqueue epoch work if we can't check
	}
	period := slot / slotsPerPeriod
	for _, job := range pending {
		if job.Kind == jobs.SyncCommitteeUpdate && job.Slot/slotsPerPeriod == period {
			return true
		}
	}
	return false
}

// launch drives job to completion in its own goroutine. Steady-state
// enqueues happen one job at a time as the head advances, so there is no
// fixed batch to fan out through an errgroup the way resumeAll has; the
// panic recovery is shared with it through driveJobRecovered.
func (s *Scheduler) launch(ctx context.Context, job jobs.Job) {
	go s.driveJobRecovered(ctx, job)
}

// driveJobRecovered runs driveJob, turning a panic into a logged event
// instead of taking down the caller — resumeAll's errgroup fan-out and
// launch's bare goroutines both go through this.
func (s *Scheduler) driveJobRecovered(ctx context.Context, job jobs.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.Sink.Emit(events.Event{
				JobID: job.JobID, Step: job.Status.String(),
				Err: fmt.Sprintf("recovered panic: %v", r), At: time.Now().UTC(),
			})
		}
	}()
	s.driveJob(ctx, job)
}

// driveJob steps job through the executor until it reaches a terminal
// status, the job's wall-clock deadline expires, or ctx is canceled.
// Genuine transient failures back off per the configured retry policy; a
// still-pending poll instead waits on the configured poll cadence without
// touching the retry budget, since spec.md §4.3 bounds polling by the
// job's wall-clock deadline, not by retry count. The semaphore is only
// held while Step is actually running, so a job sleeping on either wait
// does not count against the concurrency cap (spec.md §4.8).
func (s *Scheduler) driveJob(ctx context.Context, job jobs.Job) {
	policy := jobs.RetryPolicy{
		Base:        s.Cfg.PollBaseDelay,
		Factor:      jobs.DefaultRetryPolicy().Factor,
		Cap:         s.Cfg.PollMaxDelay,
		MaxAttempts: s.Cfg.PollMaxAttempts,
	}

	for !job.Status.IsTerminal() {
		if jobs.JobDeadlineExceeded(job.CreatedAt, time.Now().UTC(), s.Cfg.JobDeadline) {
			_ = s.Store.RecordFailure(ctx, job.JobID, job.Status.String(), errs.KindPermanent)
			return
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		claimed, cerr := s.Store.ClaimJob(ctx, job.JobID, job.Status)
		if cerr != nil {
			s.sem.Release(1)
			return
		}
		next, err := s.Executor.Step(ctx, claimed)
		s.sem.Release(1)

		if err == nil {
			job = next
			continue
		}

		if !errs.IsTransient(err) {
			return
		}

		if errs.IsPollPending(err) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.Cfg.PollBaseDelay):
			}
			continue
		}

		refreshed, gerr := s.Store.GetJob(ctx, job.JobID)
		if gerr != nil {
			return
		}
		job = refreshed
		if policy.Exhausted(job.RetriesCount) {
			_ = s.Store.RecordFailure(ctx, job.JobID, job.Status.String(), errs.KindPermanent)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(policy.DelayFor(job.RetriesCount)):
		}
	}
}

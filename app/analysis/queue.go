package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feedsieve/feedsieve/app/database"
)

const jobTimeout = 5 * time.Minute

// QueueConfig carries the queue's tuning knobs, typically derived from the
// application configuration.
type QueueConfig struct {
	WorkerCount      int
	PollInterval     time.Duration
	JanitorInterval  time.Duration
	PreliminaryDelay time.Duration
	StalledAfter     time.Duration
	PruneMaxAge      time.Duration
	PruneKeep        int
	MaxAttempts      int
}

// Queue drives the two-stage analysis pipeline: a pool of workers claims
// durable jobs from the shared jobs table and a janitor requeues stalled
// jobs and prunes finished ones. Multiple workers may process the same job
// type in parallel; handler idempotency makes duplicate submissions safe.
type Queue struct {
	jobRepo   database.JobRepository
	entryRepo database.EntryRepository
	prelim    *PreliminaryHandler
	deep      *DeepHandler

	workerCount     int
	pollInterval    time.Duration
	janitorInterval time.Duration
	prelimDelay     time.Duration
	stalledAfter    time.Duration
	pruneMaxAge     time.Duration
	pruneKeep       int
	maxAttempts     int

	paused atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewQueue(jobRepo database.JobRepository, entryRepo database.EntryRepository,
	prelim *PreliminaryHandler, deep *DeepHandler, config QueueConfig) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		jobRepo:         jobRepo,
		entryRepo:       entryRepo,
		prelim:          prelim,
		deep:            deep,
		workerCount:     config.WorkerCount,
		pollInterval:    config.PollInterval,
		janitorInterval: config.JanitorInterval,
		prelimDelay:     config.PreliminaryDelay,
		stalledAfter:    config.StalledAfter,
		pruneMaxAge:     config.PruneMaxAge,
		pruneKeep:       config.PruneKeep,
		maxAttempts:     config.MaxAttempts,
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (q *Queue) Start() {
	q.group = &errgroup.Group{}

	for i := 0; i < q.workerCount; i++ {
		workerID := i
		q.group.Go(func() error {
			q.worker(workerID)
			return nil
		})
	}

	q.group.Go(func() error {
		q.janitor()
		return nil
	})
}

func (q *Queue) Stop() {
	q.cancel()
	if q.group != nil {
		q.group.Wait()
	}
}

func (q *Queue) worker(id int) {
	for {
		if q.ctx.Err() != nil {
			return
		}

		if q.paused.Load() {
			q.sleep(q.pollInterval)
			continue
		}

		job, err := q.jobRepo.ClaimNextJob([]string{database.JobTypePreliminary, database.JobTypeDeep})
		if err != nil {
			slog.Error("Worker failed to claim job", "worker_id", id, "error", err)
			q.sleep(q.pollInterval)
			continue
		}
		if job == nil {
			q.sleep(q.pollInterval)
			continue
		}

		q.executeJob(id, job)
	}
}

func (q *Queue) executeJob(workerID int, job *database.Job) {
	startedAt := time.Now()

	jobCtx, cancel := context.WithTimeout(q.ctx, jobTimeout)
	defer cancel()

	stopHeartbeat := q.startHeartbeat(jobCtx, job.ID)
	defer stopHeartbeat()

	var err error
	switch job.Type {
	case database.JobTypePreliminary:
		err = q.prelim.Process(jobCtx, job)
	case database.JobTypeDeep:
		err = q.deep.Process(jobCtx, job)
	default:
		err = Terminal(fmt.Errorf("unknown job type: %s", job.Type))
	}

	if err == nil {
		if completeErr := q.jobRepo.CompleteJob(job.ID); completeErr != nil {
			slog.Error("Failed to mark job completed", "job_id", job.ID, "error", completeErr)
		}
		slog.Info("Job completed",
			"worker_id", workerID,
			"type", job.Type,
			"entry_id", job.EntryID,
			"duration", time.Since(startedAt))
		return
	}

	slog.Error("Worker job execution failed",
		"worker_id", workerID,
		"type", job.Type,
		"job_id", job.ID,
		"entry_id", job.EntryID,
		"attempt", job.Attempts+1,
		"error", err)

	if IsTerminal(err) {
		if failErr := q.jobRepo.FailJobPermanently(job.ID, err.Error()); failErr != nil {
			slog.Error("Failed to record permanent job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if failErr := q.jobRepo.FailJob(job.ID, err.Error()); failErr != nil {
		slog.Error("Failed to record job failure", "job_id", job.ID, "error", failErr)
	}
}

// startHeartbeat keeps the job's liveness timestamp fresh while the handler
// runs so the janitor can tell a slow job from a dead worker.
func (q *Queue) startHeartbeat(ctx context.Context, jobID string) func() {
	interval := q.stalledAfter / 3
	if interval < time.Second {
		interval = time.Second
	}

	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.jobRepo.Heartbeat(jobID); err != nil {
					slog.Debug("Heartbeat update failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// janitor periodically requeues stalled jobs and prunes finished ones so the
// jobs table stays bounded.
func (q *Queue) janitor() {
	ticker := time.NewTicker(q.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if n, err := q.jobRepo.RequeueStalled(q.stalledAfter); err != nil {
				slog.Error("Failed to requeue stalled jobs", "error", err)
			} else if n > 0 {
				slog.Warn("Requeued stalled jobs", "count", n)
			}

			if n, err := q.jobRepo.PruneJobs(q.pruneMaxAge, q.pruneKeep); err != nil {
				slog.Error("Failed to prune jobs", "error", err)
			} else if n > 0 {
				slog.Debug("Pruned finished jobs", "count", n)
			}
		}
	}
}

func (q *Queue) sleep(d time.Duration) {
	select {
	case <-q.ctx.Done():
	case <-time.After(d):
	}
}

// EnqueueEntry submits one preliminary job for an entry. The small default
// delay keeps analysis from contending with a feed-fetch burst.
func (q *Queue) EnqueueEntry(entryID string, opts EnqueueOptions) (string, error) {
	delay := q.prelimDelay
	if opts.Delay > 0 {
		delay = opts.Delay
	}

	jobID, err := q.jobRepo.EnqueueJob(database.Job{
		Type:        database.JobTypePreliminary,
		EntryID:     entryID,
		Priority:    opts.Priority,
		Force:       opts.ForceReanalyze,
		MaxAttempts: q.maxAttempts,
		RunAfter:    time.Now().UTC().Add(delay),
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue preliminary job: %w", err)
	}

	return jobID, nil
}

// EnqueueBatch submits preliminary jobs for many entries, returning the ids
// of the jobs created. Entries that fail to enqueue are logged and skipped.
func (q *Queue) EnqueueBatch(entryIDs []string, opts EnqueueOptions) []string {
	jobIDs := make([]string, 0, len(entryIDs))
	for _, entryID := range entryIDs {
		jobID, err := q.EnqueueEntry(entryID, opts)
		if err != nil {
			slog.Warn("Failed to enqueue entry", "entry_id", entryID, "error", err)
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}
	return jobIDs
}

// ScanAndEnqueue finds entries without a preliminary result and enqueues
// them, up to limit. Returns the number of jobs created.
func (q *Queue) ScanAndEnqueue(limit int) (int, error) {
	entryIDs, err := q.entryRepo.GetUnanalyzedEntryIDs(limit)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for unanalyzed entries: %w", err)
	}

	jobIDs := q.EnqueueBatch(entryIDs, EnqueueOptions{})
	return len(jobIDs), nil
}

func (q *Queue) GetStats() (*Stats, error) {
	counts, err := q.jobRepo.GetJobCounts()
	if err != nil {
		return nil, err
	}
	return &Stats{
		Counts:      counts,
		SuccessRate: counts.SuccessRate(),
		Paused:      q.paused.Load(),
	}, nil
}

func (q *Queue) GetJob(jobID string) (*database.Job, error) {
	return q.jobRepo.GetJob(jobID)
}

// RetryFailed requeues up to limit failed jobs with a fresh attempt budget.
func (q *Queue) RetryFailed(limit int) (int, error) {
	return q.jobRepo.RetryFailedJobs(limit)
}

func (q *Queue) Pause() {
	q.paused.Store(true)
	slog.Info("Analysis queue paused")
}

func (q *Queue) Resume() {
	q.paused.Store(false)
	slog.Info("Analysis queue resumed")
}

func (q *Queue) IsPaused() bool {
	return q.paused.Load()
}

// Drain blocks until no jobs are waiting, delayed or active, or ctx ends.
// Callers typically Pause first to stop new submissions from racing the
// drain.
func (q *Queue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		counts, err := q.jobRepo.GetJobCounts()
		if err != nil {
			return err
		}
		if counts.Waiting+counts.Delayed+counts.Active == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/logging"
)

const mergeLockKey = "repchat:lock:merge-duplicates"

// MergeDuplicatesJobArgs requests one duplicate-merge run.
type MergeDuplicatesJobArgs struct {
	RequestedBy string `json:"requested_by"`
}

func (MergeDuplicatesJobArgs) Kind() string {
	return "merge_duplicates"
}

// Merger is the part of conversation.Merger the worker drives.
type Merger interface {
	MergeDuplicates(ctx context.Context) (conversation.MergeReport, error)
}

// MergeDuplicatesWorker runs the merge engine under a cross-instance lock.
type MergeDuplicatesWorker struct {
	river.WorkerDefaults[MergeDuplicatesJobArgs]
	merger Merger
	locker Locker
	config *QueueConfig
}

func NewMergeDuplicatesWorker(merger Merger, locker Locker, config *QueueConfig) *MergeDuplicatesWorker {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if config == nil {
		config = DefaultQueueConfig()
	}
	return &MergeDuplicatesWorker{merger: merger, locker: locker, config: config}
}

func (w *MergeDuplicatesWorker) Timeout(*river.Job[MergeDuplicatesJobArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work performs one merge run. A run that finds the lock taken is snoozed
// rather than failed.
func (w *MergeDuplicatesWorker) Work(ctx context.Context, job *river.Job[MergeDuplicatesJobArgs]) error {
	runID := strconv.FormatInt(job.ID, 10)
	release, err := w.locker.Obtain(ctx, mergeLockKey, w.config.LockTTL)
	if errors.Is(err, ErrLocked) {
		log.Info().Str("job_id", runID).Msg("merge run already in progress elsewhere, snoozing")
		return river.JobSnooze(w.config.SnoozeFor)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("job_id", runID).Msg("failed to release merge lock")
		}
	}()

	_, err = w.run(ctx, runID, job.Args.RequestedBy)
	return err
}

func (w *MergeDuplicatesWorker) run(ctx context.Context, runID, requestedBy string) (conversation.MergeReport, error) {
	var runLog *logging.RunLogger
	if w.config.LogDir != "" {
		rl, err := logging.StartRunLogging(w.config.LogDir, "merge", runID)
		if err != nil {
			log.Warn().Err(err).Msg("merge run log unavailable")
		} else {
			runLog = rl
			defer runLog.Close()
		}
	}

	runLog.LogSection("merge duplicates requested by " + requestedBy)
	report, err := w.merger.MergeDuplicates(ctx)
	for _, g := range report.Groups {
		if g.Failed() {
			runLog.Log("group %s|%s survivor=%s failed: %v", g.Customer, g.RepPhone, g.SurvivorID, g.Errors)
			continue
		}
		runLog.Log("group %s|%s survivor=%s deleted=%v moved=%d", g.Customer, g.RepPhone, g.SurvivorID, g.DeletedIDs, g.MessagesMoved)
	}
	runLog.Logger().Info().
		Int("scanned", report.Scanned).
		Int("groups", len(report.Groups)).
		Int("failed_groups", report.FailedGroups()).
		Int("messages_moved", report.MessagesMoved()).
		Str("requested_by", requestedBy).
		Msg("merge run finished")
	if err != nil {
		return report, fmt.Errorf("merge duplicates: %w", err)
	}
	return report, nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue connects to databaseURL and registers the merge worker.
func NewJobQueue(ctx context.Context, databaseURL string, worker *MergeDuplicatesWorker, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Migrate applies River's own schema migrations.
func (jq *JobQueue) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(jq.pool), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}
	log.Info().Int("applied", len(res.Versions)).Msg("river migrations applied")
	return nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and closes the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	defer jq.pool.Close()
	return jq.client.Stop(ctx)
}

// QueueMergeDuplicates enqueues a merge run and returns the job id.
func (jq *JobQueue) QueueMergeDuplicates(ctx context.Context, requestedBy string) (int64, error) {
	res, err := jq.client.Insert(ctx, MergeDuplicatesJobArgs{RequestedBy: requestedBy}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to queue merge job: %w", err)
	}
	log.Info().Int64("job_id", res.Job.ID).Str("requested_by", requestedBy).Msg("merge job queued")
	return res.Job.ID, nil
}

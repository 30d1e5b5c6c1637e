package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/observe"
)

// ErrQueueFull is returned by Submit when the worker buffer is full. The
// job stays PENDING and keeps holding the barrier until it is submitted
// again or recovered at start-up.
var ErrQueueFull = errors.New("extraction queue is full")

// ErrSchedulerClosed is returned by Submit after Close.
var ErrSchedulerClosed = errors.New("extraction scheduler is closed")

// SchedulerConfig sizes the worker pool.
type SchedulerConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// DefaultSchedulerConfig returns the default pool sizing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Workers: 4, QueueSize: 256, JobTimeout: 60 * time.Second}
}

// delivery is one unit of work for a worker. Redelivered jobs skip the
// PENDING → PROCESSING claim because a previous run already made it.
type delivery struct {
	jobID      string
	redelivery bool
}

// Scheduler runs extraction jobs on a fixed pool of workers.
type Scheduler struct {
	queue      *Queue
	classifier Classifier
	observer   observe.Observer
	log        *zap.Logger
	cfg        SchedulerConfig

	work   chan delivery
	cancel context.CancelFunc
	eg     *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewScheduler creates a Scheduler. Call Start before Submit.
func NewScheduler(q *Queue, c Classifier, obs observe.Observer, logger *zap.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSchedulerConfig().QueueSize
	}
	if obs == nil {
		obs = observe.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:      q,
		classifier: c,
		observer:   obs,
		log:        logger,
		cfg:        cfg,
		work:       make(chan delivery, cfg.QueueSize),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Close is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(ctx)
	s.eg = eg

	for i := 0; i < s.cfg.Workers; i++ {
		worker := i
		eg.Go(func() error {
			s.loop(egCtx, worker)
			return nil
		})
	}
	s.log.Info("extraction workers started", zap.Int("workers", s.cfg.Workers))
}

// Submit schedules a PENDING job without blocking the caller.
func (s *Scheduler) Submit(jobID string) error {
	return s.enqueue(delivery{jobID: jobID})
}

// Redeliver schedules a job that may already be PROCESSING, for example
// one orphaned by a crashed worker. Completion stays idempotent.
func (s *Scheduler) Redeliver(jobID string) error {
	return s.enqueue(delivery{jobID: jobID, redelivery: true})
}

func (s *Scheduler) enqueue(d delivery) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	select {
	case s.work <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

// Recover resubmits every job left in flight by a previous process:
// PENDING jobs normally, PROCESSING jobs as redeliveries.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	jobs, err := s.queue.InFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing in-flight jobs: %w", err)
	}
	n := 0
	for _, j := range jobs {
		var err error
		if j.Status == StatusProcessing {
			err = s.Redeliver(j.ID)
		} else {
			err = s.Submit(j.ID)
		}
		if err != nil {
			s.log.Warn("recover: could not resubmit job", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("recovered in-flight extractions", zap.Int("jobs", n))
	}
	return n, nil
}

// Close stops accepting work, lets workers drain the buffer and waits for
// them to exit.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.work)
	s.mu.Unlock()

	if s.eg == nil {
		return nil
	}
	err := s.eg.Wait()
	s.cancel()
	return err
}

func (s *Scheduler) loop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-s.work:
			if !ok {
				return
			}
			s.run(ctx, d)
		}
	}
}

// run executes one job: claim, classify, validate, persist.
func (s *Scheduler) run(ctx context.Context, d delivery) {
	started := time.Now()
	log := s.log.With(zap.String("job_id", d.jobID))

	if !d.redelivery {
		claimed, err := s.queue.MarkProcessing(ctx, d.jobID)
		if err != nil {
			log.Error("claim failed", zap.Error(err))
			return
		}
		if !claimed {
			log.Debug("job already claimed or finished, skipping")
			return
		}
	}

	job, err := s.queue.Get(ctx, d.jobID)
	if err != nil {
		log.Error("load job failed", zap.Error(err))
		s.fail(ctx, log, d.jobID, "", fmt.Errorf("loading job: %w", err), started)
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	jobCtx := ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	drafts, err := s.classifier.Classify(jobCtx, ClassifyRequest{
		SessionID: job.SessionID,
		JobID:     job.ID,
		Phase:     job.Phase,
		Turn:      job.Turn,
		Text:      job.Text,
	})
	if err != nil {
		log.Warn("classification failed", zap.String("session_id", job.SessionID), zap.Error(err))
		s.fail(ctx, log, job.ID, job.SessionID, err, started)
		return
	}

	signals := make([]discovery.Signal, 0, len(drafts))
	for _, draft := range drafts {
		sig, err := discovery.NewSignal(job.SessionID, job.Turn, draft)
		if err != nil {
			log.Warn("dropping invalid signal",
				zap.String("session_id", job.SessionID),
				zap.String("domain", string(draft.Domain)),
				zap.Error(err),
			)
			continue
		}
		sig.JobID = job.ID
		signals = append(signals, sig)
	}

	applied, err := s.queue.Complete(ctx, job.ID, signals)
	if err != nil {
		log.Error("complete failed", zap.Error(err))
		s.fail(ctx, log, job.ID, job.SessionID, fmt.Errorf("storing signals: %w", err), started)
		return
	}
	if !applied {
		return
	}

	for _, sig := range signals {
		s.observer.SignalRecorded(job.SessionID, string(sig.Domain), false)
	}
	s.observer.JobFinished(job.SessionID, string(StatusCompleted), time.Since(started), len(signals))
	log.Debug("extraction completed",
		zap.String("session_id", job.SessionID),
		zap.Int("signals", len(signals)),
		zap.Duration("took", time.Since(started)),
	)
}

// fail marks a claimed job FAILED so it never stays PROCESSING after its
// run ends. The write outlives a cancelled worker context.
func (s *Scheduler) fail(ctx context.Context, log *zap.Logger, jobID, sessionID string, cause error, started time.Time) {
	applied, err := s.queue.Fail(context.WithoutCancel(ctx), jobID, cause.Error())
	if err != nil {
		log.Error("mark failed", zap.Error(err))
		return
	}
	if applied && sessionID != "" {
		s.observer.JobFinished(sessionID, string(StatusFailed), time.Since(started), 0)
	}
}

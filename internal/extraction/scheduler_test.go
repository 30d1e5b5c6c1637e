package extraction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/extraction"
	"github.com/HendryAvila/mirror/internal/observe"
	"github.com/HendryAvila/mirror/internal/store"
)

// waitReady polls the barrier until it opens or the deadline passes.
func waitReady(t *testing.T, q *extraction.Queue) extraction.Barrier {
	t.Helper()
	var b extraction.Barrier
	require.Eventually(t, func() bool {
		var err error
		b, err = q.CanSynthesize(context.Background(), "s1")
		return err == nil && b.Ready
	}, 5*time.Second, 10*time.Millisecond)
	return b
}

func startScheduler(t *testing.T, q *extraction.Queue, c extraction.Classifier, obs observe.Observer, cfg extraction.SchedulerConfig) *extraction.Scheduler {
	t.Helper()
	sched := extraction.NewScheduler(q, c, obs, nil, cfg)
	sched.Start(context.Background())
	t.Cleanup(func() { sched.Close() })
	return sched
}

func TestScheduler_CompletesJobs(t *testing.T) {
	ctx := context.Background()
	q, s := newQueue(t, "")
	rec := observe.NewRecorder(nil)
	sched := startScheduler(t, q, extraction.NewKeywordClassifier(), rec, extraction.SchedulerConfig{Workers: 3, QueueSize: 16})

	for turn := 1; turn <= 5; turn++ {
		job := enqueue(t, q, turn)
		require.NoError(t, sched.Submit(job.ID))
	}
	waitReady(t, q)

	st, err := q.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, st.Completed)

	signals, err := s.ListSignals(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, signals, 5, "one AUTONOMY signal per utterance")
	for _, sig := range signals {
		assert.NotEmpty(t, sig.JobID)
	}

	// Observer events follow the commit, so they may trail the barrier.
	require.Eventually(t, func() bool {
		m, ok := rec.Snapshot("s1")
		return ok && m.JobsCompleted == 5 && m.Signals == 5
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_ClassifierErrorFailsJob(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t, "")
	failing := extraction.ClassifierFunc(func(context.Context, extraction.ClassifyRequest) ([]discovery.SignalDraft, error) {
		return nil, errors.New("model unavailable")
	})
	sched := startScheduler(t, q, failing, nil, extraction.SchedulerConfig{Workers: 1, QueueSize: 4})

	job := enqueue(t, q, 1)
	require.NoError(t, sched.Submit(job.ID))
	b := waitReady(t, q)
	assert.Equal(t, 1, b.FailedCount)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, extraction.StatusFailed, got.Status)
	assert.Equal(t, "model unavailable", got.Error)
}

func TestScheduler_DropsInvalidDrafts(t *testing.T) {
	ctx := context.Background()
	q, s := newQueue(t, "")
	mixed := extraction.ClassifierFunc(func(context.Context, extraction.ClassifyRequest) ([]discovery.SignalDraft, error) {
		return []discovery.SignalDraft{
			{Domain: discovery.DomainValue, Type: "SECURITY", Content: "ok", Confidence: 0.9},
			{Domain: discovery.DomainValue, Type: "SECURITY", Content: "too sure", Confidence: 1.4},
			{Domain: "ASTROLOGY", Type: "LEO", Content: "nope", Confidence: 0.5},
		}, nil
	})
	sched := startScheduler(t, q, mixed, nil, extraction.SchedulerConfig{Workers: 1, QueueSize: 4})

	job := enqueue(t, q, 1)
	require.NoError(t, sched.Submit(job.ID))
	waitReady(t, q)

	signals, err := s.ListSignals(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "ok", signals[0].Content)
}

func TestScheduler_DuplicateDeliveryRunsOnce(t *testing.T) {
	ctx := context.Background()
	q, s := newQueue(t, "")

	var (
		mu    sync.Mutex
		calls int
	)
	counting := extraction.ClassifierFunc(func(ctx context.Context, req extraction.ClassifyRequest) ([]discovery.SignalDraft, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return extraction.NewKeywordClassifier().Classify(ctx, req)
	})
	sched := startScheduler(t, q, counting, nil, extraction.SchedulerConfig{Workers: 4, QueueSize: 8})

	job := enqueue(t, q, 1)
	for i := 0; i < 4; i++ {
		require.NoError(t, sched.Submit(job.ID))
	}
	waitReady(t, q)
	require.NoError(t, sched.Close())

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	signals, err := s.ListSignals(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestScheduler_RecoverResumesInFlightJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t, "")

	pending := enqueue(t, q, 1)
	orphan := enqueue(t, q, 2)
	_, err := q.MarkProcessing(ctx, orphan.ID)
	require.NoError(t, err)

	sched := startScheduler(t, q, extraction.NewKeywordClassifier(), nil, extraction.SchedulerConfig{Workers: 2, QueueSize: 8})
	n, err := sched.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	waitReady(t, q)
	for _, id := range []string{pending.ID, orphan.ID} {
		got, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, extraction.StatusCompleted, got.Status)
	}
}

func TestScheduler_SubmitWhenFull(t *testing.T) {
	q, _ := newQueue(t, "")
	release := make(chan struct{})
	blocking := extraction.ClassifierFunc(func(ctx context.Context, _ extraction.ClassifyRequest) ([]discovery.SignalDraft, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	// Not started: nothing drains the buffer.
	sched := extraction.NewScheduler(q, blocking, nil, nil, extraction.SchedulerConfig{Workers: 1, QueueSize: 1})

	a := enqueue(t, q, 1)
	b := enqueue(t, q, 2)
	require.NoError(t, sched.Submit(a.ID))
	assert.ErrorIs(t, sched.Submit(b.ID), extraction.ErrQueueFull)

	sched.Start(context.Background())
	close(release)
	require.NoError(t, sched.Close())
	assert.ErrorIs(t, sched.Submit(b.ID), extraction.ErrSchedulerClosed)

	barrier, err := q.CanSynthesize(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, barrier.Ready, "the rejected job still holds the barrier")
	assert.Equal(t, 1, barrier.PendingCount)
}

func TestScheduler_CloseIsIdempotent(t *testing.T) {
	q, _ := newQueue(t, "")
	sched := extraction.NewScheduler(q, extraction.NewKeywordClassifier(), nil, nil, extraction.DefaultSchedulerConfig())
	sched.Start(context.Background())
	assert.NoError(t, sched.Close())
	assert.NoError(t, sched.Close())
}

// faultyRepo fails selected repository calls after the claim.
type faultyRepo struct {
	*store.Store
	getErr      error
	completeErr error
}

func (r *faultyRepo) GetJob(ctx context.Context, id string) (*extraction.Job, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.Store.GetJob(ctx, id)
}

func (r *faultyRepo) CompleteJob(ctx context.Context, id string, signals []discovery.Signal) (bool, error) {
	if r.completeErr != nil {
		return false, r.completeErr
	}
	return r.Store.CompleteJob(ctx, id, signals)
}

func TestScheduler_CompleteErrorFailsJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q := extraction.NewQueue(&faultyRepo{Store: s, completeErr: errors.New("disk full")}, extraction.FailedBlocking, nil)
	rec := observe.NewRecorder(nil)
	sched := startScheduler(t, q, extraction.NewKeywordClassifier(), rec, extraction.SchedulerConfig{Workers: 1, QueueSize: 4})

	job := enqueue(t, q, 1)
	require.NoError(t, sched.Submit(job.ID))

	var got *extraction.Job
	require.Eventually(t, func() bool {
		var err error
		got, err = s.GetJob(ctx, job.ID)
		return err == nil && got.Status == extraction.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, got.Error, "disk full")

	b, err := q.CanSynthesize(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, b.Ready, "blocking policy keeps the failed job in the barrier")
	assert.Equal(t, 0, b.PendingCount)
	assert.Equal(t, 1, b.FailedCount)

	signals, err := s.ListSignals(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, signals)

	require.Eventually(t, func() bool {
		m, ok := rec.Snapshot("s1")
		return ok && m.JobsFailed == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_LoadErrorAfterClaimFailsJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q := extraction.NewQueue(&faultyRepo{Store: s, getErr: errors.New("read timeout")}, extraction.FailedResolved, nil)
	sched := startScheduler(t, q, extraction.NewKeywordClassifier(), nil, extraction.SchedulerConfig{Workers: 1, QueueSize: 4})

	job := enqueue(t, q, 1)
	require.NoError(t, sched.Submit(job.ID))

	b := waitReady(t, q)
	assert.Equal(t, 1, b.FailedCount)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, extraction.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "read timeout")
}

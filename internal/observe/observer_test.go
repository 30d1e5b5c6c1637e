package observe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var _ Observer = (*Recorder)(nil)
var _ Observer = Nop{}

func TestRecorder_Lifecycle(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := NewRecorder(zap.New(core))

	r.SessionStarted("s1")
	r.TurnRecorded("s1", 1)
	r.TurnRecorded("s1", 2)
	r.SignalRecorded("s1", "VALUE", false)
	r.SignalRecorded("s1", "VALUE", true)
	r.SignalRecorded("s1", "NEED", false)
	r.JobFinished("s1", "COMPLETED", 20*time.Millisecond, 2)
	r.JobFinished("s1", "FAILED", 5*time.Millisecond, 0)
	r.PhaseChanged("s1", "SCENARIO", "EXCAVATION", false)
	r.PhaseChanged("s1", "EXCAVATION", "SYNTHESIS", true)
	r.TransitionDenied("s1", "SYNTHESIS", "barrier")

	m, ok := r.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, 2, m.Turns)
	assert.Equal(t, 3, m.Signals)
	assert.Equal(t, 1, m.ToolSignals)
	assert.Equal(t, map[string]int{"VALUE": 2, "NEED": 1}, m.SignalsByDomain)
	assert.Equal(t, 1, m.JobsCompleted)
	assert.Equal(t, 1, m.JobsFailed)
	assert.Equal(t, 25*time.Millisecond, m.ExtractionTime)
	assert.Equal(t, 2, m.PhaseChanges)
	assert.Equal(t, 1, m.ForcedTransitions)
	assert.Equal(t, 1, m.DeniedTransitions)

	r.SessionEnded("s1")
	_, ok = r.Snapshot("s1")
	assert.False(t, ok, "flush should release the session")

	flushed := logs.FilterMessage("session metrics").All()
	require.Len(t, flushed, 1)
	assert.Equal(t, "s1", flushed[0].ContextMap()["session_id"])
}

func TestRecorder_SessionsAreIsolated(t *testing.T) {
	r := NewRecorder(nil)
	r.SignalRecorded("a", "VALUE", false)
	r.SignalRecorded("b", "NEED", false)
	r.SignalRecorded("b", "NEED", false)

	a, _ := r.Snapshot("a")
	b, _ := r.Snapshot("b")
	assert.Equal(t, 1, a.Signals)
	assert.Equal(t, 2, b.Signals)

	_, ok := r.Flush("missing")
	assert.False(t, ok)
}

func TestRecorder_IgnoresEventsAfterFlush(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := NewRecorder(zap.New(core))

	r.SessionStarted("s1")
	r.TurnRecorded("s1", 1)
	r.SessionEnded("s1")

	// A worker finishing after the session closed.
	r.JobFinished("s1", "COMPLETED", time.Millisecond, 3)
	r.SignalRecorded("s1", "VALUE", false)
	r.TransitionDenied("s1", "SYNTHESIS", "closed")

	_, ok := r.Snapshot("s1")
	assert.False(t, ok, "late events must not re-attach a flushed session")

	_, ok = r.Flush("s1")
	assert.False(t, ok)
	assert.Len(t, logs.FilterMessage("session metrics").All(), 1)

	r.SessionStarted("s1")
	r.TurnRecorded("s1", 1)
	m, ok := r.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, 1, m.Turns)
	assert.Zero(t, m.JobsCompleted)
}

func TestRecorder_SnapshotIsACopy(t *testing.T) {
	r := NewRecorder(nil)
	r.SignalRecorded("s1", "VALUE", false)

	snap, _ := r.Snapshot("s1")
	snap.SignalsByDomain["VALUE"] = 99

	again, _ := r.Snapshot("s1")
	assert.Equal(t, 1, again.SignalsByDomain["VALUE"])
}

func TestRecorder_ConcurrentUpdates(t *testing.T) {
	r := NewRecorder(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.SignalRecorded("s1", "PATTERN", false)
		}()
	}
	wg.Wait()

	m, _ := r.Snapshot("s1")
	assert.Equal(t, 50, m.Signals)
}

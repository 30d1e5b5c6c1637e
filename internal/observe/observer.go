// Package observe provides the metrics sink injected into the engine and
// the extraction scheduler.
//
// There is no package-level state: each Recorder owns the metrics of the
// sessions attached to it, and a session's metrics are released when it
// is flushed.
package observe

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Observer receives lifecycle events from the core. Implementations must
// be safe for concurrent use: extraction workers report from their own
// goroutines.
type Observer interface {
	SessionStarted(sessionID string)
	TurnRecorded(sessionID string, turn int)
	SignalRecorded(sessionID, domain string, synchronous bool)
	JobFinished(sessionID, status string, took time.Duration, signals int)
	PhaseChanged(sessionID, from, to string, forced bool)
	TransitionDenied(sessionID, to, reason string)
	SessionEnded(sessionID string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) SessionStarted(string)                          {}
func (Nop) TurnRecorded(string, int)                       {}
func (Nop) SignalRecorded(string, string, bool)            {}
func (Nop) JobFinished(string, string, time.Duration, int) {}
func (Nop) PhaseChanged(string, string, string, bool)      {}
func (Nop) TransitionDenied(string, string, string)        {}
func (Nop) SessionEnded(string)                            {}

// SessionMetrics are the counters kept for one session.
type SessionMetrics struct {
	SessionID         string         `json:"session_id"`
	StartedAt         time.Time      `json:"started_at"`
	Turns             int            `json:"turns"`
	Signals           int            `json:"signals"`
	SignalsByDomain   map[string]int `json:"signals_by_domain"`
	ToolSignals       int            `json:"tool_signals"`
	JobsCompleted     int            `json:"jobs_completed"`
	JobsFailed        int            `json:"jobs_failed"`
	ExtractionTime    time.Duration  `json:"extraction_time"`
	PhaseChanges      int            `json:"phase_changes"`
	ForcedTransitions int            `json:"forced_transitions"`
	DeniedTransitions int            `json:"denied_transitions"`
}

// Recorder is an Observer that keeps per-session counters in memory and
// logs them when the session ends. Events that arrive for a flushed
// session, such as a worker finishing after the session closed, are
// dropped until the session is attached again.
type Recorder struct {
	mu       sync.Mutex
	sessions map[string]*SessionMetrics
	flushed  map[string]struct{}
	log      *zap.Logger
	now      func() time.Time
}

// NewRecorder creates a Recorder that logs flushed sessions to logger.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		sessions: make(map[string]*SessionMetrics),
		flushed:  make(map[string]struct{}),
		log:      logger,
		now:      time.Now,
	}
}

// Attach starts tracking a session. Attaching twice keeps the existing
// counters. Attaching a flushed session starts it over.
func (r *Recorder) Attach(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flushed, sessionID)
	r.attachLocked(sessionID)
}

func (r *Recorder) attachLocked(sessionID string) *SessionMetrics {
	m, ok := r.sessions[sessionID]
	if !ok {
		m = &SessionMetrics{
			SessionID:       sessionID,
			StartedAt:       r.now(),
			SignalsByDomain: make(map[string]int),
		}
		r.sessions[sessionID] = m
	}
	return m
}

// update applies fn to the session's metrics, attaching lazily so that
// sessions resumed after a restart are still counted. Flushed sessions
// are not re-attached.
func (r *Recorder) update(sessionID string, fn func(m *SessionMetrics)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, gone := r.flushed[sessionID]; gone {
		return
	}
	fn(r.attachLocked(sessionID))
}

// Snapshot returns a copy of a session's metrics.
func (r *Recorder) Snapshot(sessionID string) (SessionMetrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[sessionID]
	if !ok {
		return SessionMetrics{}, false
	}
	cp := *m
	cp.SignalsByDomain = make(map[string]int, len(m.SignalsByDomain))
	for k, v := range m.SignalsByDomain {
		cp.SignalsByDomain[k] = v
	}
	return cp, true
}

// Flush logs and forgets a session's metrics. Later events for the
// session are ignored.
func (r *Recorder) Flush(sessionID string) (SessionMetrics, bool) {
	r.mu.Lock()
	m, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.flushed[sessionID] = struct{}{}
	r.mu.Unlock()
	if !ok {
		return SessionMetrics{}, false
	}

	r.log.Info("session metrics",
		zap.String("session_id", sessionID),
		zap.Duration("duration", r.now().Sub(m.StartedAt)),
		zap.Int("turns", m.Turns),
		zap.Int("signals", m.Signals),
		zap.Int("tool_signals", m.ToolSignals),
		zap.Any("signals_by_domain", m.SignalsByDomain),
		zap.Int("jobs_completed", m.JobsCompleted),
		zap.Int("jobs_failed", m.JobsFailed),
		zap.Duration("extraction_time", m.ExtractionTime),
		zap.Int("phase_changes", m.PhaseChanges),
		zap.Int("forced_transitions", m.ForcedTransitions),
		zap.Int("denied_transitions", m.DeniedTransitions),
	)
	return *m, true
}

// ─── Observer ────────────────────────────────────────────────────────────────

func (r *Recorder) SessionStarted(sessionID string) {
	r.Attach(sessionID)
}

func (r *Recorder) TurnRecorded(sessionID string, turn int) {
	r.update(sessionID, func(m *SessionMetrics) {
		if turn > m.Turns {
			m.Turns = turn
		}
	})
}

func (r *Recorder) SignalRecorded(sessionID, domain string, synchronous bool) {
	r.update(sessionID, func(m *SessionMetrics) {
		m.Signals++
		m.SignalsByDomain[domain]++
		if synchronous {
			m.ToolSignals++
		}
	})
}

func (r *Recorder) JobFinished(sessionID, status string, took time.Duration, signals int) {
	r.update(sessionID, func(m *SessionMetrics) {
		m.ExtractionTime += took
		if status == "FAILED" {
			m.JobsFailed++
			return
		}
		m.JobsCompleted++
	})
}

func (r *Recorder) PhaseChanged(sessionID, from, to string, forced bool) {
	r.update(sessionID, func(m *SessionMetrics) {
		m.PhaseChanges++
		if forced {
			m.ForcedTransitions++
		}
	})
	r.log.Info("phase changed",
		zap.String("session_id", sessionID),
		zap.String("from", from),
		zap.String("to", to),
		zap.Bool("forced", forced),
	)
}

func (r *Recorder) TransitionDenied(sessionID, to, reason string) {
	r.update(sessionID, func(m *SessionMetrics) { m.DeniedTransitions++ })
	r.log.Debug("transition denied",
		zap.String("session_id", sessionID),
		zap.String("to", to),
		zap.String("reason", reason),
	)
}

func (r *Recorder) SessionEnded(sessionID string) {
	r.Flush(sessionID)
}

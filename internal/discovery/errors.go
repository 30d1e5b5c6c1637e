package discovery

import "errors"

// Sentinel errors shared by the engine, the store and the transports.
// Callers match them with errors.Is; producers wrap them with context.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session is closed")
	ErrJobNotFound     = errors.New("extraction job not found")
	ErrInvalidSignal   = errors.New("invalid signal")
	ErrInvalidPhase    = errors.New("invalid phase")
	ErrPhaseConflict   = errors.New("phase changed concurrently")
	ErrWrongPhase      = errors.New("operation not allowed in current phase")
)

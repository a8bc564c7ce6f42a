package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/use-agent/planillas/models"
	"github.com/use-agent/planillas/telemetry"
)

// sessionSlot is the unit swapped on reconnect. A slot is never mutated
// after it is published.
type sessionSlot struct {
	sess  Session
	since time.Time
}

// Supervisor owns the shared session and applies the reconnect-and-retry
// policy around the runner. It is not safe to call Run concurrently; the
// Queue guarantees a single caller.
type Supervisor struct {
	provider   SessionProvider
	runner     Runner
	maxRetries int

	current    atomic.Pointer[sessionSlot]
	reconnects atomic.Int64
}

// NewSupervisor creates a Supervisor. maxRetries is the number of
// reconnect-and-retry cycles allowed per request after a session loss.
func NewSupervisor(provider SessionProvider, runner Runner, maxRetries int) *Supervisor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Supervisor{
		provider:   provider,
		runner:     runner,
		maxRetries: maxRetries,
	}
}

// Start establishes the initial session.
func (s *Supervisor) Start(ctx context.Context) error {
	sess, err := s.provider.Connect(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: initial connect: %w", err)
	}
	s.current.Store(&sessionSlot{sess: sess, since: time.Now()})
	slog.Info("browser session established")
	return nil
}

// Run executes req against the current session, reconnecting and retrying
// on session loss up to maxRetries times.
func (s *Supervisor) Run(ctx context.Context, req models.LookupRequest) (*models.Outcome, error) {
	slot, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}

	out, err := s.runner.Run(ctx, req, slot.sess)
	for attempt := 1; IsSessionLost(err) && attempt <= s.maxRetries; attempt++ {
		slog.Warn("browser session lost, reconnecting",
			"attempt", attempt,
			"error", err,
		)

		next, rerr := s.replace(ctx, slot)
		if rerr != nil {
			slog.Error("browser session reconnect failed", "error", rerr)
			telemetry.Fail(ctx, rerr)
			return models.FailedOutcome(rerr.Error()), nil
		}
		slot = next

		retryCtx, span := telemetry.StartSpan(ctx, "supervisor.retry", telemetry.AttrAttempt.Int(attempt+1))
		out, err = s.runner.Run(retryCtx, req, slot.sess)
		span.End()
	}

	switch {
	case IsSessionLost(err):
		slog.Error("browser session lost again, giving up", "retries", s.maxRetries, "error", err)
		if out == nil {
			out = models.FailedOutcome(err.Error())
		}
		return out, nil
	case err != nil:
		// The runner only signals session loss; anything else is still a
		// failed lookup, not an infrastructure error.
		return models.FailedOutcome(err.Error()), nil
	}
	return out, nil
}

// ensure returns the current session, connecting lazily when a previous
// reconnect left none.
func (s *Supervisor) ensure(ctx context.Context) (*sessionSlot, error) {
	if slot := s.current.Load(); slot != nil {
		return slot, nil
	}
	slot, err := s.replace(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotReady, err)
	}
	return slot, nil
}

// replace connects a new session and publishes it in place of old. On
// failure the dead handle is dropped so the next request reconnects.
func (s *Supervisor) replace(ctx context.Context, old *sessionSlot) (*sessionSlot, error) {
	sess, err := s.provider.Connect(ctx)
	recordReconnect(err == nil)
	if err != nil {
		if old != nil {
			s.current.CompareAndSwap(old, nil)
			closeQuietly(old.sess)
		}
		return nil, err
	}

	next := &sessionSlot{sess: sess, since: time.Now()}
	s.current.Store(next)
	if old != nil {
		s.reconnects.Add(1)
		closeQuietly(old.sess)
	}
	slog.Info("browser session established", "reconnects", s.reconnects.Load())
	return next, nil
}

// Stats reports the session state.
func (s *Supervisor) Stats() models.SessionStats {
	stats := models.SessionStats{Reconnects: s.reconnects.Load()}
	if slot := s.current.Load(); slot != nil {
		stats.Connected = true
		stats.Since = slot.since.UTC().Format(time.RFC3339)
	}
	return stats
}

// Close releases the current session.
func (s *Supervisor) Close() error {
	slot := s.current.Swap(nil)
	if slot == nil {
		return nil
	}
	return slot.sess.Close()
}

func closeQuietly(sess Session) {
	if err := sess.Close(); err != nil {
		slog.Debug("closing stale session", "error", err)
	}
}

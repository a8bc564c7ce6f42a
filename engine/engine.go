package engine

import (
	"context"
	"time"

	"github.com/use-agent/planillas/models"
)

// Session is a handle to a remote browser automation context.
type Session interface {
	// NewPage opens a fresh tab.
	NewPage(ctx context.Context) (Page, error)

	// Close releases the connection. For a remote browser this only drops
	// the DevTools socket.
	Close() error
}

// Page is the set of interaction primitives the runner is allowed to use.
// Every call blocks until its precondition holds, the step timeout elapses,
// or ctx is done.
type Page interface {
	// Navigate loads url and waits for network quiescence.
	Navigate(ctx context.Context, url string) error

	// WaitNetworkIdle waits until no request has been in flight for the
	// configured idle window. Requests started by the previous Click count.
	WaitNetworkIdle(ctx context.Context) error

	// WaitAny waits up to timeout for the first selector that matches and
	// returns its index.
	WaitAny(ctx context.Context, timeout time.Duration, selectors ...string) (int, error)

	// Select picks the <option> with the given value.
	Select(ctx context.Context, selector, value string) error

	// Type enters text into an input.
	Type(ctx context.Context, selector, text string) error

	// Click activates the element.
	Click(ctx context.Context, selector string) error

	// OuterHTML returns the serialized element.
	OuterHTML(ctx context.Context, selector string) (string, error)

	Close() error
}

// SessionProvider establishes sessions on demand.
type SessionProvider interface {
	Connect(ctx context.Context) (Session, error)
}

// Runner performs one lookup against a borrowed session.
//
// Run always returns a classified outcome. The only non-nil error is the
// session-loss signal (models.ErrCodeSessionLost), returned alongside the
// failed outcome so callers can decide whether to retry.
type Runner interface {
	Run(ctx context.Context, req models.LookupRequest, sess Session) (*models.Outcome, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req models.LookupRequest, sess Session) (*models.Outcome, error)

func (f RunnerFunc) Run(ctx context.Context, req models.LookupRequest, sess Session) (*models.Outcome, error) {
	return f(ctx, req, sess)
}

var (
	// ErrSessionNotReady is returned when no session exists and one could
	// not be established.
	ErrSessionNotReady = models.NewScrapeError(models.ErrCodeSessionNotReady, "browser session is not established", nil)

	// ErrQueueClosed is returned for work submitted to, or still pending
	// in, a closed queue.
	ErrQueueClosed = models.NewScrapeError(models.ErrCodeQueueClosed, "lookup queue is closed", nil)
)

// IsSessionLost reports whether err is the runner's session-loss signal.
func IsSessionLost(err error) bool {
	return models.HasCode(err, models.ErrCodeSessionLost)
}

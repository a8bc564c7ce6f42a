package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/planillas/models"
	"github.com/use-agent/planillas/telemetry"
)

// Result is what a queue entry resolves with: an outcome, or an
// infrastructure error when no outcome could be produced.
type Result struct {
	Outcome  *models.Outcome
	Err      error
	Queued   time.Duration // time spent waiting before dispatch
	Duration time.Duration // time spent running
}

// Executor runs one lookup to completion. *Supervisor is the production
// implementation.
type Executor interface {
	Run(ctx context.Context, req models.LookupRequest) (*models.Outcome, error)
}

type entry struct {
	id       string
	req      models.LookupRequest
	enqueued time.Time
	done     chan Result // buffered(1), written exactly once
}

// Queue serializes lookups over the single shared browser session.
//
// Entries are dispatched strictly in submission order and at most one runs
// at any instant. The drain goroutine is started by the Submit that finds
// the queue idle and exits when the queue is empty again, so no external
// pump is needed.
type Queue struct {
	exec Executor
	base context.Context

	mu         sync.Mutex
	pending    []*entry
	processing bool
	closed     bool

	processed atomic.Int64
}

// NewQueue creates a Queue. Dispatched runs use base as their context, so
// they are not cancelled when a waiting caller goes away.
func NewQueue(base context.Context, exec Executor) *Queue {
	return &Queue{exec: exec, base: base}
}

// Submit appends req to the queue and returns a channel that receives
// exactly one Result.
func (q *Queue) Submit(req models.LookupRequest) <-chan Result {
	return q.SubmitAll([]models.LookupRequest{req})[0]
}

// SubmitAll appends reqs under one lock, so they occupy consecutive queue
// positions in slice order with no other submission interleaved. The i-th
// channel receives the result for reqs[i].
func (q *Queue) SubmitAll(reqs []models.LookupRequest) []<-chan Result {
	now := time.Now()
	entries := make([]*entry, len(reqs))
	results := make([]<-chan Result, len(reqs))
	for i, req := range reqs {
		entries[i] = &entry{
			id:       uuid.NewString(),
			req:      req,
			enqueued: now,
			done:     make(chan Result, 1),
		}
		results[i] = entries[i].done
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		for _, e := range entries {
			e.done <- Result{Err: ErrQueueClosed}
		}
		return results
	}
	q.pending = append(q.pending, entries...)
	metricQueueDepth.Set(float64(len(q.pending)))
	start := !q.processing && len(entries) > 0
	if start {
		q.processing = true
	}
	q.mu.Unlock()

	for _, e := range entries {
		slog.Debug("lookup enqueued", "entry", e.id, "subject", e.req.SubjectID)
	}
	if start {
		go q.drain()
	}
	return results
}

// Do submits req and waits for its result. Giving up via ctx does not
// cancel the entry; it still runs in turn.
func (q *Queue) Do(ctx context.Context, req models.LookupRequest) (Result, error) {
	select {
	case res := <-q.Submit(req):
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// drain dispatches entries until the queue is empty. Exactly one drain
// goroutine exists while processing is set.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		e := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		metricQueueDepth.Set(float64(len(q.pending)))
		q.mu.Unlock()

		q.dispatch(e)
	}
}

func (q *Queue) dispatch(e *entry) {
	start := time.Now()
	res := Result{Queued: start.Sub(e.enqueued)}

	ctx, span := telemetry.StartSpan(q.base, "queue.dispatch",
		telemetry.AttrEntryID.String(e.id),
		telemetry.AttrDocumentType.String(string(e.req.DocumentType)),
		telemetry.AttrPeriod.String(e.req.PeriodYear+"-"+e.req.PeriodMonth),
	)
	defer span.End()

	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("lookup panicked", "entry", e.id, "panic", r)
				res.Outcome = models.FailedOutcome("internal error while driving the browser")
			}
		}()
		res.Outcome, res.Err = q.exec.Run(ctx, e.req)
	}()
	res.Duration = time.Since(start)
	q.processed.Add(1)

	if res.Err != nil {
		metricLookupErrors.Inc()
		telemetry.Fail(ctx, res.Err)
		slog.Warn("lookup failed without outcome",
			"entry", e.id,
			"queuedMs", res.Queued.Milliseconds(),
			"error", res.Err,
		)
	} else {
		recordOutcome(res.Outcome, res.Duration.Seconds())
		span.SetAttributes(
			telemetry.AttrResult.String(string(res.Outcome.Result)),
			telemetry.AttrRecords.Int(len(res.Outcome.Records)),
		)
		slog.Info("lookup completed",
			"entry", e.id,
			"result", res.Outcome.Result,
			"remarks", res.Outcome.Remarks,
			"records", len(res.Outcome.Records),
			"queuedMs", res.Queued.Milliseconds(),
			"durationMs", res.Duration.Milliseconds(),
		)
	}
	e.done <- res
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.QueueStats{
		Pending:   len(q.pending),
		InFlight:  q.processing,
		Processed: q.processed.Load(),
	}
}

// Close stops accepting work and resolves every pending entry with
// ErrQueueClosed. The in-flight entry, if any, runs to completion.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	pending := q.pending
	q.pending = nil
	metricQueueDepth.Set(0)
	q.mu.Unlock()

	for _, e := range pending {
		e.done <- Result{Err: ErrQueueClosed}
	}
}

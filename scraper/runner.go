package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/planillas/config"
	"github.com/use-agent/planillas/engine"
	"github.com/use-agent/planillas/models"
	"github.com/use-agent/planillas/telemetry"
)

// Runner fills the two-stage query form and reads the results table.
// It implements engine.Runner.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Open tab, navigate  – wait for network quiescence
//  2. Document type       – select the option for the request's type
//  3. Subject id          – type into the input
//  4. First search        – click; optionally detect "subject not found"
//  5. Period              – select year then month
//  6. Submit              – click
//  7. Results             – network quiescence, then the table (short timeout)
//  8. Extract             – parse rows, drop the header
//
// A failure in steps 1-6 is a hard SCRAPE_FAILED. A table that never
// appears, or cannot be read, is the site's way of saying there is nothing
// for that period and resolves as DATA_NOT_FOUND. Session loss anywhere is
// hard and additionally returned as an error so the supervisor can retry.
type Runner struct {
	site           config.SiteConfig
	resultsTimeout time.Duration
	stepTimeout    time.Duration
}

// NewRunner creates a Runner.
func NewRunner(site config.SiteConfig, scraperCfg config.ScraperConfig) *Runner {
	return &Runner{
		site:           site,
		resultsTimeout: scraperCfg.ResultsTimeout,
		stepTimeout:    scraperCfg.StepTimeout,
	}
}

// stepError records which step failed.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// Run performs one lookup.
func (r *Runner) Run(ctx context.Context, req models.LookupRequest, sess engine.Session) (*models.Outcome, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "runner.run",
		telemetry.AttrDocumentType.String(string(req.DocumentType)),
		telemetry.AttrPeriod.String(req.PeriodYear+"-"+req.PeriodMonth),
	)
	defer span.End()

	out, err := r.run(ctx, req, sess)
	if err != nil {
		telemetry.Fail(ctx, err)
	}
	span.SetAttributes(
		telemetry.AttrResult.String(string(out.Result)),
		telemetry.AttrRecords.Int(len(out.Records)),
	)
	slog.Debug("runner finished",
		"result", out.Result,
		"remarks", out.Remarks,
		"records", len(out.Records),
		"durationMs", time.Since(start).Milliseconds(),
	)
	return out, err
}

func (r *Runner) run(ctx context.Context, req models.LookupRequest, sess engine.Session) (*models.Outcome, error) {
	docValue, ok := r.site.DocumentTypeValues[string(req.DocumentType)]
	if !ok {
		return models.FailedOutcome(fmt.Sprintf("no form value configured for document type %q", req.DocumentType)), nil
	}

	// ── 1. Open tab and navigate ─────────────────────────────────────
	page, err := sess.NewPage(ctx)
	if err != nil {
		return r.hard(&stepError{"open page", err})
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			slog.Debug("closing page", "error", cerr)
		}
	}()

	if err := r.step(ctx, "navigate", func(ctx context.Context) error {
		return page.Navigate(ctx, r.site.EntryURL)
	}); err != nil {
		return r.hard(err)
	}

	// ── 2-4. First stage: who ────────────────────────────────────────
	if err := r.step(ctx, "select document type", func(ctx context.Context) error {
		return page.Select(ctx, r.site.DocumentTypeSelector, docValue)
	}); err != nil {
		return r.hard(err)
	}
	if err := r.step(ctx, "enter subject id", func(ctx context.Context) error {
		return page.Type(ctx, r.site.SubjectInputSelector, req.SubjectID)
	}); err != nil {
		return r.hard(err)
	}
	if err := r.step(ctx, "search", func(ctx context.Context) error {
		return page.Click(ctx, r.site.SearchSelector)
	}); err != nil {
		return r.hard(err)
	}

	if r.site.NotFoundSelector != "" {
		var idx int
		if err := r.step(ctx, "await period form", func(ctx context.Context) error {
			var werr error
			idx, werr = page.WaitAny(ctx, r.stepTimeout, r.site.YearSelector, r.site.NotFoundSelector)
			return werr
		}); err != nil {
			return r.hard(err)
		}
		if idx == 1 {
			return models.SubjectNotFoundOutcome(), nil
		}
	}

	// ── 5-6. Second stage: when ──────────────────────────────────────
	if err := r.step(ctx, "select year", func(ctx context.Context) error {
		return page.Select(ctx, r.site.YearSelector, req.PeriodYear)
	}); err != nil {
		return r.hard(err)
	}
	if err := r.step(ctx, "select month", func(ctx context.Context) error {
		return page.Select(ctx, r.site.MonthSelector, req.PeriodMonth)
	}); err != nil {
		return r.hard(err)
	}
	if err := r.step(ctx, "submit", func(ctx context.Context) error {
		return page.Click(ctx, r.site.SubmitSelector)
	}); err != nil {
		return r.hard(err)
	}

	// ── 7. Wait for results ──────────────────────────────────────────
	if err := r.step(ctx, "wait network idle", page.WaitNetworkIdle); err != nil {
		if IsSessionLost(err) {
			return r.hard(err)
		}
		slog.Debug("network did not settle after submit, waiting for table anyway", "error", err)
	}
	if err := r.step(ctx, "wait results table", func(ctx context.Context) error {
		_, werr := page.WaitAny(ctx, r.resultsTimeout, r.site.ResultsTableSelector)
		return werr
	}); err != nil {
		return r.soft(err)
	}

	// ── 8. Extract ───────────────────────────────────────────────────
	var tableHTML string
	if err := r.step(ctx, "read results table", func(ctx context.Context) error {
		var herr error
		tableHTML, herr = page.OuterHTML(ctx, r.site.ResultsTableSelector)
		return herr
	}); err != nil {
		return r.soft(err)
	}
	records, err := ParseTable(tableHTML)
	if err != nil {
		return r.soft(&stepError{"parse results table", err})
	}
	return models.NewOutcome(records), nil
}

// step runs fn under its own span and tags any error with the step name.
func (r *Runner) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "runner.step", telemetry.AttrStep.String(name))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if err != nil {
		telemetry.Fail(ctx, err)
		return &stepError{step: name, err: err}
	}
	slog.Debug("runner step done", "step", name, "durationMs", time.Since(start).Milliseconds())
	return nil
}

// hard resolves a failure before the results stage.
func (r *Runner) hard(err error) (*models.Outcome, error) {
	out := models.FailedOutcome(err.Error())
	if IsSessionLost(err) {
		slog.Warn("runner lost the browser session", "error", err)
		return out, sessionLost(err)
	}
	slog.Warn("runner step failed", "error", err)
	return out, nil
}

// soft resolves a missing or unreadable results table as no data, unless
// the table is missing because the session died.
func (r *Runner) soft(err error) (*models.Outcome, error) {
	if IsSessionLost(err) {
		return r.hard(err)
	}
	slog.Info("results table unavailable, treating as no data", "error", err)
	return models.NewOutcome(nil), nil
}

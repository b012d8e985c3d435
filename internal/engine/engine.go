package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/luminousstack/lumen-heal/internal/metrics"
	"github.com/luminousstack/lumen-heal/internal/models"
	"github.com/luminousstack/lumen-heal/internal/utils"
)

// IssueDetector yields the issues for one monitoring cycle.
type IssueDetector interface {
	Detect(ctx context.Context) []models.Issue
}

// ActionResolver maps an issue to a remediation action.
type ActionResolver interface {
	GetAction(issue models.Issue) models.Action
}

// Executor runs actions behind the permission boundary.
type Executor interface {
	Execute(ctx context.Context, action models.Action, dryRun bool) models.ExecutionResult
	Mode() models.ExecutionMode
}

// Options configures an Engine.
type Options struct {
	Interval    time.Duration
	Cooldown    time.Duration
	HourlyCap   int
	HistorySize int
	// MinSeverity gates automatic remediation; issues below it are
	// recorded as observed and left alone.
	MinSeverity models.Severity
	DryRun      bool
	// Events carries issues synthesized outside the detector, e.g. by the
	// file-integrity watcher. Drained at the start of every cycle.
	Events <-chan models.Issue
}

// Status is a point-in-time snapshot for the admin API.
type Status struct {
	Mode           models.ExecutionMode `json:"mode"`
	DryRun         bool                 `json:"dry_run"`
	IssuesDetected uint64               `json:"issues_detected"`
	IssuesResolved uint64               `json:"issues_resolved"`
	IssuesFailed   uint64               `json:"issues_failed"`
	RateLimited    uint64               `json:"rate_limited"`
	// HourlyRemaining is the unspent portion of the hourly heal budget.
	HourlyRemaining float64   `json:"hourly_remaining"`
	LastCheck       time.Time `json:"last_check"`
}

// Engine orchestrates the detect → resolve → execute pipeline on a timer.
// All per-cycle work runs sequentially on the loop goroutine, so cooldown
// state needs no locking; counters are atomic only because the admin API
// reads them concurrently.
type Engine struct {
	logger   *slog.Logger
	detector IssueDetector
	resolver ActionResolver
	executor Executor
	opts     Options

	// cycleMu serializes cycles: the ticker loop and the heal-now endpoint
	// both call RunCycle, and the cooldown map has a single-writer contract.
	cycleMu    sync.Mutex
	hourly     *rate.Limiter
	lastHealed map[string]time.Time
	history    *History
	latencies  *utils.LatencyTracker

	issuesDetected atomic.Uint64
	issuesResolved atomic.Uint64
	issuesFailed   atomic.Uint64
	rateLimited    atomic.Uint64
	lastCheckUnix  atomic.Int64

	// now is swappable in tests to drive cooldown windows.
	now func() time.Time
}

// New assembles an Engine. All limits live on the engine instance, never in
// globals, so independent engines can be tested side by side.
func New(logger *slog.Logger, detector IssueDetector, resolver ActionResolver, executor Executor, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.HourlyCap <= 0 {
		opts.HourlyCap = 10
	}
	if opts.MinSeverity == "" {
		opts.MinSeverity = models.SeverityHigh
	}
	return &Engine{
		logger:     logger,
		detector:   detector,
		resolver:   resolver,
		executor:   executor,
		opts:       opts,
		hourly:     rate.NewLimiter(rate.Every(time.Hour/time.Duration(opts.HourlyCap)), opts.HourlyCap),
		lastHealed: make(map[string]time.Time),
		history:    NewHistory(opts.HistorySize),
		latencies:  utils.NewLatencyTracker(1024),
		now:        time.Now,
	}
}

// Run cycles the engine until the context is cancelled. An in-flight cycle is
// allowed to finish its current execution; no new issue is resolved after the
// stop request.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("healing engine started",
		slog.Duration("interval", e.opts.Interval),
		slog.String("mode", string(e.executor.Mode())),
		slog.Bool("dry_run", e.opts.DryRun))

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	e.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("healing engine stopped")
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes a single detect → resolve → execute pass and returns the
// records produced. Also the entry point for the manual heal-now invocation;
// concurrent callers are serialized, one cycle at a time.
func (e *Engine) RunCycle(ctx context.Context) []Record {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := e.now()
	issues := e.drainEvents()
	issues = append(issues, e.detector.Detect(ctx)...)
	metrics.ObserveDetection(time.Since(start))
	e.lastCheckUnix.Store(e.now().Unix())

	if len(issues) == 0 {
		e.logger.Debug("no issues detected")
		return nil
	}
	e.logger.Info("issues detected", slog.Int("count", len(issues)))

	records := make([]Record, 0, len(issues))
	capped := false
	for _, issue := range issues {
		if ctx.Err() != nil {
			e.logger.Info("stop requested, leaving remaining issues for re-detection",
				slog.Int("remaining", len(issues)-len(records)))
			break
		}
		rec := e.handleIssue(ctx, issue, &capped)
		e.history.Append(rec)
		records = append(records, rec)
	}
	return records
}

// handleIssue applies the gating chain (severity → cooldown → hourly cap) and
// executes the resolved action. Failures are contained here: nothing an
// individual issue does may abort the cycle.
func (e *Engine) handleIssue(ctx context.Context, issue models.Issue, capped *bool) (rec Record) {
	e.issuesDetected.Add(1)
	metrics.IncIssueDetected(string(issue.Type))

	rec = Record{Issue: issue, Time: e.now()}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while handling issue",
				slog.String("component", issue.Component),
				slog.Any("panic", r))
			rec.Outcome = metrics.OutcomeFailed
			rec.Result = models.ExecutionResult{
				Success: false,
				Error:   fmt.Sprintf("internal panic: %v", r),
				Mode:    e.executor.Mode(),
			}
			e.issuesFailed.Add(1)
			metrics.ObserveHeal(metrics.OutcomeFailed, 0)
		}
	}()

	if !issue.Severity.AtLeast(e.opts.MinSeverity) {
		e.logger.Info("severity below auto-heal gate, monitoring only",
			slog.String("component", issue.Component),
			slog.String("severity", string(issue.Severity)),
			slog.String("description", issue.Description))
		rec.Outcome = metrics.OutcomeObserved
		metrics.ObserveHeal(metrics.OutcomeObserved, 0)
		return rec
	}

	if last, ok := e.lastHealed[issue.Component]; ok && e.now().Sub(last) < e.opts.Cooldown {
		e.logger.Info("component in cooldown, rate-limited",
			slog.String("component", issue.Component),
			slog.Time("last_healed", last))
		rec.Outcome = metrics.OutcomeRateLimited
		e.rateLimited.Add(1)
		metrics.ObserveHeal(metrics.OutcomeRateLimited, 0)
		return rec
	}

	if *capped || !e.hourly.Allow() {
		if !*capped {
			e.logger.Info("hourly heal capacity exceeded, skipping remaining issues this cycle")
		}
		*capped = true
		rec.Outcome = metrics.OutcomeCapacityExceeded
		e.rateLimited.Add(1)
		metrics.ObserveHeal(metrics.OutcomeCapacityExceeded, 0)
		return rec
	}

	action := e.resolver.GetAction(issue)
	rec.Action = action
	e.logger.Info("healing",
		slog.String("component", issue.Component),
		slog.String("operation", action.Operation),
		slog.String("description", issue.Description))

	result := e.executor.Execute(ctx, action, e.opts.DryRun)
	rec.Result = result

	// Cooldown applies to every executed action, success or not, to stop
	// remediation storms against one component.
	e.lastHealed[issue.Component] = e.now()
	e.latencies.Observe(result.Duration)

	if result.Success {
		rec.Outcome = metrics.OutcomeResolved
		e.issuesResolved.Add(1)
		metrics.ObserveHeal(metrics.OutcomeResolved, result.Duration)
		e.logger.Info("healed",
			slog.String("component", issue.Component),
			slog.String("operation", action.Operation),
			slog.Duration("duration", result.Duration))
	} else {
		rec.Outcome = metrics.OutcomeFailed
		e.issuesFailed.Add(1)
		metrics.ObserveHeal(metrics.OutcomeFailed, result.Duration)
		e.logger.Error("heal failed",
			slog.String("component", issue.Component),
			slog.String("operation", action.Operation),
			slog.String("error", result.Error))
		if result.Suggestion != "" {
			e.logger.Warn("suggestion", slog.String("text", result.Suggestion))
		}
	}

	if count := e.latencies.Count(); count >= 20 && count%20 == 0 {
		e.logger.Info("remediation latency",
			slog.Duration("p95", e.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
	return rec
}

func (e *Engine) drainEvents() []models.Issue {
	if e.opts.Events == nil {
		return nil
	}
	var issues []models.Issue
	for {
		select {
		case issue, ok := <-e.opts.Events:
			if !ok {
				return issues
			}
			issues = append(issues, issue)
		default:
			return issues
		}
	}
}

// Status reports engine counters for the admin API.
func (e *Engine) Status() Status {
	return Status{
		Mode:            e.executor.Mode(),
		DryRun:          e.opts.DryRun,
		IssuesDetected:  e.issuesDetected.Load(),
		IssuesResolved:  e.issuesResolved.Load(),
		IssuesFailed:    e.issuesFailed.Load(),
		RateLimited:     e.rateLimited.Load(),
		HourlyRemaining: e.hourly.Tokens(),
		LastCheck:       time.Unix(e.lastCheckUnix.Load(), 0),
	}
}

// History returns up to limit most recent remediation records.
func (e *Engine) History(limit int) []Record {
	return e.history.Last(limit)
}

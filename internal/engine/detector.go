package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luminousstack/lumen-heal/internal/models"
	"github.com/luminousstack/lumen-heal/internal/signals"
)

// ThresholdRule describes one independent detection rule. Rules are evaluated
// every cycle in declaration order; there is no early exit, so one pass may
// yield zero, one, or many issues.
type ThresholdRule struct {
	Metric    string
	Component string
	Type      models.IssueType
	Label     string
	// Operator compares the sampled value with Threshold: ">=" or "<=".
	Operator  string
	Threshold float64
	Severity  models.Severity
	// EscalateAbove bumps the severity to EscalateTo once the value
	// crosses it. Zero disables escalation.
	EscalateAbove float64
	EscalateTo    models.Severity
}

func (r ThresholdRule) exceeded(value float64) bool {
	if r.Operator == "<=" {
		return value <= r.Threshold
	}
	return value >= r.Threshold
}

func (r ThresholdRule) severityFor(value float64) models.Severity {
	if r.EscalateAbove > 0 && value >= r.EscalateAbove && r.EscalateTo != "" {
		return r.EscalateTo
	}
	return r.Severity
}

// DefaultThresholdRules builds the standard resource rules from configured
// thresholds. The load threshold is loadPerCore scaled by the core count.
func DefaultThresholdRules(cpuPct, memPct, diskPct, loadPerCore float64) []ThresholdRule {
	return []ThresholdRule{
		{
			Metric:        signals.MetricCPUPercent,
			Component:     "cpu",
			Type:          models.IssueResource,
			Label:         "high cpu usage",
			Operator:      ">=",
			Threshold:     cpuPct,
			Severity:      models.SeverityMedium,
			EscalateAbove: 90,
			EscalateTo:    models.SeverityHigh,
		},
		{
			Metric:        signals.MetricMemoryPercent,
			Component:     "memory",
			Type:          models.IssueResource,
			Label:         "high memory usage",
			Operator:      ">=",
			Threshold:     memPct,
			Severity:      models.SeverityMedium,
			EscalateAbove: 95,
			EscalateTo:    models.SeverityHigh,
		},
		{
			Metric:        signals.MetricDiskPercent,
			Component:     "disk",
			Type:          models.IssueResource,
			Label:         "low disk space",
			Operator:      ">=",
			Threshold:     diskPct,
			Severity:      models.SeverityHigh,
			EscalateAbove: 95,
			EscalateTo:    models.SeverityCritical,
		},
		{
			Metric:    signals.MetricLoadAverage,
			Component: "load",
			Type:      models.IssueResource,
			Label:     "high load average",
			Operator:  ">=",
			Threshold: loadPerCore * float64(runtime.NumCPU()),
			Severity:  models.SeverityMedium,
		},
	}
}

// Detector samples the signal source against threshold rules and emits typed
// issues. Sampling failures are logged and skipped; detection never fails the
// cycle.
type Detector struct {
	logger   *slog.Logger
	source   signals.Source
	rules    []ThresholdRule
	services []string
	timeout  time.Duration
}

// NewDetector constructs a Detector. The timeout bounds the whole sampling
// pass, slow signal sources included.
func NewDetector(logger *slog.Logger, source signals.Source, rules []ThresholdRule, services []string, timeout time.Duration) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Detector{
		logger:   logger,
		source:   source,
		rules:    rules,
		services: services,
		timeout:  timeout,
	}
}

// Detect evaluates every rule and service probe against the current signal
// snapshot. Samples run concurrently but are fully joined before issues are
// assembled, so the returned order is deterministic: rule order first, then
// configured service order.
func (d *Detector) Detect(ctx context.Context) []models.Issue {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type sample struct {
		value float64
		err   error
	}
	ruleSamples := make([]sample, len(d.rules))
	type liveness struct {
		running bool
		err     error
	}
	serviceStates := make([]liveness, len(d.services))

	var g errgroup.Group
	for i, rule := range d.rules {
		g.Go(func() error {
			value, err := d.source.Sample(ctx, rule.Metric)
			ruleSamples[i] = sample{value: value, err: err}
			return nil
		})
	}
	for i, name := range d.services {
		g.Go(func() error {
			running, err := d.source.IsServiceRunning(ctx, name)
			serviceStates[i] = liveness{running: running, err: err}
			return nil
		})
	}
	// Errors are recorded per sample; the group never fails.
	_ = g.Wait()

	now := time.Now()
	issues := make([]models.Issue, 0)

	for i, rule := range d.rules {
		s := ruleSamples[i]
		if s.err != nil {
			d.logger.Warn("signal sample failed",
				slog.String("metric", rule.Metric),
				slog.Any("error", s.err))
			continue
		}
		if !rule.exceeded(s.value) {
			continue
		}
		severity := rule.severityFor(s.value)
		issues = append(issues, models.Issue{
			Type:        rule.Type,
			Severity:    severity,
			Component:   rule.Component,
			MetricValue: s.value,
			Threshold:   rule.Threshold,
			Description: fmt.Sprintf("%s: %.1f (threshold %.1f)", rule.Label, s.value, rule.Threshold),
			Timestamp:   now,
		})
	}

	for i, name := range d.services {
		s := serviceStates[i]
		if s.err != nil {
			d.logger.Warn("service probe failed",
				slog.String("service", name),
				slog.Any("error", s.err))
			continue
		}
		if s.running {
			continue
		}
		issues = append(issues, models.Issue{
			Type:        models.IssueService,
			Severity:    models.SeverityHigh,
			Component:   name,
			MetricValue: 0,
			Threshold:   1,
			Description: fmt.Sprintf("service %s is not running", name),
			Timestamp:   now,
		})
	}

	return issues
}

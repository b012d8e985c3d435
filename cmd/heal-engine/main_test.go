package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/luminousstack/lumen-heal/internal/engine"
	"github.com/luminousstack/lumen-heal/internal/models"
)

type fakeCycler struct {
	records []engine.Record
}

func (f *fakeCycler) RunCycle(context.Context) []engine.Record { return f.records }

func TestRunOnceNoIssues(t *testing.T) {
	var buf bytes.Buffer
	runOnce(context.Background(), &fakeCycler{}, &buf)
	if got := buf.String(); got != "no issues detected\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestRunOncePrintsDryRunPreview(t *testing.T) {
	rec := engine.Record{
		Issue: models.Issue{
			Type:        models.IssueService,
			Severity:    models.SeverityHigh,
			Component:   "nginx",
			Description: "service nginx is not running",
		},
		Action: models.Action{
			Operation:  models.OpRestartService,
			Parameters: map[string]string{"service": "nginx"},
		},
		Result: models.ExecutionResult{
			Success:  true,
			Output:   "[dry-run] would run: systemctl restart nginx",
			Mode:     models.ModeDevelopment,
			Duration: time.Millisecond,
		},
		Outcome: "resolved",
		Time:    time.Now(),
	}

	var buf bytes.Buffer
	runOnce(context.Background(), &fakeCycler{records: []engine.Record{rec}}, &buf)

	out := buf.String()
	if !strings.Contains(out, "service nginx is not running -> restart_service") {
		t.Errorf("issue line missing from output:\n%s", out)
	}
	if !strings.Contains(out, "[dry-run] would run: systemctl restart nginx") {
		t.Errorf("dry-run preview missing from output:\n%s", out)
	}
}

func TestRunOncePrintsFailureGuidance(t *testing.T) {
	rec := engine.Record{
		Issue: models.Issue{
			Type:        models.IssueResource,
			Severity:    models.SeverityHigh,
			Component:   "disk",
			Description: "low disk space: 95.0 (threshold 90.0)",
		},
		Action: models.Action{Operation: models.OpCleanNixStore, Parameters: map[string]string{}},
		Result: models.ExecutionResult{
			Success:    false,
			Error:      "exit status 1",
			Suggestion: "run manually with elevated privileges: sudo nix-collect-garbage -d",
			Mode:       models.ModeDevelopment,
		},
		Outcome: "failed",
		Time:    time.Now(),
	}

	var buf bytes.Buffer
	runOnce(context.Background(), &fakeCycler{records: []engine.Record{rec}}, &buf)

	out := buf.String()
	if !strings.Contains(out, "error: exit status 1") {
		t.Errorf("error line missing:\n%s", out)
	}
	if !strings.Contains(out, "suggestion: run manually with elevated privileges") {
		t.Errorf("suggestion line missing:\n%s", out)
	}
}

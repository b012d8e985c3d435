package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/luminousstack/lumen-heal/internal/models"
)

func TestIssueForEvent(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		event    models.FileEvent
		severity models.Severity
	}{
		{
			name:     "deletion is critical",
			event:    models.FileEvent{Path: "/etc/nixos/configuration.nix", ChangeType: models.ChangeDeleted, Time: now},
			severity: models.SeverityCritical,
		},
		{
			name:     "move away is critical",
			event:    models.FileEvent{Path: "/etc/nixos/configuration.nix", ChangeType: models.ChangeMoved, Time: now},
			severity: models.SeverityCritical,
		},
		{
			name:     "modification is high",
			event:    models.FileEvent{Path: "/etc/nixos/flake.nix", ChangeType: models.ChangeModified, Time: now},
			severity: models.SeverityHigh,
		},
		{
			name:     "re-creation is high",
			event:    models.FileEvent{Path: "/etc/nixos/flake.nix", ChangeType: models.ChangeCreated, Time: now},
			severity: models.SeverityHigh,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issue := IssueForEvent(tc.event)
			if issue.Type != models.IssueSystem {
				t.Errorf("type = %q, want system", issue.Type)
			}
			if issue.Severity != tc.severity {
				t.Errorf("severity = %q, want %q", issue.Severity, tc.severity)
			}
			if issue.Component != tc.event.Path {
				t.Errorf("component = %q", issue.Component)
			}
			if !strings.Contains(issue.Description, tc.event.Path) {
				t.Errorf("description %q does not name the path", issue.Description)
			}
		})
	}
}

func TestIssueForEventChecksumInDescription(t *testing.T) {
	event := models.FileEvent{
		Path:           "/etc/nixos/configuration.nix",
		ChangeType:     models.ChangeModified,
		ChecksumBefore: "aaaaaaaaaaaaaaaaaaaaaaaa",
		ChecksumAfter:  "bbbbbbbbbbbbbbbbbbbbbbbb",
		Time:           time.Now(),
	}
	issue := IssueForEvent(event)
	if !strings.Contains(issue.Description, "aaaaaaaaaaaa") || !strings.Contains(issue.Description, "bbbbbbbbbbbb") {
		t.Errorf("description %q missing checksum transition", issue.Description)
	}
}

func waitForIssue(t *testing.T, issues <-chan models.Issue) models.Issue {
	t.Helper()
	select {
	case issue, ok := <-issues:
		if !ok {
			t.Fatal("issue channel closed early")
		}
		return issue
	case <-time.After(5 * time.Second):
		t.Fatal("no issue observed")
	}
	return models.Issue{}
}

func TestMonitorObservesModifyAndDelete(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "configuration.nix")
	if err := os.WriteFile(target, []byte("{ }\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewMonitor([]string{target}, 50*time.Millisecond, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	if err := os.WriteFile(target, []byte("{ services = { }; }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	issue := waitForIssue(t, m.Issues())
	if issue.Severity != models.SeverityHigh {
		t.Errorf("modify severity = %q, want high", issue.Severity)
	}
	if issue.Component != target {
		t.Errorf("component = %q", issue.Component)
	}

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	issue = waitForIssue(t, m.Issues())
	if issue.Severity != models.SeverityCritical {
		t.Errorf("delete severity = %q, want critical", issue.Severity)
	}
}

func TestMonitorCoalescesBurstIntoOneIssue(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "configuration.nix")
	if err := os.WriteFile(target, []byte("{ }\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewMonitor([]string{target}, 200*time.Millisecond, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Several writes inside one debounce window, as an editor save does.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(target, []byte("{ }\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	waitForIssue(t, m.Issues())
	select {
	case issue := <-m.Issues():
		t.Fatalf("burst produced a second issue: %+v", issue)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestMonitorIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "configuration.nix")
	sibling := filepath.Join(dir, "scratch.txt")
	if err := os.WriteFile(target, []byte("{ }\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewMonitor([]string{target}, 50*time.Millisecond, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	if err := os.WriteFile(sibling, []byte("noise"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case issue := <-m.Issues():
		t.Fatalf("sibling change produced an issue: %+v", issue)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMonitorClosesChannelOnCancel(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "configuration.nix")
	if err := os.WriteFile(target, []byte("{ }\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewMonitor([]string{target}, 50*time.Millisecond, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, ok := <-m.Issues(); ok {
		t.Error("issue channel still open after shutdown")
	}
}

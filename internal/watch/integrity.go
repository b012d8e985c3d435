// Package watch observes critical configuration paths and synthesizes
// system issues when they are deleted or modified. It is the adapter between
// the file-integrity event stream and the healing engine.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/luminousstack/lumen-heal/internal/models"
)

// Monitor watches configured critical paths through fsnotify. Raw events are
// debounced into batches (editors fire several events per save), converted
// to FileEvents with checksum tracking, and surfaced as issues on a channel
// the engine drains each cycle.
type Monitor struct {
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	paths    map[string]struct{}
	debounce time.Duration

	mu        sync.Mutex
	checksums map[string]string

	issues chan models.Issue
}

// NewMonitor creates a monitor for the given critical paths. Parent
// directories are watched rather than the files themselves so deletions and
// re-creations keep being observed.
func NewMonitor(paths []string, debounce time.Duration, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	m := &Monitor{
		logger:    logger,
		watcher:   watcher,
		paths:     make(map[string]struct{}, len(paths)),
		debounce:  debounce,
		checksums: make(map[string]string),
		issues:    make(chan models.Issue, 64),
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("resolve path %s: %w", p, err)
		}
		m.paths[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	m.primeChecksums()
	return m, nil
}

// Issues delivers synthesized issues. The channel is buffered; if the engine
// falls far behind, further events are dropped with a warning rather than
// blocking the watcher.
func (m *Monitor) Issues() <-chan models.Issue {
	return m.issues
}

// Run processes watcher events until the context is cancelled. Events for a
// path are held for the debounce window and only the final state is
// reported.
func (m *Monitor) Run(ctx context.Context) {
	pending := make(map[string]fsnotify.Op)
	var flushTimer *time.Timer
	var flushC <-chan time.Time

	flush := func() {
		for path, op := range pending {
			delete(pending, path)
			m.emit(path, op)
		}
		flushC = nil
	}

	for {
		select {
		case <-ctx.Done():
			m.watcher.Close()
			close(m.issues)
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				close(m.issues)
				return
			}
			if _, tracked := m.paths[ev.Name]; !tracked {
				continue
			}
			pending[ev.Name] |= ev.Op
			if flushTimer == nil {
				flushTimer = time.NewTimer(m.debounce)
			} else {
				// The timer may have fired with its tick undrained, which
				// would flush the batch before the new window elapses.
				if !flushTimer.Stop() {
					select {
					case <-flushTimer.C:
					default:
					}
				}
				flushTimer.Reset(m.debounce)
			}
			flushC = flushTimer.C

		case <-flushC:
			flush()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				close(m.issues)
				return
			}
			m.logger.Warn("integrity watcher error", slog.Any("error", err))
		}
	}
}

func (m *Monitor) emit(path string, op fsnotify.Op) {
	event := m.toFileEvent(path, op)
	issue := IssueForEvent(event)
	m.logger.Info("critical path changed",
		slog.String("path", event.Path),
		slog.String("change", string(event.ChangeType)),
		slog.String("severity", string(issue.Severity)))

	select {
	case m.issues <- issue:
	default:
		m.logger.Warn("issue channel full, dropping integrity event",
			slog.String("path", event.Path))
	}
}

// toFileEvent classifies the accumulated fsnotify ops and refreshes the
// checksum cache. Remove wins over other ops: a delete is a delete even if a
// write was observed first in the same window.
func (m *Monitor) toFileEvent(path string, op fsnotify.Op) models.FileEvent {
	event := models.FileEvent{Path: path, Time: time.Now()}

	m.mu.Lock()
	event.ChecksumBefore = m.checksums[path]
	m.mu.Unlock()

	switch {
	case op.Has(fsnotify.Remove):
		event.ChangeType = models.ChangeDeleted
	case op.Has(fsnotify.Rename):
		event.ChangeType = models.ChangeMoved
	case op.Has(fsnotify.Create):
		event.ChangeType = models.ChangeCreated
	default:
		event.ChangeType = models.ChangeModified
	}

	switch event.ChangeType {
	case models.ChangeDeleted, models.ChangeMoved:
		m.mu.Lock()
		delete(m.checksums, path)
		m.mu.Unlock()
	default:
		if sum, err := checksumFile(path); err == nil {
			event.ChecksumAfter = sum
			m.mu.Lock()
			m.checksums[path] = sum
			m.mu.Unlock()
		}
	}
	return event
}

// IssueForEvent maps a file event on a critical path to a system issue.
// Deletion or a move-away is critical and resolves to a generation rollback;
// content changes are high severity so operators see them even when the
// change turns out to be legitimate.
func IssueForEvent(event models.FileEvent) models.Issue {
	severity := models.SeverityHigh
	switch event.ChangeType {
	case models.ChangeDeleted, models.ChangeMoved:
		severity = models.SeverityCritical
	}

	description := fmt.Sprintf("critical path %s: %s", event.ChangeType, event.Path)
	if event.ChecksumBefore != "" && event.ChecksumAfter != "" && event.ChecksumBefore != event.ChecksumAfter {
		description += fmt.Sprintf(" (checksum %s -> %s)",
			shortSum(event.ChecksumBefore), shortSum(event.ChecksumAfter))
	}

	return models.Issue{
		Type:        models.IssueSystem,
		Severity:    severity,
		Component:   event.Path,
		Description: description,
		Timestamp:   event.Time,
	}
}

func (m *Monitor) primeChecksums() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path := range m.paths {
		sum, err := checksumFile(path)
		if err != nil {
			continue
		}
		m.checksums[path] = sum
	}
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

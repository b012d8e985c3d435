package engine

import (
	"sync"
	"time"

	"github.com/luminousstack/lumen-heal/internal/models"
)

// Record captures one remediation decision: the issue, the action chosen for
// it, and how the attempt ended.
type Record struct {
	Issue   models.Issue
	Action  models.Action
	Result  models.ExecutionResult
	Outcome string
	Time    time.Time
}

// History is a bounded in-memory ring of remediation records. The engine loop
// is the only writer; the admin API reads concurrently.
type History struct {
	mu      sync.RWMutex
	records []Record
	maxSize int
}

// NewHistory creates a history ring keeping up to maxSize records.
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &History{maxSize: maxSize}
}

// Append stores a record, dropping the oldest once full.
func (h *History) Append(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, rec)
	if len(h.records) > h.maxSize {
		copy(h.records[0:], h.records[1:])
		h.records = h.records[:h.maxSize]
	}
}

// Last returns up to n records, most recent first.
func (h *History) Last(n int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]Record, 0, n)
	for i := len(h.records) - 1; i >= len(h.records)-n; i-- {
		out = append(out, h.records[i])
	}
	return out
}

// Len returns the number of stored records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

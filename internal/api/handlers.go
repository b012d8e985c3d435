package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/luminousstack/lumen-heal/internal/engine"
)

// healTimeout bounds a manual heal-now cycle, generously: a rollback can
// legitimately take minutes.
const healTimeout = 10 * time.Minute

type handlers struct {
	logger *slog.Logger
	engine EngineControl
}

// recordDTO is the wire representation of a remediation record.
type recordDTO struct {
	Component   string  `json:"component"`
	IssueType   string  `json:"issue_type"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	MetricValue float64 `json:"metric_value"`
	Threshold   float64 `json:"threshold"`
	Operation   string  `json:"operation,omitempty"`
	Outcome     string  `json:"outcome"`
	Success     bool    `json:"success"`
	Mode        string  `json:"mode,omitempty"`
	Output      string  `json:"output,omitempty"`
	Error       string  `json:"error,omitempty"`
	Suggestion  string  `json:"suggestion,omitempty"`
	DurationMS  int64   `json:"duration_ms"`
	Time        string  `json:"time"`
}

func toRecordDTO(rec engine.Record) recordDTO {
	return recordDTO{
		Component:   rec.Issue.Component,
		IssueType:   string(rec.Issue.Type),
		Severity:    string(rec.Issue.Severity),
		Description: rec.Issue.Description,
		MetricValue: rec.Issue.MetricValue,
		Threshold:   rec.Issue.Threshold,
		Operation:   rec.Action.Operation,
		Outcome:     rec.Outcome,
		Success:     rec.Result.Success,
		Mode:        string(rec.Result.Mode),
		Output:      rec.Result.Output,
		Error:       rec.Result.Error,
		Suggestion:  rec.Result.Suggestion,
		DurationMS:  rec.Result.Duration.Milliseconds(),
		Time:        rec.Time.UTC().Format(time.RFC3339),
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.logger, h.engine.Status())
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records := h.engine.History(limit)
	dtos := make([]recordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toRecordDTO(rec))
	}
	writeJSON(w, h.logger, map[string]any{"records": dtos})
}

// heal runs one detect/resolve/execute cycle immediately and returns its
// records, suggestions included, so an operator sees why a heal failed
// without digging through logs.
func (h *handlers) heal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healTimeout)
	defer cancel()

	records := h.engine.RunCycle(ctx)
	dtos := make([]recordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toRecordDTO(rec))
	}
	writeJSON(w, h.logger, map[string]any{
		"issues_handled": len(dtos),
		"records":        dtos,
	})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("write response failed", slog.Any("error", err))
	}
}

// Package executor is the permission boundary: it runs remediation actions
// either through the privileged helper daemon (service mode) or directly
// in-process (development mode). The mode is fixed once at construction,
// never per action.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/luminousstack/lumen-heal/internal/models"
)

// Executor runs actions behind the permission boundary.
type Executor interface {
	Execute(ctx context.Context, action models.Action, dryRun bool) models.ExecutionResult
	Mode() models.ExecutionMode
}

// Config selects the execution mode and helper transport.
type Config struct {
	DevMode    bool
	SocketPath string
	Timeout    time.Duration
	Secret     string
}

// New returns the executor for the configured mode.
func New(cfg Config, logger *slog.Logger) Executor {
	if cfg.DevMode {
		return NewDirectExecutor(logger)
	}
	return NewServiceExecutor(cfg, logger)
}

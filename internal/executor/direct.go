package executor

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/luminousstack/lumen-heal/internal/models"
)

// DirectExecutor runs remediation commands in-process via subprocess
// invocation. Development and local testing only; it warns on every call.
type DirectExecutor struct {
	logger *slog.Logger
	// runner is swappable in tests so no real command is spawned.
	runner func(ctx context.Context, argv []string) (string, error)
}

// NewDirectExecutor constructs the development-mode executor.
func NewDirectExecutor(logger *slog.Logger) *DirectExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectExecutor{logger: logger, runner: runCommand}
}

// Mode reports the development execution path.
func (e *DirectExecutor) Mode() models.ExecutionMode {
	return models.ModeDevelopment
}

// Execute builds the command for the action and runs it locally. With dryRun
// the command is constructed and logged but never spawned; the result output
// carries the command that would have run.
func (e *DirectExecutor) Execute(ctx context.Context, action models.Action, dryRun bool) models.ExecutionResult {
	e.logger.Warn("development mode executes privileged commands in-process; not for production use",
		slog.String("operation", action.Operation))

	start := time.Now()
	argv, err := BuildCommand(action.Operation, action.Parameters)
	if err != nil {
		return models.ExecutionResult{
			Success:    false,
			Error:      err.Error(),
			Mode:       models.ModeDevelopment,
			Suggestion: "check the resolver rule pack for operations outside the supported vocabulary",
			Duration:   time.Since(start),
		}
	}

	command := strings.Join(argv, " ")
	if dryRun {
		e.logger.Info("dry run, command not executed", slog.String("command", command))
		return models.ExecutionResult{
			Success:  true,
			Output:   "[dry-run] would run: " + command,
			Mode:     models.ModeDevelopment,
			Duration: time.Since(start),
		}
	}

	cctx, cancel := context.WithTimeout(ctx, CommandTimeout(action.Operation))
	defer cancel()

	output, err := e.runner(cctx, argv)
	result := models.ExecutionResult{
		Output:   strings.TrimSpace(output),
		Mode:     models.ModeDevelopment,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		result.Suggestion = "run manually with elevated privileges: sudo " + command
		return result
	}
	result.Success = true
	return result
}

func runCommand(ctx context.Context, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/luminousstack/lumen-heal/internal/models"
)

// helperSuggestion tells the operator how to bring the privileged helper up.
const helperSuggestion = "start the lumen-healing service: enable services.lumen-healing in configuration.nix and rebuild, " +
	"then check: systemctl status lumen-healing"

// errHelperBusy marks a transient helper-side refusal worth one retry.
var errHelperBusy = errors.New("helper busy")

// ServiceExecutor forwards actions over the authenticated Unix socket to the
// privileged helper daemon. This is the only path allowed to trigger
// privileged mutations in production.
type ServiceExecutor struct {
	logger     *slog.Logger
	socketPath string
	timeout    time.Duration
	secret     string
	cb         *gobreaker.CircuitBreaker
}

// NewServiceExecutor constructs the service-mode executor. A circuit breaker
// shields a down helper from being re-dialed on every issue of every cycle.
func NewServiceExecutor(cfg Config, logger *slog.Logger) *ServiceExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "heal-helper",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &ServiceExecutor{
		logger:     logger,
		socketPath: cfg.SocketPath,
		timeout:    timeout,
		secret:     cfg.Secret,
		cb:         cb,
	}
}

// Mode reports the service execution path.
func (s *ServiceExecutor) Mode() models.ExecutionMode {
	return models.ModeService
}

// Execute sends a signed request to the helper and waits for its reply.
// An unreachable helper is terminal for the action and surfaces an
// operator-actionable suggestion; a busy helper is retried once.
func (s *ServiceExecutor) Execute(ctx context.Context, action models.Action, dryRun bool) models.ExecutionResult {
	start := time.Now()

	if dryRun {
		argv, err := BuildCommand(action.Operation, action.Parameters)
		if err != nil {
			return models.ExecutionResult{
				Success:  false,
				Error:    err.Error(),
				Mode:     models.ModeService,
				Duration: time.Since(start),
			}
		}
		command := strings.Join(argv, " ")
		s.logger.Info("dry run, request not sent to helper", slog.String("command", command))
		return models.ExecutionResult{
			Success:  true,
			Output:   "[dry-run] helper would run: " + command,
			Mode:     models.ModeService,
			Duration: time.Since(start),
		}
	}

	req := HealRequest{
		ID:         uuid.NewString(),
		Operation:  action.Operation,
		Parameters: action.Parameters,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	req.Signature = Sign(s.secret, req.ID, req.Operation, req.Timestamp)

	var resp HealResponse
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.call(ctx, req, &resp)
	})
	duration := time.Since(start)

	if err != nil {
		result := models.ExecutionResult{
			Success:  false,
			Error:    err.Error(),
			Mode:     models.ModeService,
			Duration: duration,
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || isUnreachable(err) {
			result.Suggestion = helperSuggestion
		} else {
			result.Suggestion = "inspect helper logs: journalctl -u lumen-healing"
		}
		return result
	}

	result := models.ExecutionResult{
		Success:  resp.Success,
		Output:   resp.Output,
		Error:    resp.Error,
		Mode:     models.ModeService,
		Duration: duration,
	}
	if !resp.Success && result.Suggestion == "" {
		result.Suggestion = "inspect helper logs: journalctl -u lumen-healing"
	}
	return result
}

// call performs one round trip, retrying exactly once when the failure is
// transient (busy helper, timeout). Permission and reachability failures are
// terminal and never retried.
func (s *ServiceExecutor) call(ctx context.Context, req HealRequest, resp *HealResponse) error {
	err := s.roundTrip(ctx, req, resp)
	if err == nil || !isTransient(err) {
		return err
	}

	s.logger.Debug("transient helper failure, retrying once", slog.Any("error", err))
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(1),
		retry.DelayType(retry.BackOffDelay),
	)
	return r.Do(func() error {
		return s.roundTrip(ctx, req, resp)
	})
}

func (s *ServiceExecutor) roundTrip(ctx context.Context, req HealRequest, resp *HealResponse) error {
	// Decoding leaves absent JSON fields untouched, so a retry must not
	// inherit state from the failed first attempt.
	*resp = HealResponse{}

	dialTimeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < dialTimeout {
			dialTimeout = until
		}
	}
	conn, err := net.DialTimeout("unix", s.socketPath, dialTimeout)
	if err != nil {
		return fmt.Errorf("helper unreachable at %s: %w", s.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("set socket deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send heal request: %w", err)
	}
	if err := json.NewDecoder(conn).Decode(resp); err != nil {
		return fmt.Errorf("read heal response: %w", err)
	}
	if resp.RequestID != req.ID {
		return fmt.Errorf("helper response for unexpected request %q", resp.RequestID)
	}
	if !resp.Success && strings.HasPrefix(resp.Error, "busy") {
		return fmt.Errorf("%w: %s", errHelperBusy, resp.Error)
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, errHelperBusy) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// A timed-out dial means the helper is down, not busy.
		return !isUnreachable(err)
	}
	return false
}

func isUnreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

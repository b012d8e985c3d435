// Package helper implements the privileged healing executor daemon. It
// accepts signed heal requests over a Unix domain socket, executes
// allow-listed operations with elevated privileges, and audit-logs every
// attempt. The engine talks to it through executor.ServiceExecutor.
package helper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/luminousstack/lumen-heal/internal/executor"
	"github.com/luminousstack/lumen-heal/internal/models"
)

// rateWindow bounds how often a single operation may run: 10 executions per
// five minutes, mirroring the engine-side caps but enforced independently so
// a compromised or buggy client cannot bypass them.
const (
	rateWindow = 5 * time.Minute
	rateBurst  = 10
)

// Config holds helper daemon settings.
type Config struct {
	SocketPath string
	Secret     string
	// SocketMode restricts who may connect; transport auth is the socket
	// file permission, not the network.
	SocketMode os.FileMode
}

// Server is the privileged helper daemon.
type Server struct {
	logger *slog.Logger
	cfg    Config

	allowed map[string]struct{}
	// runner is swappable in tests so no real command is spawned.
	runner func(ctx context.Context, argv []string) (string, error)
	// connTimeout bounds each read and write on a connection separately;
	// the command execution between them may run for minutes.
	connTimeout time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	ln net.Listener
	wg sync.WaitGroup
}

// NewServer constructs the helper daemon. Only operations in the closed
// remediation vocabulary are ever executed.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0o660
	}
	allowed := make(map[string]struct{})
	for _, op := range []string{
		models.OpRestartService,
		models.OpReloadService,
		models.OpSetCPUGovernor,
		models.OpClearSystemCache,
		models.OpCleanNixStore,
		models.OpRollbackGeneration,
		models.OpRebuildSystem,
	} {
		allowed[op] = struct{}{}
	}
	return &Server{
		logger:      logger,
		cfg:         cfg,
		allowed:     allowed,
		runner:      runCommand,
		connTimeout: 30 * time.Second,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Start listens on the Unix socket and serves requests until Shutdown. A
// stale socket file from a previous run is removed first.
func (s *Server) Start() error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, s.cfg.SocketMode); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.ln = ln
	s.logger.Info("helper listening",
		slog.String("socket", s.cfg.SocketPath),
		slog.String("mode", s.cfg.SocketMode.String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", slog.Any("error", err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown stops accepting connections and waits for in-flight requests, so
// no mutation is left half-applied.
func (s *Server) Shutdown(ctx context.Context) {
	if s.ln != nil {
		s.ln.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with requests in flight")
	}
	os.Remove(s.cfg.SocketPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(s.connTimeout))
	var req executor.HealRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.logger.Warn("malformed heal request", slog.Any("error", err))
		return
	}

	resp := s.serve(req)

	// The write deadline starts only after the command finishes, so slow
	// operations like a store collection can still deliver their response.
	conn.SetWriteDeadline(time.Now().Add(s.connTimeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("write heal response failed",
			slog.String("request_id", req.ID),
			slog.Any("error", err))
	}
}

func (s *Server) serve(req executor.HealRequest) executor.HealResponse {
	resp := executor.HealResponse{RequestID: req.ID}

	if !req.Verify(s.cfg.Secret) {
		s.logger.Warn("rejected unsigned or mis-signed request",
			slog.String("request_id", req.ID),
			slog.String("operation", req.Operation))
		resp.Error = "unauthorized: bad request signature"
		return resp
	}
	if _, ok := s.allowed[req.Operation]; !ok {
		resp.Error = fmt.Sprintf("operation %q not allowed", req.Operation)
		return resp
	}
	if !s.limiter(req.Operation).Allow() {
		resp.Error = fmt.Sprintf("busy: rate limit for %s exceeded, retry later", req.Operation)
		return resp
	}

	argv, err := executor.BuildCommand(req.Operation, req.Parameters)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	ctx, cancel := context.WithTimeout(context.Background(), executor.CommandTimeout(req.Operation))
	defer cancel()

	start := time.Now()
	output, err := s.runner(ctx, argv)
	duration := time.Since(start)

	// Audit trail: every attempt, success or not.
	s.logger.Info("heal action executed",
		slog.String("request_id", req.ID),
		slog.String("operation", req.Operation),
		slog.Bool("success", err == nil),
		slog.Duration("duration", duration))

	resp.Output = strings.TrimSpace(output)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Success = true
	return resp
}

func (s *Server) limiter(operation string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[operation]
	if !ok {
		lim = rate.NewLimiter(rate.Every(rateWindow/rateBurst), rateBurst)
		s.limiters[operation] = lim
	}
	return lim
}

func runCommand(ctx context.Context, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

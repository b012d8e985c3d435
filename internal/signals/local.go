package signals

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// LocalSource samples the local host through /proc and statfs, and probes
// service liveness via systemctl. CPU usage is derived from the delta between
// consecutive /proc/stat readings; the first sample takes a short second
// reading to have a delta at all.
type LocalSource struct {
	mounts []string

	mu       sync.Mutex
	prevBusy uint64
	prevAll  uint64
}

// NewLocalSource builds a source sampling the given mounts for disk usage.
// An empty list defaults to the root filesystem.
func NewLocalSource(mounts []string) *LocalSource {
	if len(mounts) == 0 {
		mounts = []string{"/"}
	}
	return &LocalSource{mounts: mounts}
}

// Sample returns the current value for a named metric.
func (s *LocalSource) Sample(ctx context.Context, metric string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch metric {
	case MetricCPUPercent:
		return s.cpuPercent(ctx)
	case MetricMemoryPercent:
		return memoryPercent()
	case MetricDiskPercent:
		return diskPercent(s.mounts)
	case MetricLoadAverage:
		return loadAverage()
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
}

// IsServiceRunning probes a systemd unit. A non-zero exit from systemctl
// means the unit is inactive, not an error.
func (s *LocalSource) IsServiceRunning(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", name)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("probe service %s: %w", name, err)
}

func (s *LocalSource) cpuPercent(ctx context.Context) (float64, error) {
	busy, all, err := readCPUStat()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	prevBusy, prevAll := s.prevBusy, s.prevAll
	s.mu.Unlock()

	if prevAll == 0 {
		// No earlier reading: take a short second sample for the delta.
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		prevBusy, prevAll = busy, all
		busy, all, err = readCPUStat()
		if err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	s.prevBusy, s.prevAll = busy, all
	s.mu.Unlock()

	dAll := all - prevAll
	if dAll == 0 {
		return 0, nil
	}
	pct := float64(busy-prevBusy) / float64(dAll) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// readCPUStat parses the aggregate cpu line of /proc/stat into busy and
// total jiffies.
func readCPUStat() (busy, total uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, fmt.Errorf("read /proc/stat: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, fmt.Errorf("unexpected /proc/stat format: %q", line)
	}
	values := make([]uint64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, parseErr := strconv.ParseUint(f, 10, 64)
		if parseErr != nil {
			return 0, 0, fmt.Errorf("parse /proc/stat field %q: %w", f, parseErr)
		}
		values = append(values, v)
	}
	for i, v := range values {
		total += v
		// Fields 3 (idle) and 4 (iowait) are not busy time.
		if i != 3 && i != 4 {
			busy += v
		}
	}
	return busy, total, nil
}

func memoryPercent() (float64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("read /proc/meminfo: %w", err)
	}
	var totalKB, availKB float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB, _ = strconv.ParseFloat(fields[1], 64)
		case "MemAvailable:":
			availKB, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
	if totalKB == 0 {
		return 0, fmt.Errorf("MemTotal missing from /proc/meminfo")
	}
	return (totalKB - availKB) / totalKB * 100, nil
}

// diskPercent returns the highest usage across the configured mounts, so a
// single full filesystem is enough to trip the threshold.
func diskPercent(mounts []string) (float64, error) {
	var worst float64
	var lastErr error
	sampled := false
	for _, mount := range mounts {
		var st syscall.Statfs_t
		if err := syscall.Statfs(mount, &st); err != nil {
			lastErr = fmt.Errorf("statfs %s: %w", mount, err)
			continue
		}
		if st.Blocks == 0 {
			continue
		}
		used := float64(st.Blocks - st.Bfree)
		nonRoot := used + float64(st.Bavail)
		if nonRoot == 0 {
			continue
		}
		pct := used / nonRoot * 100
		if pct > worst {
			worst = pct
		}
		sampled = true
	}
	if !sampled && lastErr != nil {
		return 0, lastErr
	}
	return worst, nil
}

func loadAverage() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, fmt.Errorf("read /proc/loadavg: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty /proc/loadavg")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse load average %q: %w", fields[0], err)
	}
	return load, nil
}

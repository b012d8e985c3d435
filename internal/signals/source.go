package signals

import (
	"context"
	"errors"
)

// Metric names understood by the local source.
const (
	MetricCPUPercent    = "cpu_percent"
	MetricMemoryPercent = "memory_percent"
	MetricDiskPercent   = "disk_percent"
	MetricLoadAverage   = "load_average"
)

// ErrUnknownMetric signals a metric name outside the source vocabulary.
var ErrUnknownMetric = errors.New("unknown metric")

// Source provides pull-based access to host health signals. Implementations
// must honour the caller's context deadline on every call.
type Source interface {
	Sample(ctx context.Context, metric string) (float64, error)
	IsServiceRunning(ctx context.Context, name string) (bool, error)
}

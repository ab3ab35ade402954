package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/iswctl/internal/monitor"
)

// Recorder persists monitor samples. It is a monitor.Sink.
type Recorder interface {
	Record(ctx context.Context, s monitor.Sample) error
	Query(ctx context.Context, since time.Time) ([]monitor.Sample, error)
	Close() error
}

// Repository defines the interface for sample storage
type Repository interface {
	Record(s monitor.Sample) error
	Query(ctx context.Context, since time.Time) ([]monitor.Sample, error)
	Close() error
}

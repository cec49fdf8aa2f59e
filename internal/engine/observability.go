package engine

import (
	"context"
	"time"
)

// MetricsRecorder receives operation outcomes from the orchestrators.
// Implementations must be safe for concurrent use; they are invoked from
// queue goroutines.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan terminates a trace started by a Tracer.
type TraceSpan interface {
	End(err error)
}

// Tracer records spans around save and fetch requests.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Operation names recorded by the orchestrators.
const (
	opSave  = "save"
	opFetch = "fetch"
	opMerge = "merge"
)

func (s *Stack) startSpan(operation string) TraceSpan {
	if s.tracer == nil {
		return noopSpan{}
	}
	_, span := s.tracer.Start(context.Background(), operation)
	return span
}

func (s *Stack) observe(operation string, success bool, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.Observe(context.Background(), operation, success, time.Since(start))
}

func (s *Stack) observeMerge(start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.Observe(context.Background(), opMerge, true, time.Since(start))
}

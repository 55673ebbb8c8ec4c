package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	sessionCounter  metric.Int64Counter
	sessionDuration metric.Float64Histogram
)

func initMetrics() {
	meter := otel.Meter("scribe/pipeline")
	var err error
	sessionCounter, err = meter.Int64Counter("scribe.sessions.total",
		metric.WithDescription("Dictation sessions by terminal state"))
	if err != nil {
		sessionCounter = nil
	}
	sessionDuration, err = meter.Float64Histogram("scribe.session.duration.seconds",
		metric.WithDescription("Wall time from session start to terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		sessionDuration = nil
	}
}

func observeSession(ctx context.Context, state State, elapsed time.Duration) {
	metricsOnce.Do(initMetrics)
	attrs := metric.WithAttributes(attribute.String("state", state.String()))
	if sessionCounter != nil {
		sessionCounter.Add(ctx, 1, attrs)
	}
	if sessionDuration != nil {
		sessionDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

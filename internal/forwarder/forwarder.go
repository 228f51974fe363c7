// Package forwarder delivers a drained buffer to the configured sink and
// applies the outcome to the checkpoint and health state.
package forwarder

import (
	"context"
	"log/slog"

	"github.com/crimson-sun/auditfwd/internal/metrics"
	"github.com/crimson-sun/auditfwd/internal/model"
	"github.com/crimson-sun/auditfwd/internal/output"
)

// Drainer hands over the buffered content and leaves the buffer empty.
type Drainer interface {
	Drain() model.Batch
}

// CheckpointWriter persists the end of a forwarded window.
type CheckpointWriter interface {
	Write(epoch int64)
}

// HealthReporter records the result of a delivery attempt.
type HealthReporter interface {
	Report(err error)
}

// Forwarder applies the delivery policy around a single Sink.
type Forwarder struct {
	sink       output.Sink
	checkpoint CheckpointWriter
	health     HealthReporter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithMetrics records delivered lines and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forwarder) { f.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) { f.logger = l }
}

// New creates a Forwarder.
func New(sink output.Sink, checkpoint CheckpointWriter, health HealthReporter, opts ...Option) *Forwarder {
	f := &Forwarder{
		sink:       sink,
		checkpoint: checkpoint,
		health:     health,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward drains buf and sends the batch. The buffer is empty afterwards
// whatever the outcome. On success the checkpoint becomes end; on failure it
// is left alone and health turns unhealthy. An empty buffer is a no-op.
func (f *Forwarder) Forward(ctx context.Context, buf Drainer, end int64) error {
	batch := buf.Drain()
	if batch.Empty() {
		f.logger.Debug("nothing to forward")
		return nil
	}

	name := f.sink.Name()
	if err := f.sink.Send(ctx, batch); err != nil {
		f.logger.Error("forwarding failed", "sink", name, "bytes", len(batch.Raw), "error", err)
		f.metrics.ForwardFailed(name)
		f.health.Report(err)
		return err
	}

	f.checkpoint.Write(end)
	f.metrics.Forwarded(name, len(batch.Lines()))
	f.health.Report(nil)
	f.logger.Info("forwarded audit batch", "sink", name, "bytes", len(batch.Raw), "checkpoint", end)
	return nil
}

// Close closes the sink.
func (f *Forwarder) Close() error {
	return f.sink.Close()
}

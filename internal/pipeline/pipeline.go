package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/crimson-sun/auditfwd/internal/forwarder"
	"github.com/crimson-sun/auditfwd/internal/metrics"
)

// Fetcher fills the buffer with lines newer than checkpoint.
type Fetcher interface {
	FetchSince(ctx context.Context, checkpoint int64) (int64, error)
}

// CheckpointReader yields the checkpoint a cycle starts from.
type CheckpointReader interface {
	Read() int64
}

// Forwarder delivers the drained buffer.
type Forwarder interface {
	Forward(ctx context.Context, buf forwarder.Drainer, end int64) error
}

// Cycle results, used as the metrics label.
const (
	ResultSuccess      = "success"
	ResultIdle         = "idle"
	ResultFetchError   = "fetch_error"
	ResultForwardError = "forward_error"
)

// Pipeline runs fetch-then-forward cycles over one shared buffer. At most one
// cycle is in flight at any time.
type Pipeline struct {
	buf        *Buffer
	fetcher    Fetcher
	checkpoint CheckpointReader
	forwarder  Forwarder
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics counts cycles by result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline. buf must be the same buffer the fetcher appends to.
func New(buf *Buffer, fetcher Fetcher, checkpoint CheckpointReader, fwd Forwarder, opts ...Option) *Pipeline {
	p := &Pipeline{
		buf:        buf,
		fetcher:    fetcher,
		checkpoint: checkpoint,
		forwarder:  fwd,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCycle reads the checkpoint, fetches everything since it and forwards the
// result. It returns the fetch or forward error; the caller only logs it.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := p.logger.With("cycle_id", uuid.NewString())

	// Leftovers from a failed fetch are re-derived from the unchanged checkpoint.
	if stale := p.buf.Drain(); !stale.Empty() {
		logger.Warn("discarding lines left by an aborted fetch", "bytes", len(stale.Raw))
	}

	cp := p.checkpoint.Read()
	logger.Debug("cycle started", "checkpoint", cp)

	end, err := p.fetcher.FetchSince(ctx, cp)
	if err != nil {
		p.metrics.CycleDone(ResultFetchError)
		return fmt.Errorf("pipeline fetch: %w", err)
	}

	if p.buf.Empty() {
		p.metrics.CycleDone(ResultIdle)
		logger.Debug("no new audit lines", "checkpoint", cp, "end", end)
		return nil
	}

	if err := p.forwarder.Forward(ctx, p.buf, end); err != nil {
		p.metrics.CycleDone(ResultForwardError)
		return fmt.Errorf("pipeline forward: %w", err)
	}
	p.metrics.CycleDone(ResultSuccess)
	return nil
}

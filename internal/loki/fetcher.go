package loki

import (
	"context"
	"log/slog"
	"time"

	"github.com/crimson-sun/auditfwd/internal/metrics"
)

// Defaults for paging through the checkpoint gap.
const (
	DefaultWindow = 5 * time.Minute
	DefaultMargin = time.Minute
	DefaultLimit  = 5000
)

// Querier is the part of Client the Fetcher needs.
type Querier interface {
	QueryRange(ctx context.Context, p QueryRangeParams) (*QueryResponse, error)
}

// LineAppender receives fetched lines.
type LineAppender interface {
	AppendLine(line string)
}

// HealthReporter is notified after each sub-window query.
type HealthReporter interface {
	Report(err error)
}

// FetcherConfig controls how the gap since the checkpoint is paged.
type FetcherConfig struct {
	Query  string
	Limit  int
	Window time.Duration
	Margin time.Duration
}

// Fetcher walks from a checkpoint towards now in fixed sub-windows, appending
// every returned line to a buffer.
type Fetcher struct {
	querier Querier
	buf     LineAppender
	health  HealthReporter
	cfg     FetcherConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// WithMetrics records query counts and latency.
func WithMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// NewFetcher creates a Fetcher. A zero Limit or a Window under one second
// takes the package default; a negative Margin does too.
func NewFetcher(q Querier, buf LineAppender, health HealthReporter, cfg FetcherConfig, opts ...FetcherOption) *Fetcher {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window < time.Second {
		cfg.Window = DefaultWindow
	}
	if cfg.Margin < 0 {
		cfg.Margin = DefaultMargin
	}
	f := &Fetcher{
		querier: q,
		buf:     buf,
		health:  health,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchSince queries [start, end) windows from checkpoint up to now minus the
// safety margin and returns the last end reached. When checkpoint is already
// within the margin nothing is queried and checkpoint is returned unchanged.
//
// On a failed query the error is returned immediately. Lines from earlier
// windows of the same call stay in the buffer.
func (f *Fetcher) FetchSince(ctx context.Context, checkpoint int64) (int64, error) {
	window := int64(f.cfg.Window / time.Second)
	margin := int64(f.cfg.Margin / time.Second)

	start := checkpoint
	end := checkpoint
	for {
		cutoff := f.now().Unix() - margin
		if start >= cutoff {
			break
		}
		end = min(start+window, cutoff)

		f.logger.Info("polling loki", "start", start, "end", end)
		began := time.Now()
		resp, err := f.querier.QueryRange(ctx, QueryRangeParams{
			Query: f.cfg.Query,
			Limit: f.cfg.Limit,
			Start: start,
			End:   end,
		})
		f.metrics.LokiQuery(err, time.Since(began))
		if err != nil {
			f.logger.Error("loki query failed", "error", err, "start", start, "end", end)
			f.health.Report(err)
			return 0, err
		}
		f.health.Report(nil)

		if resp.TotalEntries() > 0 {
			lines := resp.Lines()
			for _, line := range lines {
				f.buf.AppendLine(line)
			}
			f.metrics.LinesFetched(len(lines))
			f.logger.Debug("loki window fetched", "start", start, "end", end, "lines", len(lines))
		}
		start = end
	}
	return end, nil
}

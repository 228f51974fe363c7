// Package logsink writes audit lines to the diagnostic log instead of a remote target.
package logsink

import (
	"context"
	"log/slog"

	"github.com/crimson-sun/auditfwd/internal/config"
	"github.com/crimson-sun/auditfwd/internal/model"
	"github.com/crimson-sun/auditfwd/internal/output"
)

func init() {
	output.Register(config.SinkLogOnly, func(_ config.Config, deps output.Deps) (output.Sink, error) {
		return New(deps.Logger), nil
	})
}

// Sink logs every line at info level. It never fails.
type Sink struct {
	logger *slog.Logger
}

// New creates a log-only sink.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger}
}

func (s *Sink) Name() string { return config.SinkLogOnly }

func (s *Sink) Send(ctx context.Context, batch model.Batch) error {
	lines := batch.Lines()
	s.logger.Info("logging all data from loki as configured", "lines", len(lines))
	for _, line := range lines {
		s.logger.InfoContext(ctx, "audit", "line", line)
	}
	return nil
}

func (s *Sink) Close() error { return nil }

// Package linetime recovers the event time embedded in a logfmt audit line.
package linetime

import (
	"log/slog"
	"regexp"
	"time"
)

var timeToken = regexp.MustCompile(`time=(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?)`)

// Layout of the time= token. Fractional seconds are accepted by time.Parse
// even though the layout omits them.
const layout = "2006-01-02T15:04:05"

// Extractor turns audit lines into epoch milliseconds.
type Extractor struct {
	now    func() time.Time
	loc    *time.Location
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock overrides the fallback clock.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithLocation sets the zone the naive token is interpreted in. Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Extractor) { e.loc = loc }
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		now:    time.Now,
		loc:    time.Local,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Millis returns the first time= token of line as epoch milliseconds. When
// the token is missing or unparsable it logs and returns the current time.
func (e *Extractor) Millis(line string) int64 {
	m := timeToken.FindStringSubmatch(line)
	if m == nil {
		e.logger.Debug("no time token in line, using current time")
		return e.now().UnixMilli()
	}
	t, err := time.ParseInLocation(layout, m[1], e.loc)
	if err != nil {
		e.logger.Warn("unparsable time token, using current time", "token", m[1], "error", err)
		return e.now().UnixMilli()
	}
	return t.UnixMilli()
}

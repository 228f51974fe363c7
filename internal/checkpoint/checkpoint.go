// Package checkpoint persists the end of the last forwarded query window.
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crimson-sun/auditfwd/internal/config"
)

// ErrNotFound is returned by Store.Load when no checkpoint has been saved.
var ErrNotFound = errors.New("checkpoint: not found")

// DefaultLookback is how far back the first fetch reaches when nothing is stored.
const DefaultLookback = time.Hour

// Store is a durable home for a single epoch-seconds value.
type Store interface {
	Load() (int64, error)
	Save(epoch int64) error
	Close() error
}

// Open returns the Store selected by cfg.Backend.
func Open(cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.File), nil
	case config.BackendPebble:
		return OpenPebble(cfg.PebbleDir)
	default:
		return nil, fmt.Errorf("checkpoint: unknown backend %q", cfg.Backend)
	}
}

func parseEpoch(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrNotFound
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: parse %q: %w", s, err)
	}
	return v, nil
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLookback sets the fallback distance from now used when no checkpoint is readable.
func WithLookback(d time.Duration) Option {
	return func(t *Tracker) { t.lookback = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithObserver registers a callback invoked after every successful write.
func WithObserver(f func(epoch int64)) Option {
	return func(t *Tracker) { t.observe = f }
}

// Tracker wraps a Store with the forwarder's failure policy: reads never
// fail and writes never propagate errors.
type Tracker struct {
	store    Store
	lookback time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observe  func(int64)

	mu    sync.Mutex
	last  int64
	known bool
}

// NewTracker creates a Tracker over store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		lookback: DefaultLookback,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Read returns the persisted checkpoint, or now minus the lookback when the
// value is missing, empty, unreadable or unparsable.
func (t *Tracker) Read() int64 {
	v, err := t.store.Load()
	if err != nil {
		fallback := t.now().Add(-t.lookback).Unix()
		if !errors.Is(err, ErrNotFound) {
			t.logger.Error("checkpoint read failed, using lookback", "error", err, "fallback", fallback)
		} else {
			t.logger.Debug("no checkpoint stored, using lookback", "fallback", fallback)
		}
		return fallback
	}

	t.mu.Lock()
	t.last, t.known = v, true
	t.mu.Unlock()
	return v
}

// Write persists epoch. Errors are logged and swallowed; the stored value is
// then left at its previous content. Values older than the last known
// checkpoint are refused.
func (t *Tracker) Write(epoch int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.known && epoch < t.last {
		t.logger.Warn("refusing to move checkpoint backwards", "current", t.last, "requested", epoch)
		return
	}
	if err := t.store.Save(epoch); err != nil {
		t.logger.Error("checkpoint write failed", "error", err, "epoch", epoch)
		return
	}
	t.last, t.known = epoch, true
	if t.observe != nil {
		t.observe(epoch)
	}
}

// Last returns the most recent value read or written, if any.
func (t *Tracker) Last() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.known
}

// Close releases the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}

package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/crimson-sun/auditfwd/internal/checkpoint"
	"github.com/crimson-sun/auditfwd/internal/health"
	"github.com/crimson-sun/auditfwd/internal/logging"
	"github.com/crimson-sun/auditfwd/internal/metrics"
	"github.com/crimson-sun/auditfwd/internal/model"
	"github.com/crimson-sun/auditfwd/internal/output/cloudwatch"
	"github.com/crimson-sun/auditfwd/internal/output/webhook"
)

type memBuffer struct {
	mu  sync.Mutex
	raw []byte
}

func (b *memBuffer) Drain() model.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := model.Batch{Raw: b.raw}
	b.raw = nil
	return out
}

func (b *memBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.raw)
}

type fakeSink struct {
	err   error
	calls int
	got   []model.Batch
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Send(_ context.Context, b model.Batch) error {
	s.calls++
	s.got = append(s.got, b)
	return s.err
}

func (s *fakeSink) Close() error { return nil }

func newTracker(t *testing.T, initial string) (*checkpoint.Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "last_sent.txt")
	if initial != "" {
		if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return checkpoint.NewTracker(checkpoint.NewFileStore(path), checkpoint.WithLogger(logging.Discard())), path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestForward_SuccessAdvancesCheckpoint(t *testing.T) {
	tr, path := newTracker(t, "1000")
	mon := health.NewMonitor(nil)
	mon.SetHealthy(false)
	sink := &fakeSink{}
	buf := &memBuffer{raw: []byte("a=1\na=2\n")}

	f := New(sink, tr, mon, WithLogger(logging.Discard()), WithMetrics(metrics.New()))
	if err := f.Forward(context.Background(), buf, 1300); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if readFile(t, path) != "1300" {
		t.Fatalf("expected checkpoint 1300, got %q", readFile(t, path))
	}
	if !mon.IsHealthy() {
		t.Fatal("expected healthy after success")
	}
	if buf.len() != 0 {
		t.Fatal("buffer should be empty")
	}
	if sink.calls != 1 || string(sink.got[0].Raw) != "a=1\na=2\n" {
		t.Fatalf("unexpected sink calls: %d", sink.calls)
	}
}

func TestForward_FailureKeepsCheckpoint(t *testing.T) {
	tr, path := newTracker(t, "1000")
	mon := health.NewMonitor(nil)
	buf := &memBuffer{raw: []byte("a=1\n")}
	boom := errors.New("connection refused")

	f := New(&fakeSink{err: boom}, tr, mon, WithLogger(logging.Discard()))
	if err := f.Forward(context.Background(), buf, 1300); !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}

	if readFile(t, path) != "1000" {
		t.Fatalf("checkpoint should be unchanged, got %q", readFile(t, path))
	}
	if mon.IsHealthy() {
		t.Fatal("expected unhealthy after failure")
	}
	if buf.len() != 0 {
		t.Fatal("buffer should be cleared even on failure")
	}
}

func TestForward_EmptyBufferIsNoop(t *testing.T) {
	tr, path := newTracker(t, "1000")
	mon := health.NewMonitor(nil)
	mon.SetHealthy(false)
	sink := &fakeSink{}

	f := New(sink, tr, mon, WithLogger(logging.Discard()))
	if err := f.Forward(context.Background(), &memBuffer{}, 1300); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.calls != 0 {
		t.Fatalf("sink should not be called, got %d calls", sink.calls)
	}
	if readFile(t, path) != "1000" {
		t.Fatalf("checkpoint should be unchanged, got %q", readFile(t, path))
	}
	if mon.IsHealthy() {
		t.Fatal("health should be left untouched")
	}
}

func TestForward_HTTPTarget500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink, err := webhook.New(srv.URL, webhook.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	tr, path := newTracker(t, "1735725600")
	mon := health.NewMonitor(nil)
	buf := &memBuffer{raw: []byte("time=2025-01-01T10:30:45.123 msg=test1\n")}

	f := New(sink, tr, mon, WithLogger(logging.Discard()))
	err = f.Forward(context.Background(), buf, 1735725900)

	var se *webhook.StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Fatalf("expected 500 status error, got %v", err)
	}
	if mon.IsHealthy() {
		t.Fatal("expected unhealthy")
	}
	if readFile(t, path) != "1735725600" {
		t.Fatalf("checkpoint file changed to %q", readFile(t, path))
	}
	if buf.len() != 0 {
		t.Fatal("buffer should be empty afterwards")
	}
}

func TestForward_HTTPTarget200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, _ := webhook.New(srv.URL, webhook.WithLogger(logging.Discard()))
	tr, path := newTracker(t, "")
	mon := health.NewMonitor(nil)

	f := New(sink, tr, mon, WithLogger(logging.Discard()))
	for i, end := range []int64{1735725900, 1735726200} {
		buf := &memBuffer{raw: []byte(fmt.Sprintf("n=%d\n", i))}
		if err := f.Forward(context.Background(), buf, end); err != nil {
			t.Fatalf("forward %d: %v", i, err)
		}
		if got := readFile(t, path); got != fmt.Sprint(end) {
			t.Fatalf("expected checkpoint %d, got %q", end, got)
		}
	}
}

func TestForward_MissingLogGroup(t *testing.T) {
	tr, path := newTracker(t, "1000")
	mon := health.NewMonitor(nil)
	buf := &memBuffer{raw: []byte("a=1\n")}

	f := New(&fakeSink{err: fmt.Errorf("%w: azul-audit-logs", cloudwatch.ErrLogGroupNotFound)}, tr, mon, WithLogger(logging.Discard()))
	err := f.Forward(context.Background(), buf, 1300)
	if !errors.Is(err, cloudwatch.ErrLogGroupNotFound) {
		t.Fatalf("expected ErrLogGroupNotFound, got %v", err)
	}
	if readFile(t, path) != "1000" || buf.len() != 0 || mon.IsHealthy() {
		t.Fatal("missing group must leave checkpoint, clear buffer and mark unhealthy")
	}
}

package logsink

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/crimson-sun/auditfwd/internal/config"
	"github.com/crimson-sun/auditfwd/internal/logging"
	"github.com/crimson-sun/auditfwd/internal/model"
	"github.com/crimson-sun/auditfwd/internal/output"
)

func TestSend_LogsEveryLine(t *testing.T) {
	var buf bytes.Buffer
	s := New(logging.New(&buf, slog.LevelInfo, false))

	err := s.Send(context.Background(), model.Batch{Raw: []byte("user=alice op=read\nuser=bob op=write\n")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"user=alice op=read", "user=bob op=write", "lines=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output:\n%s", want, out)
		}
	}
}

func TestRegistered(t *testing.T) {
	cfg := config.Defaults()
	cfg.SendLogsTo = config.SinkLogOnly
	s, err := output.Open(cfg, output.Deps{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*Sink); !ok {
		t.Fatalf("expected *logsink.Sink, got %T", s)
	}
}

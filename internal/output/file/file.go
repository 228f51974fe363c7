package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/crimson-sun/auditfwd/internal/config"
	"github.com/crimson-sun/auditfwd/internal/model"
	"github.com/crimson-sun/auditfwd/internal/output"
)

const defaultBufSize = 64 * 1024 // 64KB

func init() {
	output.Register(config.SinkFile, func(cfg config.Config, _ output.Deps) (output.Sink, error) {
		return New(cfg.File.Path, WithMaxSize(cfg.File.MaxSize))
	})
}

// Option configures a file Sink.
type Option func(*Sink)

// WithMaxSize sets the file size (bytes) at which rotation triggers.
// 0 (default) disables rotation.
func WithMaxSize(bytes int64) Option {
	return func(s *Sink) { s.maxSize = bytes }
}

// Sink appends audit lines to a local file with buffered I/O and optional
// size-based rotation. Each batch is flushed and fsynced before Send returns.
type Sink struct {
	w       *bufio.Writer
	f       *os.File
	mu      sync.Mutex
	path    string
	maxSize int64 // 0 = no rotation
	written int64
}

// New creates a file sink appending to the given path.
func New(path string, opts ...Option) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("file sink: path is required")
	}
	s := &Sink{
		path: path,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.openFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) Name() string { return config.SinkFile }

// Send appends every line of the batch. Rotation happens between lines, so a
// line is never split across files.
func (s *Sink) Send(_ context.Context, batch model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range batch.Lines() {
		data := []byte(line + "\n")
		if s.maxSize > 0 && s.written > 0 && s.written+int64(len(data)) > s.maxSize {
			if err := s.rotate(); err != nil {
				return fmt.Errorf("file sink: rotate: %w", err)
			}
		}
		n, err := s.w.Write(data)
		s.written += int64(n)
		if err != nil {
			return fmt.Errorf("file sink: write: %w", err)
		}
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("file sink: flush: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("file sink: sync: %w", err)
	}
	return nil
}

// Close flushes the buffer and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("file sink: flush: %w", err)
	}
	return s.f.Close()
}

// openFile opens (or creates) the output file and wraps it in a bufio.Writer.
func (s *Sink) openFile() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("file sink: open %s: %w", s.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("file sink: stat %s: %w", s.path, err)
	}
	s.f = f
	s.w = bufio.NewWriterSize(f, defaultBufSize)
	s.written = info.Size()
	return nil
}

// rotate flushes, closes the current file, renames it to {path}.1
// (shifting existing rotated files), and opens a new file.
func (s *Sink) rotate() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}

	// .9 → .10 ... .1 → .2, then current → .1
	for i := 9; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", s.path, i)
		to := fmt.Sprintf("%s.%d", s.path, i+1)
		os.Rename(from, to) // may not exist
	}
	if err := os.Rename(s.path, s.path+".1"); err != nil {
		return err
	}

	s.written = 0
	return s.openFile()
}

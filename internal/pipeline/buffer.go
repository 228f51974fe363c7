package pipeline

import (
	"bytes"
	"sync"

	"github.com/crimson-sun/auditfwd/internal/model"
)

// Buffer accumulates fetched audit lines between fetch and forward.
// Drain hands over everything at once and leaves it empty.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// AppendLine appends line followed by a newline.
func (b *Buffer) AppendLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *Buffer) Empty() bool {
	return b.Len() == 0
}

// Drain returns the buffered content and resets the buffer in one step.
func (b *Buffer) Drain() model.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return model.Batch{}
	}
	raw := bytes.Clone(b.buf.Bytes())
	b.buf.Reset()
	return model.Batch{Raw: raw}
}

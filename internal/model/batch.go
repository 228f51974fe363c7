package model

import "strings"

// Batch is the drained content of the log buffer: raw newline-separated
// audit lines exactly as returned by Loki.
type Batch struct {
	Raw []byte
}

// Empty reports whether the batch carries no bytes.
func (b Batch) Empty() bool {
	return len(b.Raw) == 0
}

// Lines splits the batch on newlines, trims each line and drops blank ones.
func (b Batch) Lines() []string {
	if b.Empty() {
		return nil
	}
	parts := strings.Split(string(b.Raw), "\n")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package exttool

import (
	"strings"
	"sync"
)

// LineRing keeps the last N complete lines written to it.
// A line split across Write calls is buffered until its newline arrives.
type LineRing struct {
	mu      sync.Mutex
	lines   []string
	head    int
	count   int
	partial strings.Builder
}

// NewLineRing creates a LineRing holding up to capacity lines.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{lines: make([]string, capacity)}
}

// Write implements io.Writer.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := string(p)
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			r.partial.WriteString(s)
			break
		}
		r.partial.WriteString(s[:i])
		r.push(r.partial.String())
		r.partial.Reset()
		s = s[i+1:]
	}
	return len(p), nil
}

func (r *LineRing) push(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// LastN returns up to n most recent lines, oldest first. An unterminated
// trailing line is included.
func (r *LineRing) LastN(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.lines)
	ordered := make([]string, 0, r.count+1)
	start := (r.head - r.count + size) % size
	for i := 0; i < r.count; i++ {
		ordered = append(ordered, r.lines[(start+i)%size])
	}
	if tail := strings.TrimRight(r.partial.String(), "\r"); tail != "" {
		ordered = append(ordered, tail)
	}
	if n < 0 || len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// String joins the retained lines with newlines.
func (r *LineRing) String() string {
	return strings.Join(r.LastN(-1), "\n")
}

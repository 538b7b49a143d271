// Package linebuf provides an append-only store of process output lines that
// any number of readers can consume from independent offsets.
package linebuf

import "sync"

// TruncatedNotice is stored once when a buffer reaches its line cap.
const TruncatedNotice = "[output truncated: line limit reached]"

// DefaultMaxLines is used when New is given a non-positive cap.
const DefaultMaxLines = 100000

// Buffer is an append-only sequence of lines.
//
// Offsets are stable indices: a line stored at offset n stays at n until
// Reset is called. Buffer is safe for one writer and many readers.
type Buffer struct {
	mu        sync.RWMutex
	lines     []string
	max       int
	truncated bool
	gen       uint64

	// changed is closed and replaced on every append or reset.
	changed chan struct{}
}

// New creates a buffer that stores at most maxLines lines.
func New(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Buffer{
		lines:   make([]string, 0, 256),
		max:     maxLines,
		changed: make(chan struct{}),
	}
}

// Append stores line at the end of the buffer.
// Returns false when the line cap has been reached and the line was dropped.
func (b *Buffer) Append(line string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) >= b.max {
		if b.truncated {
			return false
		}
		b.truncated = true
		b.lines = append(b.lines, TruncatedNotice)
		b.notifyLocked()
		return false
	}

	b.lines = append(b.lines, line)
	b.notifyLocked()
	return true
}

// ReadFrom returns a copy of every line stored at or after offset, together
// with the offset to pass on the next call.
func (b *Buffer) ReadFrom(offset int) ([]string, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.readFromLocked(offset)
}

// ReadFromGeneration is ReadFrom that also returns the generation the lines
// belong to.
func (b *Buffer) ReadFromGeneration(offset int) ([]string, int, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lines, next := b.readFromLocked(offset)
	return lines, next, b.gen
}

func (b *Buffer) readFromLocked(offset int) ([]string, int) {
	n := len(b.lines)
	if offset < 0 {
		offset = 0
	}
	if offset >= n {
		return nil, n
	}

	out := make([]string, n-offset)
	copy(out, b.lines[offset:])
	return out, n
}

// Len returns the number of stored lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Lines returns a snapshot of all stored lines.
func (b *Buffer) Lines() []string {
	lines, _ := b.ReadFrom(0)
	return lines
}

// Truncated reports whether lines have been dropped because of the cap.
func (b *Buffer) Truncated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.truncated
}

// Reset discards all lines and starts a new generation.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = make([]string, 0, 256)
	b.truncated = false
	b.gen++
	b.notifyLocked()
}

// Generation returns a counter that increases on every Reset.
// Readers holding offsets from an older generation must start over.
func (b *Buffer) Generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gen
}

// Changed returns a channel that is closed on the next Append or Reset.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.changed
}

func (b *Buffer) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

package linebuf

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBuffer_AppendAndReadFrom(t *testing.T) {
	b := New(10)
	b.Append("one")
	b.Append("two")
	b.Append("three")

	lines, next := b.ReadFrom(0)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
	assert.Equal(t, 3, next)

	lines, next = b.ReadFrom(2)
	assert.Equal(t, []string{"three"}, lines)
	assert.Equal(t, 3, next)

	lines, next = b.ReadFrom(3)
	assert.Empty(t, lines)
	assert.Equal(t, 3, next)
}

func TestBuffer_ReadFromOutOfRange(t *testing.T) {
	b := New(10)
	b.Append("a")

	lines, next := b.ReadFrom(-5)
	assert.Equal(t, []string{"a"}, lines)
	assert.Equal(t, 1, next)

	lines, next = b.ReadFrom(42)
	assert.Nil(t, lines)
	assert.Equal(t, 1, next)
}

func TestBuffer_ReadFromReturnsCopy(t *testing.T) {
	b := New(10)
	b.Append("original")

	lines, _ := b.ReadFrom(0)
	lines[0] = "mutated"

	again, _ := b.ReadFrom(0)
	assert.Equal(t, "original", again[0])
}

func TestBuffer_LineCap(t *testing.T) {
	b := New(2)
	assert.True(t, b.Append("a"))
	assert.True(t, b.Append("b"))
	assert.False(t, b.Append("c"))
	assert.False(t, b.Append("d"))

	assert.Equal(t, []string{"a", "b", TruncatedNotice}, b.Lines())
	assert.True(t, b.Truncated())
}

func TestBuffer_Reset(t *testing.T) {
	b := New(10)
	b.Append("old run")
	gen := b.Generation()

	b.Reset()

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, gen+1, b.Generation())
	b.Append("new run")
	assert.Equal(t, []string{"new run"}, b.Lines())
}

func TestBuffer_ChangedClosesOnAppend(t *testing.T) {
	b := New(10)
	ch := b.Changed()

	select {
	case <-ch:
		t.Fatal("Changed() closed before any append")
	default:
	}

	b.Append("x")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed() not closed after append")
	}

	// A fresh channel is handed out after notification.
	select {
	case <-b.Changed():
		t.Fatal("new Changed() channel should be open")
	default:
	}
}

func TestBuffer_ConcurrentReadersSeeEveryLineOnce(t *testing.T) {
	const total = 2000
	const readers = 8

	b := New(total + 1)
	var wg sync.WaitGroup
	results := make([][]string, readers)

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offset := 0
			for offset < total {
				changed := b.Changed()
				lines, next := b.ReadFrom(offset)
				results[i] = append(results[i], lines...)
				offset = next
				if len(lines) == 0 {
					select {
					case <-changed:
					case <-time.After(50 * time.Millisecond):
					}
				}
			}
		}(i)
	}

	for i := 0; i < total; i++ {
		b.Append(fmt.Sprintf("line %d", i))
	}
	wg.Wait()

	want := b.Lines()
	require.Len(t, want, total)
	for i, got := range results {
		assert.Equal(t, want, got, "reader %d", i)
	}
}

func TestBuffer_ReadsReassembleWrittenSequence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		written := rapid.SliceOf(rapid.String()).Draw(t, "lines")
		b := New(len(written) + 1)

		var got []string
		offset := 0
		for _, line := range written {
			b.Append(line)
			if rapid.Bool().Draw(t, "read") {
				lines, next := b.ReadFrom(offset)
				got = append(got, lines...)
				offset = next
			}
		}
		lines, _ := b.ReadFrom(offset)
		got = append(got, lines...)

		if len(got) != len(written) {
			t.Fatalf("read %d lines, wrote %d", len(got), len(written))
		}
		for i := range written {
			if got[i] != written[i] {
				t.Fatalf("line %d = %q, want %q", i, got[i], written[i])
			}
		}
	})
}

func TestBuffer_ReadFromGeneration(t *testing.T) {
	b := New(10)
	b.Append("a")

	lines, next, gen := b.ReadFromGeneration(0)
	assert.Equal(t, []string{"a"}, lines)
	assert.Equal(t, 1, next)
	assert.Equal(t, uint64(0), gen)

	b.Reset()
	_, next, gen = b.ReadFromGeneration(0)
	assert.Equal(t, 0, next)
	assert.Equal(t, uint64(1), gen)
}

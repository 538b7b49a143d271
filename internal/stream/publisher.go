// Package stream turns a session's output buffer into a finite sequence of
// events for one subscriber.
//
// Publishers keep no registration of their subscribers: each subscription
// owns its offset, so any number of them replay the same history in the same
// order without consuming lines from each other.
package stream

import (
	"context"
	"time"

	"github.com/mdde/genesisweb/internal/linebuf"
	"github.com/mdde/genesisweb/internal/runner"
)

// DefaultPollInterval bounds how long a subscriber waits before re-checking
// session state when no output arrives.
const DefaultPollInterval = 500 * time.Millisecond

// Tag marks synthetic events.
type Tag string

// Event tags.
const (
	TagLine          Tag = ""
	TagAwaitingInput Tag = "awaiting_input"
	TagFinished      Tag = "finished"
	TagError         Tag = "error"
)

// Event is one line of output or a synthetic state marker.
type Event struct {
	SessionID string `json:"session_id"`
	// Offset is the buffer index of a line event. For markers it is the
	// offset a resubscribing client should start from.
	Offset int `json:"offset"`
	// Generation is the buffer generation of the run the event belongs to.
	Generation uint64 `json:"generation"`
	Text       string `json:"text"`
	Tag        Tag    `json:"tag,omitempty"`
}

// Cursor is a position to resume a subscription from.
type Cursor struct {
	Offset int
	// Generation pins Offset to one run. Zero accepts the current run.
	Generation uint64
}

// IsMarker reports whether e is a synthetic state event.
func (e Event) IsMarker() bool { return e.Tag != TagLine }

// Terminal reports whether e ends the subscription.
func (e Event) Terminal() bool { return e.Tag == TagFinished || e.Tag == TagError }

// Source is the session state a subscription reads.
type Source interface {
	ID() string
	Buffer() *linebuf.Buffer
	Status() runner.Snapshot
}

// Publisher creates subscriptions.
type Publisher struct {
	poll time.Duration
}

// New creates a publisher that re-checks state at least every poll.
func New(poll time.Duration) *Publisher {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Publisher{poll: poll}
}

// Subscribe streams every line of src from offset from onward, then a
// terminal marker once the session is no longer live. An awaiting_input
// marker follows the prompt line each time the workflow asks a question.
//
// The channel is closed after the terminal marker or when ctx is done.
func (p *Publisher) Subscribe(ctx context.Context, src Source, from int) <-chan Event {
	return p.SubscribeFrom(ctx, src, Cursor{Offset: from})
}

// SubscribeFrom is Subscribe resuming at c. A cursor of another run, or one
// past the end of the current output, ends the subscription at once with a
// restarted marker; the client starts over from offset 0.
func (p *Publisher) SubscribeFrom(ctx context.Context, src Source, c Cursor) <-chan Event {
	out := make(chan Event)
	go p.run(ctx, src, c, out)
	return out
}

func (p *Publisher) run(ctx context.Context, src Source, c Cursor, out chan<- Event) {
	defer close(out)

	id := src.ID()
	buf := src.Buffer()
	gen := buf.Generation()
	offset := max(c.Offset, 0)
	stale := c.Generation != 0 && c.Generation != gen

	send := func(e Event) bool {
		e.SessionID = id
		if e.Generation == 0 {
			e.Generation = gen
		}
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	var announced uint64
	for {
		changed := buf.Changed()

		// State is read before the lines: once it reports a terminal
		// state, every line of the run is already in the buffer.
		snap := src.Status()
		lines, next, lineGen := buf.ReadFromGeneration(offset)
		if stale || lineGen != gen || offset > next {
			send(Event{Offset: 0, Generation: lineGen, Text: "restarted", Tag: TagFinished})
			return
		}

		for i, line := range lines {
			if !send(Event{Offset: offset + i, Text: line}) {
				return
			}
		}
		offset = next

		switch {
		case snap.State == runner.AwaitingInput && snap.PromptSeq != announced:
			announced = snap.PromptSeq
			if !send(Event{Offset: offset, Text: snap.Prompt, Tag: TagAwaitingInput}) {
				return
			}
		case snap.State.Terminal():
			send(terminalEvent(snap, offset))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-ticker.C:
		}
	}
}

func terminalEvent(snap runner.Snapshot, offset int) Event {
	switch snap.State {
	case runner.Error:
		return Event{Offset: offset, Text: snap.Error, Tag: TagError}
	case runner.Idle:
		if snap.RunID == "" {
			return Event{Offset: offset, Text: "idle", Tag: TagFinished}
		}
		return Event{Offset: offset, Text: "stopped", Tag: TagFinished}
	default:
		return Event{Offset: offset, Text: "finished", Tag: TagFinished}
	}
}

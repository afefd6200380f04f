package relay

import (
	"context"
	"errors"

	"github.com/haivivi/voicerelay/pkg/audio/pcm"
	"github.com/haivivi/voicerelay/pkg/buffer"
)

// Role identifies who spoke a transcript line.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// OutputItem is an item produced for the transport: an AudioChunk or a
// TranscriptEvent.
type OutputItem interface {
	isOutputItem()
}

// AudioChunk is a block of assistant speech.
type AudioChunk struct {
	SampleRate int
	Samples    []int16
}

func (AudioChunk) isOutputItem() {}

// Frame returns the chunk as a pcm.Frame.
func (c AudioChunk) Frame() pcm.Frame {
	return pcm.Frame{SampleRate: c.SampleRate, Samples: c.Samples}
}

// TranscriptEvent is one finished line of the conversation.
type TranscriptEvent struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (TranscriptEvent) isOutputItem() {}

// Source produces output items for a transport. Handler implements it.
type Source interface {
	Emit(ctx context.Context) (OutputItem, error)
}

// Interrupter is implemented by sources that report barge-ins. The count
// grows by one each time queued output is discarded.
type Interrupter interface {
	Interrupts() int64
}

// OutputQueue is the unbounded FIFO between the event loop and the
// transport. It is safe for concurrent use.
type OutputQueue struct {
	buf *buffer.Buffer[OutputItem]
}

// NewOutputQueue returns an empty queue.
func NewOutputQueue() *OutputQueue {
	return &OutputQueue{buf: buffer.N[OutputItem](64)}
}

// Push appends item and wakes a waiting Pop. It returns ErrClosed after
// Close.
func (q *OutputQueue) Push(item OutputItem) error {
	if err := q.buf.Add(item); err != nil {
		return ErrClosed
	}
	return nil
}

// Pop removes and returns the oldest item, waiting while the queue is
// empty. It returns ErrClosed once the queue is closed and drained, or
// ctx.Err() if ctx ends first.
func (q *OutputQueue) Pop(ctx context.Context) (OutputItem, error) {
	item, err := q.buf.NextContext(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, ErrClosed
	}
	return item, nil
}

// Interrupt drops every queued item and returns how many were dropped.
// Items pushed afterwards are unaffected.
func (q *OutputQueue) Interrupt() int {
	return q.buf.Reset()
}

// Len returns the number of queued items.
func (q *OutputQueue) Len() int {
	return q.buf.Len()
}

// Close stops further pushes. Pop keeps returning queued items until the
// queue is empty.
func (q *OutputQueue) Close() error {
	return q.buf.CloseWrite()
}

package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrIteratorDone is returned when iteration is complete.
var ErrIteratorDone = errors.New("iterator done")

// Buffer is a thread-safe, unbounded FIFO of elements of type T.
//
// Writers append with Add; readers take elements from the head with
// NextContext and block while the buffer is empty. Reset drops every queued
// element at once, which is how callers discard pending output when it
// becomes stale.
//
// CloseWrite stops writes; readers drain the remaining elements, then get
// ErrIteratorDone. All blocked readers are released when the buffer is
// closed.
type Buffer[T any] struct {
	// writeNotify carries at most one pending wake-up. Readers re-check the
	// buffer after every wake-up, so a dropped notification is harmless.
	writeNotify chan struct{}
	// closed is closed exactly once, by CloseWrite.
	closed chan struct{}

	mu         sync.Mutex
	closeWrite bool
	buf        []T
}

// N creates a new Buffer with the specified initial capacity. The capacity is
// only a hint; the buffer grows as needed.
func N[T any](n int) *Buffer[T] {
	return &Buffer[T]{
		writeNotify: make(chan struct{}, 1),
		closed:      make(chan struct{}),
		buf:         make([]T, 0, n),
	}
}

func (b *Buffer[T]) notify() {
	select {
	case b.writeNotify <- struct{}{}:
	default:
	}
}

// Add appends a single element to the tail of the buffer and wakes a waiting
// reader. It returns an error wrapping io.ErrClosedPipe after CloseWrite.
func (b *Buffer[T]) Add(t T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeWrite {
		return fmt.Errorf("buffer: write to closed buffer: %w", io.ErrClosedPipe)
	}
	b.buf = append(b.buf, t)
	b.notify()
	return nil
}

// NextContext removes and returns the element at the head of the buffer,
// blocking while the buffer is empty. It returns ErrIteratorDone once the
// buffer is closed for writing and drained, or ctx.Err() when ctx is done
// first.
func (b *Buffer[T]) NextContext(ctx context.Context) (t T, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err = b.waitLocked(ctx.Done()); err != nil {
		if errors.Is(err, errCanceled) {
			err = ctx.Err()
		}
		return
	}
	t = b.buf[0]
	b.shiftLocked(1)
	return
}

var errCanceled = errors.New("buffer: wait canceled")

// waitLocked blocks until the buffer holds at least one element. It must be
// called with b.mu held and returns with b.mu held.
func (b *Buffer[T]) waitLocked(done <-chan struct{}) error {
	for {
		if len(b.buf) > 0 {
			return nil
		}
		if b.closeWrite {
			return ErrIteratorDone
		}
		b.mu.Unlock()
		select {
		case <-b.writeNotify:
		case <-b.closed:
		case <-done:
			b.mu.Lock()
			return errCanceled
		}
		b.mu.Lock()
	}
}

// shiftLocked drops the first n elements, zeroing them so the backing array
// does not pin references.
func (b *Buffer[T]) shiftLocked(n int) {
	var zero T
	for i := 0; i < n; i++ {
		b.buf[i] = zero
	}
	b.buf = b.buf[n:]
	if len(b.buf) == 0 {
		b.buf = b.buf[:0:0]
	}
}

// Reset atomically drops every queued element and returns how many were
// dropped. Elements added after Reset returns are unaffected. Reset works on
// closed buffers too but never reopens them.
func (b *Buffer[T]) Reset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.buf)
	b.shiftLocked(n)
	return n
}

// Len returns the number of queued elements.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// CloseWrite stops further writes. Readers drain the remaining elements and
// then receive ErrIteratorDone. Calling it again is a no-op.
func (b *Buffer[T]) CloseWrite() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closeWrite {
		b.closeWrite = true
		close(b.closed)
	}
	return nil
}

package relay

import (
	"context"
	"errors"
	"iter"
	"sync"

	openairealtime "github.com/haivivi/voicerelay/pkg/openai-realtime"
)

type fakeItem struct {
	ev  *openairealtime.ServerEvent
	err error
}

// fakeConn is an in-memory openairealtime.Session.
type fakeConn struct {
	events chan fakeItem
	closed chan struct{}

	mu         sync.Mutex
	config     *openairealtime.SessionConfig
	appended   [][]byte
	closeCalls int
	updateErr  error
	appendErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan fakeItem, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) UpdateSession(cfg *openairealtime.SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	c.config = cfg
	return nil
}

func (c *fakeConn) AppendAudio(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return openairealtime.ErrSessionClosed
	default:
	}
	if c.appendErr != nil {
		return c.appendErr
	}
	c.appended = append(c.appended, audio)
	return nil
}

func (c *fakeConn) SessionID() string { return "sess_fake" }

func (c *fakeConn) Events() iter.Seq2[*openairealtime.ServerEvent, error] {
	return func(yield func(*openairealtime.ServerEvent, error) bool) {
		for {
			select {
			case <-c.closed:
				return
			case item, ok := <-c.events:
				if !ok {
					return
				}
				if !yield(item.ev, item.err) {
					return
				}
				var perr *openairealtime.ParseError
				if item.err != nil && !errors.As(item.err, &perr) {
					return
				}
			}
		}
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closeCalls == 1 {
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) send(ev *openairealtime.ServerEvent) {
	c.events <- fakeItem{ev: ev}
}

func (c *fakeConn) fail(err error) {
	c.events <- fakeItem{err: err}
}

func (c *fakeConn) appendedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.appended)
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func dialerFor(conn *fakeConn) Dialer {
	return DialerFunc(func(ctx context.Context, model string) (openairealtime.Session, error) {
		return conn, nil
	})
}

package calls

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"sync"

	openairealtime "github.com/haivivi/voicerelay/pkg/openai-realtime"
	"github.com/haivivi/voicerelay/pkg/relay"
)

var quietLogger = slog.New(slog.DiscardHandler)

type upstreamItem struct {
	ev  *openairealtime.ServerEvent
	err error
}

// upstream is an in-memory realtime session.
type upstream struct {
	events    chan upstreamItem
	closed    chan struct{}
	closeOnce sync.Once
}

func newUpstream() *upstream {
	return &upstream{events: make(chan upstreamItem, 64), closed: make(chan struct{})}
}

func (u *upstream) UpdateSession(*openairealtime.SessionConfig) error { return nil }
func (u *upstream) AppendAudio([]byte) error                          { return nil }
func (u *upstream) SessionID() string                                 { return "sess_test" }

func (u *upstream) Events() iter.Seq2[*openairealtime.ServerEvent, error] {
	return func(yield func(*openairealtime.ServerEvent, error) bool) {
		for {
			select {
			case <-u.closed:
				return
			case item := <-u.events:
				if !yield(item.ev, item.err) || item.err != nil {
					return
				}
			}
		}
	}
}

func (u *upstream) Close() error {
	u.closeOnce.Do(func() { close(u.closed) })
	return nil
}

func (u *upstream) say(role relay.Role, text string) {
	typ := openairealtime.EventTypeResponseOutputAudioTranscriptDone
	if role == relay.RoleUser {
		typ = openairealtime.EventTypeConversationItemInputAudioTranscriptionCompleted
	}
	u.events <- upstreamItem{ev: &openairealtime.ServerEvent{Type: typ, Transcript: text}}
}

func (u *upstream) drop() {
	u.events <- upstreamItem{err: errors.New("connection reset")}
}

// upstreams hands out a fresh upstream per dial and remembers them.
type upstreams struct {
	mu    sync.Mutex
	conns []*upstream
}

func (us *upstreams) Dial(context.Context, string) (openairealtime.Session, error) {
	u := newUpstream()
	us.mu.Lock()
	us.conns = append(us.conns, u)
	us.mu.Unlock()
	return u, nil
}

func (us *upstreams) get(i int) *upstream {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.conns[i]
}

// fakeTransport plays items into a slice and records transcripts on the
// call like a real transport does.
type fakeTransport struct {
	call      *Call
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	played []relay.OutputItem
}

func (f *fakeTransport) Run(ctx context.Context, src relay.Source) error {
	for {
		item, err := src.Emit(ctx)
		if err != nil {
			if errors.Is(err, relay.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		f.mu.Lock()
		f.played = append(f.played, item)
		f.mu.Unlock()
		if ev, ok := item.(relay.TranscriptEvent); ok {
			f.call.Record(ev)
		}
	}
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// transports builds fakeTransports and keeps them by call id.
type transports struct {
	mu sync.Mutex
	m  map[string]*fakeTransport
}

func (ts *transports) New(_ context.Context, c *Call) (Transport, error) {
	t := &fakeTransport{call: c, done: make(chan struct{})}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.m == nil {
		ts.m = make(map[string]*fakeTransport)
	}
	ts.m[c.ID()] = t
	return t, nil
}

func (ts *transports) get(id string) *fakeTransport {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.m[id]
}

// memArchive is an in-memory archive.Archive.
type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memArchive) Put(_ context.Context, key string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[key] = data
	return nil
}

func (a *memArchive) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (a *memArchive) Exists(_ context.Context, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.objects[key]
	return ok, nil
}

package calls

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haivivi/voicerelay/pkg/archive"
	"github.com/haivivi/voicerelay/pkg/relay"
	"github.com/haivivi/voicerelay/pkg/transcript"
)

var (
	// ErrHangup is the cause of a call ended by Hangup.
	ErrHangup = errors.New("calls: hung up")

	// ErrTimeLimit is the cause of a call ended by its time limit.
	ErrTimeLimit = errors.New("calls: time limit reached")
)

const (
	subscriberBuffer = 32
	archiveTimeout   = 10 * time.Second
)

// Call is one relayed conversation.
type Call struct {
	id        string
	startedAt time.Time
	handler   *relay.Handler
	store     transcript.Store
	archive   archive.Archive
	timeLimit time.Duration
	logger    *slog.Logger
	release   func()

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu    sync.Mutex
	err   error
	ended bool
	lines []transcript.Entry
	subs  map[chan relay.TranscriptEvent]struct{}
}

func newCall(parent context.Context, id string, cfg Config, logger *slog.Logger) *Call {
	ctx, cancel := context.WithCancelCause(parent)
	return &Call{
		id:        id,
		startedAt: time.Now(),
		handler:   cfg.Factory(),
		store:     cfg.Store,
		archive:   cfg.Archive,
		timeLimit: cfg.TimeLimit,
		logger:    logger,
		release:   func() {},
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		subs:      make(map[chan relay.TranscriptEvent]struct{}),
	}
}

// ID returns the call id.
func (c *Call) ID() string { return c.id }

// StartedAt returns when the call was admitted.
func (c *Call) StartedAt() time.Time { return c.startedAt }

// Handler returns the call's relay handler. Transports feed inbound audio to
// it.
func (c *Call) Handler() *relay.Handler { return c.handler }

// Stats returns the handler counters.
func (c *Call) Stats() relay.Stats { return c.handler.Stats() }

// Done is closed once the call has ended and its transcript was archived.
func (c *Call) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the call. It is nil while the call runs
// and after a normal end, hangup or time limit.
func (c *Call) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Hangup ends the call. It is safe to call more than once.
func (c *Call) Hangup() {
	c.cancel(ErrHangup)
}

// Wait blocks until the call ends or ctx is done.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transcript returns the lines recorded so far.
func (c *Call) Transcript() []transcript.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transcript.Entry, len(c.lines))
	copy(out, c.lines)
	return out
}

// Record stores a finished transcript line and delivers it to subscribers.
// Transports call it for every TranscriptEvent they play.
func (c *Call) Record(ev relay.TranscriptEvent) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	e := transcript.Entry{
		CallID:  c.id,
		Seq:     len(c.lines),
		Role:    string(ev.Role),
		Content: ev.Content,
		At:      time.Now(),
	}
	c.lines = append(c.lines, e)
	for ch := range c.subs {
		offer(ch, ev)
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Append(context.WithoutCancel(c.ctx), e); err != nil {
		c.logger.Warn("store transcript line", "seq", e.Seq, "error", err)
	}
}

// Subscribe returns a channel of transcript lines recorded from now on. The
// channel is closed when ctx is done or the call ends. A subscriber that
// falls behind loses its oldest undelivered lines.
func (c *Call) Subscribe(ctx context.Context) <-chan relay.TranscriptEvent {
	ch := make(chan relay.TranscriptEvent, subscriberBuffer)
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	})
	return ch
}

// offer sends ev without blocking, evicting the oldest queued line when ch
// is full. Callers hold c.mu, so offer is the only sender.
func offer(ch chan relay.TranscriptEvent, ev relay.TranscriptEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// run drives the handler and transport until one of them ends, then tears
// both down.
func (c *Call) run(t Transport) {
	callsActive.Add(c.ctx, 1)
	defer callsActive.Add(context.WithoutCancel(c.ctx), -1)

	ctx := c.ctx
	if c.timeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.timeLimit, ErrTimeLimit)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.cancel(nil)
		if err := c.handler.StartUp(gctx); !errors.Is(err, relay.ErrClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer c.cancel(nil)
		return t.Run(gctx, c.handler)
	})
	g.Go(func() error {
		select {
		case <-t.Done():
			c.logger.Info("peer disconnected")
		case <-gctx.Done():
		}
		c.handler.Shutdown()
		t.Close()
		return nil
	})
	err := g.Wait()

	switch cause := context.Cause(ctx); {
	case errors.Is(cause, ErrTimeLimit):
		c.logger.Info("call time limit reached", "limit", c.timeLimit)
	case errors.Is(cause, ErrHangup):
		c.logger.Info("call hung up")
	}
	c.end(err)
}

// abort ends a call whose transport could not be built.
func (c *Call) abort(err error) {
	c.cancel(err)
	c.handler.Shutdown()
	c.end(err)
}

func (c *Call) end(err error) {
	c.cancel(nil)
	c.archiveTranscript()
	c.release()

	c.mu.Lock()
	c.err = err
	c.ended = true
	for ch := range c.subs {
		close(ch)
	}
	clear(c.subs)
	c.mu.Unlock()
	close(c.done)

	args := []any{"duration", time.Since(c.startedAt).Round(time.Millisecond), "stats", c.handler.Stats()}
	if err != nil {
		c.logger.Error("call ended", append(args, "error", err)...)
		return
	}
	c.logger.Info("call ended", args...)
}

func (c *Call) archiveTranscript() {
	if c.archive == nil {
		return
	}
	lines := c.Transcript()
	if len(lines) == 0 {
		return
	}
	data, err := transcript.JSONL(lines)
	if err != nil {
		c.logger.Warn("encode transcript", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), archiveTimeout)
	defer cancel()
	key := archive.Key(c.id, time.Now())
	if err := c.archive.Put(ctx, key, data); err != nil {
		c.logger.Warn("archive transcript", "key", key, "error", err)
		return
	}
	c.logger.Info("transcript archived", "key", key, "lines", len(lines))
}

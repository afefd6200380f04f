package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haivivi/voicerelay/pkg/audio/pcm"
	"github.com/haivivi/voicerelay/pkg/audio/resampler"
)

// Handler relays one call. Create it with New or a Factory; it cannot be
// restarted once shut down.
type Handler struct {
	dialer Dialer
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	queue  *OutputQueue

	mu      sync.Mutex
	state   State
	started bool
	closed  bool
	session *Session
	cancel  context.CancelFunc

	// in converts call audio to UpstreamFormat; out converts back. Both
	// are set before the session.
	in  *resampler.Resampler
	out *resampler.Resampler

	framesForwarded atomic.Int64
	framesDropped   atomic.Int64
	itemsQueued     atomic.Int64
	itemsDiscarded  atomic.Int64
	interrupts      atomic.Int64
	eventErrors     atomic.Int64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithTracer sets the tracer used for startup spans.
func WithTracer(t trace.Tracer) HandlerOption {
	return func(h *Handler) {
		h.tracer = t
	}
}

// New returns an unconnected handler.
func New(d Dialer, opts Options, hopts ...HandlerOption) *Handler {
	h := &Handler{
		dialer: d,
		opts:   opts,
		logger: slog.Default(),
		tracer: tracer,
		queue:  NewOutputQueue(),
		state:  StateDisconnected,
	}
	for _, o := range hopts {
		o(h)
	}
	return h
}

// Factory builds a fresh Handler per call.
type Factory func() *Handler

// NewFactory returns a Factory whose handlers share d, opts and hopts but
// no mutable state.
func NewFactory(d Dialer, opts Options, hopts ...HandlerOption) Factory {
	return func() *Handler {
		return New(d, opts, hopts...)
	}
}

// Stats is a snapshot of handler counters.
type Stats struct {
	FramesForwarded int64 `json:"frames_forwarded"`
	FramesDropped   int64 `json:"frames_dropped"`
	ItemsQueued     int64 `json:"items_queued"`
	ItemsDiscarded  int64 `json:"items_discarded"`
	Interrupts      int64 `json:"interrupts"`
	EventErrors     int64 `json:"event_errors"`
}

// Stats returns the current counters.
func (h *Handler) Stats() Stats {
	return Stats{
		FramesForwarded: h.framesForwarded.Load(),
		FramesDropped:   h.framesDropped.Load(),
		ItemsQueued:     h.itemsQueued.Load(),
		ItemsDiscarded:  h.itemsDiscarded.Load(),
		Interrupts:      h.interrupts.Load(),
		EventErrors:     h.eventErrors.Load(),
	}
}

// Interrupts returns how many times the user has barged in. It implements
// Interrupter.
func (h *Handler) Interrupts() int64 {
	return h.interrupts.Load()
}

// State returns the lifecycle state of the call's upstream session.
func (h *Handler) State() State {
	h.mu.Lock()
	sess, st := h.session, h.state
	h.mu.Unlock()
	if sess != nil {
		return sess.State()
	}
	return st
}

// Options returns the options the handler was built with.
func (h *Handler) Options() Options {
	return h.opts
}

func (h *Handler) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handler) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// StartUp connects and configures the upstream session, then processes
// upstream events until the connection ends, ctx is canceled or Shutdown is
// called. It returns nil on a normal end, a *ConnectionError when the
// upstream cannot be reached or drops, a *ConfigurationError when the call
// sample rate cannot be served, and any other error when event
// processing failed fatally. The output queue is closed on return.
func (h *Handler) StartUp(ctx context.Context) (err error) {
	h.mu.Lock()
	switch {
	case h.closed:
		h.mu.Unlock()
		return ErrClosed
	case h.started:
		h.mu.Unlock()
		return errors.New("relay: handler already started")
	}
	h.started = true
	h.state = StateConnecting
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.mu.Unlock()
	defer cancel()
	defer h.queue.Close()

	ctx, span := h.tracer.Start(ctx, "relay.startup")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	in, out, err := h.resamplers()
	if err != nil {
		h.setState(StateClosed)
		h.logger.Error("invalid call audio format", "error", err)
		return err
	}
	h.out = out

	sess, err := start(ctx, h.tracer, h.dialer, h.opts)
	if err != nil {
		h.setState(StateClosed)
		if h.isClosed() {
			return nil
		}
		h.logger.Error("realtime connect failed", "error", err)
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sess.Close()
		h.setState(StateClosed)
		return nil
	}
	h.in = in
	h.session = sess
	h.mu.Unlock()
	defer sess.Close()

	h.logger.Info("connected to realtime api", "model", h.opts.Model, "voice", h.opts.Voice)

	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	if err := h.runEvents(ctx, sess); err != nil {
		h.logger.Error("realtime session ended", "error", err)
		return err
	}
	h.logger.Info("realtime session ended")
	return nil
}

// OnFrame forwards one inbound audio frame. Frames arriving while no
// session is active are dropped silently. Calls from a single goroutine are
// forwarded in order.
func (h *Handler) OnFrame(ctx context.Context, frame pcm.Frame) error {
	h.mu.Lock()
	sess, in := h.session, h.in
	h.mu.Unlock()

	if sess.Conn() == nil {
		h.dropFrame(ctx)
		return nil
	}
	up, err := in.Frame(frame)
	if err != nil {
		return fmt.Errorf("relay: inbound audio: %w", err)
	}
	if up.Len() == 0 {
		h.framesForwarded.Add(1)
		framesForwarded.Add(ctx, 1)
		return nil
	}
	ok, err := sess.AppendAudio(pcm.EncodeL16(up.Samples))
	if err != nil {
		return err
	}
	if !ok {
		h.dropFrame(ctx)
		return nil
	}
	h.framesForwarded.Add(1)
	framesForwarded.Add(ctx, 1)
	return nil
}

// resamplers builds the converters between the call format and
// UpstreamFormat.
func (h *Handler) resamplers() (in, out *resampler.Resampler, err error) {
	format, err := h.opts.Format()
	if err != nil {
		return nil, nil, err
	}
	if in, err = resampler.New(format, UpstreamFormat); err != nil {
		return nil, nil, &ConfigurationError{Field: "sample_rate", Reason: err.Error()}
	}
	if out, err = resampler.New(UpstreamFormat, format); err != nil {
		return nil, nil, &ConfigurationError{Field: "sample_rate", Reason: err.Error()}
	}
	return in, out, nil
}

func (h *Handler) dropFrame(ctx context.Context) {
	h.framesDropped.Add(1)
	framesDropped.Add(ctx, 1)
}

// Emit returns the next output item, waiting until one is available. It
// returns ErrClosed once the handler has shut down and the queue is empty.
func (h *Handler) Emit(ctx context.Context) (OutputItem, error) {
	return h.queue.Pop(ctx)
}

// Shutdown closes the upstream session, stops the event loop and closes the
// output queue. It is safe to call more than once and before StartUp.
func (h *Handler) Shutdown() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sess, cancel := h.session, h.cancel
	if sess == nil {
		h.state = StateClosed
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if sess != nil {
		err = sess.Close()
	}
	h.queue.Close()
	if err != nil {
		return fmt.Errorf("relay: shutdown: %w", err)
	}
	return nil
}

func (h *Handler) push(ctx context.Context, item OutputItem) {
	if err := h.queue.Push(item); err != nil {
		return
	}
	h.itemsQueued.Add(1)
	itemsQueued.Add(ctx, 1)
}

var (
	_ Source      = (*Handler)(nil)
	_ Interrupter = (*Handler)(nil)
)

package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/voicerelay/pkg/archive"
	"github.com/haivivi/voicerelay/pkg/relay"
	"github.com/haivivi/voicerelay/pkg/transcript"
)

// Transport is the browser leg of a call.
type Transport interface {
	// Run plays src to the peer until src is exhausted or ctx ends.
	Run(ctx context.Context, src relay.Source) error

	// Done is closed when the peer goes away.
	Done() <-chan struct{}

	// Close tears the transport down. It must be safe to call more than once.
	Close() error
}

// TransportFunc builds the transport of c. It is called once the call's
// handler exists, so the transport can feed c.Handler() and report
// transcript lines to c.Record. ctx is the caller's context passed to Start.
type TransportFunc func(ctx context.Context, c *Call) (Transport, error)

// Config configures a Manager.
type Config struct {
	// Factory builds one relay.Handler per call. Required.
	Factory relay.Factory

	// MaxCalls caps concurrent calls. Zero means unlimited.
	MaxCalls int

	// TimeLimit ends a call after this long. Zero means no limit.
	TimeLimit time.Duration

	// Store, if set, receives every finished transcript line.
	Store transcript.Store

	// Archive, if set, receives the whole transcript when a call ends.
	Archive archive.Archive

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager admits, tracks and tears down calls.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	calls  map[string]*Call
	closed bool
}

// NewManager returns a Manager. It panics if cfg.Factory is nil.
func NewManager(cfg Config) *Manager {
	if cfg.Factory == nil {
		panic("calls: nil Factory")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Manager{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		calls:  make(map[string]*Call),
	}
}

// Start admits a call and runs it in the background. An empty id is
// replaced by a random UUID. An id that is active, or whose transcript is
// already stored or archived, is rejected with ErrCallExists. The call does
// not inherit ctx; it runs until it ends on its own, is hung up or the
// manager is closed.
func (m *Manager) Start(ctx context.Context, id string, newTransport TransportFunc) (*Call, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if strings.ContainsRune(id, ':') {
		return nil, fmt.Errorf("calls: invalid call id %q", id)
	}
	used, err := m.used(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("calls: start %s: %w", id, err)
	}
	if used {
		return nil, fmt.Errorf("%w: %s", ErrCallExists, id)
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return nil, ErrManagerClosed
	case m.calls[id] != nil:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCallExists, id)
	case m.cfg.MaxCalls > 0 && len(m.calls) >= m.cfg.MaxCalls:
		m.mu.Unlock()
		callsRejected.Add(ctx, 1)
		return nil, ErrTooManyCalls
	}
	c := newCall(m.ctx, id, m.cfg, m.logger.With("call_id", id))
	c.release = func() { m.remove(c) }
	m.calls[id] = c
	m.wg.Add(1)
	m.mu.Unlock()

	t, err := newTransport(ctx, c)
	if err == nil && t == nil {
		err = errors.New("nil transport")
	}
	if err != nil {
		err = fmt.Errorf("calls: start %s: %w", id, err)
		c.abort(err)
		m.wg.Done()
		return nil, err
	}

	callsStarted.Add(ctx, 1)
	c.logger.Info("call started")
	go func() {
		defer m.wg.Done()
		c.run(t)
	}()
	return c, nil
}

// used reports whether an earlier call with id left a stored transcript or
// today's archive object.
func (m *Manager) used(ctx context.Context, id string) (bool, error) {
	if m.cfg.Store != nil {
		_, err := m.cfg.Store.List(ctx, id)
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, transcript.ErrNotFound):
			return false, err
		}
	}
	if m.cfg.Archive != nil {
		return m.cfg.Archive.Exists(ctx, archive.Key(id, time.Now()))
	}
	return false, nil
}

func (m *Manager) remove(c *Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls[c.id] == c {
		delete(m.calls, c.id)
	}
}

// Get returns the active call with the given id.
func (m *Manager) Get(id string) (*Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	return c, ok
}

// Calls returns the active calls ordered by id.
func (m *Manager) Calls() []*Call {
	m.mu.Lock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b *Call) int { return strings.Compare(a.id, b.id) })
	return out
}

// Len returns the number of active calls.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Hangup ends the call with the given id. It does not wait for the call to
// finish; use Call.Wait for that.
func (m *Manager) Hangup(id string) error {
	c, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	c.Hangup()
	return nil
}

// Close hangs up every call and waits for them to finish. Start fails with
// ErrManagerClosed afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel(ErrManagerClosed)
	m.wg.Wait()
	return nil
}

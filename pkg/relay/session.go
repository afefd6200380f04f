package relay

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	openairealtime "github.com/haivivi/voicerelay/pkg/openai-realtime"
)

// Dialer opens upstream connections.
type Dialer interface {
	Dial(ctx context.Context, model string) (openairealtime.Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, model string) (openairealtime.Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, model string) (openairealtime.Session, error) {
	return f(ctx, model)
}

// ClientDialer dials the Realtime API over WebSocket.
type ClientDialer struct {
	Client *openairealtime.Client

	// Beta selects the beta event protocol.
	Beta bool
}

// Dial implements Dialer.
func (d ClientDialer) Dial(ctx context.Context, model string) (openairealtime.Session, error) {
	s, err := d.Client.ConnectWebSocket(ctx, &openairealtime.ConnectConfig{Model: model, Beta: d.Beta})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Session is one configured upstream connection.
type Session struct {
	mu    sync.Mutex
	state State
	conn  openairealtime.Session
}

// Start connects to the upstream, applies the session configuration built
// from opts and returns an active Session. Any failure is returned as a
// *ConnectionError and leaves nothing open. There is no retry.
func Start(ctx context.Context, d Dialer, opts Options) (*Session, error) {
	return start(ctx, tracer, d, opts)
}

func start(ctx context.Context, tr trace.Tracer, d Dialer, opts Options) (*Session, error) {
	ctx, span := tr.Start(ctx, "relay.session.start", trace.WithAttributes(
		attribute.String("relay.model", opts.Model),
		attribute.String("relay.voice", opts.Voice),
	))
	defer span.End()

	fail := func(err error) (*Session, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	conn, err := d.Dial(ctx, opts.Model)
	if err != nil {
		return fail(&ConnectionError{Op: "dial", Err: err})
	}
	if err := conn.UpdateSession(opts.SessionConfig()); err != nil {
		conn.Close()
		return fail(&ConnectionError{Op: "configure", Err: err})
	}
	return &Session{state: StateActive, conn: conn}, nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	if s == nil {
		return StateDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conn returns the underlying connection, or nil once the session is no
// longer active.
func (s *Session) Conn() openairealtime.Session {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return nil
	}
	return s.conn
}

// AppendAudio sends PCM16 bytes to the upstream input buffer. It reports
// ok=false without error when the session is not active, including when the
// session closed while the send was in flight.
func (s *Session) AppendAudio(pcm16 []byte) (ok bool, err error) {
	conn := s.Conn()
	if conn == nil {
		return false, nil
	}
	if err := conn.AppendAudio(pcm16); err != nil {
		if s.State() != StateActive {
			return false, nil
		}
		return false, fmt.Errorf("relay: append audio: %w", err)
	}
	return true, nil
}

// Close gracefully closes the upstream connection. Closing a session that
// is nil, never opened or already closed is a no-op.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	conn := s.conn
	s.mu.Unlock()

	err := conn.Close()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("relay: close session: %w", err)
	}
	return nil
}

package relay

import (
	"context"
	"errors"
	"testing"

	openairealtime "github.com/haivivi/voicerelay/pkg/openai-realtime"
)

func TestStart_AppliesSessionConfig(t *testing.T) {
	conn := newFakeConn()
	var dialedModel string
	d := DialerFunc(func(ctx context.Context, model string) (openairealtime.Session, error) {
		dialedModel = model
		return conn, nil
	})

	sess, err := Start(context.Background(), d, DefaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if dialedModel != DefaultModel {
		t.Errorf("dialed model %q", dialedModel)
	}
	if sess.State() != StateActive {
		t.Errorf("State = %v, want active", sess.State())
	}
	if sess.Conn() != conn {
		t.Error("Conn should return the dialed connection")
	}
	if conn.config == nil || conn.config.TurnDetection.Type != openairealtime.VADServerVAD {
		t.Errorf("session config not applied: %+v", conn.config)
	}
}

func TestStart_DialFailure(t *testing.T) {
	boom := errors.New("unreachable")
	d := DialerFunc(func(ctx context.Context, model string) (openairealtime.Session, error) {
		return nil, boom
	})

	sess, err := Start(context.Background(), d, DefaultOptions())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Op != "dial" {
		t.Fatalf("Start = %v, want dial *ConnectionError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error should wrap the dial failure")
	}
	if sess != nil {
		t.Error("Start should not return a session on failure")
	}
}

func TestStart_ConfigureFailureReleasesConnection(t *testing.T) {
	conn := newFakeConn()
	conn.updateErr = errors.New("rejected")

	_, err := Start(context.Background(), dialerFor(conn), DefaultOptions())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Op != "configure" {
		t.Fatalf("Start = %v, want configure *ConnectionError", err)
	}
	if conn.closes() != 1 {
		t.Errorf("connection closed %d times, want 1", conn.closes())
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	sess, err := Start(context.Background(), dialerFor(conn), DefaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := range 2 {
		if err := sess.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
		if sess.State() != StateClosed {
			t.Fatalf("State after Close #%d = %v, want closed", i+1, sess.State())
		}
	}
	if conn.closes() != 1 {
		t.Errorf("connection closed %d times, want 1", conn.closes())
	}
	if sess.Conn() != nil {
		t.Error("Conn should be nil after Close")
	}

	var never *Session
	if err := never.Close(); err != nil {
		t.Errorf("Close on nil session = %v", err)
	}
	if never.State() != StateDisconnected {
		t.Errorf("nil session State = %v", never.State())
	}
}

func TestSession_AppendAudioAfterClose(t *testing.T) {
	conn := newFakeConn()
	sess, _ := Start(context.Background(), dialerFor(conn), DefaultOptions())

	ok, err := sess.AppendAudio([]byte{1, 0})
	if !ok || err != nil {
		t.Fatalf("AppendAudio = %v, %v", ok, err)
	}
	sess.Close()
	ok, err = sess.AppendAudio([]byte{2, 0})
	if ok || err != nil {
		t.Fatalf("AppendAudio after Close = %v, %v; want false, nil", ok, err)
	}
	if conn.appendedCount() != 1 {
		t.Errorf("appended %d buffers, want 1", conn.appendedCount())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateActive:       "active",
		StateClosing:      "closing",
		StateClosed:       "closed",
		State(99):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

package openairealtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrSessionClosed is returned when sending on a closed session.
var ErrSessionClosed = errors.New("openai-realtime: session closed")

// IsNormalClosure reports whether err, as yielded by Events, means the
// server closed the connection with status 1000.
func IsNormalClosure(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure
}

// closeTimeout bounds the close handshake write.
const closeTimeout = time.Second

// WebSocketSession is a WebSocket-based realtime session.
type WebSocketSession struct {
	conn      *websocket.Conn
	config    *ConnectConfig
	closeCh   chan struct{}
	eventsCh  chan eventOrError
	closeOnce sync.Once

	writeMu sync.Mutex

	mu        sync.Mutex
	sessionID string
}

type eventOrError struct {
	event *ServerEvent
	err   error
}

// connectWebSocket establishes a WebSocket connection.
func (c *Client) connectWebSocket(ctx context.Context, config *ConnectConfig) (*WebSocketSession, error) {
	if config == nil {
		config = &ConnectConfig{}
	}
	if config.Model == "" {
		config.Model = ModelGPTRealtimeMini20251006
	}

	u, err := url.Parse(c.config.wsURL)
	if err != nil {
		return nil, fmt.Errorf("openai-realtime: invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("model", config.Model)
	u.RawQuery = q.Encode()

	headers := c.config.header.Clone()
	headers.Set("Authorization", "Bearer "+c.config.apiKey)
	if config.Beta {
		headers.Set("OpenAI-Beta", "realtime=v1")
	}
	if c.config.organization != "" {
		headers.Set("OpenAI-Organization", c.config.organization)
	}
	if c.config.project != "" {
		headers.Set("OpenAI-Project", c.config.project)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.dialTimeout(),
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, &Error{
				Code:       "connection_failed",
				Message:    fmt.Sprintf("failed to connect: %v", err),
				HTTPStatus: resp.StatusCode,
			}
		}
		return nil, fmt.Errorf("openai-realtime: failed to connect: %w", err)
	}

	session := &WebSocketSession{
		conn:     conn,
		config:   config,
		closeCh:  make(chan struct{}),
		eventsCh: make(chan eventOrError, 100),
	}

	go session.readLoop()

	return session, nil
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// UpdateSession updates the session configuration.
func (s *WebSocketSession) UpdateSession(config *SessionConfig) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeSessionUpdate,
		"session":  config,
	})
}

// AppendAudio appends PCM audio data to the input audio buffer.
func (s *WebSocketSession) AppendAudio(audio []byte) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferAppend,
		"audio":    base64.StdEncoding.EncodeToString(audio),
	})
}

// Events returns an iterator over server events.
func (s *WebSocketSession) Events() iter.Seq2[*ServerEvent, error] {
	return func(yield func(*ServerEvent, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			default:
			}
			select {
			case <-s.closeCh:
				return
			case item, ok := <-s.eventsCh:
				if !ok {
					return
				}
				if !yield(item.event, item.err) {
					return
				}
				var perr *ParseError
				if item.err != nil && !errors.As(item.err, &perr) {
					return
				}
			}
		}
	}
}

// Close sends a close frame and closes the connection.
func (s *WebSocketSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)

		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

// SessionID returns the session ID.
func (s *WebSocketSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// sendEvent sends a JSON event to the server.
func (s *WebSocketSession) sendEvent(event map[string]any) error {
	select {
	case <-s.closeCh:
		return ErrSessionClosed
	default:
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		if jsonBytes, err := json.Marshal(event); err == nil {
			str := string(jsonBytes)
			if len(str) > 500 {
				str = str[:500] + "..."
			}
			slog.Debug("sending event", "type", event["type"], "content", str)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("openai-realtime: send %v: %w", event["type"], err)
	}
	return nil
}

// readLoop reads events from the WebSocket connection.
func (s *WebSocketSession) readLoop() {
	defer close(s.eventsCh)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.deliver(eventOrError{err: fmt.Errorf("openai-realtime: read: %w", err)})
			return
		}

		if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
			msgStr := string(message)
			if len(msgStr) > 1000 {
				msgStr = msgStr[:1000] + "..."
			}
			slog.Debug("received message", "len", len(message), "content", msgStr)
		}

		event, err := parseEvent(message)
		if err != nil {
			if !s.deliver(eventOrError{err: err}) {
				return
			}
			continue
		}

		if event.Type == EventTypeSessionCreated && event.Session != nil {
			s.mu.Lock()
			s.sessionID = event.Session.ID
			s.mu.Unlock()
		}

		if !s.deliver(eventOrError{event: event}) {
			return
		}
	}
}

// deliver hands an item to Events. It reports false once the session is
// closed.
func (s *WebSocketSession) deliver(item eventOrError) bool {
	select {
	case <-s.closeCh:
		return false
	case s.eventsCh <- item:
		return true
	}
}

// parseEvent parses a raw JSON message into a ServerEvent.
func parseEvent(message []byte) (*ServerEvent, error) {
	var event ServerEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, &ParseError{Message: message, Err: err}
	}
	if event.Type == "" {
		return nil, &ParseError{Message: message, Err: errors.New("missing event type")}
	}

	event.Raw = message

	if event.IsAudioDelta() && event.Delta != "" {
		if decoded, err := base64.StdEncoding.DecodeString(event.Delta); err == nil {
			event.Audio = decoded
		}
	}

	return &event, nil
}

var _ Session = (*WebSocketSession)(nil)

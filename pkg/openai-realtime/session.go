package openairealtime

import "iter"

// Session is a live connection to the Realtime API.
type Session interface {
	// UpdateSession sends a session.update with the given configuration.
	UpdateSession(config *SessionConfig) error

	// AppendAudio appends PCM audio to the input audio buffer.
	// Audio format requirements:
	//   - Sample rate: 24kHz
	//   - Bit depth: 16-bit signed integers
	//   - Channels: Mono (1 channel)
	//   - Encoding: Little-endian PCM
	// The audio is base64 encoded before sending.
	AppendAudio(audio []byte) error

	// Events returns an iterator over server events in delivery order.
	//
	// A *ParseError is yielded for a message that could not be decoded and
	// iteration continues. Any other error means the connection is gone;
	// it is yielded once and iteration stops. Server "error" events are
	// yielded as ordinary events. A server that closes normally ends the
	// stream with an error for which IsNormalClosure reports true. The
	// iterator may be consumed only once.
	Events() iter.Seq2[*ServerEvent, error]

	// Close closes the connection. It is safe to call more than once.
	Close() error

	// SessionID returns the session ID assigned by the server, or "" until
	// session.created has been received.
	SessionID() string
}

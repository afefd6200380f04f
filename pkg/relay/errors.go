package relay

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Emit once the handler has shut down and every
// queued item has been taken, and by StartUp on a handler already shut down.
var ErrClosed = errors.New("relay: handler closed")

// ConfigurationError reports a missing or invalid setting. It is fatal at
// process start.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("relay: invalid configuration: %s %s", e.Field, e.Reason)
}

// ConnectionError reports that the upstream could not be reached, rejected
// the session, or dropped the connection. It ends the call.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("relay: upstream %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// EventProcessingError reports an upstream event that could not be handled.
// The event is skipped and the session continues.
type EventProcessingError struct {
	EventType string
	Err       error
}

func (e *EventProcessingError) Error() string {
	if e.EventType == "" {
		return fmt.Sprintf("relay: process event: %v", e.Err)
	}
	return fmt.Sprintf("relay: process %s event: %v", e.EventType, e.Err)
}

func (e *EventProcessingError) Unwrap() error {
	return e.Err
}

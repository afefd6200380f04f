package calls

import "errors"

var (
	// ErrTooManyCalls is returned by Start when MaxCalls calls are active.
	ErrTooManyCalls = errors.New("calls: too many concurrent calls")

	// ErrCallExists is returned by Start when the id is already in use.
	ErrCallExists = errors.New("calls: call already exists")

	// ErrCallNotFound is returned for an unknown call id.
	ErrCallNotFound = errors.New("calls: call not found")

	// ErrManagerClosed is returned by Start after Close.
	ErrManagerClosed = errors.New("calls: manager closed")
)

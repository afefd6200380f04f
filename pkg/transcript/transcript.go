// Package transcript persists the finished lines of each call.
//
// Lines are keyed "call:<call-id>:<seq>" with a zero-padded sequence number
// so that a prefix scan returns them in conversation order. The package
// includes a BadgerDB-backed Store for production use and an in-memory Store
// for tests.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by List when a call has no stored lines.
var ErrNotFound = errors.New("transcript: not found")

// Entry is one transcript line.
type Entry struct {
	CallID  string    `json:"call_id" yaml:"call_id" msgpack:"call_id"`
	Seq     int       `json:"seq" yaml:"seq" msgpack:"seq"`
	Role    string    `json:"role" yaml:"role" msgpack:"role"`
	Content string    `json:"content" yaml:"content" msgpack:"content"`
	At      time.Time `json:"at" yaml:"at" msgpack:"at"`
}

// Store persists transcript entries.
type Store interface {
	// Append stores e. An entry with the same call and sequence number
	// replaces the earlier one.
	Append(ctx context.Context, e Entry) error

	// List returns the entries of a call ordered by sequence number, or
	// ErrNotFound if there are none.
	List(ctx context.Context, callID string) ([]Entry, error)

	// Calls returns the ids of every call with stored entries, sorted.
	Calls(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

const keyPrefix = "call:"

func validateCallID(id string) error {
	if id == "" {
		return errors.New("transcript: empty call id")
	}
	if strings.ContainsRune(id, ':') {
		return fmt.Errorf("transcript: call id %q must not contain ':'", id)
	}
	return nil
}

func callPrefix(callID string) []byte {
	return []byte(keyPrefix + callID + ":")
}

func entryKey(e Entry) []byte {
	return fmt.Appendf(nil, "%s%s:%010d", keyPrefix, e.CallID, e.Seq)
}

// parseKey splits an entry key into its call id and sequence number.
func parseKey(key []byte) (callID string, seq int, ok bool) {
	rest, found := bytes.CutPrefix(key, []byte(keyPrefix))
	if !found {
		return "", 0, false
	}
	i := bytes.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", 0, false
	}
	seq, err := strconv.Atoi(string(rest[i+1:]))
	if err != nil {
		return "", 0, false
	}
	return string(rest[:i]), seq, true
}

// JSONL renders entries as one JSON object per line.
func JSONL(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("transcript: encode entry %d: %w", e.Seq, err)
		}
	}
	return buf.Bytes(), nil
}

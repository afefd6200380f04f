package transcript_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/haivivi/voicerelay/pkg/transcript"
)

type storeFactory func(t *testing.T) transcript.Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) transcript.Store {
			s := transcript.NewMemory()
			t.Cleanup(func() { s.Close() })
			return s
		},
		"badger": func(t *testing.T) transcript.Store {
			t.Helper()
			s, err := transcript.NewBadger(transcript.BadgerOptions{InMemory: true})
			if err != nil {
				t.Fatalf("NewBadger: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func line(call string, seq int, role, content string) transcript.Entry {
	return transcript.Entry{
		CallID:  call,
		Seq:     seq,
		Role:    role,
		Content: content,
		At:      time.Date(2025, 10, 6, 12, 0, seq, 0, time.UTC),
	}
}

func TestStore_AppendList(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			if _, err := s.List(ctx, "call-a"); !errors.Is(err, transcript.ErrNotFound) {
				t.Fatalf("List on empty store = %v, want ErrNotFound", err)
			}

			// Out of order, across two calls, with one id a prefix of the other.
			for _, e := range []transcript.Entry{
				line("call-a", 10, "assistant", "ten"),
				line("call-a", 2, "user", "two"),
				line("call-ab", 0, "user", "other call"),
				line("call-a", 1, "user", "one"),
			} {
				if err := s.Append(ctx, e); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			got, err := s.List(ctx, "call-a")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			var contents []string
			for _, e := range got {
				contents = append(contents, e.Content)
			}
			if want := []string{"one", "two", "ten"}; !slices.Equal(contents, want) {
				t.Fatalf("List contents = %v, want %v", contents, want)
			}
			if !got[0].At.Equal(line("call-a", 1, "", "").At) || got[0].Role != "user" {
				t.Errorf("entry round trip = %+v", got[0])
			}

			// Same sequence number replaces the line.
			if err := s.Append(ctx, line("call-a", 2, "user", "two again")); err != nil {
				t.Fatalf("Append: %v", err)
			}
			got, _ = s.List(ctx, "call-a")
			if len(got) != 3 || got[1].Content != "two again" {
				t.Errorf("after replace = %+v", got)
			}
		})
	}
}

func TestStore_Calls(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			ids, err := s.Calls(ctx)
			if err != nil || len(ids) != 0 {
				t.Fatalf("Calls on empty store = %v, %v", ids, err)
			}

			for _, e := range []transcript.Entry{
				line("b", 0, "user", "x"),
				line("a-b", 0, "user", "x"),
				line("a", 0, "user", "x"),
				line("a", 1, "assistant", "y"),
			} {
				s.Append(ctx, e)
			}
			ids, err = s.Calls(ctx)
			if err != nil {
				t.Fatalf("Calls: %v", err)
			}
			if want := []string{"a", "a-b", "b"}; !slices.Equal(ids, want) {
				t.Fatalf("Calls = %v, want %v", ids, want)
			}
		})
	}
}

func TestStore_RejectsBadCallID(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			for _, id := range []string{"", "a:b"} {
				if err := s.Append(context.Background(), line(id, 0, "user", "x")); err == nil {
					t.Errorf("Append with call id %q should fail", id)
				}
			}
		})
	}
}

func TestNewBadger_RequiresDir(t *testing.T) {
	if _, err := transcript.NewBadger(transcript.BadgerOptions{}); err == nil {
		t.Fatal("NewBadger without Dir should fail")
	}
}

func TestBadger_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := transcript.NewBadger(transcript.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	if err := s.Append(ctx, line("persisted", 0, "user", "still here")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = transcript.NewBadger(transcript.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.List(ctx, "persisted")
	if err != nil || len(got) != 1 || got[0].Content != "still here" {
		t.Fatalf("List after reopen = %+v, %v", got, err)
	}
}

func TestJSONL(t *testing.T) {
	entries := []transcript.Entry{
		line("c", 0, "user", "hello"),
		line("c", 1, "assistant", "hi"),
	}
	data, err := transcript.JSONL(entries)
	if err != nil {
		t.Fatalf("JSONL: %v", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	var n int
	for sc.Scan() {
		var e transcript.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %d: %v", n, err)
		}
		if e.Content != entries[n].Content || e.Role != entries[n].Role {
			t.Errorf("line %d = %+v", n, e)
		}
		n++
	}
	if n != 2 {
		t.Fatalf("got %d lines, want 2", n)
	}
}

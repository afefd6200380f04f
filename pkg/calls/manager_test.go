package calls

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/voicerelay/pkg/archive"
	"github.com/haivivi/voicerelay/pkg/relay"
	"github.com/haivivi/voicerelay/pkg/transcript"
)

type fixture struct {
	m          *Manager
	upstreams  *upstreams
	transports *transports
	store      *transcript.Memory
	archive    *memArchive
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		upstreams:  &upstreams{},
		transports: &transports{},
		store:      transcript.NewMemory(),
		archive:    &memArchive{},
	}
	cfg.Factory = relay.NewFactory(f.upstreams, relay.DefaultOptions(), relay.WithLogger(quietLogger))
	cfg.Store = f.store
	cfg.Archive = f.archive
	cfg.Logger = quietLogger
	f.m = NewManager(cfg)
	t.Cleanup(func() { f.m.Close() })
	return f
}

func (f *fixture) start(t *testing.T, id string) *Call {
	t.Helper()
	c, err := f.m.Start(context.Background(), id, f.transports.New)
	if err != nil {
		t.Fatalf("Start(%q): %v", id, err)
	}
	return c
}

func TestManager_StartAssignsID(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "")
		if _, err := uuid.Parse(c.ID()); err != nil {
			t.Fatalf("ID %q is not a uuid: %v", c.ID(), err)
		}
		if got, ok := f.m.Get(c.ID()); !ok || got != c {
			t.Fatalf("Get(%q) = %v, %v", c.ID(), got, ok)
		}
		if f.m.Len() != 1 {
			t.Fatalf("Len = %d, want 1", f.m.Len())
		}
		synctest.Wait()
		if st := c.Handler().State(); st != relay.StateActive {
			t.Fatalf("handler state = %v, want active", st)
		}
	})
}

func TestManager_RejectsBadIDs(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		f.start(t, "a")
		if _, err := f.m.Start(context.Background(), "a", f.transports.New); !errors.Is(err, ErrCallExists) {
			t.Fatalf("duplicate Start = %v, want ErrCallExists", err)
		}
		if _, err := f.m.Start(context.Background(), "a:b", f.transports.New); err == nil {
			t.Fatal("Start with ':' in the id succeeded")
		}
	})
}

func TestManager_RejectsReusedID(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "again")
		synctest.Wait()
		f.upstreams.get(0).say(relay.RoleUser, "first call")
		synctest.Wait()
		c.Hangup()
		if err := c.Wait(context.Background()); err != nil {
			t.Fatalf("Wait = %v", err)
		}

		if _, err := f.m.Start(context.Background(), "again", f.transports.New); !errors.Is(err, ErrCallExists) {
			t.Fatalf("restart = %v, want ErrCallExists", err)
		}
		entries, err := f.store.List(context.Background(), "again")
		if err != nil || len(entries) != 1 || entries[0].Content != "first call" {
			t.Fatalf("stored transcript = %v, %v", entries, err)
		}
	})
}

func TestManager_SilentIDCanBeReused(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "again")
		synctest.Wait()
		c.Hangup()
		c.Wait(context.Background())

		f.start(t, "again")
	})
}

func TestManager_RejectsArchivedID(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		arch := &memArchive{}
		arch.Put(context.Background(), archive.Key("old", time.Now()), []byte("{}\n"))
		m := NewManager(Config{
			Factory: relay.NewFactory(&upstreams{}, relay.DefaultOptions(), relay.WithLogger(quietLogger)),
			Archive: arch,
			Logger:  quietLogger,
		})
		defer m.Close()

		if _, err := m.Start(context.Background(), "old", (&transports{}).New); !errors.Is(err, ErrCallExists) {
			t.Fatalf("Start = %v, want ErrCallExists", err)
		}
	})
}

func TestManager_MaxCalls(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{MaxCalls: 2})
		a := f.start(t, "a")
		f.start(t, "b")

		if _, err := f.m.Start(context.Background(), "c", f.transports.New); !errors.Is(err, ErrTooManyCalls) {
			t.Fatalf("third Start = %v, want ErrTooManyCalls", err)
		}

		if err := f.m.Hangup("a"); err != nil {
			t.Fatalf("Hangup: %v", err)
		}
		if err := a.Wait(context.Background()); err != nil {
			t.Fatalf("Wait after hangup = %v, want nil", err)
		}
		if _, ok := f.m.Get("a"); ok {
			t.Fatal("ended call still registered")
		}
		f.start(t, "c")
	})
}

func TestManager_HangupUnknown(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.m.Hangup("nope"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("Hangup = %v, want ErrCallNotFound", err)
	}
}

func TestManager_TransportFailure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{MaxCalls: 1})
		boom := errors.New("bad offer")
		var built *Call
		_, err := f.m.Start(context.Background(), "x", func(_ context.Context, c *Call) (Transport, error) {
			built = c
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Start = %v, want %v", err, boom)
		}
		select {
		case <-built.Done():
		default:
			t.Fatal("aborted call not done")
		}
		if !errors.Is(built.Err(), boom) {
			t.Fatalf("Err = %v, want %v", built.Err(), boom)
		}
		if st := built.Handler().State(); st != relay.StateClosed {
			t.Fatalf("handler state = %v, want closed", st)
		}
		// The slot is free again.
		f.start(t, "x")
	})
}

func TestCall_TranscriptPersistedAndArchived(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "call-1")
		synctest.Wait()

		up := f.upstreams.get(0)
		up.say(relay.RoleUser, "hello")
		up.say(relay.RoleAssistant, "hi there")
		synctest.Wait()

		entries, err := f.store.List(context.Background(), "call-1")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("stored %d entries, want 2", len(entries))
		}
		if e := entries[0]; e.Seq != 0 || e.Role != "user" || e.Content != "hello" {
			t.Fatalf("entry 0 = %+v", e)
		}
		if e := entries[1]; e.Seq != 1 || e.Role != "assistant" || e.Content != "hi there" {
			t.Fatalf("entry 1 = %+v", e)
		}

		c.Hangup()
		if err := c.Wait(context.Background()); err != nil {
			t.Fatalf("Wait = %v", err)
		}
		data, err := f.archive.Get(context.Background(), archive.Key("call-1", time.Now()))
		if err != nil {
			t.Fatalf("archived transcript: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 2 || !strings.Contains(lines[0], `"content":"hello"`) {
			t.Fatalf("archive = %q", data)
		}
		if len(c.Transcript()) != 2 {
			t.Fatalf("Transcript = %v", c.Transcript())
		}
	})
}

func TestCall_NoArchiveForSilentCall(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "quiet")
		synctest.Wait()
		c.Hangup()
		c.Wait(context.Background())
		if len(f.archive.objects) != 0 {
			t.Fatalf("archive = %v, want empty", f.archive.objects)
		}
	})
}

func TestCall_Subscribe(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "s")
		synctest.Wait()

		ch := c.Subscribe(context.Background())
		f.upstreams.get(0).say(relay.RoleUser, "one")
		synctest.Wait()

		select {
		case ev := <-ch:
			if ev.Role != relay.RoleUser || ev.Content != "one" {
				t.Fatalf("event = %+v", ev)
			}
		default:
			t.Fatal("subscriber got nothing")
		}

		c.Hangup()
		c.Wait(context.Background())
		if _, ok := <-ch; ok {
			t.Fatal("subscription still open after the call ended")
		}
		if _, ok := <-c.Subscribe(context.Background()); ok {
			t.Fatal("Subscribe on an ended call returned an open channel")
		}
	})
}

func TestCall_SlowSubscriberDropsOldest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "slow")
		synctest.Wait()

		ch := c.Subscribe(context.Background())
		const total = subscriberBuffer + 8
		for i := range total {
			c.Record(relay.TranscriptEvent{Role: relay.RoleAssistant, Content: string(rune('A' + i))})
		}

		if len(ch) != subscriberBuffer {
			t.Fatalf("queued %d, want %d", len(ch), subscriberBuffer)
		}
		first := <-ch
		if want := string(rune('A' + 8)); first.Content != want {
			t.Fatalf("oldest kept = %q, want %q", first.Content, want)
		}
	})
}

func TestCall_UnsubscribeOnContextDone(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "u")
		synctest.Wait()

		ctx, cancel := context.WithCancel(context.Background())
		ch := c.Subscribe(ctx)
		cancel()
		synctest.Wait()
		if _, ok := <-ch; ok {
			t.Fatal("channel open after its context was canceled")
		}
		// Recording afterwards must not touch the closed channel.
		c.Record(relay.TranscriptEvent{Role: relay.RoleUser, Content: "late"})
	})
}

func TestCall_TimeLimit(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{TimeLimit: 90 * time.Second})
		c := f.start(t, "t")
		start := time.Now()

		if err := c.Wait(context.Background()); err != nil {
			t.Fatalf("Wait = %v, want nil", err)
		}
		if d := time.Since(start); d != 90*time.Second {
			t.Fatalf("call lasted %v, want 90s", d)
		}
		if tr := f.transports.get("t"); !isClosed(tr.Done()) {
			t.Fatal("transport not closed")
		}
	})
}

func TestCall_PeerDisconnect(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "p")
		synctest.Wait()

		f.transports.get("p").Close()
		if err := c.Wait(context.Background()); err != nil {
			t.Fatalf("Wait = %v, want nil", err)
		}
		if st := c.Handler().State(); st != relay.StateClosed {
			t.Fatalf("handler state = %v, want closed", st)
		}
		if !isClosed(f.upstreams.get(0).closed) {
			t.Fatal("upstream not closed")
		}
	})
}

func TestCall_UpstreamLost(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		c := f.start(t, "l")
		synctest.Wait()

		f.upstreams.get(0).drop()
		err := c.Wait(context.Background())
		var cerr *relay.ConnectionError
		if !errors.As(err, &cerr) {
			t.Fatalf("Wait = %v, want *relay.ConnectionError", err)
		}
		if !isClosed(f.transports.get("l").Done()) {
			t.Fatal("transport not closed")
		}
	})
}

func TestManager_Close(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		a := f.start(t, "a")
		b := f.start(t, "b")
		synctest.Wait()

		if err := f.m.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if !isClosed(a.Done()) || !isClosed(b.Done()) {
			t.Fatal("calls still running after Close")
		}
		if f.m.Len() != 0 {
			t.Fatalf("Len = %d after Close", f.m.Len())
		}
		if _, err := f.m.Start(context.Background(), "c", f.transports.New); !errors.Is(err, ErrManagerClosed) {
			t.Fatalf("Start after Close = %v, want ErrManagerClosed", err)
		}
		if err := f.m.Close(); err != nil {
			t.Fatalf("second Close: %v", err)
		}
	})
}

func TestManager_CallsSorted(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Config{})
		for _, id := range []string{"b", "c", "a"} {
			f.start(t, id)
		}
		var ids []string
		for _, c := range f.m.Calls() {
			ids = append(ids, c.ID())
		}
		if strings.Join(ids, ",") != "a,b,c" {
			t.Fatalf("Calls = %v", ids)
		}
	})
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

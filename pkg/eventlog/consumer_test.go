package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	logrustest "github.com/sirupsen/logrus/hooks/test"
)

type readResult struct {
	streams []goredis.XStream
	err     error
}

type fakeStreamClient struct {
	mu      sync.Mutex
	reads   []readResult
	cursors []string
	added   []goredis.XAddArgs
}

func (f *fakeStreamClient) XRead(ctx context.Context, a *goredis.XReadArgs) *goredis.XStreamSliceCmd {
	f.mu.Lock()
	f.cursors = append(f.cursors, a.Streams[len(a.Streams)-1])
	var next readResult
	if len(f.reads) > 0 {
		next = f.reads[0]
		f.reads = f.reads[1:]
	} else {
		next = readResult{err: goredis.Nil}
	}
	f.mu.Unlock()

	cmd := goredis.NewXStreamSliceCmd(ctx, "xread")
	if next.err != nil {
		if errors.Is(next.err, goredis.Nil) {
			// A drained fake answers like an idle stream; keep the spin cheap.
			time.Sleep(time.Millisecond)
		}
		cmd.SetErr(next.err)
		return cmd
	}
	cmd.SetVal(next.streams)
	return cmd
}

func (f *fakeStreamClient) XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd {
	f.mu.Lock()
	f.added = append(f.added, *a)
	f.mu.Unlock()
	cmd := goredis.NewStringCmd(ctx, "xadd")
	cmd.SetVal("1-0")
	return cmd
}

func (f *fakeStreamClient) Ping(ctx context.Context) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx, "ping")
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeStreamClient) requestedCursors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cursors))
	copy(out, f.cursors)
	return out
}

func entries(topic string, ids ...string) []goredis.XStream {
	msgs := make([]goredis.XMessage, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, goredis.XMessage{ID: id, Values: map[string]interface{}{"title": "t-" + id}})
	}
	return []goredis.XStream{{Stream: topic, Messages: msgs}}
}

func newTestConsumer(client StreamClient) *Consumer {
	logger, _ := logrustest.NewNullLogger()
	c := NewConsumer(client, logger)
	c.block = time.Millisecond
	c.backoff = 5 * time.Millisecond
	return c
}

func TestConsumerDeliversInOrderAndAdvancesCursor(t *testing.T) {
	fake := &fakeStreamClient{reads: []readResult{
		{streams: entries("alerts:new", "1-1", "1-2")},
		{streams: entries("alerts:new", "2-1")},
	}}
	c := newTestConsumer(fake)

	got := make(chan string, 8)
	c.AddHandler("alerts:new", func(ctx context.Context, e Entry) error {
		got <- e.ID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	want := []string{"1-1", "1-2", "2-1"}
	for _, id := range want {
		select {
		case g := <-got:
			if g != id {
				t.Fatalf("expected %s, got %s", id, g)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", id)
		}
	}

	// The loop should come back around asking for entries after the last
	// delivered id.
	deadline := time.Now().Add(2 * time.Second)
	for {
		cursors := fake.requestedCursors()
		if cursors[len(cursors)-1] == "2-1" {
			if cursors[0] != "$" {
				t.Errorf("first read must start at the stream tip, got %s", cursors[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cursor never advanced to 2-1, saw %v", cursors)
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return after cancel")
	}
}

func TestConsumerRetriesAfterReadError(t *testing.T) {
	fake := &fakeStreamClient{reads: []readResult{
		{err: errors.New("connection reset")},
		{streams: entries("alerts:new", "1-1")},
	}}
	c := newTestConsumer(fake)

	got := make(chan string, 1)
	c.AddHandler("alerts:new", func(ctx context.Context, e Entry) error {
		got <- e.ID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Start(ctx) }()

	select {
	case id := <-got:
		if id != "1-1" {
			t.Fatalf("expected 1-1 after retry, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not survive the read error")
	}
}

func TestConsumerReadErrorHook(t *testing.T) {
	fake := &fakeStreamClient{reads: []readResult{
		{err: errors.New("connection reset")},
		{streams: entries("alerts:new", "1-1")},
	}}
	c := newTestConsumer(fake)

	failed := make(chan string, 1)
	c.OnReadError = func(topic string) { failed <- topic }
	c.AddHandler("alerts:new", func(ctx context.Context, e Entry) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Start(ctx) }()

	select {
	case topic := <-failed:
		if topic != "alerts:new" {
			t.Fatalf("expected alerts:new, got %s", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("hook never fired")
	}
}

func TestConsumerSkipsRejectedEntries(t *testing.T) {
	fake := &fakeStreamClient{reads: []readResult{
		{streams: entries("alerts:new", "1-1", "1-2")},
	}}
	c := newTestConsumer(fake)

	got := make(chan string, 2)
	c.AddHandler("alerts:new", func(ctx context.Context, e Entry) error {
		if e.ID == "1-1" {
			return errors.New("malformed")
		}
		got <- e.ID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Start(ctx) }()

	select {
	case id := <-got:
		if id != "1-2" {
			t.Fatalf("expected 1-2, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("rejected entry stopped the loop")
	}
}

func TestConsumerStartWithoutTopics(t *testing.T) {
	c := newTestConsumer(&fakeStreamClient{})
	if err := c.Start(context.Background()); err == nil {
		t.Fatalf("expected error with no registered topics")
	}
}

func TestPublisherFieldEncoding(t *testing.T) {
	fake := &fakeStreamClient{}
	p := NewPublisher(fake)

	id, err := p.Publish(context.Background(), "alerts:new", map[string]string{
		"id":       "a1",
		"severity": "CRITICAL",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != "1-0" {
		t.Errorf("expected stream id 1-0, got %s", id)
	}

	if len(fake.added) != 1 {
		t.Fatalf("expected 1 xadd, got %d", len(fake.added))
	}
	args := fake.added[0]
	if args.Stream != "alerts:new" || args.MaxLen != DefaultMaxLen || !args.Approx {
		t.Errorf("unexpected xadd args: %+v", args)
	}
	if args.Values.(map[string]interface{})["severity"] != "CRITICAL" {
		t.Errorf("field map not carried: %+v", args.Values)
	}
}

func TestConsumerHealthCheck(t *testing.T) {
	c := newTestConsumer(&fakeStreamClient{})
	if err := c.HealthCheck(); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

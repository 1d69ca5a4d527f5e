package integration

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geominer/siren/pkg/eventlog"
)

// Integration tests for the event log's stream semantics against a real
// redis wire protocol: the consumer joins at the tip, preserves per-topic
// order, and keeps running through handler and read failures.

// entryCollector accumulates consumed entries for inspection
type entryCollector struct {
	mu      sync.Mutex
	entries []eventlog.Entry
}

func (c *entryCollector) handle(ctx context.Context, entry eventlog.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *entryCollector) snapshot() []eventlog.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]eventlog.Entry(nil), c.entries...)
}

func (c *entryCollector) waitFor(t *testing.T, want func([]eventlog.Entry) bool) []eventlog.Entry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); want(got) {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for entries, have %d", len(c.snapshot()))
	return nil
}

// seqFields extracts the seq field from entries in delivery order, skipping
// sync noise
func seqFields(entries []eventlog.Entry) []string {
	var out []string
	for _, entry := range entries {
		if seq, ok := entry.Fields["seq"]; ok {
			out = append(out, seq)
		}
	}
	return out
}

// logFixture is a miniredis-backed event log with one consumer wired but not
// yet started, so tests can seed history first
type logFixture struct {
	mr        *miniredis.Miniredis
	publisher *eventlog.Publisher
	consumer  *eventlog.Consumer
	ctx       context.Context
	cancel    context.CancelFunc
}

func newLogFixture(t *testing.T) *logFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client, err := eventlog.NewClient(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &logFixture{
		mr:        mr,
		publisher: eventlog.NewPublisher(client),
		consumer:  eventlog.NewConsumer(client, newTestLogger()),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// start runs the consumer and returns a channel carrying its eventual result
func (f *logFixture) start() chan error {
	done := make(chan error, 1)
	go func() { done <- f.consumer.Start(f.ctx) }()
	return done
}

// sync publishes disposable entries until one is consumed, proving the
// topic's cursor is registered. Entries published afterwards are reliably
// behind it.
func (f *logFixture) sync(t *testing.T, topic string, collector *entryCollector) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for i := 0; ; i++ {
		if time.Now().After(deadline) {
			t.Fatalf("consumer never picked up a sync entry on %s", topic)
		}
		_, err := f.publisher.Publish(f.ctx, topic, map[string]string{"sync": strconv.Itoa(i)})
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		for _, entry := range collector.snapshot() {
			if entry.Fields["sync"] != "" {
				return
			}
		}
	}
}

func TestConsumerStartsAtStreamTip(t *testing.T) {
	f := newLogFixture(t)
	collector := &entryCollector{}
	f.consumer.AddHandler(alertTopic, collector.handle)

	// History exists before the consumer starts
	for i := 0; i < 3; i++ {
		_, err := f.publisher.Publish(f.ctx, alertTopic, map[string]string{"seq": strconv.Itoa(i), "era": "history"})
		require.NoError(t, err)
	}

	f.start()
	f.sync(t, alertTopic, collector)

	_, err := f.publisher.Publish(f.ctx, alertTopic, map[string]string{"seq": "100", "era": "live"})
	require.NoError(t, err)

	entries := collector.waitFor(t, func(entries []eventlog.Entry) bool {
		for _, entry := range entries {
			if entry.Fields["era"] == "live" {
				return true
			}
		}
		return false
	})

	for _, entry := range entries {
		assert.NotEqual(t, "history", entry.Fields["era"], "entry %s predates the consumer and must not be delivered", entry.ID)
	}
}

func TestTopicOrderIsPreserved(t *testing.T) {
	f := newLogFixture(t)
	collector := &entryCollector{}
	f.consumer.AddHandler(alertTopic, collector.handle)
	f.start()
	f.sync(t, alertTopic, collector)

	const total = 20
	for i := 0; i < total; i++ {
		_, err := f.publisher.Publish(f.ctx, alertTopic, map[string]string{"seq": strconv.Itoa(i)})
		require.NoError(t, err)
	}

	entries := collector.waitFor(t, func(entries []eventlog.Entry) bool {
		return len(seqFields(entries)) == total
	})

	for i, seq := range seqFields(entries) {
		assert.Equal(t, strconv.Itoa(i), seq, "delivery order diverged at position %d", i)
	}
}

func TestTopicsConsumeIndependently(t *testing.T) {
	f := newLogFixture(t)
	alerts := &entryCollector{}
	sites := &entryCollector{}
	f.consumer.AddHandler(alertTopic, alerts.handle)
	f.consumer.AddHandler(siteTopic, sites.handle)
	f.start()
	f.sync(t, alertTopic, alerts)
	f.sync(t, siteTopic, sites)

	_, err := f.publisher.Publish(f.ctx, alertTopic, map[string]string{"seq": "0"})
	require.NoError(t, err)

	delivered := alerts.waitFor(t, func(entries []eventlog.Entry) bool {
		return len(seqFields(entries)) == 1
	})
	for _, entry := range delivered {
		assert.Equal(t, alertTopic, entry.Topic)
	}

	// Nothing crossed into the other topic's loop
	assert.Empty(t, seqFields(sites.snapshot()), "alert entry leaked into the site topic")
}

func TestHandlerErrorSkipsEntryOnly(t *testing.T) {
	f := newLogFixture(t)
	collector := &entryCollector{}
	f.consumer.AddHandler(alertTopic, func(ctx context.Context, entry eventlog.Entry) error {
		if entry.Fields["poison"] == "true" {
			return fmt.Errorf("rejected entry %s", entry.ID)
		}
		return collector.handle(ctx, entry)
	})
	f.start()
	f.sync(t, alertTopic, collector)

	_, err := f.publisher.Publish(f.ctx, alertTopic, map[string]string{"poison": "true"})
	require.NoError(t, err)
	_, err = f.publisher.Publish(f.ctx, alertTopic, map[string]string{"seq": "0"})
	require.NoError(t, err)

	// The entry after the rejected one still arrives
	entries := collector.waitFor(t, func(entries []eventlog.Entry) bool {
		return len(seqFields(entries)) == 1
	})
	for _, entry := range entries {
		assert.NotEqual(t, "true", entry.Fields["poison"])
	}
}

func TestPublishedFieldsRoundTrip(t *testing.T) {
	f := newLogFixture(t)
	collector := &entryCollector{}
	f.consumer.AddHandler(alertTopic, collector.handle)
	f.start()
	f.sync(t, alertTopic, collector)

	fields := map[string]string{
		"seq":        "0",
		"id":         "a1",
		"alert_type": "NEW_SITE_DETECTED",
		"severity":   "CRITICAL",
		"title":      "Possible mining at bg-042",
		"created_at": "2026-08-22T10:15:00Z",
		"message":    "coördinates 42.61,25.39",
	}
	id, err := f.publisher.Publish(f.ctx, alertTopic, fields)
	require.NoError(t, err)

	entries := collector.waitFor(t, func(entries []eventlog.Entry) bool {
		return len(seqFields(entries)) == 1
	})

	var got eventlog.Entry
	for _, entry := range entries {
		if entry.Fields["seq"] == "0" {
			got = entry
		}
	}
	assert.Equal(t, id, got.ID)
	assert.Equal(t, fields, got.Fields)
}

func TestReadFailuresBackOffAndRetry(t *testing.T) {
	f := newLogFixture(t)
	collector := &entryCollector{}
	f.consumer.AddHandler(alertTopic, collector.handle)

	var readErrors atomic.Int32
	f.consumer.OnReadError = func(topic string) { readErrors.Add(1) }

	done := f.start()
	f.sync(t, alertTopic, collector)

	f.mr.Close()

	// The loop keeps retrying on its fixed delay instead of exiting
	deadline := time.Now().Add(10 * time.Second)
	for readErrors.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated read retries, saw %d", readErrors.Load())
		}
		select {
		case err := <-done:
			t.Fatalf("consumer exited on read failure: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	f.cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on cancellation")
	}
}

func TestHealthCheckReportsServerLoss(t *testing.T) {
	f := newLogFixture(t)

	require.NoError(t, f.consumer.HealthCheck())

	f.mr.Close()
	assert.Error(t, f.consumer.HealthCheck())
}

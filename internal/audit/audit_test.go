package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
)

type fakeAppender struct {
	mu      sync.Mutex
	err     error
	records chan map[string]string
}

func (f *fakeAppender) Publish(ctx context.Context, topic string, fields map[string]string) (string, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	f.records <- fields
	return "1-0", nil
}

func newRunningPublisher(t *testing.T, appender *fakeAppender) *Publisher {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	p := NewPublisher(appender, "audit:connections", logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)
	return p
}

func waitForRecord(t *testing.T, appender *fakeAppender) map[string]string {
	t.Helper()
	select {
	case fields := <-appender.records:
		return fields
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit record")
		return nil
	}
}

func TestPublisherRecordsLifecycle(t *testing.T) {
	appender := &fakeAppender{records: make(chan map[string]string, 4)}
	p := newRunningPublisher(t, appender)

	p.ConnectionOpened("user-1", []string{"ADMIN", "VIEWER"}, "10.0.0.7:51234")
	opened := waitForRecord(t, appender)
	if opened["event"] != "connection_opened" || opened["subject"] != "user-1" {
		t.Fatalf("unexpected record: %v", opened)
	}
	if opened["roles"] != "ADMIN,VIEWER" {
		t.Fatalf("expected joined roles, got %q", opened["roles"])
	}
	if opened["recorded_at"] == "" {
		t.Fatal("expected recorded_at to be stamped")
	}

	p.ConnectionClosed("user-1")
	closed := waitForRecord(t, appender)
	if closed["event"] != "connection_closed" || closed["subject"] != "user-1" {
		t.Fatalf("unexpected record: %v", closed)
	}

	p.ConnectionRejected("10.0.0.9:40000", "expired_token")
	rejected := waitForRecord(t, appender)
	if rejected["event"] != "connection_rejected" || rejected["reason"] != "expired_token" {
		t.Fatalf("unexpected record: %v", rejected)
	}
}

func TestPublisherSurvivesAppendErrors(t *testing.T) {
	appender := &fakeAppender{records: make(chan map[string]string, 1)}
	logger, hook := logrustest.NewNullLogger()
	p := NewPublisher(appender, "audit:connections", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	appender.mu.Lock()
	appender.err = errors.New("connection refused")
	appender.mu.Unlock()
	p.ConnectionClosed("user-1")

	deadline := time.Now().Add(2 * time.Second)
	for hook.LastEntry() == nil {
		if time.Now().After(deadline) {
			t.Fatal("expected a dropped-record warning")
		}
		time.Sleep(5 * time.Millisecond)
	}

	appender.mu.Lock()
	appender.err = nil
	appender.mu.Unlock()
	p.ConnectionClosed("user-2")
	record := waitForRecord(t, appender)
	if record["subject"] != "user-2" {
		t.Fatalf("worker should keep going after an error, got %v", record)
	}
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	// No worker running, so the queue only fills
	appender := &fakeAppender{records: make(chan map[string]string, 1)}
	logger, hook := logrustest.NewNullLogger()
	p := NewPublisher(appender, "audit:connections", logger)

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize+5; i++ {
			p.ConnectionClosed("user")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("record must never block the caller")
	}
	if hook.LastEntry() == nil {
		t.Fatal("expected a queue-full warning")
	}
}

package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"geominer/siren/pkg/logging"
)

// StreamClient is the subset of redis commands the event log uses
type StreamClient interface {
	XRead(ctx context.Context, a *goredis.XReadArgs) *goredis.XStreamSliceCmd
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// Entry is one record read from a topic, in log order
type Entry struct {
	Topic  string
	ID     string
	Fields map[string]string
}

// Handler processes a single entry. A handler error skips the entry; it does
// not stop the loop.
type Handler func(ctx context.Context, entry Entry) error

// Consumer tails topics of the event log. Each registered topic gets its own
// loop with its own in-memory cursor, started at "only new entries from now
// on". Loops share no state; a restart resumes from the current stream tip,
// which is the source of the relay's at-most-once-from-restart delivery.
type Consumer struct {
	client   StreamClient
	logger   logging.Logger
	handlers map[string]Handler
	mu       sync.RWMutex

	block   time.Duration // bounded wait per read
	backoff time.Duration // fixed delay after a failed read

	// OnReadError, when set, is called after each failed read, before the
	// retry delay. Set it before Start.
	OnReadError func(topic string)
}

// NewConsumer creates a consumer over an established redis client
func NewConsumer(client StreamClient, logger logging.Logger) *Consumer {
	return &Consumer{
		client:   client,
		logger:   logger,
		handlers: make(map[string]Handler),
		block:    time.Second,
		backoff:  time.Second,
	}
}

// AddHandler registers a handler for a topic. Must be called before Start.
func (c *Consumer) AddHandler(topic string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
}

// Start runs one loop per registered topic and blocks until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.RLock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	if len(topics) == 0 {
		return errors.New("no topics registered")
	}

	var wg sync.WaitGroup
	for _, topic := range topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			c.consumeTopic(ctx, topic)
		}(topic)
	}
	wg.Wait()
	return ctx.Err()
}

// consumeTopic tails a single topic forever. Transient read errors are
// retried after a fixed backoff; only context cancellation ends the loop.
func (c *Consumer) consumeTopic(ctx context.Context, topic string) {
	c.mu.RLock()
	handler := c.handlers[topic]
	c.mu.RUnlock()

	log := c.logger.WithField("topic", topic)
	cursor := "$"
	log.Info("Tailing event log")

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := c.client.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{topic, cursor},
			Block:   c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				// Bounded wait elapsed with nothing new
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Event log read failed, retrying")
			if c.OnReadError != nil {
				c.OnReadError(topic)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				// Advance before handing off: a crash here drops the entry
				// rather than replaying it.
				cursor = msg.ID
				entry := Entry{Topic: stream.Stream, ID: msg.ID, Fields: stringFields(msg.Values)}
				if err := handler(ctx, entry); err != nil {
					log.WithError(err).WithField("entry_id", msg.ID).Error("Entry rejected, skipping")
				}
			}
		}
	}
}

// HealthCheck pings the event log
func (c *Consumer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("event log health check failed: %w", err)
	}
	return nil
}

func stringFields(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		switch s := v.(type) {
		case string:
			fields[k] = s
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields
}

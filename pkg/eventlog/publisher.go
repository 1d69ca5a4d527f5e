package eventlog

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultMaxLen matches the producer-side stream trim
const DefaultMaxLen = 10000

// Publisher appends entries to a topic the way the upstream alert engine
// does: flat string fields, approximate MAXLEN trim.
type Publisher struct {
	client StreamClient
	maxLen int64
}

// NewPublisher creates a publisher over an established redis client
func NewPublisher(client StreamClient) *Publisher {
	return &Publisher{client: client, maxLen: DefaultMaxLen}
}

// Publish appends one entry and returns its stream-assigned id
func (p *Publisher) Publish(ctx context.Context, topic string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	id, err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: topic,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", topic, err)
	}
	return id, nil
}

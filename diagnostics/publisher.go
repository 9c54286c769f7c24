package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/uasession/logger"
)

// Publisher pushes JSON-encoded summaries to a Redis key with a TTL, so
// external dashboards can read the latest snapshot without reaching into the
// server. A stale key expires on its own when the server stops publishing.
type Publisher struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger logger.Logger
}

// NewPublisher creates a Publisher writing to the given key.
//
// Parameters:
//   - client: The Redis client to publish through
//   - key: The key holding the latest summary
//   - ttl: Expiry for the published key; should exceed the publish interval
//   - log: Structured log output; nil means silent
//
// Returns:
//   - A new Publisher
func NewPublisher(client *redis.Client, key string, ttl time.Duration, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: log,
	}
}

// Publish writes one summary to Redis.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - summary: The snapshot to publish
//
// Returns:
//   - An error if encoding or the Redis write fails
func (p *Publisher) Publish(ctx context.Context, summary Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	if err := p.client.Set(ctx, p.key, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish summary: %w", err)
	}

	return nil
}

// Run publishes the collector's summary every interval until ctx is done.
// Publish failures are logged and the loop keeps going; monitoring must never
// take the session subsystem down.
//
// Parameters:
//   - ctx: Cancellation stops the loop
//   - collector: Source of summaries
//   - interval: Period between publishes
func (p *Publisher) Run(ctx context.Context, collector *Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := collector.Summary(ctx)
			if err != nil {
				p.logger.Error("summary collection failed", logger.Field{Key: "error", Value: err})
				continue
			}
			if err := p.Publish(ctx, summary); err != nil {
				p.logger.Error("summary publish failed", logger.Field{Key: "error", Value: err})
			}
		}
	}
}

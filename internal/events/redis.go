package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
)

const defaultStream = "trustd:events"

// RedisPublisher appends events to a Redis stream so downstream
// consumers can pick them up after a restart.
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(url, stream string, logger *slog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if stream == "" {
		stream = defaultStream
	}
	return &RedisPublisher{
		client: client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: streamValues(ev),
	}).Err()
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type), "redis", "error").Inc()
		p.logger.Warn("event publish failed", "type", ev.Type, "stream", p.stream, "error", err)
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type), "redis", "ok").Inc()
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// streamValues flattens an event into stream entry fields. The payload
// rides as one JSON field so consumers get it atomically.
func streamValues(ev Event) map[string]any {
	values := map[string]any{
		"id":          ev.ID.String(),
		"type":        string(ev.Type),
		"occurred_at": ev.OccurredAt.Format(time.RFC3339Nano),
	}
	if len(ev.Payload) > 0 {
		// A map of strings cannot fail to marshal.
		raw, _ := json.Marshal(ev.Payload)
		values["payload"] = string(raw)
	}
	return values
}

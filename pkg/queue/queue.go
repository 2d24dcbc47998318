package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// KeyPrefix prefixes the Redis list holding a topic's pending envelopes.
	KeyPrefix = "events:"
	// QueueDLQ is the dead-letter list for malformed envelopes and envelopes that exhausted their retries.
	QueueDLQ = "events:dlq"
	// MaxRetries is the number of deliveries before an envelope is moved to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay a worker waits after a failed delivery.
	RetryBackoff = 2 * time.Second
)

// Envelope is the bus message wrapping one event payload.
type Envelope struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
	Error     string          `json:"error,omitempty"`

	// raw is the exact list element, needed to remove it from the processing list.
	raw string
}

// Queue is an at-least-once topic bus on Redis lists. Dequeued envelopes are parked in a
// per-topic processing list until acknowledged, so a crashed consumer loses nothing.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed event bus.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// TopicKey returns the Redis list key of a topic.
func TopicKey(topic string) string { return KeyPrefix + topic }

// ProcessingKey returns the Redis list key holding a topic's in-flight envelopes.
func ProcessingKey(topic string) string { return KeyPrefix + topic + ":processing" }

// Publish enqueues payload on topic.
func (q *Queue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.client.RPush(ctx, TopicKey(topic), raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("published event", zap.String("event_id", env.ID), zap.String("topic", topic))
	return nil
}

// Dequeue blocks up to timeout for the next envelope on topic and moves it to the processing list.
// It returns nil, nil when the timeout expires without an envelope.
func (q *Queue) Dequeue(ctx context.Context, topic string, timeout time.Duration) (*Envelope, error) {
	raw, err := q.client.BLMove(ctx, TopicKey(topic), ProcessingKey(topic), "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		q.logger.Warn("invalid envelope", zap.String("raw", raw), zap.Error(err))
		bad := &Envelope{Topic: topic, Payload: json.RawMessage(`null`), raw: raw}
		if dlqErr := q.DeadLetter(ctx, bad, "invalid envelope: "+err.Error()); dlqErr != nil {
			return nil, dlqErr
		}
		return nil, nil
	}
	env.raw = raw
	return &env, nil
}

// Ack removes a processed envelope from the processing list.
func (q *Queue) Ack(ctx context.Context, env *Envelope) error {
	if err := q.client.LRem(ctx, ProcessingKey(env.Topic), 1, env.raw).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Retry re-enqueues an envelope with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, env *Envelope, cause error) error {
	next := *env
	next.Attempt++
	if cause != nil {
		next.Error = cause.Error()
	}
	if next.Attempt >= MaxRetries {
		if err := q.move(ctx, env, QueueDLQ, &next); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("event_id", env.ID))
			return err
		}
		q.logger.Warn("event moved to DLQ", zap.String("event_id", env.ID), zap.String("topic", env.Topic), zap.Int("attempt", next.Attempt))
		return nil
	}
	if err := q.move(ctx, env, TopicKey(env.Topic), &next); err != nil {
		return err
	}
	q.logger.Info("event retried", zap.String("event_id", env.ID), zap.String("topic", env.Topic), zap.Int("attempt", next.Attempt))
	return nil
}

// DeadLetter moves an envelope straight to the DLQ without further retries.
func (q *Queue) DeadLetter(ctx context.Context, env *Envelope, reason string) error {
	next := *env
	next.Error = reason
	if err := q.move(ctx, env, QueueDLQ, &next); err != nil {
		return err
	}
	q.logger.Warn("event dead-lettered", zap.String("event_id", env.ID), zap.String("topic", env.Topic), zap.String("reason", reason))
	return nil
}

// Recover moves every envelope left in a topic's processing list (by a consumer that died
// before acknowledging) back to the head of the topic. It returns the number moved.
func (q *Queue) Recover(ctx context.Context, topic string) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, ProcessingKey(topic), TopicKey(topic), "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("recover %s: %w", topic, err)
		}
		moved++
	}
	if moved > 0 {
		q.logger.Warn("recovered unacknowledged events", zap.String("topic", topic), zap.Int("count", moved))
	}
	return moved, nil
}

// Len returns the number of pending envelopes on a Redis list key.
func (q *Queue) Len(ctx context.Context, key string) (int64, error) {
	return q.client.LLen(ctx, key).Result()
}

// move pushes next onto dest and removes the original from the processing list atomically.
func (q *Queue) move(ctx context.Context, env *Envelope, dest string, next *Envelope) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, dest, raw)
		pipe.LRem(ctx, ProcessingKey(env.Topic), 1, env.raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("move to %s: %w", dest, err)
	}
	return nil
}

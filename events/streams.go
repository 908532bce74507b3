package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vsariola/kantele/engine"
	"go.uber.org/zap"
)

// StreamsBus implements Bus using a Redis Stream. Subscribers sharing a
// consumer group split the notifications between them.
type StreamsBus struct {
	client        *redis.Client
	logger        *zap.Logger
	stream        string
	maxLen        int64
	consumerGroup string
	consumerName  string
}

// NewStreamsBus creates a new Redis Streams bus. A positive maxLen trims
// the stream approximately to that many entries.
func NewStreamsBus(client *redis.Client, stream string, maxLen int64, consumerGroup, consumerName string, logger *zap.Logger) *StreamsBus {
	return &StreamsBus{
		client:        client,
		logger:        logger,
		stream:        stream,
		maxLen:        maxLen,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
	}
}

// Publish adds the notification to the stream
func (b *StreamsBus) Publish(ctx context.Context, n engine.Notification) error {
	values, err := encode(n)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: b.stream,
		Values: values,
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	b.logger.Debug("notification published",
		zap.Stringer("kind", n.Kind),
		zap.Stringer("update", n.Update),
		zap.String("stream", b.stream))

	return nil
}

// Subscribe joins the consumer group, creating it if needed, and reads the
// stream until ctx is done.
func (b *StreamsBus) Subscribe(ctx context.Context, handler Handler) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, b.consumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	b.logger.Info("subscribed to notification stream",
		zap.String("stream", b.stream),
		zap.String("consumer_group", b.consumerGroup),
		zap.String("consumer", b.consumerName))

	go b.readStream(ctx, handler)

	return nil
}

func (b *StreamsBus) readStream(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.consumerGroup,
			Consumer: b.consumerName,
			Streams:  []string{b.stream, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			b.logger.Error("failed to read from stream",
				zap.String("stream", b.stream),
				zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range streams {
			for _, message := range stream.Messages {
				b.processMessage(ctx, message, handler)
			}
		}
	}
}

func (b *StreamsBus) processMessage(ctx context.Context, message redis.XMessage, handler Handler) {
	n, err := decode(message)
	if err != nil {
		b.logger.Error("invalid message",
			zap.String("stream", b.stream),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}
	if err := handler(ctx, n); err != nil {
		b.logger.Error("handler error",
			zap.String("stream", b.stream),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}
	if err := b.client.XAck(ctx, b.stream, b.consumerGroup, message.ID).Err(); err != nil {
		b.logger.Error("failed to acknowledge message",
			zap.String("stream", b.stream),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Close does nothing; the Redis client is closed by its owner.
func (b *StreamsBus) Close() error {
	return nil
}

func encode(n engine.Notification) (map[string]interface{}, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return map[string]interface{}{
		"kind": n.Kind.String(),
		"data": string(data),
	}, nil
}

func decode(message redis.XMessage) (engine.Notification, error) {
	var n engine.Notification
	data, ok := message.Values["data"].(string)
	if !ok {
		return n, errors.New("missing data field")
	}
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		return n, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return n, nil
}

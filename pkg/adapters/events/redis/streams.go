package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/ports"
)

// maxStreamLength caps each progress stream; older entries are trimmed
// approximately.
const maxStreamLength = 10000

// StreamsBus is a Redis Streams event bus with consumer groups, used to
// fan execution progress out to websocket clients and other consumers.
type StreamsBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
}

// NewStreamsBus creates a Redis Streams event bus.
func NewStreamsBus(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) *StreamsBus {
	return &StreamsBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
	}
}

// Publish appends the event to the topic stream.
func (b *StreamsBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	streamKey := streamKey(topic)
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: maxStreamLength,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	b.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe starts consuming the topic stream through the consumer
// group until the context is done.
func (b *StreamsBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	key := streamKey(topic)

	err := b.client.XGroupCreateMkStream(ctx, key, b.consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	b.logger.Info("subscribed to event stream",
		zap.String("stream", key),
		zap.String("consumer_group", b.consumerGroup),
		zap.String("consumer", b.consumerName))

	go b.readStream(ctx, key, handler)
	return nil
}

func (b *StreamsBus) readStream(ctx context.Context, key string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.consumerGroup,
			Consumer: b.consumerName,
			Streams:  []string{key, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logger.Error("failed to read from stream",
				zap.String("stream", key),
				zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				b.handleMessage(ctx, key, message, handler)
			}
		}
	}
}

func (b *StreamsBus) handleMessage(ctx context.Context, key string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		b.logger.Error("invalid message format",
			zap.String("stream", key),
			zap.String("message_id", message.ID))
		return
	}

	var event ports.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		b.logger.Error("failed to unmarshal event",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		b.logger.Error("handler error",
			zap.String("stream", key),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return
	}

	if err := b.client.XAck(ctx, key, b.consumerGroup, message.ID).Err(); err != nil {
		b.logger.Error("failed to acknowledge message",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *StreamsBus) Close() error {
	return nil
}

func streamKey(topic string) string {
	return fmt.Sprintf("costwise:events:%s", topic)
}

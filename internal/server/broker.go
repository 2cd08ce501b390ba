package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/parley-chat/parley/internal/types"
	"github.com/redis/go-redis/v9"
)

const broadcastChannel = "parley:broadcast"

// BroadcastEnvelope is one published message on its way to a room's
// subscribers.
type BroadcastEnvelope struct {
	RoomId  string         `json:"room_id"`
	Message *types.Message `json:"message"`
}

// Broker carries broadcast envelopes between server instances. Required
// when session gateways run across multiple processes, since the
// publisher must reach subscribers connected elsewhere.
type Broker interface {
	Publish(ctx context.Context, env BroadcastEnvelope) error
	// Receive blocks, invoking deliver for every envelope published by
	// any instance (including this one), until ctx is cancelled.
	Receive(ctx context.Context, deliver func(BroadcastEnvelope)) error
	Close() error
}

type RedisBroker struct {
	client *redis.Client
	log    *log.Logger
}

func NewRedisBroker(addr string, logger *log.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBroker{client: client, log: logger}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, env BroadcastEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return b.client.Publish(ctx, broadcastChannel, data).Err()
}

func (b *RedisBroker) Receive(ctx context.Context, deliver func(BroadcastEnvelope)) error {
	pubsub := b.client.Subscribe(ctx, broadcastChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var env BroadcastEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Println("broker: bad envelope:", err)
				continue
			}

			deliver(env)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

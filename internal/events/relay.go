package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the Redis stream relayed events are appended to.
const DefaultStream = "overseer:events"

// Relay mirrors bus events into a Redis stream so external consumers can
// tail orchestration activity.
type Relay struct {
	rdb    *redis.Client
	stream string
	unsub  func()
	logger *zap.Logger
}

// NewRelay connects to Redis and verifies it with a ping. stream "" uses
// DefaultStream.
func NewRelay(redisURL, stream string, logger *zap.Logger) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &Relay{rdb: rdb, stream: stream, logger: logger}, nil
}

// Attach subscribes the relay to every bus event. Call Close to detach.
func (r *Relay) Attach(bus *Bus) {
	r.unsub = bus.SubscribeAll(func(evt Event) {
		data, err := json.Marshal(evt)
		if err != nil {
			r.logger.Warn("relay marshal failed", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]interface{}{"data": string(data)},
		}).Err(); err != nil {
			r.logger.Warn("relay xadd failed",
				zap.String("stream", r.stream), zap.Error(err))
		}
	})
}

// Tail reads events appended after the call, emitting them on a channel.
// Cancel the context to stop.
func (r *Relay) Tail(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := r.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{r.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, res := range results {
				for _, msg := range res.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var evt Event
					if json.Unmarshal([]byte(data), &evt) == nil {
						ch <- evt
					}
				}
			}
		}
	}()

	return ch
}

// Close detaches from the bus and closes the Redis connection.
func (r *Relay) Close() error {
	if r.unsub != nil {
		r.unsub()
	}
	return r.rdb.Close()
}

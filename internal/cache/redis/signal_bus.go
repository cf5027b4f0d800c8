package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/polysignal/engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// signalStreamCap bounds the durable signal log; XADD trims with an
	// approximate MAXLEN so old entries age out without a separate job.
	signalStreamCap int64 = 10000

	// subscribeBuffer absorbs short bursts on the fan-out channel before
	// back-pressure reaches the publisher goroutine.
	subscribeBuffer = 128

	// streamField is the single hash field each stream entry carries.
	streamField = "body"
)

// SignalBus carries detection output to live consumers. Pub/Sub gives
// at-most-once fan-out to whoever is listening right now; the stream keeps a
// bounded replayable log for consumers that join late.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus on the client's connection.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

// Publish fans a payload out to the channel's current subscribers.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription and returns the payload channel. Channel
// names containing glob metacharacters subscribe by pattern. Cancelling the
// context tears the subscription down and closes the returned channel.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var sub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		sub = b.rdb.PSubscribe(ctx, channel)
	} else {
		sub = b.rdb.Subscribe(ctx, channel)
	}

	// Wait for the server's subscription confirmation so a caller never
	// publishes into a subscription that is not live yet.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends a payload to the signal log, trimming it to roughly
// signalStreamCap entries.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: signalStreamCap,
		Approx: true,
		Values: map[string]interface{}{streamField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries recorded after lastID, oldest first.
// Pass "0" to replay from the start of the log. An empty log yields an empty
// result, not an error.
func (b *SignalBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			body, ok := streamBody(m.Values)
			if !ok {
				continue
			}
			out = append(out, domain.StreamMessage{ID: m.ID, Payload: body})
		}
	}
	return out, nil
}

// streamBody extracts the payload field from a raw stream entry. Entries
// written by other tools without the field are skipped rather than surfaced
// as errors.
func streamBody(values map[string]interface{}) ([]byte, bool) {
	switch v := values[streamField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)

package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chronicleaudio/chronicle/internal/ports"
)

// maxStreamLen caps per-session streams so a runaway producer cannot grow
// Redis without bound. At 16kHz mono PCM this is several hours of audio.
const maxStreamLen = 200_000

// StreamBus implements ports.StreamBus on Redis streams.
type StreamBus struct {
	client *redis.Client
}

func NewStreamBus(client *redis.Client) *StreamBus {
	return &StreamBus{client: client}
}

func (b *StreamBus) Append(ctx context.Context, stream string, values map[string]string) (string, error) {
	args := make(map[string]any, len(values))
	for k, v := range values {
		args[k] = v
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: args,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// ReadGroup delivers new messages for a consumer, creating the group on
// first contact. A block timeout returns (nil, nil).
func (b *StreamBus) ReadGroup(ctx context.Context, stream, group, consumer string, maxBatch int, block time.Duration) ([]ports.Message, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    int64(maxBatch),
			Block:    block,
		}).Result()

		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			if isNoGroupErr(err) && attempt == 0 {
				if err := b.ensureGroup(ctx, stream, group); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("xreadgroup %s/%s: %w", stream, group, err)
		}

		var out []ports.Message
		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				out = append(out, toMessage(msg))
			}
		}
		return out, nil
	}
	return nil, nil
}

func (b *StreamBus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.client.XAck(ctx, stream, group, ids...).Err()
}

func (b *StreamBus) Range(ctx context.Context, stream string) ([]ports.Message, error) {
	msgs, err := b.client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}
	out := make([]ports.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toMessage(msg))
	}
	return out, nil
}

func (b *StreamBus) Len(ctx context.Context, stream string) (int64, error) {
	n, err := b.client.XLen(ctx, stream).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return n, nil
}

func (b *StreamBus) Delete(ctx context.Context, stream string) error {
	return b.client.Del(ctx, stream).Err()
}

func (b *StreamBus) ClaimIdle(ctx context.Context, stream, group, consumer string, idle time.Duration) ([]ports.Message, error) {
	msgs, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  idle,
		Start:    "0-0",
		Count:    100,
	}).Result()
	if err != nil {
		if err == redis.Nil || isNoGroupErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim %s/%s: %w", stream, group, err)
	}

	out := make([]ports.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toMessage(msg))
	}
	return out, nil
}

// ReapDead acks without reading, so the entry stays on the stream for the
// other group while this group's pending list is unstuck.
func (b *StreamBus) ReapDead(ctx context.Context, stream, group string, idle time.Duration) (int, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   idle,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if err == redis.Nil || isNoGroupErr(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("xpending %s/%s: %w", stream, group, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return 0, fmt.Errorf("xack %s/%s: %w", stream, group, err)
	}
	return len(ids), nil
}

func (b *StreamBus) ensureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func isNoGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

func toMessage(msg redis.XMessage) ports.Message {
	values := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			values[k] = s
		} else {
			values[k] = fmt.Sprint(v)
		}
	}
	return ports.Message{ID: msg.ID, Values: values}
}

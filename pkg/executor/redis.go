package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// DefaultStream is the stream RedisStream appends to.
const DefaultStream = "vault:actions"

// RedisStream hands actions to a downstream worker by appending them to a
// Redis stream. Success means the entry was durably appended; the worker's
// own outcome is outside the engine's transaction.
type RedisStream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStream appends to stream (DefaultStream when empty), trimming it
// approximately to maxLen entries when maxLen > 0.
func NewRedisStream(client redis.UniversalClient, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisStream) Perform(ctx context.Context, a contracts.Action) error {
	req := NewRequest(a)
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("redis stream: encode: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"action_id": req.ActionID,
			"lane":      string(req.Lane),
			"digest":    req.Digest,
			"body":      body,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis stream %s: %w", r.stream, err)
	}
	return nil
}

// Stream returns the stream name.
func (r *RedisStream) Stream() string {
	return r.stream
}

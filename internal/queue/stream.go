package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailstream/mailstream/internal/model"
)

// PayloadField is the stream entry field holding the JSON payload
const PayloadField = "payload"

// Entry is one message read from the stream
type Entry struct {
	ID     string
	Values map[string]any
}

// Payload returns the raw payload field, if present
func (e Entry) Payload() ([]byte, bool) {
	switch v := e.Values[PayloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

// Stream is the durable queue the consumer reads from
type Stream interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context) ([]Entry, error)
	Add(ctx context.Context, p *model.EmailPayload) (string, error)
	AckAndRemove(ctx context.Context, id string) error
}

// RedisStreamOptions configures a RedisStream
type RedisStreamOptions struct {
	Name     string
	Group    string
	Consumer string
	// Block is how long Read waits for new entries; zero or less returns
	// immediately.
	Block     time.Duration
	BatchSize int64
}

// RedisStream is a Stream backed by a Redis stream and consumer group
type RedisStream struct {
	client redis.Cmdable
	opts   RedisStreamOptions
}

// NewRedisStream creates a new RedisStream
func NewRedisStream(client redis.Cmdable, opts RedisStreamOptions) *RedisStream {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &RedisStream{client: client, opts: opts}
}

// Name returns the stream key
func (s *RedisStream) Name() string {
	return s.opts.Name
}

// EnsureGroup creates the consumer group (and the stream) if missing
func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.opts.Name, s.opts.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// IsNoGroup reports whether err says the stream or consumer group is gone,
// e.g. after the stream key was deleted.
func IsNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

// Read returns the next batch of new entries for this consumer. It returns
// an empty batch when the block timeout passes with nothing to read.
func (s *RedisStream) Read(ctx context.Context) ([]Entry, error) {
	block := s.opts.Block
	if block <= 0 {
		block = -1
	}
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		Streams:  []string{s.opts.Name, ">"},
		Count:    s.opts.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	var entries []Entry
	for _, st := range res {
		for _, msg := range st.Messages {
			entries = append(entries, Entry{ID: msg.ID, Values: msg.Values})
		}
	}
	return entries, nil
}

// Add appends p to the stream and returns the entry id
func (s *RedisStream) Add(ctx context.Context, p *model.EmailPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.opts.Name,
		Values: map[string]any{PayloadField: string(raw)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add stream entry: %w", err)
	}
	return id, nil
}

// AckAndRemove acknowledges the entry for the group and deletes it
func (s *RedisStream) AckAndRemove(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, s.opts.Name, s.opts.Group, id)
		pipe.XDel(ctx, s.opts.Name, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack stream entry %s: %w", id, err)
	}
	return nil
}

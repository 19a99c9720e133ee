package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces mailbox keys.
const DefaultKeyPrefix = "conductor:mail:"

// RedisStore keeps each message as a JSON string and indexes it in per
// recipient and per sender sorted sets scored by send time.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) msgKey(id string) string { return s.prefix + "msg:" + id }
func (s *RedisStore) inboxKey(who string) string { return s.prefix + "inbox:" + who }
func (s *RedisStore) outboxKey(who string) string { return s.prefix + "outbox:" + who }

// Save inserts or replaces a message.
func (s *RedisStore) Save(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	score := float64(msg.Timestamp.UnixMilli())

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.msgKey(msg.ID), string(data), 0)
		pipe.ZAdd(ctx, s.inboxKey(msg.To), redis.Z{Score: score, Member: msg.ID})
		pipe.ZAdd(ctx, s.outboxKey(msg.From), redis.Z{Score: score, Member: msg.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
	}
	return nil
}

// Get loads one message.
func (s *RedisStore) Get(ctx context.Context, id string) (*Message, error) {
	raw, err := s.rdb.Get(ctx, s.msgKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	return decode(raw)
}

// Delete removes the message and its index entries.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.msgKey(id))
		pipe.ZRem(ctx, s.inboxKey(msg.To), id)
		pipe.ZRem(ctx, s.outboxKey(msg.From), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return nil
}

// ListTo returns messages addressed to the participant, oldest first.
func (s *RedisStore) ListTo(ctx context.Context, participant string) ([]*Message, error) {
	return s.list(ctx, s.inboxKey(participant))
}

// ListFrom returns messages sent by the participant, oldest first.
func (s *RedisStore) ListFrom(ctx context.Context, participant string) ([]*Message, error) {
	return s.list(ctx, s.outboxKey(participant))
}

func (s *RedisStore) list(ctx context.Context, indexKey string) ([]*Message, error) {
	ids, err := s.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}
	if len(ids) == 0 {
		return []*Message{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.msgKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	out := make([]*Message, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry outlived its message.
			continue
		}
		msg, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func decode(raw string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

package threat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// RedisStore is an IndicatorStore backed by Redis. Each record is stored as
// JSON under <prefix>:<type>:<value> and indexed in the set
// <prefix>:idx:<type>. Writes run under WATCH/MULTI/EXEC so readers see
// either the old or the new record.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ioc"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) recordKey(t IndicatorType, value string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, t, value)
}

func (s *RedisStore) indexKey(t IndicatorType) string {
	return fmt.Sprintf("%s:idx:%s", s.prefix, t)
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) AddIndicator(ctx context.Context, typ, value string, meta IndicatorMeta) bool {
	t, ok := ParseIndicatorType(typ)
	if !ok {
		return false
	}
	key := s.recordKey(t, value)

	err := s.update(ctx, key, func(tx *redis.Tx, prev *IndicatorRecord) error {
		rec := mergeRecord(t, value, meta, prev, s.now().UTC())
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode indicator: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.indexKey(t), value)
			return nil
		})
		return err
	})
	if err != nil {
		slog.Warn("redis add indicator failed", "type", t, "err", err)
		return false
	}
	return true
}

func (s *RedisStore) QueryIndicator(ctx context.Context, typ, value string) (IndicatorRecord, bool) {
	t, ok := ParseIndicatorType(typ)
	if !ok {
		return IndicatorRecord{}, false
	}
	data, err := s.client.Get(ctx, s.recordKey(t, value)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("redis query indicator failed", "type", t, "err", err)
		}
		return IndicatorRecord{}, false
	}
	var rec IndicatorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("corrupt indicator record", "key", s.recordKey(t, value), "err", err)
		return IndicatorRecord{}, false
	}
	return rec, true
}

func (s *RedisStore) BulkQuery(ctx context.Context, typ string, values []string) []IndicatorRecord {
	out := []IndicatorRecord{}
	t, ok := ParseIndicatorType(typ)
	if !ok || len(values) == 0 {
		return out
	}

	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = s.recordKey(t, v)
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Warn("redis bulk query failed", "type", t, "err", err)
		return out
	}
	for i, item := range raw {
		str, isString := item.(string)
		if !isString {
			continue
		}
		var rec IndicatorRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			slog.Warn("corrupt indicator record", "key", keys[i], "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (s *RedisStore) Stats(ctx context.Context) StoreStats {
	stats := emptyStats()

	cmds := make(map[IndicatorType]*redis.IntCmd, len(indicatorTypes))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range indicatorTypes {
			cmds[t] = pipe.SCard(ctx, s.indexKey(t))
		}
		return nil
	})
	if err != nil {
		slog.Warn("redis stats failed", "err", err)
		return stats
	}
	for t, cmd := range cmds {
		n := int(cmd.Val())
		stats.ByType[t] = n
		stats.Total += n
	}
	return stats
}

func (s *RedisStore) Deactivate(ctx context.Context, typ, value string) bool {
	t, ok := ParseIndicatorType(typ)
	if !ok {
		return false
	}
	key := s.recordKey(t, value)
	found := false

	err := s.update(ctx, key, func(tx *redis.Tx, prev *IndicatorRecord) error {
		if prev == nil {
			return nil
		}
		found = true
		rec := prev.clone()
		rec.Active = false
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode indicator: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	})
	if err != nil {
		slog.Warn("redis deactivate failed", "type", t, "err", err)
		return false
	}
	return found
}

// update runs fn inside an optimistic transaction on key, retrying when a
// concurrent writer touched the key.
func (s *RedisStore) update(ctx context.Context, key string, fn func(tx *redis.Tx, prev *IndicatorRecord) error) error {
	txf := func(tx *redis.Tx) error {
		var prev *IndicatorRecord
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var rec IndicatorRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode indicator: %w", err)
			}
			prev = &rec
		case !errors.Is(err, redis.Nil):
			return err
		}
		return fn(tx, prev)
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("update %s: %w", key, redis.TxFailedErr)
}

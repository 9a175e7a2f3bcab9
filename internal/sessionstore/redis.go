// Package sessionstore keeps in-flight respondent sessions in Redis.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"formflow/internal/errorz"
	"formflow/internal/model"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "formflow:session:"

// RedisStore stores each session as one JSON value. Every write refreshes
// the key's TTL, so idle sessions fall out of Redis on their own.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s: %w", id, errorz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

// PutSession is a compare-and-set on the session version, done under WATCH
// so a concurrent writer aborts the transaction.
func (s *RedisStore) PutSession(ctx context.Context, sess *model.Session) error {
	key := keyPrefix + sess.ID
	next := *sess
	next.Version++
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		stored, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to read session: %w", err)
		default:
			var prev model.Session
			if err := json.Unmarshal(stored, &prev); err != nil {
				return fmt.Errorf("failed to decode session: %w", err)
			}
			current = prev.Version
		}
		if current != sess.Version {
			return fmt.Errorf("session %s at version %d, write based on %d: %w", sess.ID, current, sess.Version, errorz.ErrVersionConflict)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("session %s: %w", sess.ID, errorz.ErrVersionConflict)
	}
	if err != nil {
		if errors.Is(err, errorz.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to write session: %w", err)
	}
	sess.Version = next.Version
	return nil
}

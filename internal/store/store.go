package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fluency-push-go/internal/models"

	"github.com/redis/go-redis/v9"
)

const eventsChannel = "push_events"

var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionStore handles push subscription persistence
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error)
	ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	DeleteByEndpoints(ctx context.Context, endpoints []string) error
	Ping(ctx context.Context) error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	rdb := redis.NewClient(opts)
	return &RedisStore{client: rdb}
}

func subKey(endpoint string) string { return "push:sub:" + endpoint }
func userKey(userID string) string  { return "push:user:" + userID }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// maxTxRetries bounds how often an optimistic transaction is replayed after
// a watched key changed underneath it.
const maxTxRetries = 10

// watch runs fn under WATCH on keys and replays it when the transaction
// loses a race.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("watch %v: %w", keys, redis.TxFailedErr)
}

func (s *RedisStore) SaveSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error) {
	key := subKey(sub.Endpoint)

	var saved models.PushSubscription
	err := s.watch(ctx, func(tx *redis.Tx) error {
		saved = sub
		fields, err := tx.HMGet(ctx, key, "id", "user_id", "created_at").Result()
		if err != nil {
			return err
		}
		// An endpoint moving to another user must leave the old user's index
		prev, _ := fields[1].(string)

		if idStr, ok := fields[0].(string); ok {
			if saved.ID, err = strconv.Atoi(idStr); err != nil {
				return fmt.Errorf("subscription %s has bad id %q: %w", sub.Endpoint, idStr, err)
			}
			created, _ := fields[2].(string)
			saved.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		} else {
			id, err := tx.Incr(ctx, "push:next_id").Result()
			if err != nil {
				return err
			}
			saved.ID = int(id)
			saved.CreatedAt = time.Now().UTC()
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]any{
				"id":         saved.ID,
				"user_id":    saved.UserID,
				"endpoint":   saved.Endpoint,
				"p256dh":     saved.P256dh,
				"auth":       saved.Auth,
				"created_at": saved.CreatedAt.Format(time.RFC3339Nano),
			})
			pipe.SAdd(ctx, "push:subs", saved.Endpoint)
			if prev != "" && prev != saved.UserID {
				pipe.SRem(ctx, userKey(prev), saved.Endpoint)
			}
			pipe.SAdd(ctx, userKey(saved.UserID), saved.Endpoint)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return models.PushSubscription{}, err
	}
	return saved, nil
}

func (s *RedisStore) ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]models.PushSubscription, error) {
	var endpoints []string
	if filter.Broadcast {
		members, err := s.client.SMembers(ctx, "push:subs").Result()
		if err != nil {
			return nil, err
		}
		endpoints = members
	} else if len(filter.UserIDs) > 0 {
		keys := make([]string, len(filter.UserIDs))
		for i, id := range filter.UserIDs {
			keys[i] = userKey(id)
		}
		members, err := s.client.SUnion(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		endpoints = members
	}
	if len(endpoints) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(endpoints))
	for i, endpoint := range endpoints {
		cmds[i] = pipe.HGetAll(ctx, subKey(endpoint))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	subs := make([]models.PushSubscription, 0, len(cmds))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			// Index entry whose hash is gone
			continue
		}
		subs = append(subs, fromHash(fields))
	}
	return subs, nil
}

func fromHash(fields map[string]string) models.PushSubscription {
	id, _ := strconv.Atoi(fields["id"])
	created, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	return models.PushSubscription{
		ID:        id,
		UserID:    fields["user_id"],
		Endpoint:  fields["endpoint"],
		P256dh:    fields["p256dh"],
		Auth:      fields["auth"],
		CreatedAt: created,
	}
}

func (s *RedisStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	key := subKey(endpoint)
	return s.watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.HGet(ctx, key, "user_id").Result()
		if err == redis.Nil || (err == nil && owner != userID) {
			return ErrSubscriptionNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, "push:subs", endpoint)
			pipe.SRem(ctx, userKey(userID), endpoint)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) DeleteByEndpoints(ctx context.Context, endpoints []string) error {
	if len(endpoints) == 0 {
		return nil
	}

	keys := make([]string, len(endpoints))
	for i, endpoint := range endpoints {
		keys[i] = subKey(endpoint)
	}
	return s.watch(ctx, func(tx *redis.Tx) error {
		owners := make([]*redis.StringCmd, len(endpoints))
		pipe := tx.Pipeline()
		for i, key := range keys {
			owners[i] = pipe.HGet(ctx, key, "user_id")
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, endpoint := range endpoints {
				if owner, err := owners[i].Result(); err == nil {
					pipe.SRem(ctx, userKey(owner), endpoint)
				}
				pipe.Del(ctx, keys[i])
				pipe.SRem(ctx, "push:subs", endpoint)
			}
			return nil
		})
		return err
	}, keys...)
}

// PublishDispatch announces a finished batch on the push_events channel.
func (s *RedisStore) PublishDispatch(ctx context.Context, summary models.DispatchSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal dispatch summary: %w", err)
	}
	return s.client.Publish(ctx, eventsChannel, data).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, eventsChannel)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

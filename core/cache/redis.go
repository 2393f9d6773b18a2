// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

// redisStore keeps responses in a redis server, shared between processes.
// All keys of a store share a prefix, so a section can be flushed without
// touching other data on the server.
type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type redisBackend struct {
	stores map[Section]*redisStore
}

func newRedisBackend(policy Policy, namespace string) (Backend, error) {
	if policy.Redis.Addr == "" {
		return nil, fmt.Errorf("redis cache of %s: addr is missing", namespace)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     policy.Redis.Addr,
		Password: policy.Redis.Password,
		DB:       policy.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cannot reach redis at %s: %w", policy.Redis.Addr, err)
	}

	b := &redisBackend{stores: make(map[Section]*redisStore)}
	for _, section := range Sections {
		b.stores[section] = &redisStore{
			client: client,
			prefix: "roa:" + namespace + ":" + string(section) + ":",
			ttl:    policy.Duration(),
		}
	}
	return b, nil
}

func (b *redisBackend) Store(section Section) Store {
	return b.stores[section]
}

func (s *redisStore) Get(ctx context.Context, key string) (*Response, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var response Response
	if err = json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return &response, nil
}

func (s *redisStore) Set(ctx context.Context, key string, response *Response) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *redisStore) FlushAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err = s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

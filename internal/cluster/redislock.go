// Copyright 2025 shiioo
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cluster

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLock backs the lock contract with a shared Redis instance so a
// leader election can span more than one process. This is the
// optional multi-node upgrade path; single-process deployments use
// MemoryLock instead.
type RedisLock struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisLock wraps an existing client.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, ctx: context.Background()}
}

// Acquire uses SET key holder NX EX ttl, which only succeeds if the
// key is absent or already expired.
func (l *RedisLock) Acquire(key, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(l.ctx, key, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	// Already held: re-acquiring renews our own lease, matching
	// MemoryLock's "existing holder renews" semantics.
	current, err := l.client.Get(l.ctx, key).Result()
	if err == redis.Nil {
		return l.client.SetNX(l.ctx, key, holder, ttl).Result()
	}
	if err != nil {
		return false, err
	}
	if current != holder {
		return false, nil
	}
	if err := l.client.Expire(l.ctx, key, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Release deletes key only if holder is the current value.
func (l *RedisLock) Release(key, holder string) (bool, error) {
	current, err := l.client.Get(l.ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current != holder {
		return false, nil
	}
	if err := l.client.Del(l.ctx, key).Err(); err != nil {
		return false, err
	}
	return true, nil
}

//
// Copyright 2023 Bytedance Ltd. and/or its affiliates
//
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

package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/bytedance/giftcoupon"
)

// 需要可访问的 redis，通过 REDIS_ADDR 指定
func initClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

func TestRedisLock(t *testing.T) {
	cli := initClient(t)
	defer cli.Close()
	ctx := context.Background()

	l := NewRedisLock(cli, time.Second, WithPrefix("giftcoupon_test:"), WithRetry(10*time.Millisecond, 3))
	kl, err := l.Lock(ctx, "coupon_a")
	assert.NoError(t, err)

	_, err = l.Lock(ctx, "coupon_a")
	assert.True(t, errors.Is(err, giftcoupon.ErrLocked))

	assert.NoError(t, l.UnLock(ctx, kl))

	kl, err = l.Lock(ctx, "coupon_a")
	assert.NoError(t, err)
	assert.NoError(t, l.UnLock(ctx, kl))
}

func TestInvalidKeyLock(t *testing.T) {
	l := NewRedisLock(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), time.Second)
	assert.Error(t, l.UnLock(context.Background(), "coupon_a"))
}

func TestRedisLockKeepAlive(t *testing.T) {
	cli := initClient(t)
	defer cli.Close()
	ctx := context.Background()

	l := NewRedisLock(cli, time.Second, WithPrefix("giftcoupon_test:"), WithRetry(10*time.Millisecond, 3))
	kl, err := l.Lock(ctx, "coupon_b")
	assert.NoError(t, err)
	keepCtx, stop := l.KeepAlive(ctx, kl)

	time.Sleep(1500 * time.Millisecond)
	_, err = l.Lock(ctx, "coupon_b")
	assert.True(t, errors.Is(err, giftcoupon.ErrLocked))
	assert.NoError(t, keepCtx.Err())

	stop()
	assert.NoError(t, l.UnLock(ctx, kl))
}

func TestRedisLockWaitUntilDeadline(t *testing.T) {
	cli := initClient(t)
	defer cli.Close()
	ctx := context.Background()

	l := NewRedisLock(cli, 5*time.Second, WithPrefix("giftcoupon_test:"))
	kl, err := l.Lock(ctx, "coupon_c")
	assert.NoError(t, err)
	go func() {
		time.Sleep(500 * time.Millisecond)
		_ = l.UnLock(ctx, kl)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	kl2, err := l.Lock(waitCtx, "coupon_c")
	assert.NoError(t, err)
	assert.NoError(t, l.UnLock(ctx, kl2))
}

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
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/bytedance/giftcoupon"
)

const defaultPrefix = "giftcoupon:"

type Options struct {
	Prefix          string        // key 前缀，多个服务共用 redis 时区分
	RetryBackoff    time.Duration // 重试间隔
	RetryLimit      int           // 最大重试次数，0 表示一直重试到 ctx 的 deadline
	RefreshInterval time.Duration // 持有期间的续期间隔，默认 ttl/3
}

type Option func(opt *Options)

func WithPrefix(prefix string) Option {
	return func(opt *Options) {
		opt.Prefix = prefix
	}
}

func WithRetry(backoff time.Duration, limit int) Option {
	return func(opt *Options) {
		opt.RetryBackoff, opt.RetryLimit = backoff, limit
	}
}

func WithRefreshInterval(d time.Duration) Option {
	return func(opt *Options) {
		opt.RefreshInterval = d
	}
}

// RedisLock 多实例部署时保护同一个 coupon 的兑换
type RedisLock struct {
	ttl time.Duration
	cli *redislock.Client
	opt Options
}

func NewRedisLock(cli redis.UniversalClient, ttl time.Duration, options ...Option) *RedisLock {
	opt := Options{
		Prefix:       defaultPrefix,
		RetryBackoff: 100 * time.Millisecond,
	}
	for _, o := range options {
		o(&opt)
	}
	if opt.RefreshInterval <= 0 {
		opt.RefreshInterval = ttl / 3
	}
	return &RedisLock{cli: redislock.New(cli), ttl: ttl, opt: opt}
}

func (r *RedisLock) Lock(ctx context.Context, key string) (keyLock interface{}, err error) {
	// 默认固定间隔重试，直到 ctx 结束；ctx 没有 deadline 时 redislock 以 ttl 为限
	strategy := redislock.LinearBackoff(r.opt.RetryBackoff)
	if r.opt.RetryLimit > 0 {
		strategy = redislock.LimitRetry(strategy, r.opt.RetryLimit)
	}
	l, err := r.cli.Obtain(ctx, r.opt.Prefix+key, r.ttl, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", giftcoupon.ErrLocked, key)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *RedisLock) UnLock(ctx context.Context, keyLock interface{}) error {
	l, ok := keyLock.(*redislock.Lock)
	if !ok {
		return fmt.Errorf("invalid key lock %T", keyLock)
	}
	// 锁已过期被释放的情况不视为错误
	if err := l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}
	return nil
}

// KeepAlive 在返回的 ctx 结束前定时刷新 ttl，锁丢失时取消该 ctx
func (r *RedisLock) KeepAlive(ctx context.Context, keyLock interface{}) (context.Context, context.CancelFunc) {
	subCtx, cancel := context.WithCancel(ctx)
	l, ok := keyLock.(*redislock.Lock)
	if !ok || r.opt.RefreshInterval <= 0 {
		return subCtx, cancel
	}
	go func() {
		ticker := time.NewTicker(r.opt.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(subCtx, r.ttl, nil); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	return subCtx, cancel
}

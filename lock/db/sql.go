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

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-logr/logr"
	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/bytedance/giftcoupon"
	"github.com/bytedance/giftcoupon/logger/stdr"
)

var defaultLogger = stdr.NewStdr("resource_lock")

const (
	// 定时协程每隔renewInterval 去续期，renewInterval必须小于ttl，以确保在本次ttl到期前，续期定时协程能及时续上。
	renewInterval = 1 * time.Second
	retryDelay    = 100 * time.Millisecond
)

// ctx 没有 deadline 时的重试次数
const fallbackAttempts = 5

type Options struct {
	RenewInterval time.Duration
	Retry         bool
	RetryDelay    time.Duration
	RetryAttempts uint // 0 表示一直重试到 ctx 的 deadline
	Logger        logr.Logger
}

type Option func(opt *Options)

// WithRetry 固定重试次数，attempts 为 0 时不重试
func WithRetry(delay time.Duration, attempts uint) Option {
	return func(opt *Options) {
		opt.Retry = attempts > 0
		opt.RetryDelay, opt.RetryAttempts = delay, attempts
	}
}

// WithRetryDelay 只设置重试间隔，一直重试到 ctx 的 deadline
func WithRetryDelay(delay time.Duration) Option {
	return func(opt *Options) {
		opt.Retry = true
		opt.RetryDelay, opt.RetryAttempts = delay, 0
	}
}

func WithRenewInterval(d time.Duration) Option {
	return func(opt *Options) {
		opt.RenewInterval = d
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(opt *Options) {
		opt.Logger = logger
	}
}

// DBLock 基于业务数据库的租约锁，适合没有 redis 的多实例部署
type DBLock struct {
	ttl    time.Duration
	db     *gorm.DB
	logger logr.Logger
	opt    Options
}

func NewDBLock(db *gorm.DB, ttl time.Duration, options ...Option) *DBLock {
	opt := Options{
		RenewInterval: renewInterval,
		Retry:         true,
		RetryDelay:    retryDelay,
		Logger:        defaultLogger,
	}
	for _, o := range options {
		o(&opt)
	}
	if ttl < opt.RenewInterval {
		panic(fmt.Sprintf("ttl can not less than %f seconds", opt.RenewInterval.Seconds()))
	}
	return &DBLock{db: db, ttl: ttl, logger: opt.Logger, opt: opt}
}

// AutoMigrate 创建锁表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ResourceLock{})
}

func (r *DBLock) Lock(ctx context.Context, key string) (keyLock interface{}, err error) {
	if !r.opt.Retry {
		return r.lock(ctx, key)
	}
	// 加锁失败后重试
	err = retry.Do(
		func() error {
			keyLock, err = r.lock(ctx, key)
			return err
		},
		retry.RetryIf(func(err error) bool { // 只针对 giftcoupon.ErrLocked 重试
			return errors.Is(err, giftcoupon.ErrLocked)
		}),
		retry.Context(ctx),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(r.opt.RetryDelay),
		retry.Attempts(r.attempts(ctx)),
		retry.LastErrorOnly(true),
	)
	return
}

// attempts 未指定重试次数时，按 ctx 剩余时间等待持有者释放
func (r *DBLock) attempts(ctx context.Context) uint {
	if r.opt.RetryAttempts > 0 {
		return r.opt.RetryAttempts
	}
	deadline, ok := ctx.Deadline()
	if !ok || r.opt.RetryDelay <= 0 {
		return fallbackAttempts
	}
	return uint(time.Until(deadline)/r.opt.RetryDelay) + 1
}

func (r *DBLock) lock(ctx context.Context, key string) (*ResourceLock, error) {
	db := r.db.WithContext(ctx)
	lockerID := xid.New().String()

	var lock ResourceLock
	err := db.Where("resource = ?", key).First(&lock).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to get resource %s lock, err: %w", key, err)
		}
		// 没有记录，也就是没有锁
		l := &ResourceLock{Resource: key, LockerID: lockerID}
		if err := db.Create(l).Error; err != nil {
			// 唯一索引冲突说明被其他 locker 抢先创建，不依赖驱动的错误翻译
			var count int64
			if cerr := db.Model(&ResourceLock{}).Where("resource = ?", key).Count(&count).Error; cerr == nil && count > 0 {
				return nil, fmt.Errorf("%w: %s", giftcoupon.ErrLocked, key)
			}
			return nil, fmt.Errorf("failed to create resource %s lock, err: %w", key, err)
		}
		return l, nil
	}
	if time.Since(lock.UpdatedAt) < r.ttl {
		return nil, fmt.Errorf("%w: %s", giftcoupon.ErrLocked, key)
	}

	// 有记录但是已经过期，以原 locker_id 作为条件接管
	res := db.Model(&ResourceLock{}).
		Where("resource = ? AND locker_id = ?", key, lock.LockerID).
		UpdateColumns(ResourceLock{UpdatedAt: time.Now(), LockerID: lockerID})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update resource %s lock: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", giftcoupon.ErrLocked, key)
	}
	r.logger.V(1).Info("expired lock taken over", "resource", key, "previous", lock.LockerID)
	lock.LockerID = lockerID
	return &lock, nil
}

func (r *DBLock) UnLock(ctx context.Context, keyLock interface{}) error {
	l, ok := keyLock.(*ResourceLock)
	if !ok || l == nil {
		return fmt.Errorf("invalid key lock %T", keyLock)
	}
	res := r.db.WithContext(ctx).Where("locker_id = ? AND resource = ?", l.LockerID, l.Resource).Delete(&ResourceLock{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected <= 0 {
		// 锁已过期并被其他 locker 接管
		return fmt.Errorf("lock record not found (id=%s resource=%s)", l.LockerID, l.Resource)
	}
	return nil
}

func (r *DBLock) renew(ctx context.Context, l *ResourceLock) error {
	res := r.db.WithContext(ctx).
		Model(&ResourceLock{}).
		Where("resource = ? AND locker_id = ?", l.Resource, l.LockerID).
		UpdateColumns(ResourceLock{UpdatedAt: time.Now(), LockerID: l.LockerID})
	if res.Error != nil {
		return fmt.Errorf("failed to renew resource %s lock: %w", l.Resource, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("resource %s taken by others", l.Resource)
	}
	return nil
}

// KeepAlive 在返回的 ctx 结束前定时续期，续期失败时取消该 ctx
func (r *DBLock) KeepAlive(ctx context.Context, keyLock interface{}) (context.Context, context.CancelFunc) {
	subCtx, cancel := context.WithCancel(ctx)
	l, ok := keyLock.(*ResourceLock)
	if !ok || l == nil {
		return subCtx, cancel
	}
	go func() {
		ticker := time.NewTicker(r.opt.RenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				if err := r.renew(subCtx, l); err != nil {
					if subCtx.Err() == nil {
						r.logger.Info("failed to renew lock", "resource", l.Resource, "error", err.Error())
					}
					cancel()
					return
				}
			}
		}
	}()
	return subCtx, cancel
}

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

package giftcoupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/bytedance/giftcoupon/logger/stdr"
)

const defaultStoreTimeout = 5 * time.Second
const defaultDispatchTimeout = 500 * time.Millisecond

const seedLockKey = "coupon_seed"

var defaultLogger = stdr.NewStdr("giftcoupon")

type ILock interface {
	Lock(ctx context.Context, key string) (keyLock interface{}, err error)
	UnLock(ctx context.Context, keyLock interface{}) error
}

// ILeaseLock 有租期的锁，持有期间由 KeepAlive 续期，续期失败时取消返回的 ctx
type ILeaseLock interface {
	ILock
	KeepAlive(ctx context.Context, keyLock interface{}) (context.Context, context.CancelFunc)
}

// ICouponStore coupon 的持久化，存储层负责把行数据转换为 Coupon，业务层只接触 Coupon
type ICouponStore interface {
	// List 按存储顺序返回全部 coupon
	List(ctx context.Context) ([]*Coupon, error)
	// Redeem 未兑换时写入 used/used_at/redeemed_by 并返回更新后的 coupon
	// 找不到返回 ErrNotFound，已兑换返回 ErrAlreadyUsed 且不做任何修改
	Redeem(ctx context.Context, id string, r Redemption) (*Coupon, error)
	// Seed 存储中没有 coupon 时批量写入，已有数据返回 ErrAlreadyExists
	Seed(ctx context.Context, coupons []*Coupon) (int, error)
}

type PostRedeemFunc func(ctx context.Context, coupon *Coupon)

type Options struct {
	Logger          logr.Logger
	EventBus        IEventBus
	PostRedeemHooks []PostRedeemFunc
	Redeemer        string
	Catalogue       []*Coupon
	SeedToken       string
	StoreTimeout    time.Duration
	DispatchTimeout time.Duration
	Clock           func() time.Time
}

type Option interface {
	ApplyToOptions(*Options)
}

type LoggerOption struct {
	logger logr.Logger
}

func (t LoggerOption) ApplyToOptions(opts *Options) {
	opts.Logger = t.logger
}

func WithLogger(logger logr.Logger) LoggerOption {
	return LoggerOption{logger: logger}
}

type EventBusOption struct {
	eventBus IEventBus
}

func (t EventBusOption) ApplyToOptions(opts *Options) {
	opts.EventBus = t.eventBus
}

func WithEventBus(eventBus IEventBus) EventBusOption {
	return EventBusOption{eventBus: eventBus}
}

type PostRedeemOption PostRedeemFunc

func (t PostRedeemOption) ApplyToOptions(opts *Options) {
	opts.PostRedeemHooks = append(opts.PostRedeemHooks, PostRedeemFunc(t))
}

// WithPostRedeem 兑换写入并发出事件后的回调，在锁释放后同步执行，不能阻塞
func WithPostRedeem(f PostRedeemFunc) PostRedeemOption {
	return PostRedeemOption(f)
}

type RedeemerOption string

func (t RedeemerOption) ApplyToOptions(opts *Options) {
	if t != "" {
		opts.Redeemer = string(t)
	}
}

func WithRedeemer(name string) RedeemerOption {
	return RedeemerOption(name)
}

type CatalogueOption []*Coupon

func (t CatalogueOption) ApplyToOptions(opts *Options) {
	opts.Catalogue = t
}

func WithCatalogue(coupons []*Coupon) CatalogueOption {
	return CatalogueOption(coupons)
}

type SeedTokenOption string

func (t SeedTokenOption) ApplyToOptions(opts *Options) {
	opts.SeedToken = string(t)
}

// WithSeedToken 设置后 Seed 必须携带相同的 token
func WithSeedToken(token string) SeedTokenOption {
	return SeedTokenOption(token)
}

type StoreTimeoutOption time.Duration

func (t StoreTimeoutOption) ApplyToOptions(opts *Options) {
	if t > 0 {
		opts.StoreTimeout = time.Duration(t)
	}
}

func WithStoreTimeout(d time.Duration) StoreTimeoutOption {
	return StoreTimeoutOption(d)
}

type DispatchTimeoutOption time.Duration

func (t DispatchTimeoutOption) ApplyToOptions(opts *Options) {
	if t > 0 {
		opts.DispatchTimeout = time.Duration(t)
	}
}

// WithDispatchTimeout 兑换事件投递的最长等待，超时只记录日志
func WithDispatchTimeout(d time.Duration) DispatchTimeoutOption {
	return DispatchTimeoutOption(d)
}

type ClockOption func() time.Time

func (t ClockOption) ApplyToOptions(opts *Options) {
	opts.Clock = t
}

func WithClock(clock func() time.Time) ClockOption {
	return ClockOption(clock)
}

// Service coupon 的查询、兑换与初始化
// 兑换在 ILock 保护下执行 读取-校验-写入，保证同一个 coupon 并发兑换只有一个成功
type Service struct {
	locker   ILock
	store    ICouponStore
	eventBus IEventBus
	router   *eventRouter
	logger   logr.Logger
	options  Options
}

// NewService l 为 nil 时不加锁，只有存储本身支持条件写入（如 store/sql）时才是安全的
// store 为 nil 时所有存储相关操作返回 ErrConfiguration
func NewService(l ILock, store ICouponStore, opts ...Option) *Service {
	options := Options{
		Logger:          defaultLogger,
		EventBus:        &noEventBus{},
		Redeemer:        DefaultRedeemer,
		Catalogue:       DefaultCatalogue,
		StoreTimeout:    defaultStoreTimeout,
		DispatchTimeout: defaultDispatchTimeout,
		Clock:           time.Now,
	}
	for _, opt := range opts {
		opt.ApplyToOptions(&options)
	}
	router := newEventRouter()
	options.EventBus.RegisterEventHandler(router.onEvent)
	return &Service{
		locker:   l,
		store:    store,
		eventBus: options.EventBus,
		router:   router,
		logger:   options.Logger,
		options:  options,
	}
}

// RegisterEventHandler 注册领域事件处理器，handler 格式见 EventHandler
func (s *Service) RegisterEventHandler(t EventType, handler EventHandler) {
	s.router.register(t, handler)
}

// ListCoupons 每次都从存储重新读取，不做缓存
func (s *Service) ListCoupons(ctx context.Context) ([]*Coupon, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: coupon store not configured", ErrConfiguration)
	}
	ctx, cancel := context.WithTimeout(ctx, s.options.StoreTimeout)
	defer cancel()

	coupons, err := s.store.List(ctx)
	if err != nil {
		return nil, storeError("list coupons", err)
	}
	return coupons, nil
}

// Redeem 兑换 coupon，requestedAt 非空时原样作为兑换时间，否则使用服务端当前时间
func (s *Service) Redeem(ctx context.Context, id string, requestedAt *string) (*Coupon, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: missing coupon id", ErrValidation)
	}
	if s.store == nil {
		return nil, fmt.Errorf("%w: coupon store not configured", ErrConfiguration)
	}

	r := Redemption{
		UsedAt:     formatTime(s.options.Clock()),
		RedeemedBy: s.options.Redeemer,
	}
	if requestedAt != nil && *requestedAt != "" {
		r.UsedAt = *requestedAt
	}

	var coupon *Coupon
	err := s.runOnLock(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.options.StoreTimeout)
		defer cancel()

		var err error
		coupon, err = s.store.Redeem(ctx, id, r)
		return storeError("redeem coupon", err)
	}, redeemLockKey(id))
	if err != nil {
		return nil, err
	}
	s.logger.Info("coupon redeemed", "id", coupon.ID, "used_at", r.UsedAt)

	s.postRedeem(ctx, coupon)
	return coupon, nil
}

// Seed 写入初始 coupon 列表，返回写入条数
func (s *Service) Seed(ctx context.Context, token string) (int, error) {
	if s.options.SeedToken != "" && token != s.options.SeedToken {
		return 0, fmt.Errorf("%w: invalid seed token", ErrUnauthorized)
	}
	if s.store == nil {
		return 0, fmt.Errorf("%w: coupon store not configured", ErrConfiguration)
	}

	coupons := freshCatalogue(s.options.Catalogue)
	var count int
	err := s.runOnLock(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.options.StoreTimeout)
		defer cancel()

		var err error
		count, err = s.store.Seed(ctx, coupons)
		return storeError("seed coupons", err)
	}, seedLockKey)
	if err != nil {
		return 0, err
	}
	s.logger.Info("coupons seeded", "count", count)
	return count, nil
}

// postRedeem 兑换已经持久化，这里的任何失败都只记录日志
func (s *Service) postRedeem(ctx context.Context, coupon *Coupon) {
	evt := NewDomainEvent(&CouponRedeemedEvent{
		CouponID:   coupon.ID,
		Name:       coupon.Name,
		UsedAt:     deref(coupon.UsedAt),
		RedeemedBy: deref(coupon.RedeemedBy),
	})
	dctx, cancel := context.WithTimeout(ctx, s.options.DispatchTimeout)
	defer cancel()
	if err := s.eventBus.Dispatch(dctx, evt); err != nil {
		if errors.Is(err, ErrNoEventBusFound) {
			s.logger.V(1).Info("no eventbus, redeem event dropped", "id", coupon.ID)
		} else {
			s.logger.Error(err, "dispatch redeem event failed", "id", coupon.ID)
		}
	}

	for _, h := range s.options.PostRedeemHooks {
		h(ctx, coupon)
	}
}

// runOnLock 等锁最多 StoreTimeout，持有者在此期间完成时后来者拿到锁再读到最新状态
func (s *Service) runOnLock(ctx context.Context, f func(ctx context.Context) error, key string) error {
	if s.locker == nil {
		return f(ctx)
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.options.StoreTimeout)
	l, err := s.locker.Lock(lockCtx, key)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: acquiring locker %s failed: %w", ErrStore, key, err)
	}
	defer func() {
		// 请求 ctx 被取消时也要释放，否则锁要等到 ttl 过期
		if err := s.locker.UnLock(context.WithoutCancel(ctx), l); err != nil {
			s.logger.Error(err, "unlock failed", "key", key)
		}
	}()

	if lease, ok := s.locker.(ILeaseLock); ok {
		var stop context.CancelFunc
		ctx, stop = lease.KeepAlive(ctx, l)
		defer stop()
	}
	return f(ctx)
}

func redeemLockKey(id string) string {
	return fmt.Sprintf("coupon_%s", id)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

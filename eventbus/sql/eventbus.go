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

package sql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"github.com/robfig/cron"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bytedance/giftcoupon"
	"github.com/bytedance/giftcoupon/logger/stdr"
)

const retryInterval = time.Second * 3
const retryLimit = 5
const runInterval = time.Millisecond * 100

// 每天凌晨两点执行clean，robfig/cron 的表达式第一位是秒
const cleanCron = "0 0 2 * * *"

// 消费完成的event保留一段时间以便追查问题
const retentionTime = 48 * time.Hour
const consumeConcurrent = 1 // 事件处理并发数
const limitPerRun = 100     // 单次 handleEvents 处理的事件数
const cleanBatch = 100

var ErrServiceNotCreate = fmt.Errorf("service not create")

var defaultLogger = stdr.NewStdr("sql_eventbus")

type IRetryStrategy interface {
	// Next 获取下一次重试的策略，返回 nil 表示不再重试
	// 当 RetryInfo.RetryCount == 0 表示初始化状态，通过 Next 获取第一次重试信息
	Next(info *RetryInfo) *RetryInfo
}

// LimitRetry 设定最大重试次数，不指定间隔
type LimitRetry struct {
	Limit int
}

func (c *LimitRetry) Next(info *RetryInfo) *RetryInfo {
	if info.RetryCount > c.Limit {
		return nil
	}
	return &RetryInfo{
		ID:         info.ID,
		RetryCount: info.RetryCount + 1,
		RetryTime:  time.Now(),
	}
}

// IntervalRetry 指定固定间隔和次数
type IntervalRetry struct {
	Interval time.Duration
	Limit    int
}

func (c *IntervalRetry) Next(info *RetryInfo) *RetryInfo {
	if info.RetryCount > c.Limit {
		return nil
	}
	lastTime := info.RetryTime
	if info.RetryCount == 0 {
		lastTime = time.Now()
	}
	return &RetryInfo{
		ID:         info.ID,
		RetryCount: info.RetryCount + 1,
		RetryTime:  lastTime.Add(c.Interval),
	}
}

// CustomRetry 自定义重试次数和间隔
type CustomRetry struct {
	Intervals []time.Duration
}

func (c *CustomRetry) Next(info *RetryInfo) *RetryInfo {
	if info.RetryCount >= len(c.Intervals) {
		return nil
	}
	lastTime := info.RetryTime
	if info.RetryCount == 0 {
		lastTime = time.Now()
	}
	return &RetryInfo{
		ID:         info.ID,
		RetryCount: info.RetryCount + 1,
		RetryTime:  lastTime.Add(c.Intervals[info.RetryCount]),
	}
}

type Options struct {
	// 重试策略：有两种方式
	// 1, RetryInterval + RetryLimit 表示固定间隔重试
	// 2, CustomRetry 表示自定义间隔重试
	RetryLimit    int             // 重试次数
	RetryInterval time.Duration   // 重试间隔
	CustomRetry   []time.Duration // 自定义重试间隔

	DefaultOffset     *int64        // 首次消费的起始 offset，不指定时从第一条事件开始
	RunInterval       time.Duration // 默认轮询间隔
	CleanCron         string        // 默认清理周期
	RetentionTime     time.Duration // 消费完成的event在db里的保留时间
	LimitPerRun       int           // 每次轮询最大的处理条数
	ConsumeConcurrent int           // 事件消费的并发数
	RetryStrategy     IRetryStrategy
	Logger            logr.Logger
}

type Option func(opt *Options)

// WithRetryInterval 固定间隔重试 limit 次
func WithRetryInterval(interval time.Duration, limit int) Option {
	return func(opt *Options) {
		opt.RetryInterval, opt.RetryLimit = interval, limit
	}
}

// WithCustomRetry 按给定的间隔依次重试
func WithCustomRetry(intervals ...time.Duration) Option {
	return func(opt *Options) {
		opt.CustomRetry = intervals
	}
}

func WithRetryStrategy(strategy IRetryStrategy) Option {
	return func(opt *Options) {
		opt.RetryStrategy = strategy
	}
}

// WithDefaultOffset 消费者首次消费时跳过 id 不大于 offset 的事件
func WithDefaultOffset(offset int64) Option {
	return func(opt *Options) {
		opt.DefaultOffset = &offset
	}
}

func WithRunInterval(d time.Duration) Option {
	return func(opt *Options) {
		opt.RunInterval = d
	}
}

func WithCleanCron(spec string) Option {
	return func(opt *Options) {
		opt.CleanCron = spec
	}
}

func WithRetentionTime(d time.Duration) Option {
	return func(opt *Options) {
		opt.RetentionTime = d
	}
}

func WithLimitPerRun(limit int) Option {
	return func(opt *Options) {
		opt.LimitPerRun = limit
	}
}

// WithConsumeConcurrent 同一批事件的并发处理数，大于 1 时不保证处理顺序
func WithConsumeConcurrent(n int) Option {
	return func(opt *Options) {
		if n > 0 {
			opt.ConsumeConcurrent = n
		}
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(opt *Options) {
		opt.Logger = logger
	}
}

// EventBus 领域事件先持久化到数据库，再由轮询协程推送给处理器
// 通知发送失败时按重试策略重试，超过次数的事件记录在 Failed 中等待人工处理
type EventBus struct {
	serviceName   string
	db            *gorm.DB
	logger        logr.Logger
	opt           Options
	retryStrategy IRetryStrategy

	cb        giftcoupon.DomainEventHandler
	cleanCron *cron.Cron
	once      sync.Once
}

// NewEventBus 需要在业务数据库提前创建符合 EventPO, ServicePO 描述的库表，可以使用 AutoMigrate
// 参数：serviceName 消费者名，同名消费者之间只有一个在消费
// 用法：eventBus := NewEventBus("giftcoupon", db); giftcoupon.NewService(lock, store, eventBus.Options()...)
func NewEventBus(serviceName string, db *gorm.DB, options ...Option) *EventBus {
	if utf8.RuneCountInString(serviceName) > 30 {
		panic("serviceName must less than 30 chars")
	}

	opt := Options{
		RunInterval:       runInterval,
		CleanCron:         cleanCron,
		RetentionTime:     retentionTime,
		ConsumeConcurrent: consumeConcurrent,
		LimitPerRun:       limitPerRun,
		Logger:            defaultLogger,
	}
	for _, o := range options {
		o(&opt)
	}
	if _, err := cron.Parse(opt.CleanCron); err != nil {
		panic(fmt.Sprintf("cron expression %s is invalid", opt.CleanCron))
	}
	if opt.RetentionTime < 0 {
		panic(fmt.Sprintf("retentionTime %v can not be negative", opt.RetentionTime))
	}
	var strategy IRetryStrategy
	if opt.RetryStrategy != nil {
		strategy = opt.RetryStrategy
	} else if opt.RetryInterval > 0 {
		strategy = &IntervalRetry{Interval: opt.RetryInterval, Limit: opt.RetryLimit}
	} else if len(opt.CustomRetry) > 0 {
		strategy = &CustomRetry{Intervals: opt.CustomRetry}
	} else {
		strategy = &IntervalRetry{Interval: retryInterval, Limit: retryLimit}
	}

	eb := &EventBus{
		serviceName:   serviceName,
		db:            db,
		logger:        opt.Logger,
		retryStrategy: strategy,
		opt:           opt,
		cleanCron:     cron.New(),
	}
	if err := eb.initService(); err != nil {
		eb.logger.Error(err, "init eventbus service failed", "service", serviceName)
	}
	return eb
}

// AutoMigrate 创建事件表与消费者表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventPO{}, &ServicePO{})
}

// Options 作为 Service 的 EventBus，并在兑换后立即触发一次消费
func (e *EventBus) Options() []giftcoupon.Option {
	return []giftcoupon.Option{
		giftcoupon.WithEventBus(e),
		giftcoupon.WithPostRedeem(e.onPostRedeem),
	}
}

func (e *EventBus) Dispatch(ctx context.Context, events ...*giftcoupon.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	pos := make([]*EventPO, len(events))
	for i, evt := range events {
		pos[i] = eventPersist(evt)
	}
	return e.db.WithContext(ctx).Create(pos).Error
}

func (e *EventBus) RegisterEventHandler(cb giftcoupon.DomainEventHandler) {
	e.cb = cb
}

// onPostRedeem 事件已经落库，立即触发一次消费，不必等待下一个轮询周期
func (e *EventBus) onPostRedeem(ctx context.Context, coupon *giftcoupon.Coupon) {
	go func() {
		_ = e.handleEvents()
	}()
}

func (e *EventBus) initService() error {
	service := &ServicePO{}
	return e.db.Where(ServicePO{Name: e.serviceName}).FirstOrCreate(service).Error
}

func (e *EventBus) lockService(tx *gorm.DB) (*ServicePO, error) {
	service := &ServicePO{}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", e.serviceName).
		First(service).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServiceNotCreate
		}
		return nil, err
	}
	return service, nil
}

func (e *EventBus) getScanEvents(db *gorm.DB, service *ServicePO) ([]*EventPO, error) {
	if service.Offset == 0 && e.opt.DefaultOffset != nil {
		service.Offset = *e.opt.DefaultOffset
	}
	eventPOs := make([]*EventPO, 0)
	query := db.Where("id > ?", service.Offset)
	if err := query.Order("id").Limit(e.opt.LimitPerRun).Find(&eventPOs).Error; err != nil {
		return nil, err
	}
	return eventPOs, nil
}

func (e *EventBus) getRetryEvents(db *gorm.DB, service *ServicePO) ([]*EventPO, error) {
	now := time.Now()
	retryIDs := make([]int64, 0)
	for _, info := range service.Retry {
		if info.RetryTime.Before(now) {
			retryIDs = append(retryIDs, info.ID)
		}
	}
	if len(retryIDs) == 0 {
		return nil, nil
	}

	eventPOs := make([]*EventPO, 0)
	if err := db.Where("id in ?", retryIDs).Order("id").Find(&eventPOs).Error; err != nil {
		return nil, err
	}
	return eventPOs, nil
}

// doRetryStrategy 计算新的重试列表，未到重试时间的事件保留原状态
func (e *EventBus) doRetryStrategy(service *ServicePO, handled map[int64]bool, failedIDs []int64) (retry, failed []*RetryInfo) {
	retryInfos := make(map[int64]*RetryInfo)
	for _, info := range service.Retry {
		retryInfos[info.ID] = info
		if !handled[info.ID] {
			retry = append(retry, info)
		}
	}

	for _, id := range failedIDs {
		info := retryInfos[id]
		if info == nil {
			info = &RetryInfo{ID: id}
		}

		newInfo := e.retryStrategy.Next(info)
		if newInfo != nil {
			retry = append(retry, newInfo)
		} else {
			failed = append(failed, info)
		}
	}
	return
}

func (e *EventBus) dispatchEvents(ctx context.Context, eventPOs []*EventPO) (success, failed []int64) {
	events := make(chan *EventPO, len(eventPOs))
	for _, po := range eventPOs {
		events <- po
	}
	close(events)

	mu := sync.Mutex{}
	wg := sync.WaitGroup{}
	for i := 0; i < e.opt.ConsumeConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for po := range events {
				err := e.cb(ctx, po.Event)
				mu.Lock()
				if err != nil {
					e.logger.Error(err, "handle event failed", "id", po.ID, "event_id", po.EventID)
					failed = append(failed, po.ID)
				} else {
					success = append(success, po.ID)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return
}

func (e *EventBus) handleEvents() error {
	if e.cb == nil {
		return nil
	}
	return e.db.Transaction(func(tx *gorm.DB) error {
		ctx := context.Background()
		service, err := e.lockService(tx)
		if err != nil {
			return err
		}
		scanEvents, err := e.getScanEvents(tx, service)
		if err != nil {
			return err
		}
		retryEvents, err := e.getRetryEvents(tx, service)
		if err != nil {
			return err
		}
		events := make([]*EventPO, 0)
		events = append(events, scanEvents...)
		events = append(events, retryEvents...)
		if len(events) == 0 {
			return nil
		}

		handled := make(map[int64]bool, len(events))
		for _, po := range events {
			handled[po.ID] = true
		}
		_, failedIDs := e.dispatchEvents(ctx, events)
		retry, failed := e.doRetryStrategy(service, handled, failedIDs)
		service.Retry = retry
		service.Failed = append(service.Failed, failed...)
		if len(scanEvents) > 0 {
			last := scanEvents[len(scanEvents)-1]
			service.Offset = last.ID
		}
		return tx.Save(service).Error
	})
}

// cleanEvents 清理已被所有消费者消费且超过保留时间的事件
// 重试中与失败的事件不能删，失败事件相当于死信队列，留给人工判断
func (e *EventBus) cleanEvents() error {
	var services []*ServicePO
	if err := e.db.Find(&services).Error; err != nil {
		return err
	}
	if len(services) == 0 {
		return nil
	}
	keep := map[int64]bool{}
	minOffset := services[0].Offset
	for _, service := range services {
		for _, si := range service.Retry {
			keep[si.ID] = true
		}
		for _, si := range service.Failed {
			keep[si.ID] = true
		}
		if service.Offset < minOffset {
			minOffset = service.Offset
		}
	}
	if minOffset == 0 {
		// 还未触发消费，暂时不考虑清理
		return nil
	}

	ids := make([]int64, 0)
	needCleanAt := time.Now().Add(-e.opt.RetentionTime)
	if err := e.db.Model(&EventPO{}).
		Where("id <= ? AND created_at < ?", minOffset, needCleanAt).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return err
	}

	batch := make([]int64, 0, cleanBatch)
	deleted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.db.Where("id in ?", batch).Delete(&EventPO{}).Error; err != nil {
			return err
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}
	for _, id := range ids {
		if keep[id] {
			continue
		}
		batch = append(batch, id)
		if len(batch) >= cleanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	e.logger.Info("clean events", "deleted", deleted)
	return nil
}

// FailedEvents 超过重试次数的事件
func (e *EventBus) FailedEvents(ctx context.Context) ([]*giftcoupon.DomainEvent, error) {
	service := &ServicePO{}
	if err := e.db.WithContext(ctx).Where("name = ?", e.serviceName).First(service).Error; err != nil {
		return nil, err
	}
	if len(service.Failed) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(service.Failed))
	for i, info := range service.Failed {
		ids[i] = info.ID
	}
	pos := make([]*EventPO, 0)
	if err := e.db.WithContext(ctx).Where("id in ?", ids).Order("id").Find(&pos).Error; err != nil {
		return nil, err
	}
	events := make([]*giftcoupon.DomainEvent, len(pos))
	for i, po := range pos {
		events[i] = po.Event
	}
	return events, nil
}

// Start 启动轮询与定时清理，ctx 结束后停止
func (e *EventBus) Start(ctx context.Context) {
	run := func() {
		// 定时触发event_handler
		ticker := time.NewTicker(e.opt.RunInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.cleanCron.Stop()
				return
			case <-ticker.C:
			}
			if err := e.handleEvents(); err != nil {
				if errors.Is(err, ErrServiceNotCreate) {
					_ = e.initService()
				}
				e.logger.Error(err, "handler events err")
			}
		}
	}
	// 确保只启动一次
	e.once.Do(func() {
		// 添加定时清理任务
		if err := e.cleanCron.AddFunc(e.opt.CleanCron, func() {
			if err := e.cleanEvents(); err != nil {
				e.logger.Error(err, "clean events err")
			}
		}); err != nil {
			panic(err)
		}
		e.cleanCron.Start()
		go run()
	})
}

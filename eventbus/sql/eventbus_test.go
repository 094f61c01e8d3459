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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/bytedance/giftcoupon"
	"github.com/bytedance/giftcoupon/lock/mem"
	"github.com/bytedance/giftcoupon/store/sheet"
	"github.com/bytedance/giftcoupon/testsuit"
)

func initDB(t *testing.T) *gorm.DB {
	db := testsuit.InitDB(t.Name())
	assert.NoError(t, db.Migrator().DropTable(&EventPO{}, &ServicePO{}))
	assert.NoError(t, AutoMigrate(db))
	return db
}

func newEvent(id string) *giftcoupon.DomainEvent {
	return giftcoupon.NewDomainEvent(&giftcoupon.CouponRedeemedEvent{CouponID: id})
}

func getService(t *testing.T, db *gorm.DB, name string) *ServicePO {
	service := &ServicePO{}
	assert.NoError(t, db.Where("name = ?", name).First(service).Error)
	return service
}

func TestEventBusConsume(t *testing.T) {
	db := initDB(t)
	ctx := context.Background()

	mu := sync.Mutex{}
	senders := make([]string, 0)
	eventBus := NewEventBus("test_consume", db, WithLimitPerRun(3))
	eventBus.RegisterEventHandler(func(ctx context.Context, evt *giftcoupon.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		senders = append(senders, evt.Sender)
		return nil
	})

	for i := 0; i < 5; i++ {
		assert.NoError(t, eventBus.Dispatch(ctx, newEvent(fmt.Sprintf("c%d", i))))
	}
	assert.NoError(t, eventBus.handleEvents())
	assert.Equal(t, []string{"c0", "c1", "c2"}, senders)
	assert.NoError(t, eventBus.handleEvents())
	assert.NoError(t, eventBus.handleEvents())
	assert.Equal(t, []string{"c0", "c1", "c2", "c3", "c4"}, senders)

	last := &EventPO{}
	assert.NoError(t, db.Order("id desc").First(last).Error)
	assert.Equal(t, last.ID, getService(t, db, "test_consume").Offset)
}

func TestEventBusDefaultOffset(t *testing.T) {
	db := initDB(t)
	ctx := context.Background()

	writer := NewEventBus("test_offset_writer", db)
	assert.NoError(t, writer.Dispatch(ctx, newEvent("old1"), newEvent("old2")))
	last := &EventPO{}
	assert.NoError(t, db.Order("id desc").First(last).Error)

	senders := make([]string, 0)
	eventBus := NewEventBus("test_offset", db, WithDefaultOffset(last.ID))
	eventBus.RegisterEventHandler(func(ctx context.Context, evt *giftcoupon.DomainEvent) error {
		senders = append(senders, evt.Sender)
		return nil
	})
	assert.NoError(t, eventBus.Dispatch(ctx, newEvent("new")))
	assert.NoError(t, eventBus.handleEvents())
	assert.Equal(t, []string{"new"}, senders)
}

func TestEventBusConsumeConcurrent(t *testing.T) {
	db := initDB(t)
	ctx := context.Background()

	mu := sync.Mutex{}
	senders := map[string]bool{}
	eventBus := NewEventBus("test_concurrent", db, WithConsumeConcurrent(4), WithLimitPerRun(10))
	eventBus.RegisterEventHandler(func(ctx context.Context, evt *giftcoupon.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		senders[evt.Sender] = true
		return nil
	})
	for i := 0; i < 8; i++ {
		assert.NoError(t, eventBus.Dispatch(ctx, newEvent(fmt.Sprintf("c%d", i))))
	}
	assert.NoError(t, eventBus.handleEvents())
	assert.Len(t, senders, 8)
	assert.Empty(t, getService(t, db, "test_concurrent").Retry)

	// 非正数不改变默认并发
	assert.Equal(t, consumeConcurrent, NewEventBus("test_concurrent_zero", db, WithConsumeConcurrent(0)).opt.ConsumeConcurrent)
}

func TestEventBusFailed(t *testing.T) {
	db := initDB(t)
	ctx := context.Background()

	counts := map[string]int{}
	eventBus := NewEventBus("test_fail", db, WithRetryStrategy(&LimitRetry{Limit: 1}))
	eventBus.RegisterEventHandler(func(ctx context.Context, evt *giftcoupon.DomainEvent) error {
		counts[evt.Sender]++
		if evt.Sender == "bad" {
			return fmt.Errorf("failed")
		}
		return nil
	})

	assert.NoError(t, eventBus.Dispatch(ctx, newEvent("bad"), newEvent("good")))
	for i := 0; i < 6; i++ {
		assert.NoError(t, eventBus.handleEvents())
		time.Sleep(2 * time.Millisecond)
	}

	assert.Equal(t, 3, counts["bad"])
	assert.Equal(t, 1, counts["good"])

	service := getService(t, db, "test_fail")
	assert.Empty(t, service.Retry)
	assert.Len(t, service.Failed, 1)

	failed, err := eventBus.FailedEvents(ctx)
	assert.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Sender)
}

func TestEventBusRetryThenSuccess(t *testing.T) {
	db := initDB(t)
	ctx := context.Background()

	calls := 0
	eventBus := NewEventBus("test_retry", db, WithRetryInterval(10*time.Millisecond, 3))
	eventBus.RegisterEventHandler(func(ctx context.Context, evt *giftcoupon.DomainEvent) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("provider down")
		}
		return nil
	})

	assert.NoError(t, eventBus.Dispatch(ctx, newEvent("sopar-especial")))
	for i := 0; i < 5; i++ {
		assert.NoError(t, eventBus.handleEvents())
		time.Sleep(20 * time.Millisecond)
	}

	assert.Equal(t, 2, calls)
	service := getService(t, db, "test_retry")
	assert.Empty(t, service.Retry)
	assert.Empty(t, service.Failed)
}

func TestEventBusRetryNotDue(t *testing.T) {
	db := initDB(t)
	ctx := context.Background()

	calls := 0
	eventBus := NewEventBus("test_not_due", db, WithCustomRetry(time.Hour))
	eventBus.RegisterEventHandler(func(ctx context.Context, evt *giftcoupon.DomainEvent) error {
		calls++
		return fmt.Errorf("failed")
	})

	assert.NoError(t, eventBus.Dispatch(ctx, newEvent("a")))
	assert.NoError(t, eventBus.handleEvents())
	assert.NoError(t, eventBus.Dispatch(ctx, newEvent("b")))
	assert.NoError(t, eventBus.handleEvents())

	// 未到重试时间的事件继续保留在重试列表
	assert.Equal(t, 2, calls)
	assert.Len(t, getService(t, db, "test_not_due").Retry, 2)
}

func TestCleanEvents(t *testing.T) {
	db := initDB(t)
	ctx := context.Background()

	eventBus := NewEventBus("test_clean", db, WithRetentionTime(0), WithRetryStrategy(&LimitRetry{Limit: -1}))
	eventBus.RegisterEventHandler(func(ctx context.Context, evt *giftcoupon.DomainEvent) error {
		if evt.Sender == "bad" {
			return fmt.Errorf("failed")
		}
		return nil
	})

	assert.NoError(t, eventBus.Dispatch(ctx, newEvent("a"), newEvent("bad"), newEvent("b")))
	assert.NoError(t, eventBus.handleEvents())
	time.Sleep(5 * time.Millisecond)
	assert.NoError(t, eventBus.cleanEvents())

	remain := make([]*EventPO, 0)
	assert.NoError(t, db.Find(&remain).Error)
	assert.Len(t, remain, 1)
	assert.Equal(t, "bad", remain[0].Event.Sender)
}

func TestCleanEventsNotConsumed(t *testing.T) {
	db := initDB(t)
	eventBus := NewEventBus("test_clean_none", db, WithRetentionTime(0))
	assert.NoError(t, eventBus.Dispatch(context.Background(), newEvent("a")))
	assert.NoError(t, eventBus.cleanEvents())

	var count int64
	db.Model(&EventPO{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestInvalidOptions(t *testing.T) {
	db := initDB(t)
	assert.Panics(t, func() { NewEventBus("a_service_name_longer_than_thirty", db) })
	assert.Panics(t, func() {
		NewEventBus("test", db, WithCleanCron("bad cron"))
	})
}

func TestService(t *testing.T) {
	db := initDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := NewEventBus("test_service", db)
	eventBus.Start(ctx)

	svc := giftcoupon.NewService(mem.NewLock(), sheet.NewStore(testsuit.NewMemTable()), eventBus.Options()...)
	redeemed := make(chan *giftcoupon.CouponRedeemedEvent, 1)
	svc.RegisterEventHandler(giftcoupon.EventCouponRedeemed, func(ctx context.Context, evt *giftcoupon.CouponRedeemedEvent) error {
		redeemed <- evt
		return nil
	})

	_, err := svc.Seed(ctx, "")
	assert.NoError(t, err)
	_, err = svc.Redeem(ctx, "sopar-especial", nil)
	assert.NoError(t, err)

	select {
	case evt := <-redeemed:
		assert.Equal(t, "sopar-especial", evt.CouponID)
		assert.Equal(t, "Sopar especial", evt.Name)
		assert.Equal(t, giftcoupon.DefaultRedeemer, evt.RedeemedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("redeem event not consumed")
	}
}

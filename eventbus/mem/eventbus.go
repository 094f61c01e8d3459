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

package mem

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/bytedance/giftcoupon"
	"github.com/bytedance/giftcoupon/logger/stdr"
)

const defaultCapacity = 100

var defaultLogger = stdr.NewStdr("mem_eventbus")

// MemoryEventBus 进程内异步事件总线，进程退出时未消费的事件会丢失
type MemoryEventBus struct {
	ch     chan *giftcoupon.DomainEvent
	cb     giftcoupon.DomainEventHandler
	logger logr.Logger

	once sync.Once
	done chan struct{}
}

func NewEventBus(capacity int, logger ...logr.Logger) *MemoryEventBus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	l := defaultLogger
	if len(logger) > 0 {
		l = logger[0]
	}
	return &MemoryEventBus{
		ch:     make(chan *giftcoupon.DomainEvent, capacity),
		logger: l,
		done:   make(chan struct{}),
	}
}

// Dispatch 队列满时等待，直到 ctx 结束
func (e *MemoryEventBus) Dispatch(ctx context.Context, evts ...*giftcoupon.DomainEvent) error {
	for _, evt := range evts {
		select {
		case e.ch <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *MemoryEventBus) RegisterEventHandler(cb giftcoupon.DomainEventHandler) {
	e.cb = cb
}

func (e *MemoryEventBus) Start(ctx context.Context) {
	run := func() {
		defer close(e.done)
		for {
			select {
			case evt := <-e.ch:
				e.handle(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}
	// 确保只启动一次
	e.once.Do(func() {
		go run()
	})
}

// Done 消费协程退出后关闭
func (e *MemoryEventBus) Done() <-chan struct{} {
	return e.done
}

func (e *MemoryEventBus) handle(ctx context.Context, evt *giftcoupon.DomainEvent) {
	if e.cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Info("event handler panic", "event_id", evt.ID, "panic", r)
		}
	}()
	if err := e.cb(ctx, evt); err != nil {
		e.logger.Error(err, "handle event failed", "event_id", evt.ID, "type", evt.Type)
	}
}

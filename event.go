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
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/xid"
)

type EventType string

const EventCouponRedeemed EventType = "coupon_redeemed"

// EventHandler 指定特定领域事件的事件处理器，必须是带有 2 个入参的函数类型，第一个参数为 context.Context 类型
// 第二个为与 EventType 匹配的事件数据指针类型， 示例 func(ctx context.Context, evt *CouponRedeemedEvent) error
// 当第二个参数声明为 *DomainEvent，EventHandler 回调时会传入原始的事件类型，用户定义事件以序列化形式存在 DomainEvent.Payload 中
type EventHandler interface{}

// DomainEventHandler 通用 DomainEvent 的事件处理器
type DomainEventHandler func(ctx context.Context, evt *DomainEvent) error

type IEvent interface {
	GetType() EventType // 事件类型
	GetSender() string  // 发送者id
}

type DomainEvent struct {
	ID        string
	Type      EventType
	Sender    string // 事件发出实体 ID
	Payload   []byte
	CreatedAt time.Time
}

func (d *DomainEvent) GetType() EventType {
	return d.Type
}

func (d *DomainEvent) GetSender() string {
	return d.Sender
}

func NewDomainEvent(event IEvent) *DomainEvent {
	bs, err := json.Marshal(event)
	if err != nil {
		panic(fmt.Sprintf("event marshal failed, err=%s", err))
	}
	return &DomainEvent{
		ID:        xid.New().String(),
		Type:      event.GetType(),
		Sender:    event.GetSender(),
		Payload:   bs,
		CreatedAt: time.Now(),
	}
}

// CouponRedeemedEvent 兑换成功写入存储后发出
type CouponRedeemedEvent struct {
	CouponID   string `json:"coupon_id"`
	Name       string `json:"name"`
	UsedAt     string `json:"used_at"`
	RedeemedBy string `json:"redeemed_by"`
}

func (e *CouponRedeemedEvent) GetType() EventType {
	return EventCouponRedeemed
}

func (e *CouponRedeemedEvent) GetSender() string {
	return e.CouponID
}

type IEventBus interface {
	// Dispatch 发送领域事件到 EventBus，在兑换写入成功之后调用，不能阻塞请求
	Dispatch(ctx context.Context, evt ...*DomainEvent) error

	// RegisterEventHandler 注册事件回调，IEventBus 的实现必须保证收到事件调用该回调
	RegisterEventHandler(cb DomainEventHandler)
}

type noEventBus struct {
}

func (d *noEventBus) Dispatch(ctx context.Context, evt ...*DomainEvent) error {
	return ErrNoEventBusFound
}

func (d *noEventBus) RegisterEventHandler(cb DomainEventHandler) {
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()
var domainEventType = reflect.TypeOf(DomainEvent{})

type eventHandler struct {
	f         reflect.Value // the actual callback function
	eventType reflect.Type  // 存储实际事件类型
}

// eventRouter 按事件类型路由到已注册的处理器
type eventRouter struct {
	mu       sync.Mutex
	handlers map[EventType][]*eventHandler
}

func newEventRouter() *eventRouter {
	return &eventRouter{handlers: map[EventType][]*eventHandler{}}
}

func (r *eventRouter) register(t EventType, handler EventHandler) {
	handlerType := reflect.TypeOf(handler)
	if handlerType == nil || handlerType.Kind() != reflect.Func {
		panic("handler must type of reflect.Func")
	}
	if handlerType.NumIn() != 2 || !handlerType.In(0).Implements(ctxType) {
		panic("handler must has 2 args and the first must be type of context.Context")
	}
	if handlerType.NumOut() != 1 || !handlerType.Out(0).Implements(errType) {
		panic("handler must has error as output")
	}
	argType := handlerType.In(1)
	if argType.Kind() != reflect.Ptr {
		panic("event type must be pointer")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], &eventHandler{
		f:         reflect.ValueOf(handler),
		eventType: argType.Elem(),
	})
}

// onEvent EventBus 的统一的回调入口
func (r *eventRouter) onEvent(ctx context.Context, evt *DomainEvent) error {
	r.mu.Lock()
	handlers := r.handlers[evt.Type]
	r.mu.Unlock()

	for _, h := range handlers {
		var bizEvt reflect.Value
		if h.eventType == domainEventType {
			bizEvt = reflect.ValueOf(evt)
		} else {
			bizEvt = reflect.New(h.eventType)
			if err := json.Unmarshal(evt.Payload, bizEvt.Interface()); err != nil {
				return err
			}
		}

		outs := h.f.Call([]reflect.Value{reflect.ValueOf(ctx), bizEvt})
		if !outs[0].IsNil() {
			return outs[0].Interface().(error)
		}
	}

	return nil
}

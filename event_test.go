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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testEvent struct {
	Data string
}

func (t *testEvent) GetType() EventType {
	return "test"
}

func (t *testEvent) GetSender() string {
	return "test"
}

func TestEventRouter(t *testing.T) {
	r := newEventRouter()
	var getData string
	r.register("test", func(ctx context.Context, evt *testEvent) error {
		getData = evt.Data
		return nil
	})

	ctx := context.Background()
	err := r.onEvent(ctx, NewDomainEvent(&testEvent{Data: "helloworld"}))

	assert.NoError(t, err)
	assert.Equal(t, "helloworld", getData)
}

func TestDomainEventRouter(t *testing.T) {
	r := newEventRouter()
	var getData string
	r.register("test", func(ctx context.Context, evt *DomainEvent) error {
		getData = string(evt.Payload)
		return nil
	})

	ctx := context.Background()
	_ = r.onEvent(ctx, NewDomainEvent(&testEvent{Data: "helloworld"}))

	assert.Contains(t, getData, "helloworld")
}

func TestEventRouterError(t *testing.T) {
	r := newEventRouter()
	r.register(EventCouponRedeemed, func(ctx context.Context, evt *CouponRedeemedEvent) error {
		return fmt.Errorf("send failed for %s", evt.CouponID)
	})

	err := r.onEvent(context.Background(), NewDomainEvent(&CouponRedeemedEvent{CouponID: "sopar-especial"}))
	assert.EqualError(t, err, "send failed for sopar-especial")

	// 未注册的类型直接忽略
	assert.NoError(t, r.onEvent(context.Background(), NewDomainEvent(&testEvent{})))
}

func TestEventRouterInvalidHandler(t *testing.T) {
	r := newEventRouter()
	assert.Panics(t, func() { r.register("test", "not a func") })
	assert.Panics(t, func() { r.register("test", func(evt *testEvent) error { return nil }) })
	assert.Panics(t, func() { r.register("test", func(ctx context.Context, evt testEvent) error { return nil }) })
	assert.Panics(t, func() { r.register("test", func(ctx context.Context, evt *testEvent) {}) })
}

func TestCouponRedeemedEvent(t *testing.T) {
	evt := NewDomainEvent(&CouponRedeemedEvent{CouponID: "sessio-jocs", Name: "Sessió de jocs"})

	assert.Equal(t, EventCouponRedeemed, evt.Type)
	assert.Equal(t, "sessio-jocs", evt.Sender)
	assert.NotEmpty(t, evt.ID)
	assert.Contains(t, string(evt.Payload), `"coupon_id":"sessio-jocs"`)
}

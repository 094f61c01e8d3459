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
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/bytedance/giftcoupon"
	"github.com/bytedance/giftcoupon/testsuit"
)

func initStore(t *testing.T) (*Store, *gorm.DB) {
	db := testsuit.InitDB(t.Name())
	assert.NoError(t, db.Migrator().DropTable(&CouponPO{}))
	assert.NoError(t, AutoMigrate(db))
	return NewStore(db), db
}

func TestSeedAndList(t *testing.T) {
	s, _ := initStore(t)
	ctx := context.Background()

	n, err := s.Seed(ctx, giftcoupon.DefaultCatalogue)
	assert.NoError(t, err)
	assert.Equal(t, 10, n)

	coupons, err := s.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, coupons, 10)
	for i, c := range coupons {
		assert.Equal(t, giftcoupon.DefaultCatalogue[i].ID, c.ID)
		assert.False(t, c.Used)
		assert.Nil(t, c.UsedAt)
	}

	_, err = s.Seed(ctx, giftcoupon.DefaultCatalogue)
	assert.True(t, errors.Is(err, giftcoupon.ErrAlreadyExists))

	var count int64
	s.db.Model(&CouponPO{}).Count(&count)
	assert.Equal(t, int64(10), count)
}

func TestRedeem(t *testing.T) {
	s, _ := initStore(t)
	ctx := context.Background()
	_, err := s.Seed(ctx, giftcoupon.DefaultCatalogue)
	assert.NoError(t, err)

	c, err := s.Redeem(ctx, "sopar-especial", giftcoupon.Redemption{UsedAt: "2024-03-01T19:00:00.000Z", RedeemedBy: "Tuxi"})
	assert.NoError(t, err)
	assert.True(t, c.Used)
	assert.Equal(t, "Sopar especial", c.Name)
	assert.Equal(t, "2024-03-01T19:00:00.000Z", *c.UsedAt)

	_, err = s.Redeem(ctx, "sopar-especial", giftcoupon.Redemption{UsedAt: "later", RedeemedBy: "Tuxi"})
	assert.True(t, errors.Is(err, giftcoupon.ErrAlreadyUsed))

	po := &CouponPO{}
	assert.NoError(t, s.db.Where("id = ?", "sopar-especial").First(po).Error)
	assert.Equal(t, "2024-03-01T19:00:00.000Z", *po.UsedAt)

	_, err = s.Redeem(ctx, "does-not-exist", giftcoupon.Redemption{UsedAt: "x"})
	assert.True(t, errors.Is(err, giftcoupon.ErrNotFound))
}

func TestConcurrentRedeem(t *testing.T) {
	s, _ := initStore(t)
	ctx := context.Background()
	_, err := s.Seed(ctx, giftcoupon.DefaultCatalogue)
	assert.NoError(t, err)

	var success, used int
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Redeem(ctx, "sessio-jocs", giftcoupon.Redemption{UsedAt: fmt.Sprintf("t%d", i), RedeemedBy: "Tuxi"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else if errors.Is(err, giftcoupon.ErrAlreadyUsed) {
				used++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 9, used)
}

func TestNilDB(t *testing.T) {
	_, err := NewStore(nil).List(context.Background())
	assert.True(t, errors.Is(err, giftcoupon.ErrConfiguration))
}

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

	"gorm.io/gorm"

	"github.com/bytedance/giftcoupon"
)

// Store 基于 gorm 的 coupon 存储，兑换使用条件更新，不依赖外部锁也能保证只成功一次
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate 创建或更新 coupons 表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CouponPO{})
}

func (s *Store) List(ctx context.Context) ([]*giftcoupon.Coupon, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: db not configured", giftcoupon.ErrConfiguration)
	}
	pos := make([]*CouponPO, 0)
	if err := s.db.WithContext(ctx).Order("seq").Find(&pos).Error; err != nil {
		return nil, fmt.Errorf("%w: list coupons: %w", giftcoupon.ErrStore, err)
	}
	coupons := make([]*giftcoupon.Coupon, len(pos))
	for i, po := range pos {
		coupons[i] = po2Coupon(po)
	}
	return coupons, nil
}

func (s *Store) Redeem(ctx context.Context, id string, r giftcoupon.Redemption) (*giftcoupon.Coupon, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: db not configured", giftcoupon.ErrConfiguration)
	}
	db := s.db.WithContext(ctx)

	res := db.Model(&CouponPO{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]interface{}{
			"used":        true,
			"used_at":     r.UsedAt,
			"redeemed_by": r.RedeemedBy,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("%w: redeem %s: %w", giftcoupon.ErrStore, id, res.Error)
	}

	po := &CouponPO{}
	if err := db.Where("id = ?", id).First(po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", giftcoupon.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get %s: %w", giftcoupon.ErrStore, id, err)
	}
	// 条件更新没有命中，说明已被其他请求兑换
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", giftcoupon.ErrAlreadyUsed, id)
	}
	return po2Coupon(po), nil
}

func (s *Store) Seed(ctx context.Context, coupons []*giftcoupon.Coupon) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("%w: db not configured", giftcoupon.ErrConfiguration)
	}
	pos := make([]*CouponPO, len(coupons))
	for i, c := range coupons {
		pos[i] = coupon2PO(c, i+1)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&CouponPO{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return giftcoupon.ErrAlreadyExists
		}
		if len(pos) == 0 {
			return nil
		}
		return tx.Create(pos).Error
	})
	if err != nil {
		if errors.Is(err, giftcoupon.ErrAlreadyExists) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: seed coupons: %w", giftcoupon.ErrStore, err)
	}
	return len(pos), nil
}

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
	"time"

	"github.com/bytedance/giftcoupon"
)

// CouponPO coupon 存储模型
/*
CREATE TABLE `coupons` (
	`id` varchar(64) NOT NULL,
	`seq` int NOT NULL,
	`name` varchar(255) NOT NULL,
	`description` text,
	`used` tinyint(1) NOT NULL DEFAULT 0,
	`used_at` varchar(64) DEFAULT NULL,
	`redeemed_by` varchar(64) DEFAULT NULL,
	`created_at` datetime(3) DEFAULT NULL,
	`updated_at` datetime(3) DEFAULT NULL,
	PRIMARY KEY (`id`),
	KEY `idx_coupons_seq` (`seq`)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
*/
type CouponPO struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(64)"`
	Seq         int       `gorm:"column:seq;index"` // 行顺序，与 seed 顺序一致
	Name        string    `gorm:"column:name;type:varchar(255)"`
	Description string    `gorm:"column:description;type:text"`
	Used        bool      `gorm:"column:used"`
	UsedAt      *string   `gorm:"column:used_at;type:varchar(64)"`
	RedeemedBy  *string   `gorm:"column:redeemed_by;type:varchar(64)"`
	CreatedAt   time.Time // 记录创建时间
	UpdatedAt   time.Time // 记录的更新时间
}

func (o *CouponPO) TableName() string {
	return "coupons"
}

func coupon2PO(c *giftcoupon.Coupon, seq int) *CouponPO {
	return &CouponPO{
		ID:          c.ID,
		Seq:         seq,
		Name:        c.Name,
		Description: c.Description,
		Used:        c.Used,
		UsedAt:      c.UsedAt,
		RedeemedBy:  c.RedeemedBy,
	}
}

func po2Coupon(po *CouponPO) *giftcoupon.Coupon {
	return &giftcoupon.Coupon{
		ID:          po.ID,
		Name:        po.Name,
		Description: po.Description,
		Used:        po.Used,
		UsedAt:      po.UsedAt,
		RedeemedBy:  po.RedeemedBy,
	}
}

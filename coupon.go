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
	"time"
)

// DefaultRedeemer 兑换人的默认身份，可以通过 WithRedeemer 替换
const DefaultRedeemer = "Tuxi"

// TimeLayout 服务端生成的兑换时间格式，UTC 毫秒精度
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Coupon 礼物券，Used 只能从 false 变为 true 一次
type Coupon struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Used        bool    `json:"used"`
	UsedAt      *string `json:"used_at"`
	RedeemedBy  *string `json:"redeemed_by"`
}

// Redeem 标记已兑换，已兑换的 coupon 返回 ErrAlreadyUsed 且不做任何修改
func (c *Coupon) Redeem(r Redemption) error {
	if c.Used {
		return ErrAlreadyUsed
	}
	usedAt, by := r.UsedAt, r.RedeemedBy
	c.Used = true
	c.UsedAt = &usedAt
	c.RedeemedBy = &by
	return nil
}

// Redemption 兑换时写回存储的字段，只包含 used_at 与 redeemed_by，used 固定为 true
type Redemption struct {
	UsedAt     string
	RedeemedBy string
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

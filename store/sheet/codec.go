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

package sheet

import (
	"fmt"

	"github.com/bytedance/giftcoupon"
)

// 列顺序固定：id, name, description, used, used_at, redeemed_by
const (
	colID = iota
	colName
	colDescription
	colUsed
	colUsedAt
	colRedeemedBy
	colCount
)

var header = []interface{}{"id", "name", "description", "used", "used_at", "redeemed_by"}

// rangeAll 整张表的数据范围
func rangeAll(sheet string) string {
	return fmt.Sprintf("%s!A:F", sheet)
}

func rangeIDs(sheet string) string {
	return fmt.Sprintf("%s!A:A", sheet)
}

func rangeStart(sheet string) string {
	return fmt.Sprintf("%s!A1", sheet)
}

// rangeRedemption 第 index 个数据行（从 0 开始）的 used..redeemed_by 三列，表头占第 1 行
func rangeRedemption(sheet string, index int) string {
	row := index + 2
	return fmt.Sprintf("%s!D%d:F%d", sheet, row, row)
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseUsed(s string) bool {
	return s == "TRUE" || s == "true"
}

// decodeRow 按位置解析数据行，index 从 0 开始，缺失的 id 以 coupon-<index+1> 补齐
func decodeRow(row []string, index int) *giftcoupon.Coupon {
	id := cell(row, colID)
	if id == "" {
		id = fmt.Sprintf("coupon-%d", index+1)
	}
	return &giftcoupon.Coupon{
		ID:          id,
		Name:        cell(row, colName),
		Description: cell(row, colDescription),
		Used:        parseUsed(cell(row, colUsed)),
		UsedAt:      optional(cell(row, colUsedAt)),
		RedeemedBy:  optional(cell(row, colRedeemedBy)),
	}
}

func encodeCoupon(c *giftcoupon.Coupon) []interface{} {
	usedAt, by := "", ""
	if c.UsedAt != nil {
		usedAt = *c.UsedAt
	}
	if c.RedeemedBy != nil {
		by = *c.RedeemedBy
	}
	return []interface{}{c.ID, c.Name, c.Description, c.Used, usedAt, by}
}

func encodeRedemption(r giftcoupon.Redemption) []interface{} {
	return []interface{}{true, r.UsedAt, r.RedeemedBy}
}

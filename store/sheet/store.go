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
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/bytedance/giftcoupon"
	"github.com/bytedance/giftcoupon/logger/stdr"
)

const DefaultSheetName = "coupons"

var defaultLogger = stdr.NewStdr("sheet_store")

// ITable 按 A1 范围读写的行式表格，第一行为表头
type ITable interface {
	// Get 读取范围内的所有行，行尾的空单元格可能被省略
	Get(ctx context.Context, rng string) ([][]string, error)
	// Update 从范围左上角开始覆盖写入
	Update(ctx context.Context, rng string, rows [][]interface{}) error
}

type Options struct {
	SheetName string
	Logger    logr.Logger
}

type Option func(opt *Options)

func WithSheetName(name string) Option {
	return func(opt *Options) {
		opt.SheetName = name
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(opt *Options) {
		opt.Logger = logger
	}
}

// Store 以表格作为 coupon 存储，表格本身不支持条件写入，
// 同一个 coupon 的并发兑换需要由 Service 的 ILock 串行化
type Store struct {
	table  ITable
	sheet  string
	logger logr.Logger
}

func NewStore(table ITable, opts ...Option) *Store {
	opt := Options{
		SheetName: DefaultSheetName,
		Logger:    defaultLogger,
	}
	for _, o := range opts {
		o(&opt)
	}
	return &Store{table: table, sheet: opt.SheetName, logger: opt.Logger}
}

func (s *Store) List(ctx context.Context) ([]*giftcoupon.Coupon, error) {
	rows, err := s.get(ctx, rangeAll(s.sheet))
	if err != nil {
		return nil, err
	}
	coupons := make([]*giftcoupon.Coupon, 0, len(rows))
	for i, row := range dataRows(rows) {
		coupons = append(coupons, decodeRow(row, i))
	}
	return coupons, nil
}

func (s *Store) Redeem(ctx context.Context, id string, r giftcoupon.Redemption) (*giftcoupon.Coupon, error) {
	rows, err := s.get(ctx, rangeAll(s.sheet))
	if err != nil {
		return nil, err
	}

	index := -1
	var coupon *giftcoupon.Coupon
	for i, row := range dataRows(rows) {
		if cell(row, colID) == id {
			index, coupon = i, decodeRow(row, i)
			break
		}
	}
	if coupon == nil {
		return nil, fmt.Errorf("%w: %s", giftcoupon.ErrNotFound, id)
	}
	if err := coupon.Redeem(r); err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}

	rng := rangeRedemption(s.sheet, index)
	if err := s.update(ctx, rng, [][]interface{}{encodeRedemption(r)}); err != nil {
		return nil, err
	}
	s.logger.V(1).Info("coupon row updated", "id", id, "range", rng)
	return coupon, nil
}

func (s *Store) Seed(ctx context.Context, coupons []*giftcoupon.Coupon) (int, error) {
	rows, err := s.get(ctx, rangeIDs(s.sheet))
	if err != nil {
		return 0, err
	}
	// 只有表头不算已有数据
	if len(rows) > 1 {
		return 0, giftcoupon.ErrAlreadyExists
	}

	values := make([][]interface{}, 0, len(coupons)+1)
	values = append(values, header)
	for _, c := range coupons {
		values = append(values, encodeCoupon(c))
	}
	if err := s.update(ctx, rangeStart(s.sheet), values); err != nil {
		return 0, err
	}
	return len(coupons), nil
}

func (s *Store) get(ctx context.Context, rng string) ([][]string, error) {
	if s.table == nil {
		return nil, fmt.Errorf("%w: table not configured", giftcoupon.ErrConfiguration)
	}
	rows, err := s.table.Get(ctx, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", giftcoupon.ErrStore, rng, err)
	}
	return rows, nil
}

func (s *Store) update(ctx context.Context, rng string, rows [][]interface{}) error {
	if s.table == nil {
		return fmt.Errorf("%w: table not configured", giftcoupon.ErrConfiguration)
	}
	if err := s.table.Update(ctx, rng, rows); err != nil {
		return fmt.Errorf("%w: update %s: %w", giftcoupon.ErrStore, rng, err)
	}
	return nil
}

func dataRows(rows [][]string) [][]string {
	if len(rows) <= 1 {
		return nil
	}
	return rows[1:]
}

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

package testsuit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MemTable 内存中的行式表格，A1 范围语义与 Google Sheets values 接口一致
// 读取时去掉行尾空单元格与末尾空行，写入时值按 fmt.Sprint 转为字符串
type MemTable struct {
	mu     sync.Mutex
	sheets map[string][][]string

	GetErr    error
	UpdateErr error
	Updates   []string // 每次 Update 的范围
}

func NewMemTable() *MemTable {
	return &MemTable{sheets: map[string][][]string{}}
}

// SetRows 直接设置某个 sheet 的内容
func (t *MemTable) SetRows(sheet string, rows [][]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sheets[sheet] = copyRows(rows)
}

func (t *MemTable) Rows(sheet string) [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyRows(t.sheets[sheet])
}

func (t *MemTable) Get(ctx context.Context, rng string) ([][]string, error) {
	if t.GetErr != nil {
		return nil, t.GetErr
	}
	a, err := parseA1(rng)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.sheets[a.sheet]
	out := make([][]string, 0)
	for r := a.startRow; r < len(src) && (a.endRow < 0 || r <= a.endRow); r++ {
		row := make([]string, 0)
		for c := a.startCol; c < len(src[r]) && (a.endCol < 0 || c <= a.endCol); c++ {
			row = append(row, src[r][c])
		}
		out = append(out, trimRow(row))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (t *MemTable) Update(ctx context.Context, rng string, rows [][]interface{}) error {
	if t.UpdateErr != nil {
		return t.UpdateErr
	}
	a, err := parseA1(rng)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.Updates = append(t.Updates, rng)
	dst := t.sheets[a.sheet]
	for i, row := range rows {
		r := a.startRow + i
		for len(dst) <= r {
			dst = append(dst, []string{})
		}
		for j, v := range row {
			c := a.startCol + j
			for len(dst[r]) <= c {
				dst[r] = append(dst[r], "")
			}
			dst[r][c] = fmt.Sprint(v)
		}
	}
	t.sheets[a.sheet] = dst
	return nil
}

type a1Range struct {
	sheet              string
	startRow, startCol int // 从 0 开始
	endRow, endCol     int // -1 表示不限
}

// parseA1 支持 Sheet!A1, Sheet!A:F, Sheet!D2:F2 三种写法
func parseA1(rng string) (*a1Range, error) {
	sheet, ref, ok := strings.Cut(rng, "!")
	if !ok || sheet == "" || ref == "" {
		return nil, fmt.Errorf("invalid range %q", rng)
	}
	start, end, hasEnd := strings.Cut(ref, ":")
	sr, sc, err := parseCell(start)
	if err != nil {
		return nil, err
	}
	a := &a1Range{sheet: sheet, startRow: max(sr, 0), startCol: sc, endRow: -1, endCol: -1}
	if hasEnd {
		er, ec, err := parseCell(end)
		if err != nil {
			return nil, err
		}
		a.endRow, a.endCol = er, ec
	}
	return a, nil
}

// parseCell 解析 "D2" 或 "D"，行号缺省时返回 -1
func parseCell(ref string) (row, col int, err error) {
	i := 0
	col = 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	if i == 0 {
		return 0, 0, fmt.Errorf("invalid cell %q", ref)
	}
	if i == len(ref) {
		return -1, col - 1, nil
	}
	n, err := strconv.Atoi(ref[i:])
	if err != nil || n < 1 {
		return 0, 0, fmt.Errorf("invalid cell %q", ref)
	}
	return n - 1, col - 1, nil
}

func trimRow(row []string) []string {
	for len(row) > 0 && row[len(row)-1] == "" {
		row = row[:len(row)-1]
	}
	return row
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string{}, r...)
	}
	return out
}

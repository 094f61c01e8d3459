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
	"errors"
	"fmt"
)

// 业务错误，调用方可以通过 errors.Is 区分，对外返回明确的状态码
var (
	ErrValidation    = fmt.Errorf("validation error")  // 缺少必填字段
	ErrNotFound      = fmt.Errorf("coupon not found")  // 未知的 coupon id
	ErrAlreadyUsed   = fmt.Errorf("already used")      // coupon 已经被兑换
	ErrUnauthorized  = fmt.Errorf("unauthorized")      // seed token 不匹配
	ErrAlreadyExists = fmt.Errorf("data already exists")
)

// 基础设施错误，只记录日志，对外统一返回失败
var (
	ErrConfiguration = fmt.Errorf("configuration error")
	ErrStore         = fmt.Errorf("store error")
	ErrNotification  = fmt.Errorf("notification error")
)

var ErrLocked = fmt.Errorf("resource locked")
var ErrNoEventBusFound = fmt.Errorf("no eventbus found")

// IsBusinessError 判断是否为可以直接返回给调用方的业务错误
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrAlreadyExists)
}

// storeError 包装存储层错误，业务错误原样返回
func storeError(op string, err error) error {
	if err == nil || IsBusinessError(err) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

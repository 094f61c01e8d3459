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

import "fmt"

// UnlockGate 校验访问者提交的生日字符串
type UnlockGate struct {
	expected string
}

func NewUnlockGate(expected string) *UnlockGate {
	return &UnlockGate{expected: expected}
}

// Check 严格的字符串相等比较，不做日期解析，"1/2/2000" 与 "01/02/2000" 不相等
func (g *UnlockGate) Check(d string) (bool, error) {
	if d == "" {
		return false, fmt.Errorf("%w: missing date parameter", ErrValidation)
	}
	if g == nil || g.expected == "" {
		return false, fmt.Errorf("%w: unlock date not configured", ErrConfiguration)
	}
	return d == g.expected, nil
}

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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnlockGate(t *testing.T) {
	g := NewUnlockGate("01/02/2000")

	ok, err := g.Check("01/02/2000")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Check("1/2/2000")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Check("01/02/2000 ")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = g.Check("")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestUnlockGateNotConfigured(t *testing.T) {
	_, err := NewUnlockGate("").Check("01/02/2000")
	assert.True(t, errors.Is(err, ErrConfiguration))

	// 缺少参数优先于配置错误
	_, err = NewUnlockGate("").Check("")
	assert.True(t, errors.Is(err, ErrValidation))
}

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

package mem

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrInvalidKeyLock = fmt.Errorf("invalid key lock")

type entry struct {
	ch   chan struct{}
	refs int // 持有或等待该 key 的数量，为 0 时回收
}

type keyLock struct {
	key      string
	e        *entry
	released atomic.Bool
}

// Lock 单进程内的按 key 互斥锁，等待时响应 ctx 取消
type Lock struct {
	mu   sync.Mutex
	keys map[string]*entry
}

func NewLock() *Lock {
	return &Lock{keys: map[string]*entry{}}
}

func (l *Lock) Lock(ctx context.Context, key string) (interface{}, error) {
	l.mu.Lock()
	e := l.keys[key]
	if e == nil {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return &keyLock{key: key, e: e}, nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}
}

func (l *Lock) UnLock(ctx context.Context, kl interface{}) error {
	k, ok := kl.(*keyLock)
	if !ok || k == nil {
		return ErrInvalidKeyLock
	}
	if !k.released.CompareAndSwap(false, true) {
		return fmt.Errorf("key %s already unlocked", k.key)
	}
	<-k.e.ch
	l.release(k.key, k.e)
	return nil
}

func (l *Lock) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

func (l *Lock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

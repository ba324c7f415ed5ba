// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

func TestPool(t *testing.T) {
	pool := NewPool[int](4)
	defer pool.Release()
	assert.Equal(t, 4, pool.Cap())

	var sum atomic.Int32
	futures := make([]*Future[int], 0, 16)
	for i := 0; i < 16; i++ {
		futures = append(futures, pool.Submit(func() (int, error) {
			sum.Add(int32(i))
			return i, nil
		}))
	}
	assert.NoError(t, AwaitAll(futures...))
	assert.Equal(t, int32(120), sum.Load())
	for i, f := range futures {
		assert.Equal(t, i, f.Value())
		assert.True(t, f.OK())
	}

	assert.NoError(t, pool.Resize(8))
	assert.Equal(t, 8, pool.Cap())
	assert.Error(t, pool.Resize(0))
}

func TestPoolError(t *testing.T) {
	pool := NewPool[struct{}](1, WithPreHandler(func() {}))
	defer pool.Release()

	errBoom := errors.New("boom")
	f := pool.Submit(func() (struct{}, error) { return struct{}{}, errBoom })
	_, err := f.Await()
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, f.OK())
	assert.ErrorIs(t, AwaitAll(pool.Submit(func() (struct{}, error) { return struct{}{}, nil }), f), errBoom)
}

func TestPoolConcealPanic(t *testing.T) {
	pool := NewPool[int](1, WithConcealPanic(true))
	defer pool.Release()

	f := pool.Submit(func() (int, error) { panic("boom") })
	assert.ErrorContains(t, f.Err(), "boom")
}

func TestPreAllocResize(t *testing.T) {
	pool := NewPool[int](2, WithPreAlloc(true))
	defer pool.Release()
	assert.Error(t, pool.Resize(4))
}

func TestGo(t *testing.T) {
	f := Go(func() (string, error) {
		time.Sleep(time.Millisecond)
		return "done", nil
	})
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("future not done")
	}
	v, err := f.Await()
	assert.NoError(t, err)
	assert.Equal(t, "done", v)
}

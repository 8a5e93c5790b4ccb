// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEach(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := New().SetMaxParallelism(parallelism)
		var running, maxRunning atomic.Int32
		results := make([]int, 20)
		err := pool.ForEach(len(results), func(i int) error {
			current := running.Add(1)
			for {
				seen := maxRunning.Load()
				if current <= seen || maxRunning.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			results[i] = i * i
			running.Add(-1)
			return nil
		})
		require.NoError(t, err)
		for i, v := range results {
			assert.Equal(t, i*i, v)
		}
		if parallelism > 0 {
			assert.LessOrEqual(t, int(maxRunning.Load()), parallelism, "parallelism %d", parallelism)
		}
		if parallelism == 0 {
			assert.Equal(t, int32(1), maxRunning.Load(), "tasks run inline")
		}
	}
}

func TestForEachError(t *testing.T) {
	pool := New().SetMaxParallelism(2)
	err := pool.ForEach(10, func(i int) error {
		if i == 3 || i == 7 {
			return errors.Errorf("task %d failed", i)
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, "task 3 failed", err.Error())
	assert.NoError(t, pool.ForEach(0, func(int) error { return errors.New("never called") }))
}

// Copyright 2026 The rtmcast Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalTimerOneShot(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance(ctxt, &wg, "testing")
	assert.Nil(err)

	var value int32
	callback := func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}

	assert.Nil(uut.Start(time.Millisecond*100, callback, true))
	time.Sleep(time.Millisecond * 150)
	assert.Equal(int32(1), atomic.LoadInt32(&value))

	time.Sleep(time.Millisecond * 100)
	assert.Equal(int32(1), atomic.LoadInt32(&value))

	assert.Nil(uut.Start(time.Millisecond*50, callback, true))
	time.Sleep(time.Millisecond * 80)
	assert.Equal(int32(2), atomic.LoadInt32(&value))

	// Invalid interval
	assert.NotNil(uut.Start(0, callback, true))
}

func TestIntervalTimerPeriodic(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance(ctxt, &wg, "testing")
	assert.Nil(err)

	var value int32
	callback := func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}

	assert.Nil(uut.Start(time.Millisecond*20, callback, false))
	time.Sleep(time.Millisecond * 110)
	assert.Nil(uut.Stop())
	wg.Wait()
	fired := atomic.LoadInt32(&value)
	assert.GreaterOrEqual(fired, int32(2))

	// No more triggers after stop
	time.Sleep(time.Millisecond * 60)
	assert.Equal(fired, atomic.LoadInt32(&value))
}

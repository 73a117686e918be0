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

package subscription

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alwitt/rtmcast/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type testSession struct {
	id string
}

func (s *testSession) ID() string { return s.id }

func (s *testSession) Send(ctxt context.Context, frame interface{}) error { return nil }

func newTestSession() *testSession {
	return &testSession{id: uuid.NewString()}
}

func TestRegistryBasic(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, err := GetRegistry("testing")
	assert.Nil(err)

	session1 := newTestSession()
	session2 := newTestSession()
	key1 := Key(FlavorActivity, uuid.NewString())
	key2 := Key(FlavorActivity, uuid.NewString())

	// Case 0: nothing registered
	{
		assert.Empty(uut.Listeners(key1))
		_, err := uut.Unregister(key1, session1.ID())
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
		assert.Equal(0, uut.RemoveSession(session1.ID()))
	}

	// Case 1: invalid registration
	{
		_, err := uut.Register("", session1)
		assert.NotNil(err)
		_, err = uut.Register(key1, nil)
		assert.NotNil(err)
	}

	// Case 2: register two sessions on one key
	sub1, err := uut.Register(key1, session1)
	assert.Nil(err)
	sub2, err := uut.Register(key1, session2)
	assert.Nil(err)
	assert.NotEqual(sub1, sub2)
	{
		listeners := uut.Listeners(key1)
		assert.Len(listeners, 2)
		seen := map[string]string{}
		for _, l := range listeners {
			seen[l.Session.ID()] = l.SubscriptionID
		}
		assert.Equal(sub1, seen[session1.ID()])
		assert.Equal(sub2, seen[session2.ID()])
	}

	// Case 3: re-subscribe supersedes
	{
		sub1b, err := uut.Register(key1, session1)
		assert.Nil(err)
		assert.NotEqual(sub1, sub1b)
		listeners := uut.Listeners(key1)
		assert.Len(listeners, 2)
		for _, l := range listeners {
			assert.NotEqual(sub1, l.SubscriptionID)
		}
		assert.Equal(2, uut.SubscriptionCount())
	}

	// Case 4: snapshot is not affected by later changes
	{
		snapshot := uut.Listeners(key1)
		_, err := uut.Register(key1, newTestSession())
		assert.Nil(err)
		assert.Len(snapshot, 2)
		assert.Len(uut.Listeners(key1), 3)
	}

	// Case 5: unregister exactly once
	{
		removed, err := uut.Unregister(key1, session2.ID())
		assert.Nil(err)
		assert.Equal(sub2, removed.SubscriptionID)
		_, err = uut.Unregister(key1, session2.ID())
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
	}

	// Case 6: remove a session
	{
		_, err := uut.Register(key2, session1)
		assert.Nil(err)
		assert.Equal(2, uut.RemoveSession(session1.ID()))
		assert.Empty(uut.Listeners(key2))
		assert.Len(uut.Listeners(key1), 1)
		assert.Equal(1, uut.SubscriptionCount())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetRegistry("testing")
	assert.Nil(err)

	key := Key(FlavorActivity, uuid.NewString())
	sessions := make([]*testSession, 32)
	for itr := range sessions {
		sessions[itr] = newTestSession()
	}

	wg := sync.WaitGroup{}
	for _, session := range sessions {
		wg.Add(1)
		go func(s *testSession) {
			defer wg.Done()
			for itr := 0; itr < 20; itr++ {
				_, _ = uut.Register(key, s)
				_ = uut.Listeners(key)
				_, _ = uut.Register(Key(FlavorChangeLog, fmt.Sprintf("%d", itr)), s)
			}
		}(session)
	}
	wg.Wait()

	// Case 0: one registration per session per key
	assert.Len(uut.Listeners(key), len(sessions))
	assert.Equal(len(sessions)*21, uut.SubscriptionCount())

	// Case 1: concurrent session removal
	for _, session := range sessions {
		wg.Add(1)
		go func(s *testSession) {
			defer wg.Done()
			assert.Equal(21, uut.RemoveSession(s.ID()))
		}(session)
	}
	wg.Wait()
	assert.Equal(0, uut.SubscriptionCount())
}

func TestManagerSubscribeUnsubscribe(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	registry, err := GetRegistry("testing")
	assert.Nil(err)
	uut, err := GetManager(registry, "testing")
	assert.Nil(err)

	utCtxt := context.Background()
	session1 := newTestSession()
	session2 := newTestSession()
	activity1 := uuid.NewString()
	activity2 := uuid.NewString()

	// Case 0: unsubscribe before subscribe
	{
		err := uut.Unsubscribe(utCtxt, FlavorActivity, activity1, session1.ID())
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
		_, msg := common.ClassifyError(err, "")
		assert.Contains(msg, Key(FlavorActivity, activity1))
	}

	// Case 1: invalid requests
	{
		_, err := uut.Subscribe(utCtxt, Flavor("author.widget"), activity1, session1)
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
		_, err = uut.Subscribe(utCtxt, FlavorActivity, "", session1)
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
	}

	// Case 2: subscription IDs are distinct across keys
	sub1, err := uut.Subscribe(utCtxt, FlavorActivity, activity1, session1)
	assert.Nil(err)
	assert.NotEmpty(sub1)
	sub2, err := uut.Subscribe(utCtxt, FlavorActivity, activity2, session2)
	assert.Nil(err)
	assert.NotEqual(sub1, sub2)
	sub3, err := uut.Subscribe(utCtxt, FlavorChangeLog, activity1, session1)
	assert.Nil(err)
	assert.NotEqual(sub1, sub3)

	// Case 3: flavors are separate namespaces
	{
		assert.Len(uut.Listeners(FlavorActivity, activity1), 1)
		assert.Len(uut.Listeners(FlavorChangeLog, activity1), 1)
		assert.Empty(uut.Listeners(FlavorChangeLog, activity2))
	}

	// Case 4: unsubscribe exactly once
	{
		assert.Nil(uut.Unsubscribe(utCtxt, FlavorActivity, activity1, session1.ID()))
		err := uut.Unsubscribe(utCtxt, FlavorActivity, activity1, session1.ID())
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
		assert.Len(uut.Listeners(FlavorChangeLog, activity1), 1)
	}

	// Case 5: another session can not remove a subscription it does not own
	{
		err := uut.Unsubscribe(utCtxt, FlavorActivity, activity2, session1.ID())
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
		assert.Len(uut.Listeners(FlavorActivity, activity2), 1)
	}

	// Case 6: close and reap
	{
		assert.Equal(1, uut.CloseSession(utCtxt, session1.ID()))
		assert.Empty(uut.Listeners(FlavorChangeLog, activity1))
		assert.Equal(1, uut.Reap(session2.ID()))
		assert.Equal(0, uut.Reap(session2.ID()))
	}

	// Case 7: cancelled context
	{
		ctxt, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := uut.Subscribe(ctxt, FlavorActivity, activity1, session1)
		assert.NotNil(err)
	}
}

func TestManagerUnsubscribeByOrigin(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	registry, err := GetRegistry("testing")
	assert.Nil(err)
	uut, err := GetManager(registry, "testing")
	assert.Nil(err)

	utCtxt := context.Background()
	session1 := newTestSession()
	session2 := newTestSession()
	root := uuid.NewString()
	child := uuid.NewString()

	// Case 0: nothing requested for the origin
	{
		_, err := uut.UnsubscribeFrom(utCtxt, FlavorChangeLog, child, session1.ID())
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
		_, msg := common.ClassifyError(err, "")
		assert.Contains(msg, Key(FlavorChangeLog, child))
	}

	// Case 1: the registration records the element it was requested for
	sub1, err := uut.SubscribeFrom(utCtxt, FlavorChangeLog, root, child, session1)
	assert.Nil(err)
	_, err = uut.SubscribeFrom(utCtxt, FlavorChangeLog, root, child, session2)
	assert.Nil(err)
	_, err = uut.Subscribe(utCtxt, FlavorActivity, child, session1)
	assert.Nil(err)
	{
		listeners := registry.SessionListeners(session1.ID())
		assert.Len(listeners, 2)
		for _, entry := range listeners {
			assert.Equal(child, entry.Origin)
			if entry.SubscriptionID == sub1 {
				assert.Equal(Key(FlavorChangeLog, root), entry.Key)
			}
		}
	}

	// Case 2: remove by origin touches only the flavor and the session given
	{
		removed, err := uut.UnsubscribeFrom(utCtxt, FlavorChangeLog, child, session1.ID())
		assert.Nil(err)
		assert.Equal(1, removed)
		assert.Len(uut.Listeners(FlavorChangeLog, root), 1)
		assert.Equal(session2.ID(), uut.Listeners(FlavorChangeLog, root)[0].Session.ID())
		assert.Len(uut.Listeners(FlavorActivity, child), 1)
		_, err = uut.UnsubscribeFrom(utCtxt, FlavorChangeLog, child, session1.ID())
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
	}

	// Case 3: remove by subscription ID
	{
		_, err := registry.UnregisterID(sub1)
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
		listeners := uut.Listeners(FlavorActivity, child)
		removedEntry, err := registry.UnregisterID(listeners[0].SubscriptionID)
		assert.Nil(err)
		assert.Equal(Key(FlavorActivity, child), removedEntry.Key)
		assert.Empty(registry.SessionListeners(session1.ID()))
	}
}

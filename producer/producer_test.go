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

package producer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/courseware"
	"github.com/alwitt/rtmcast/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type testBroadcaster struct {
	lock    sync.Mutex
	entries []storage.ChangeLogEntry
}

func (b *testBroadcaster) Broadcast(
	ctxt context.Context, messageType string, event courseware.ChangeEvent,
) error {
	return nil
}

func (b *testBroadcaster) BroadcastChangeLog(
	ctxt context.Context, entry storage.ChangeLogEntry,
) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.entries = append(b.entries, entry)
	return nil
}

func (b *testBroadcaster) DeliverRelayed(ctxt context.Context, msg []byte) error {
	return nil
}

func (b *testBroadcaster) broadcasted() []storage.ChangeLogEntry {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]storage.ChangeLogEntry{}, b.entries...)
}

type testRecorder struct {
	events []courseware.ChangeEvent
}

func (r *testRecorder) Record(ctxt context.Context, event courseware.ChangeEvent) error {
	r.events = append(r.events, event)
	return nil
}

func TestProducerEventShapes(t *testing.T) {
	assert := assert.New(t)

	recorder := &testRecorder{}
	uut := GetProducers(recorder)
	client := ClientContext{AccountID: uuid.NewString()}
	root := uuid.NewString()
	element := uuid.NewString()
	parent := uuid.NewString()
	otherParent := uuid.NewString()

	// Case 0: created
	{
		event := uut.Created.Build(
			client, root, element, courseware.ElementTypeInteractive,
			parent, courseware.ElementTypePathway,
		).Event()
		assert.Equal(courseware.ActionCreated, event.Action)
		assert.Equal("INTERACTIVE_CREATED", event.RTMEvent)
		assert.Equal(parent, event.ParentElementID)
		assert.Equal(client.AccountID, event.AccountID)
		assert.Equal(root, event.RootElementID)
	}

	// Case 1: deleted
	{
		event := uut.Deleted.Build(
			client, root, element, courseware.ElementTypeComponent,
			parent, courseware.ElementTypeActivity,
		).Event()
		assert.Equal("COMPONENT_DELETED", event.RTMEvent)
		assert.Equal(courseware.ElementTypeActivity, event.ParentElementType)
	}

	// Case 2: moved carries both parents
	{
		event := uut.Moved.Build(
			client, root, root, element, courseware.ElementTypeActivity, parent, otherParent,
		).Event()
		assert.Equal("ACTIVITY_MOVED", event.RTMEvent)
		assert.Equal(otherParent, event.ParentElementID)
		assert.Equal(parent, event.OldParentElementID)
		assert.Empty(event.OldRootElementID)
		oldRoot := uuid.NewString()
		event = uut.Moved.Build(
			client, root, oldRoot, element, courseware.ElementTypeActivity, parent, otherParent,
		).Event()
		assert.Equal(oldRoot, event.OldRootElementID)
	}

	// Case 3: duplicated carries only the new parent
	{
		event := uut.Duplicated.Build(
			client, root, element, courseware.ElementTypeInteractive, otherParent,
		).Event()
		assert.Equal("INTERACTIVE_DUPLICATED", event.RTMEvent)
		assert.Equal(otherParent, event.ParentElementID)
		assert.Empty(event.OldParentElementID)
	}

	// Case 4: config and theme
	{
		event := uut.ConfigChanged.Build(
			client, root, element, courseware.ElementTypeFeedback,
			parent, courseware.ElementTypeInteractive, `{"x":1}`,
		).Event()
		assert.Equal("FEEDBACK_CONFIG_CHANGE", event.RTMEvent)
		assert.Equal(`{"x":1}`, event.Config)
		event = uut.ThemeChanged.Build(client, root, root, "", `{"c":2}`).Event()
		assert.Equal("ACTIVITY_THEME_CHANGE", event.RTMEvent)
		assert.Equal(`{"c":2}`, event.Theme)
		assert.Empty(event.ParentElementID)
	}

	// Case 5: scenarios are reported against the parent
	{
		scenario := uuid.NewString()
		event := uut.ScenarioCreated.Build(
			client, root, scenario, element, courseware.ElementTypeInteractive,
			courseware.LifecycleInteractiveEvaluate,
		).Event()
		assert.Equal("INTERACTIVE_SCENARIO_CREATED", event.RTMEvent)
		assert.Equal(element, event.ElementID)
		assert.EqualValues([]string{scenario}, event.ScenarioIDs)
		order := []string{uuid.NewString(), uuid.NewString()}
		event = uut.ScenarioReordered.Build(
			client, root, root, courseware.ElementTypeActivity,
			courseware.LifecycleActivityEvaluate, order,
		).Event()
		assert.Equal("ACTIVITY_SCENARIO_REORDERED", event.RTMEvent)
		assert.EqualValues(order, event.ScenarioIDs)
		assert.Equal(courseware.LifecycleActivityEvaluate, event.Lifecycle)
	}

	// Case 6: produce hands the event to the recorder, with no deduplication
	{
		p := uut.Created.Build(
			client, root, element, courseware.ElementTypeActivity, "", "",
		)
		assert.Nil(p.Produce(context.Background()))
		assert.Nil(p.Produce(context.Background()))
		assert.Len(recorder.events, 2)
		assert.EqualValues(p.Event(), recorder.events[1])
	}
}

func TestChangeLogRecorder(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCancel := context.WithCancel(context.Background())
	defer utCancel()

	store, err := storage.GetSQLiteChangeLog(utCtxt, filepath.Join(t.TempDir(), "changelog.db"))
	assert.Nil(err)
	defer func() {
		assert.Nil(store.Close())
	}()
	tp, err := common.GetNewTaskProcessorInstance(utCtxt, "recorder", 4)
	assert.Nil(err)
	broadcaster := &testBroadcaster{}
	recorder, err := GetChangeLogRecorder(store, broadcaster, tp, time.Second, "testing")
	assert.Nil(err)
	assert.Nil(tp.StartEventLoop(&wg))
	defer func() {
		assert.Nil(tp.StopEventLoop())
	}()

	uut := GetProducers(recorder)
	client := ClientContext{AccountID: uuid.NewString()}
	root := uuid.NewString()

	// Case 0: produced events are recorded in order and broadcast
	{
		first := uut.ConfigChanged.Build(
			client, root, root, courseware.ElementTypeActivity, "", "", `{"v":1}`,
		)
		second := uut.ThemeChanged.Build(client, root, root, "", `{"v":2}`)
		assert.Nil(first.Produce(utCtxt))
		assert.Nil(second.Produce(utCtxt))
		assert.Eventually(func() bool {
			return len(broadcaster.broadcasted()) == 2
		}, time.Second, time.Millisecond*10)
		entries, err := store.List(utCtxt, root, 0, 10)
		assert.Nil(err)
		assert.Len(entries, 2)
		assert.EqualValues(second.Event(), entries[0].ChangeEvent)
		assert.EqualValues(first.Event(), entries[1].ChangeEvent)
		assert.Equal(entries[1].ID, broadcaster.broadcasted()[0].ID)
	}

	// Case 1: events without a root are dropped, not broadcast
	{
		bad := uut.Created.Build(client, "", uuid.NewString(), courseware.ElementTypeActivity, "", "")
		assert.Nil(bad.Produce(utCtxt))
		good := uut.Deleted.Build(client, root, root, courseware.ElementTypeActivity, "", "")
		assert.Nil(good.Produce(utCtxt))
		assert.Eventually(func() bool {
			return len(broadcaster.broadcasted()) == 3
		}, time.Second, time.Millisecond*10)
		assert.Equal(courseware.ActionDeleted, broadcaster.broadcasted()[2].Action)
	}

	// Case 2: a move between roots is recorded and broadcast in both change logs
	{
		oldRoot := uuid.NewString()
		moved := uut.Moved.Build(
			client, root, oldRoot, uuid.NewString(), courseware.ElementTypeActivity,
			uuid.NewString(), uuid.NewString(),
		)
		assert.Nil(moved.Produce(utCtxt))
		assert.Eventually(func() bool {
			return len(broadcaster.broadcasted()) == 5
		}, time.Second, time.Millisecond*10)
		sent := broadcaster.broadcasted()
		assert.Equal(root, sent[3].ChangeLogID)
		assert.Equal(oldRoot, sent[4].ChangeLogID)
		entries, err := store.List(utCtxt, oldRoot, 0, 10)
		assert.Nil(err)
		assert.Len(entries, 1)
		assert.Equal(courseware.ActionMoved, entries[0].Action)
		entries, err = store.List(utCtxt, root, 0, 1)
		assert.Nil(err)
		assert.Len(entries, 1)
		assert.Equal(courseware.ActionMoved, entries[0].Action)
	}
}

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
	"fmt"
	"reflect"
	"time"

	"github.com/alwitt/rtmcast/broker"
	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/courseware"
	"github.com/alwitt/rtmcast/storage"
	"github.com/apex/log"
)

// Recorder durably records change events into the change log
type Recorder interface {
	// Record queue a change event for recording. Returns once the event is queued.
	Record(ctxt context.Context, event courseware.ChangeEvent) error
}

// changeLogRecorderImpl implements Recorder
type changeLogRecorderImpl struct {
	common.Component
	store        storage.ChangeLogStore
	broadcaster  broker.EventBroker
	tp           common.TaskProcessor
	storeTimeout time.Duration
}

// GetChangeLogRecorder define a new Recorder
//
// Events are appended to the store on the provided task processor, which the caller
// starts. Each recorded entry is then broadcast to change log subscribers, if a
// broadcaster is given.
func GetChangeLogRecorder(
	store storage.ChangeLogStore,
	broadcaster broker.EventBroker,
	tp common.TaskProcessor,
	storeTimeout time.Duration,
	instance string,
) (Recorder, error) {
	logTags := log.Fields{
		"module": "producer", "component": "changelog-recorder", "instance": instance,
	}
	if store == nil || tp == nil {
		return nil, fmt.Errorf("change log recorder requires a store and task processor")
	}
	instanceImpl := &changeLogRecorderImpl{
		Component:    common.Component{LogTags: logTags},
		store:        store,
		broadcaster:  broadcaster,
		tp:           tp,
		storeTimeout: storeTimeout,
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(recordEventReq{}), instanceImpl.processRecordEventRequest,
	); err != nil {
		return nil, err
	}
	return instanceImpl, nil
}

type recordEventReq struct {
	event   courseware.ChangeEvent
	logTags log.Fields
}

// Record queue a change event for recording
func (r *changeLogRecorderImpl) Record(ctxt context.Context, event courseware.ChangeEvent) error {
	localLogTags, _ := common.UpdateLogTags(ctxt, r.LogTags)
	if err := r.tp.Submit(ctxt, recordEventReq{event: event, logTags: localLogTags}); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Failed to submit %s of %s for recording", event.RTMEvent, event.ElementID,
		)
		return err
	}
	return nil
}

func (r *changeLogRecorderImpl) processRecordEventRequest(param interface{}) error {
	request, ok := param.(recordEventReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for change recording", reflect.TypeOf(param),
		)
	}
	_, err := r.ProcessRecordEvent(request.event, request.logTags)
	return err
}

// ProcessRecordEvent append one event to the change log of every root it affects and
// broadcast each entry
func (r *changeLogRecorderImpl) ProcessRecordEvent(
	event courseware.ChangeEvent, logTags log.Fields,
) ([]storage.ChangeLogEntry, error) {
	roots := event.ChangeLogRoots()
	if len(roots) == 0 {
		err := common.NewValidationError("change event for %s has no root element", event.ElementID)
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to record %s of %s", event.RTMEvent, event.ElementID,
		)
		return nil, err
	}
	useContext, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()
	entries := []storage.ChangeLogEntry{}
	for _, root := range roots {
		entry, err := r.store.AppendTo(useContext, root, event)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Unable to record %s of %s in change log %s", event.RTMEvent, event.ElementID, root,
			)
			return entries, err
		}
		entries = append(entries, entry)
		if r.broadcaster != nil {
			if err := r.broadcaster.BroadcastChangeLog(useContext, entry); err != nil {
				log.WithError(err).WithFields(logTags).Errorf(
					"Unable to broadcast change log entry %s", entry.ID,
				)
			}
		}
	}
	return entries, nil
}

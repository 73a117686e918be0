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

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/courseware"
	"github.com/alwitt/rtmcast/storage"
	"github.com/alwitt/rtmcast/subscription"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// Broadcast message types
const (
	// MessageTypeActivityBroadcast frame type of courseware change broadcasts
	MessageTypeActivityBroadcast = "author.activity.broadcast"
	// MessageTypeChangeLogBroadcast frame type of change log broadcasts
	MessageTypeChangeLogBroadcast = "project.activity.changelog.broadcast"
)

// Frame a broadcast frame delivered to one subscription
type Frame struct {
	// Type frame message type
	Type string `json:"type"`
	// ReplyTo ID of the subscription the frame is delivered for
	ReplyTo string `json:"replyTo"`
	// Response frame body
	Response json.RawMessage `json:"response"`
}

// BroadcastRequest a broadcast to fan out to the listeners of a set of elements
type BroadcastRequest struct {
	// MessageType frame message type
	MessageType string `json:"type" validate:"required"`
	// Flavor subscription flavor of the listeners
	Flavor subscription.Flavor `json:"flavor" validate:"required"`
	// ElementIDs elements whose listeners receive the broadcast
	ElementIDs []string `json:"elementIds" validate:"required,min=1"`
	// Payload frame body
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// Relay forwards broadcast requests to every server node
type Relay interface {
	// Publish publish an encoded BroadcastRequest
	Publish(ctxt context.Context, msg []byte) error
}

// ChangeLogPayload body of a change log broadcast
type ChangeLogPayload struct {
	ChangeLog storage.ChangeLogEntry `json:"changelog"`
}

// EventBroker delivers broadcasts to subscribed RTM sessions
type EventBroker interface {
	// Broadcast deliver a courseware change to the listeners of the affected activities.
	// Returns once the broadcast is queued.
	Broadcast(ctxt context.Context, messageType string, event courseware.ChangeEvent) error
	// BroadcastChangeLog deliver a change log entry to the listeners of its root element.
	// Returns once the broadcast is queued.
	BroadcastChangeLog(ctxt context.Context, entry storage.ChangeLogEntry) error
	// DeliverRelayed deliver an encoded BroadcastRequest received from the relay to the
	// local listeners
	DeliverRelayed(ctxt context.Context, msg []byte) error
}

// eventBrokerImpl implements EventBroker
type eventBrokerImpl struct {
	common.Component
	subscriptions   subscription.Manager
	tp              common.TaskProcessor
	relay           Relay
	deliveryTimeout time.Duration
	validate        *validator.Validate
}

// GetEventBroker define a new EventBroker
//
// Fan out runs on the provided task processor, which the caller starts. If relay is not
// nil, broadcasts are published through it instead of delivered directly; every node,
// including this one, delivers them when they arrive through DeliverRelayed.
func GetEventBroker(
	subscriptions subscription.Manager,
	tp common.TaskProcessor,
	relay Relay,
	deliveryTimeout time.Duration,
	instance string,
) (EventBroker, error) {
	logTags := log.Fields{
		"module": "broker", "component": "event-broker", "instance": instance,
	}
	if subscriptions == nil || tp == nil {
		return nil, fmt.Errorf("event broker requires a subscription manager and task processor")
	}
	instanceImpl := &eventBrokerImpl{
		Component:       common.Component{LogTags: logTags},
		subscriptions:   subscriptions,
		tp:              tp,
		relay:           relay,
		deliveryTimeout: deliveryTimeout,
		validate:        validator.New(),
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(fanOutReq{}), instanceImpl.processFanOutRequest,
	); err != nil {
		return nil, err
	}
	return instanceImpl, nil
}

// Broadcast deliver a courseware change to the listeners of the affected activities
func (b *eventBrokerImpl) Broadcast(
	ctxt context.Context, messageType string, event courseware.ChangeEvent,
) error {
	payload, err := json.Marshal(&event)
	if err != nil {
		return err
	}
	return b.dispatch(ctxt, BroadcastRequest{
		MessageType: messageType,
		Flavor:      subscription.FlavorActivity,
		ElementIDs:  event.AffectedActivities(),
		Payload:     payload,
	})
}

// BroadcastChangeLog deliver a change log entry to the listeners of its change log
func (b *eventBrokerImpl) BroadcastChangeLog(
	ctxt context.Context, entry storage.ChangeLogEntry,
) error {
	payload, err := json.Marshal(&ChangeLogPayload{ChangeLog: entry})
	if err != nil {
		return err
	}
	changeLogID := entry.ChangeLogID
	if changeLogID == "" {
		changeLogID = entry.RootElementID
	}
	return b.dispatch(ctxt, BroadcastRequest{
		MessageType: MessageTypeChangeLogBroadcast,
		Flavor:      subscription.FlavorChangeLog,
		ElementIDs:  []string{changeLogID},
		Payload:     payload,
	})
}

// DeliverRelayed deliver an encoded BroadcastRequest received from the relay
func (b *eventBrokerImpl) DeliverRelayed(ctxt context.Context, msg []byte) error {
	var request BroadcastRequest
	if err := json.Unmarshal(msg, &request); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to parse relayed broadcast")
		return err
	}
	if err := b.validate.Struct(&request); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Relayed broadcast is not valid")
		return err
	}
	return b.enqueue(ctxt, request)
}

func (b *eventBrokerImpl) dispatch(ctxt context.Context, request BroadcastRequest) error {
	localLogTags, _ := common.UpdateLogTags(ctxt, b.LogTags)
	if len(request.ElementIDs) == 0 {
		log.WithFields(localLogTags).Warnf("Dropping %s with no target elements", request.MessageType)
		return nil
	}
	if b.relay != nil {
		encoded, err := json.Marshal(&request)
		if err != nil {
			return err
		}
		if err := b.relay.Publish(ctxt, encoded); err != nil {
			log.WithError(err).WithFields(localLogTags).Errorf(
				"Failed to relay %s", request.MessageType,
			)
			return err
		}
		return nil
	}
	return b.enqueue(ctxt, request)
}

// ----------------------------------------------------------------------------------------

type fanOutReq struct {
	request BroadcastRequest
	logTags log.Fields
}

func (b *eventBrokerImpl) enqueue(ctxt context.Context, request BroadcastRequest) error {
	localLogTags, _ := common.UpdateLogTags(ctxt, b.LogTags)
	if err := b.tp.Submit(ctxt, fanOutReq{request: request, logTags: localLogTags}); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Failed to submit %s for fan out", request.MessageType,
		)
		return err
	}
	return nil
}

func (b *eventBrokerImpl) processFanOutRequest(param interface{}) error {
	request, ok := param.(fanOutReq)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for fan out", reflect.TypeOf(param))
	}
	b.FanOut(request.request, request.logTags)
	return nil
}

// FanOut deliver one broadcast to every listener registered at this moment. Returns
// the number of listeners delivered to successfully and the number attempted.
func (b *eventBrokerImpl) FanOut(request BroadcastRequest, logTags log.Fields) (int, int) {
	listeners := []subscription.Listener{}
	for _, elementID := range request.ElementIDs {
		listeners = append(listeners, b.subscriptions.Listeners(request.Flavor, elementID)...)
	}
	if len(listeners) == 0 {
		return 0, 0
	}

	wg := sync.WaitGroup{}
	lock := sync.Mutex{}
	delivered := 0
	for _, listener := range listeners {
		wg.Add(1)
		go func(target subscription.Listener) {
			defer wg.Done()
			ctxt, cancel := context.WithTimeout(context.Background(), b.deliveryTimeout)
			defer cancel()
			frame := Frame{
				Type:     request.MessageType,
				ReplyTo:  target.SubscriptionID,
				Response: request.Payload,
			}
			if err := target.Session.Send(ctxt, frame); err != nil {
				log.WithError(err).WithFields(logTags).Warnf(
					"Failed to deliver %s to %s of session %s",
					request.MessageType, target.SubscriptionID, target.Session.ID(),
				)
				if errors.Is(err, subscription.ErrSessionClosed) {
					b.subscriptions.Reap(target.Session.ID())
				}
				return
			}
			lock.Lock()
			delivered++
			lock.Unlock()
		}(listener)
	}
	wg.Wait()
	log.WithFields(logTags).Debugf(
		"Delivered %s to %d of %d listeners", request.MessageType, delivered, len(listeners),
	)
	return delivered, len(listeners)
}

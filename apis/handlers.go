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

package apis

import (
	"context"
	"fmt"

	"github.com/alwitt/rtmcast/broker"
	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/courseware"
	"github.com/alwitt/rtmcast/producer"
	"github.com/alwitt/rtmcast/subscription"
	"github.com/apex/log"
)

// HandlerDeps collaborators of the RTM message handlers
type HandlerDeps struct {
	// Courseware the courseware domain service
	Courseware courseware.Service
	// Subscriptions the subscription manager
	Subscriptions subscription.Manager
	// Broker delivers broadcasts of committed mutations
	Broker broker.EventBroker
	// Producers turn committed mutations into change log records
	Producers producer.Producers
}

// rtmHandlers builds the message handlers over a shared set of collaborators
type rtmHandlers struct {
	common.Component
	HandlerDeps
	decoder requestDecoder
	// runtimeCtxt context broadcasts and change records are submitted on
	runtimeCtxt context.Context
}

// DefineMessageHandlers define the handlers of every supported RTM message type
func DefineMessageHandlers(
	runtimeCtxt context.Context, deps HandlerDeps,
) (map[string]MessageHandler, error) {
	if deps.Courseware == nil || deps.Subscriptions == nil || deps.Broker == nil {
		return nil, fmt.Errorf("message handlers require courseware, subscriptions and broker")
	}
	h := &rtmHandlers{
		Component: common.Component{
			LogTags: log.Fields{"module": "apis", "component": "rtm-handlers"},
		},
		HandlerDeps: deps,
		decoder:     newRequestDecoder(),
		runtimeCtxt: runtimeCtxt,
	}
	handlers := map[string]MessageHandler{}
	h.defineSubscriptionHandlers(handlers)
	h.defineCoursewareHandlers(handlers)
	return handlers, nil
}

// emit broadcast a committed mutation and queue its change record
//
// Failures are logged only. The requesting client has already succeeded.
func (h *rtmHandlers) emit(ctxt context.Context, p producer.Producible) {
	localLogTags, _ := common.UpdateLogTags(ctxt, h.LogTags)
	event := p.Event()
	if err := h.Broker.Broadcast(
		h.runtimeCtxt, broker.MessageTypeActivityBroadcast, event,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Unable to broadcast %s of %s", event.RTMEvent, event.ElementID,
		)
	}
	if err := p.Produce(h.runtimeCtxt); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Unable to produce %s of %s", event.RTMEvent, event.ElementID,
		)
	}
}

// clientOf the client context of a call
func clientOf(call RTMCall) producer.ClientContext {
	return producer.ClientContext{AccountID: call.Session.AccountID()}
}

// ========================================================================================
// Subscriptions

// subscriptionTarget validated subscribe / unsubscribe request
type subscriptionTarget struct {
	flavor    subscription.Flavor
	elementID string
	// originID the element named by the request, when elementID was derived from it
	originID string
}

// SubscribeResponse reply body of a subscribe message
type SubscribeResponse struct {
	RTMSubscriptionID string `json:"rtmSubscriptionId"`
}

func (h *rtmHandlers) defineSubscriptionHandlers(handlers map[string]MessageHandler) {
	// author.activity stream of one activity
	activityTarget := func(ctxt context.Context, call RTMCall) (interface{}, error) {
		var req activityRequest
		if err := h.decoder.decode(call.Message, &req); err != nil {
			return nil, err
		}
		if _, err := h.Courseware.Find(
			ctxt, courseware.ElementTypeActivity, req.ActivityID,
		); err != nil {
			return nil, err
		}
		return subscriptionTarget{flavor: subscription.FlavorActivity, elementID: req.ActivityID}, nil
	}
	// project.activity.changelog stream of the root containing an activity
	changeLogTarget := func(ctxt context.Context, call RTMCall) (interface{}, error) {
		var req activityRequest
		if err := h.decoder.decode(call.Message, &req); err != nil {
			return nil, err
		}
		rootID, err := h.Courseware.RootElementID(
			ctxt, req.ActivityID, courseware.ElementTypeActivity,
		)
		if err != nil {
			return nil, err
		}
		return subscriptionTarget{
			flavor: subscription.FlavorChangeLog, elementID: rootID, originID: req.ActivityID,
		}, nil
	}

	subscribe := func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
		target := request.(subscriptionTarget)
		originID := target.originID
		if originID == "" {
			originID = target.elementID
		}
		subscriptionID, err := h.Subscriptions.SubscribeFrom(
			ctxt, target.flavor, target.elementID, originID, call.Session,
		)
		if err != nil {
			return nil, err
		}
		return SubscribeResponse{RTMSubscriptionID: subscriptionID}, nil
	}
	unsubscribe := func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
		target := request.(subscriptionTarget)
		return nil, h.Subscriptions.Unsubscribe(
			ctxt, target.flavor, target.elementID, call.Session.ID(),
		)
	}

	handlers["author.activity.subscribe"] = messageHandler{
		validate: activityTarget,
		handle:   subscribe,
		failure:  "Unable to subscribe to activity",
	}
	// Unsubscribing does not require the activity to still exist
	handlers["author.activity.unsubscribe"] = messageHandler{
		validate: func(_ context.Context, call RTMCall) (interface{}, error) {
			var req activityRequest
			if err := h.decoder.decode(call.Message, &req); err != nil {
				return nil, err
			}
			return subscriptionTarget{
				flavor: subscription.FlavorActivity, elementID: req.ActivityID,
			}, nil
		},
		handle:  unsubscribe,
		failure: "Unable to unsubscribe from activity",
	}
	handlers["project.activity.changelog.subscribe"] = messageHandler{
		validate: changeLogTarget,
		handle:   subscribe,
		failure:  "Unable to subscribe to activity change log",
	}
	// The activity may have been deleted or moved to another root since subscribing
	handlers["project.activity.changelog.unsubscribe"] = messageHandler{
		validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
			var req activityRequest
			if err := h.decoder.decode(call.Message, &req); err != nil {
				return nil, err
			}
			target := subscriptionTarget{
				flavor: subscription.FlavorChangeLog, originID: req.ActivityID,
			}
			rootID, err := h.Courseware.RootElementID(
				ctxt, req.ActivityID, courseware.ElementTypeActivity,
			)
			if err == nil {
				target.elementID = rootID
			} else if !common.IsErrorKind(err, common.ErrorKindNotFound) {
				return nil, err
			}
			return target, nil
		},
		handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
			target := request.(subscriptionTarget)
			_, err := h.Subscriptions.UnsubscribeFrom(
				ctxt, target.flavor, target.originID, call.Session.ID(),
			)
			if err == nil || !common.IsErrorKind(err, common.ErrorKindNotFound) {
				return nil, err
			}
			if target.elementID == "" {
				return nil, err
			}
			// Subscribed through another activity of the same root
			return nil, h.Subscriptions.Unsubscribe(
				ctxt, target.flavor, target.elementID, call.Session.ID(),
			)
		},
		failure: "Unable to unsubscribe from activity change log",
	}
}

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

package dataplane

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/core"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// ErrRelayStopped reported through the error callback when the relay can no longer
// receive broadcasts
var ErrRelayStopped = errors.New("broadcast relay stopped")

// ForwardMessageHandlerCB callback used to forward relayed messages to the next stage
type ForwardMessageHandlerCB func(ctxt context.Context, msg []byte) error

// AlertOnErrorCB callback used to expose internal error to an outer context for handling
type AlertOnErrorCB func(err error)

// BroadcastRelay shares broadcasts between server nodes over a NATS subject
type BroadcastRelay interface {
	// Publish publish an encoded broadcast to every node
	Publish(ctxt context.Context, msg []byte) error
	// StartReading begin receiving broadcasts published by any node, including this one.
	//
	// Dropped messages of a slow reader are reported to errorCB and reading continues.
	// Other read failures are retried on a new subscription; when that fails too, errorCB
	// receives an ErrRelayStopped error and reading ends.
	StartReading(
		forwardCB ForwardMessageHandlerCB,
		errorCB AlertOnErrorCB,
		wg *sync.WaitGroup,
	) error
}

// natsBroadcastRelayImpl implements BroadcastRelay
type natsBroadcastRelayImpl struct {
	common.Component
	nats       *core.NatsClient
	subject    string
	reading    bool
	sub        *nats.Subscription
	forwardMsg ForwardMessageHandlerCB
	errorCB    AlertOnErrorCB
	lock       sync.Mutex
	ctxt       context.Context
}

// GetBroadcastRelay define a new BroadcastRelay
//
// The subscription is created immediately, so broadcasts published after this returns
// are buffered until reading starts. Reading stops when ctxt is cancelled.
func GetBroadcastRelay(
	ctxt context.Context, natsClient *core.NatsClient, subject string, instance string,
) (BroadcastRelay, error) {
	logTags := log.Fields{
		"module":    "dataplane",
		"component": "broadcast-relay",
		"instance":  instance,
		"subject":   subject,
	}
	if subject == "" {
		return nil, fmt.Errorf("broadcast relay subject is empty")
	}
	s, err := natsClient.NATs().SubscribeSync(subject)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription")
		return nil, err
	}
	return &natsBroadcastRelayImpl{
		Component: common.Component{LogTags: logTags},
		nats:      natsClient,
		subject:   subject,
		sub:       s,
		ctxt:      ctxt,
	}, nil
}

// Publish publish an encoded broadcast to every node
func (r *natsBroadcastRelayImpl) Publish(ctxt context.Context, msg []byte) error {
	localLogTags, err := common.UpdateLogTags(ctxt, r.LogTags)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Failed to update logtags")
		return err
	}
	if err := ctxt.Err(); err != nil {
		return err
	}
	if err := r.nats.NATs().Publish(r.subject, msg); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Unable to relay broadcast")
		return err
	}
	return nil
}

// StartReading begin receiving broadcasts published by any node
func (r *natsBroadcastRelayImpl) StartReading(
	forwardCB ForwardMessageHandlerCB,
	errorCB AlertOnErrorCB,
	wg *sync.WaitGroup,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.reading {
		err := fmt.Errorf("already reading")
		log.WithError(err).WithFields(r.LogTags).Error("Unable to start reading")
		return err
	}
	wg.Add(1)
	r.forwardMsg = forwardCB
	r.errorCB = errorCB
	r.reading = true
	go func() {
		defer wg.Done()
		log.WithFields(r.LogTags).Infof("Starting reading relayed broadcasts")
		defer log.WithFields(r.LogTags).Infof("Stopping relay read loop")
		defer func() {
			if err := r.sub.Unsubscribe(); err != nil {
				log.WithError(err).WithFields(r.LogTags).Error("Unsubscribe failed")
			}
		}()
		for {
			newMsg, err := r.sub.NextMsgWithContext(r.ctxt)
			if err != nil {
				if r.ctxt.Err() != nil {
					return
				}
				if errors.Is(err, nats.ErrSlowConsumer) {
					log.WithError(err).WithFields(r.LogTags).Warn("Relayed broadcasts dropped")
					r.errorCB(err)
					continue
				}
				log.WithError(err).WithFields(r.LogTags).Errorf("Read failure")
				if resubErr := r.resubscribe(); resubErr != nil {
					r.errorCB(fmt.Errorf("%w: %s", ErrRelayStopped, resubErr.Error()))
					return
				}
				r.errorCB(err)
				continue
			}
			if newMsg != nil {
				if err := r.forwardMsg(r.ctxt, newMsg.Data); err != nil {
					log.WithError(err).WithFields(r.LogTags).Errorf("Unable to forward broadcast")
					r.errorCB(err)
				}
			}
		}
	}()
	return nil
}

// resubscribe replace the subscription after a read failure
func (r *natsBroadcastRelayImpl) resubscribe() error {
	if err := r.sub.Unsubscribe(); err != nil {
		log.WithError(err).WithFields(r.LogTags).Debug("Old subscription unsubscribe failed")
	}
	s, err := r.nats.NATs().SubscribeSync(r.subject)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to resubscribe")
		return err
	}
	r.sub = s
	log.WithFields(r.LogTags).Info("Resubscribed after read failure")
	return nil
}

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
	"sync"
	"testing"
	"time"

	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/core"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestBroadcastRelay(t *testing.T) {
	natsURI := common.GetUnitTestNatsURI()
	if natsURI == "" {
		t.Skip("UNITTEST_NATS_URI is not set")
	}
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	logTags := log.Fields{
		"module":    "dataplane_test",
		"component": "BroadcastRelay",
		"instance":  "basic",
	}

	natsParam := core.NATSConnectParams{
		ServerURI:           natsURI,
		ConnectTimeout:      time.Second,
		MaxReconnectAttempt: 0,
		ReconnectWait:       time.Second,
		OnDisconnectCallback: func(_ *nats.Conn, e error) {
			if e != nil {
				log.WithError(e).WithFields(logTags).Error(
					"Disconnect callback triggered with failure",
				)
			}
		},
		OnReconnectCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Debug("Reconnected with NATs server")
		},
		OnCloseCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Debug("Disconnected from NATs server")
		},
	}

	nc, err := core.GetNATSClient(natsParam)
	assert.Nil(err)
	defer nc.Close(utCtxt)

	subject := "ut-relay." + uuid.NewString()
	readCtxt, readCancel := context.WithCancel(utCtxt)
	defer readCancel()

	// Two nodes on the same subject
	node1, err := GetBroadcastRelay(readCtxt, &nc, subject, "node-1")
	assert.Nil(err)
	node2, err := GetBroadcastRelay(readCtxt, &nc, subject, "node-2")
	assert.Nil(err)

	received := map[string]chan []byte{
		"node-1": make(chan []byte, 4),
		"node-2": make(chan []byte, 4),
	}
	errorCB := func(err error) {
		assert.Nil(err)
	}
	assert.Nil(node1.StartReading(func(ctxt context.Context, msg []byte) error {
		received["node-1"] <- msg
		return nil
	}, errorCB, &wg))
	assert.Nil(node2.StartReading(func(ctxt context.Context, msg []byte) error {
		received["node-2"] <- msg
		return nil
	}, errorCB, &wg))

	// Case 0: start reading twice
	{
		assert.NotNil(node1.StartReading(nil, nil, &wg))
	}

	// Case 1: publish from one node reaches both
	{
		msg := []byte(uuid.NewString())
		assert.Nil(node1.Publish(utCtxt, msg))
		for node, rxChan := range received {
			select {
			case rx := <-rxChan:
				assert.Equal(msg, rx)
			case <-time.After(time.Second):
				assert.Failf("broadcast not relayed", "node %s", node)
			}
		}
	}

	// Case 2: publish with cancelled context
	{
		ctxt, cancel := context.WithCancel(utCtxt)
		cancel()
		assert.NotNil(node2.Publish(ctxt, []byte("dropped")))
	}
}

func TestBroadcastRelayInvalidSubject(t *testing.T) {
	assert := assert.New(t)
	_, err := GetBroadcastRelay(context.Background(), &core.NatsClient{}, "", "node")
	assert.NotNil(err)
}

func TestBroadcastRelaySlowReader(t *testing.T) {
	natsURI := common.GetUnitTestNatsURI()
	if natsURI == "" {
		t.Skip("UNITTEST_NATS_URI is not set")
	}
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	nc, err := core.GetNATSClient(core.NATSConnectParams{
		ServerURI:            natsURI,
		ConnectTimeout:       time.Second,
		ReconnectWait:        time.Second,
		OnDisconnectCallback: func(_ *nats.Conn, _ error) {},
		OnReconnectCallback:  func(_ *nats.Conn) {},
		OnCloseCallback:      func(_ *nats.Conn) {},
	})
	assert.Nil(err)
	defer nc.Close(utCtxt)

	subject := "ut-relay-slow." + uuid.NewString()
	readCtxt, readCancel := context.WithCancel(utCtxt)
	defer readCancel()

	uut, err := GetBroadcastRelay(readCtxt, &nc, subject, "slow-node")
	assert.Nil(err)
	relayImpl, ok := uut.(*natsBroadcastRelayImpl)
	assert.True(ok)
	assert.Nil(relayImpl.sub.SetPendingLimits(1, -1))

	// Overflow the pending buffer before reading starts
	for itr := 0; itr < 10; itr++ {
		assert.Nil(uut.Publish(utCtxt, []byte(uuid.NewString())))
	}
	assert.Nil(nc.NATs().Flush())
	time.Sleep(time.Millisecond * 100)

	received := make(chan []byte, 16)
	failures := make(chan error, 16)
	assert.Nil(uut.StartReading(func(ctxt context.Context, msg []byte) error {
		received <- msg
		return nil
	}, func(err error) {
		failures <- err
	}, &wg))

	// Case 0: dropped messages are reported without stopping the relay
	{
		select {
		case err := <-failures:
			assert.ErrorIs(err, nats.ErrSlowConsumer)
			assert.False(errors.Is(err, ErrRelayStopped))
		case <-time.After(time.Second):
			assert.Fail("slow reader not reported")
		}
	}

	// Case 1: later broadcasts still arrive
	{
		msg := []byte(uuid.NewString())
		assert.Nil(uut.Publish(utCtxt, msg))
		found := false
		timeout := time.After(time.Second)
		for !found {
			select {
			case rx := <-received:
				found = string(rx) == string(msg)
			case <-timeout:
				assert.Fail("broadcast not relayed after slow reader recovery")
				found = true
			}
		}
		select {
		case err := <-failures:
			assert.False(errors.Is(err, ErrRelayStopped))
		default:
		}
	}
}

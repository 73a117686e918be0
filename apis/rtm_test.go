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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alwitt/rtmcast/broker"
	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/courseware"
	"github.com/alwitt/rtmcast/subscription"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

// testFrame any frame received by a websocket client
type testFrame struct {
	Type     string          `json:"type"`
	ReplyTo  string          `json:"replyTo"`
	Response json.RawMessage `json:"response"`
	Code     int             `json:"code"`
	Message  string          `json:"message"`
}

func TestRTMWebsocketSessions(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCancel := context.WithCancel(context.Background())
	defer utCancel()

	fixture, stop := defineTestFixture(t, utCtxt, &wg, nil)
	defer stop()

	sessionConfig := common.RTMSessionConfig{
		AccountIDHeader:     "Rtmcast-Account-ID",
		PingInterval:        30,
		WriteTimeout:        5,
		ValidationTimeout:   1,
		MaxMessageBytes:     1 << 20,
		MaxInflightMessages: 4,
	}
	uut := GetRTMHandler(utCtxt, fixture.dispatcher, fixture.subscriptions, sessionConfig)
	server := httptest.NewServer(uut.SessionHandler())
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	connect := func(accountID string) *websocket.Conn {
		header := http.Header{}
		header.Set(sessionConfig.AccountIDHeader, accountID)
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		assert.Nil(err)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return conn
	}
	send := func(conn *websocket.Conn, msg map[string]interface{}) testFrame {
		msg["id"] = uuid.NewString()
		assert.Nil(conn.WriteJSON(msg))
		assert.Nil(conn.SetReadDeadline(time.Now().Add(time.Second)))
		var reply testFrame
		assert.Nil(conn.ReadJSON(&reply))
		assert.Equal(msg["id"], reply.ReplyTo)
		return reply
	}

	clientA := connect(uuid.NewString())
	defer clientA.Close()
	clientB := connect(uuid.NewString())
	defer clientB.Close()

	activityID := uuid.NewString()

	// Case 0: B creates the activity, A subscribes
	var subscriptionID string
	{
		reply := send(clientB, map[string]interface{}{
			"type": "author.activity.create", "activityId": activityID,
		})
		assert.Equal("author.activity.create.ok", reply.Type)

		reply = send(clientA, map[string]interface{}{
			"type": "author.activity.subscribe", "activityId": activityID,
		})
		assert.Equal("author.activity.subscribe.ok", reply.Type)
		var body SubscribeResponse
		assert.Nil(json.Unmarshal(reply.Response, &body))
		assert.NotEmpty(body.RTMSubscriptionID)
		subscriptionID = body.RTMSubscriptionID
	}

	// Case 1: B replaces the config, A receives the broadcast
	{
		newConfig := `{"title":"over the wire"}`
		reply := send(clientB, map[string]interface{}{
			"type": "author.activity.config.replace", "activityId": activityID, "config": newConfig,
		})
		assert.Equal("author.activity.config.replace.ok", reply.Type)

		assert.Nil(clientA.SetReadDeadline(time.Now().Add(time.Second)))
		var frame testFrame
		assert.Nil(clientA.ReadJSON(&frame))
		assert.Equal(broker.MessageTypeActivityBroadcast, frame.Type)
		assert.Equal(subscriptionID, frame.ReplyTo)
		var event courseware.ChangeEvent
		assert.Nil(json.Unmarshal(frame.Response, &event))
		assert.Equal(courseware.ActionConfigChange, event.Action)
		assert.Equal(activityID, event.ElementID)
		assert.Equal(newConfig, event.Config)
	}

	// Case 2: error replies
	{
		reply := send(clientA, map[string]interface{}{
			"type": "author.activity.unsubscribe", "activityId": uuid.NewString(),
		})
		assert.Equal("author.activity.unsubscribe.error", reply.Type)
		assert.Equal(404, reply.Code)
		assert.Contains(reply.Message, "not found")
	}

	// Case 3: closing the session removes its subscriptions
	{
		assert.Len(fixture.subscriptions.Listeners(subscription.FlavorActivity, activityID), 1)
		assert.Nil(clientA.Close())
		assert.Eventually(func() bool {
			return len(fixture.subscriptions.Listeners(subscription.FlavorActivity, activityID)) == 0
		}, time.Second, time.Millisecond*10)
	}
}

func TestRTMSessionInflightLimit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCancel := context.WithCancel(context.Background())
	defer utCancel()

	registry, err := subscription.GetRegistry("testing")
	assert.Nil(err)
	manager, err := subscription.GetManager(registry, "testing")
	assert.Nil(err)

	var running, peak int32
	release := make(chan struct{})
	handlers := map[string]MessageHandler{
		"test.block": messageHandler{
			validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
				return nil, nil
			},
			handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
				now := atomic.AddInt32(&running, 1)
				defer atomic.AddInt32(&running, -1)
				for {
					seen := atomic.LoadInt32(&peak)
					if now <= seen || atomic.CompareAndSwapInt32(&peak, seen, now) {
						break
					}
				}
				select {
				case <-release:
				case <-ctxt.Done():
				}
				return nil, nil
			},
		},
	}
	dispatcher := GetDispatcher(utCtxt, handlers, nil, time.Second)

	sessionConfig := common.RTMSessionConfig{
		AccountIDHeader:     "Rtmcast-Account-ID",
		PingInterval:        30,
		WriteTimeout:        5,
		ValidationTimeout:   1,
		MaxMessageBytes:     1 << 20,
		MaxInflightMessages: 2,
	}
	uut := GetRTMHandler(utCtxt, dispatcher, manager, sessionConfig)
	server := httptest.NewServer(uut.SessionHandler())
	defer server.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(server.URL, "http"), nil,
	)
	assert.Nil(err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	// Case 0: no more than the limit are handled at once
	{
		for itr := 0; itr < 5; itr++ {
			assert.Nil(conn.WriteJSON(map[string]interface{}{
				"type": "test.block", "id": uuid.NewString(),
			}))
		}
		assert.Eventually(func() bool {
			return atomic.LoadInt32(&running) == 2
		}, time.Second, time.Millisecond*10)
		time.Sleep(time.Millisecond * 100)
		assert.Equal(int32(2), atomic.LoadInt32(&peak))
	}

	// Case 1: released messages let the rest through
	{
		close(release)
		for itr := 0; itr < 5; itr++ {
			assert.Nil(conn.SetReadDeadline(time.Now().Add(time.Second)))
			var reply testFrame
			assert.Nil(conn.ReadJSON(&reply))
			assert.Equal("test.block.ok", reply.Type)
		}
		assert.Equal(int32(2), atomic.LoadInt32(&peak))
	}
}

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
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/subscription"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
)

// RTMHandler hosts RTM sessions over websocket connections
type RTMHandler struct {
	common.Component
	runtimeCtxt   context.Context
	dispatcher    *Dispatcher
	subscriptions subscription.Manager
	upgrader      websocket.Upgrader
	config        common.RTMSessionConfig
}

// GetRTMHandler define a new RTMHandler
//
// Sessions end when runtimeCtxt is cancelled.
func GetRTMHandler(
	runtimeCtxt context.Context,
	dispatcher *Dispatcher,
	subscriptions subscription.Manager,
	config common.RTMSessionConfig,
) *RTMHandler {
	return &RTMHandler{
		Component: common.Component{
			LogTags: log.Fields{"module": "apis", "component": "rtm-session-handler"},
		},
		runtimeCtxt:   runtimeCtxt,
		dispatcher:    dispatcher,
		subscriptions: subscriptions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		config: config,
	}
}

// accountOf the account operating a new session
func (h *RTMHandler) accountOf(r *http.Request) string {
	if accountID := r.Header.Get(h.config.AccountIDHeader); accountID != "" {
		return accountID
	}
	return r.URL.Query().Get("accountId")
}

// Session godoc
// @Summary Open a RTM session
// @Description Upgrade to a websocket carrying RTM messages and broadcasts
// @tags RTM
// @Param Rtmcast-Account-ID header string false "Account operating the session"
// @Success 101
// @Router /rtm [get]
func (h *RTMHandler) Session(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Websocket upgrade failed")
		return
	}
	session := newWSSession(
		h.runtimeCtxt,
		conn,
		h.accountOf(r),
		common.SecondsOrDefault(h.config.WriteTimeout, time.Second*10),
	)
	h.serve(conn, session)
}

// serve run a session until the client leaves or the runtime context ends
func (h *RTMHandler) serve(conn *websocket.Conn, session *wsSessionImpl) {
	logTags := session.LogTags
	log.WithFields(logTags).Info("Session opened")

	pingInterval := common.SecondsOrDefault(h.config.PingInterval, time.Second*30)
	conn.SetReadLimit(int64(h.config.MaxMessageBytes))
	_ = conn.SetReadDeadline(time.Now().Add(pingInterval * 2))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval * 2))
	})

	timerWG := sync.WaitGroup{}
	pinger, err := common.GetIntervalTimerInstance(session.Context(), &timerWG, session.ID())
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define keep-alive timer")
		session.Close()
		return
	}
	if err := pinger.Start(pingInterval, session.Ping, false); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start keep-alive timer")
		session.Close()
		return
	}

	inflight := sync.WaitGroup{}
	maxInflight := h.config.MaxInflightMessages
	if maxInflight < 1 {
		maxInflight = 1
	}
	// Reading pauses while the session is at its in-flight limit
	inflightSlots := semaphore.NewWeighted(int64(maxInflight))

	// Unblock the reader once the session or the server ends
	go func() {
		<-session.Context().Done()
		_ = conn.Close()
	}()

	defer func() {
		if err := pinger.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Debug("Keep-alive timer stop failed")
		}
		timerWG.Wait()
		inflight.Wait()
		session.Close()
		h.subscriptions.CloseSession(
			context.WithValue(
				h.runtimeCtxt, common.RTMCallParam{}, common.RTMCallParam{SessionID: session.ID()},
			),
			session.ID(),
		)
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
			) && session.Context().Err() == nil {
				log.WithError(err).WithFields(logTags).Error("Session read failed")
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := inflightSlots.Acquire(session.Context(), 1); err != nil {
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer inflightSlots.Release(1)
			reply := h.dispatcher.Dispatch(session, raw)
			if err := session.Send(h.runtimeCtxt, reply); err != nil {
				log.WithError(err).WithFields(logTags).Errorf("Unable to send %s", reply.Type)
			}
		}()
	}
}

// SessionHandler Wrapper around Session
func (h *RTMHandler) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Session(w, r)
	}
}

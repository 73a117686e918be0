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
	"sync"
	"time"

	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/subscription"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RTMSession a connected RTM client
type RTMSession interface {
	subscription.Session
	// AccountID account operating the session, empty if not provided
	AccountID() string
	// Context session context, cancelled when the session closes
	Context() context.Context
	// Close close the session
	Close()
}

// frameWriter the portion of a websocket connection used to push frames
type frameWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// wsSessionImpl implements RTMSession over a websocket connection
type wsSessionImpl struct {
	common.Component
	id           string
	accountID    string
	conn         frameWriter
	writeTimeout time.Duration
	writeLock    sync.Mutex
	ctxt         context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// newWSSession define a new session over a websocket connection
func newWSSession(
	parentCtxt context.Context,
	conn frameWriter,
	accountID string,
	writeTimeout time.Duration,
) *wsSessionImpl {
	sessionID := uuid.New().String()
	logTags := log.Fields{
		"module": "apis", "component": "rtm-session", "instance": sessionID,
	}
	if accountID != "" {
		logTags["rtm_account"] = accountID
	}
	ctxt, cancel := context.WithCancel(parentCtxt)
	return &wsSessionImpl{
		Component:    common.Component{LogTags: logTags},
		id:           sessionID,
		accountID:    accountID,
		conn:         conn,
		writeTimeout: writeTimeout,
		ctxt:         ctxt,
		cancel:       cancel,
	}
}

func (s *wsSessionImpl) ID() string {
	return s.id
}

func (s *wsSessionImpl) AccountID() string {
	return s.accountID
}

func (s *wsSessionImpl) Context() context.Context {
	return s.ctxt
}

// writeDeadline the earlier of the write timeout and the context deadline
func (s *wsSessionImpl) writeDeadline(ctxt context.Context) time.Time {
	deadline := time.Now().Add(s.writeTimeout)
	if ctxtDeadline, ok := ctxt.Deadline(); ok && ctxtDeadline.Before(deadline) {
		deadline = ctxtDeadline
	}
	return deadline
}

// Send write one frame to the client
//
// A failed write closes the session, and the returned error wraps
// subscription.ErrSessionClosed.
func (s *wsSessionImpl) Send(ctxt context.Context, frame interface{}) error {
	if s.ctxt.Err() != nil {
		return subscription.ErrSessionClosed
	}
	if err := ctxt.Err(); err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if err := s.conn.SetWriteDeadline(s.writeDeadline(ctxt)); err != nil {
		s.Close()
		return fmt.Errorf("%w: %s", subscription.ErrSessionClosed, err.Error())
	}
	if err := s.conn.WriteJSON(frame); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Frame write failed")
		s.Close()
		return fmt.Errorf("%w: %s", subscription.ErrSessionClosed, err.Error())
	}
	return nil
}

// Ping send a keep-alive ping
func (s *wsSessionImpl) Ping() error {
	if s.ctxt.Err() != nil {
		return subscription.ErrSessionClosed
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if err := s.conn.WriteControl(
		websocket.PingMessage, []byte{}, time.Now().Add(s.writeTimeout),
	); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Keep-alive ping failed")
		s.Close()
		return err
	}
	return nil
}

// Close close the session. Safe to call more than once.
func (s *wsSessionImpl) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.conn.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Debug("Connection close failed")
		}
		log.WithFields(s.LogTags).Info("Session closed")
	})
}

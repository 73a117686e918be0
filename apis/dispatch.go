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
	"time"

	"github.com/alwitt/rtmcast/common"
	"github.com/apex/log"
)

// RTMCall one inbound message on a session
type RTMCall struct {
	// Session the session the message arrived on
	Session RTMSession
	// Message the message
	Message InboundMessage
}

// MessageHandler handles one RTM message type
type MessageHandler interface {
	// Validate parse and check a message without changing any state. Returns the
	// request passed on to Handle.
	Validate(ctxt context.Context, call RTMCall) (interface{}, error)
	// Handle perform the operation of a validated message. Returns the reply body.
	Handle(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error)
	// FailureMessage reply message of failures which carry no client facing message
	FailureMessage() string
	// Mutating whether the message changes courseware
	Mutating() bool
}

// messageHandler implements MessageHandler with functions
type messageHandler struct {
	validate func(ctxt context.Context, call RTMCall) (interface{}, error)
	handle   func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error)
	failure  string
	mutating bool
}

func (h messageHandler) Validate(ctxt context.Context, call RTMCall) (interface{}, error) {
	return h.validate(ctxt, call)
}

func (h messageHandler) Handle(
	ctxt context.Context, call RTMCall, request interface{},
) (interface{}, error) {
	return h.handle(ctxt, call, request)
}

func (h messageHandler) FailureMessage() string {
	return h.failure
}

func (h messageHandler) Mutating() bool {
	return h.mutating
}

// ========================================================================================

// Authorizer decides whether an account may send a message type
type Authorizer interface {
	// Authorize return a Permission error if the account may not send the message type
	Authorize(ctxt context.Context, accountID string, messageType string) error
}

// AllowAllAuthorizer an Authorizer which permits everything
type AllowAllAuthorizer struct{}

// Authorize permit the message
func (AllowAllAuthorizer) Authorize(_ context.Context, _ string, _ string) error {
	return nil
}

// ========================================================================================

// Dispatcher routes inbound messages to their handlers and builds the replies
type Dispatcher struct {
	common.Component
	handlers          map[string]MessageHandler
	authorizer        Authorizer
	validationTimeout time.Duration
	runtimeCtxt       context.Context
}

// GetDispatcher define a new Dispatcher
//
// Validation of each message is bounded by validationTimeout. Handling runs on
// runtimeCtxt, so it is not interrupted when the requesting session closes.
func GetDispatcher(
	runtimeCtxt context.Context,
	handlers map[string]MessageHandler,
	authorizer Authorizer,
	validationTimeout time.Duration,
) *Dispatcher {
	if authorizer == nil {
		authorizer = AllowAllAuthorizer{}
	}
	return &Dispatcher{
		Component: common.Component{
			LogTags: log.Fields{"module": "apis", "component": "rtm-dispatcher"},
		},
		handlers:          handlers,
		authorizer:        authorizer,
		validationTimeout: validationTimeout,
		runtimeCtxt:       runtimeCtxt,
	}
}

// MessageTypes the message types with a handler
func (d *Dispatcher) MessageTypes() []string {
	result := make([]string, 0, len(d.handlers))
	for msgType := range d.handlers {
		result = append(result, msgType)
	}
	return result
}

// Dispatch process one raw message from a session. Returns the reply to send back.
func (d *Dispatcher) Dispatch(session RTMSession, raw []byte) ReplyFrame {
	callParam := common.RTMCallParam{SessionID: session.ID(), AccountID: session.AccountID()}
	var localLogTags log.Fields

	msg, err := ParseInboundMessage(raw)
	if err != nil {
		callCtxt := context.WithValue(d.runtimeCtxt, common.RTMCallParam{}, callParam)
		localLogTags, _ = common.UpdateLogTags(callCtxt, d.LogTags)
		log.WithError(err).WithFields(localLogTags).Error("Unable to parse message")
		return d.errorReply(msg, err, "Unable to parse message")
	}
	callParam.MessageID = msg.ID
	callParam.MessageType = msg.Type
	callCtxt := context.WithValue(d.runtimeCtxt, common.RTMCallParam{}, callParam)
	localLogTags, _ = common.UpdateLogTags(callCtxt, d.LogTags)

	handler, ok := d.handlers[msg.Type]
	if !ok {
		err := common.NewValidationError("unsupported message type %s", msg.Type)
		log.WithError(err).WithFields(localLogTags).Error("No handler for message")
		return d.errorReply(msg, err, "")
	}
	call := RTMCall{Session: session, Message: msg}

	if handler.Mutating() {
		if session.AccountID() == "" {
			err := common.NewPermissionError("an account is required to send %s", msg.Type)
			log.WithError(err).WithFields(localLogTags).Error("Rejected anonymous mutation")
			return d.errorReply(msg, err, handler.FailureMessage())
		}
		if err := d.authorizer.Authorize(callCtxt, session.AccountID(), msg.Type); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Message not authorized")
			return d.errorReply(msg, err, handler.FailureMessage())
		}
	}

	validateCtxt, cancel := context.WithTimeout(callCtxt, d.validationTimeout)
	defer cancel()
	request, err := handler.Validate(validateCtxt, call)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Message failed validation")
		return d.errorReply(msg, err, handler.FailureMessage())
	}

	response, err := handler.Handle(callCtxt, call, request)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Message handling failed")
		return d.errorReply(msg, err, handler.FailureMessage())
	}
	log.WithFields(localLogTags).Debug("Message handled")
	return OKReply(msg, response)
}

// errorReply build an error reply. The cause of unclassified errors stays in the logs.
func (d *Dispatcher) errorReply(msg InboundMessage, err error, fallbackMsg string) ReplyFrame {
	if fallbackMsg == "" {
		fallbackMsg = http.StatusText(http.StatusUnprocessableEntity)
	}
	kind, message := common.ClassifyError(err, fallbackMsg)
	return ErrorReply(msg.Type, msg.ID, kind.StatusCode(), message)
}

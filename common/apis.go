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

package common

import (
	"context"
	"fmt"

	"github.com/apex/log"
)

// RequestParam is a helper object for logging a request's parameters into its context
type RequestParam struct {
	// ID is the request ID
	ID string `json:"id"`
	// Method is the request method: DELETE, POST, PUT, GET, etc.
	Method string `json:"method" `
	// URI is the request URI
	URI string `json:"uri"`
}

// UpdateLogTags updates Apex log.Fields map with values the requests's parameters
func (i *RequestParam) UpdateLogTags(tags log.Fields) {
	tags["request_id"] = i.ID
	tags["request_method"] = i.Method
	tags["request_uri"] = fmt.Sprintf("'%s'", i.URI)
}

// RTMCallParam is a helper object for logging a RTM message's parameters into its context
type RTMCallParam struct {
	// SessionID is the ID of the RTM session the message arrived on
	SessionID string `json:"session_id"`
	// AccountID is the account operating the session
	AccountID string `json:"account_id,omitempty"`
	// MessageID is the client provided correlation ID of the message
	MessageID string `json:"message_id,omitempty"`
	// MessageType is the RTM message type
	MessageType string `json:"message_type,omitempty"`
}

// UpdateLogTags updates Apex log.Fields map with values of the RTM message's parameters
func (i *RTMCallParam) UpdateLogTags(tags log.Fields) {
	tags["rtm_session"] = i.SessionID
	if i.AccountID != "" {
		tags["rtm_account"] = i.AccountID
	}
	if i.MessageID != "" {
		tags["rtm_message_id"] = i.MessageID
	}
	if i.MessageType != "" {
		tags["rtm_message_type"] = i.MessageType
	}
}

// UpdateLogTags build a new log.Fields from the original with the parameters
// stored in the context added
func UpdateLogTags(ctxt context.Context, original log.Fields) (log.Fields, error) {
	newLogTags := log.Fields{}
	for key, value := range original {
		newLogTags[key] = value
	}
	if ctxt.Value(RequestParam{}) != nil {
		v, ok := ctxt.Value(RequestParam{}).(RequestParam)
		if !ok {
			return original, fmt.Errorf("request parameter in context is not RequestParam")
		}
		v.UpdateLogTags(newLogTags)
	}
	if ctxt.Value(RTMCallParam{}) != nil {
		v, ok := ctxt.Value(RTMCallParam{}).(RTMCallParam)
		if !ok {
			return original, fmt.Errorf("RTM parameter in context is not RTMCallParam")
		}
		v.UpdateLogTags(newLogTags)
	}
	return newLogTags, nil
}

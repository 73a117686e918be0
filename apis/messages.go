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
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/courseware"
	"github.com/go-playground/validator/v10"
)

// InboundMessage envelope of a message received from a client
type InboundMessage struct {
	// Type selects the handler
	Type string `json:"type"`
	// ID client correlation ID, echoed back as replyTo
	ID string `json:"id"`
	// Raw the complete message
	Raw json.RawMessage `json:"-"`
}

// ParseInboundMessage parse the envelope of a raw client message
func ParseInboundMessage(raw []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundMessage{}, common.NewValidationError("message is not valid JSON")
	}
	if msg.Type == "" {
		return InboundMessage{}, common.NewValidationError("missing required field type")
	}
	msg.Raw = append(json.RawMessage{}, raw...)
	return msg, nil
}

// ReplyFrame a direct reply to one client message
type ReplyFrame struct {
	// Type "<message type>.ok" or "<message type>.error"
	Type string `json:"type"`
	// ReplyTo correlation ID of the message replied to
	ReplyTo string `json:"replyTo,omitempty"`
	// Response reply body
	Response interface{} `json:"response,omitempty"`
	// Code status code of an error reply
	Code int `json:"code,omitempty"`
	// Message error description
	Message string `json:"message,omitempty"`
}

// OKReply build a success reply
func OKReply(msg InboundMessage, response interface{}) ReplyFrame {
	return ReplyFrame{Type: msg.Type + ".ok", ReplyTo: msg.ID, Response: response}
}

// ErrorReply build an error reply
func ErrorReply(msgType, replyTo string, code int, message string) ReplyFrame {
	if msgType == "" {
		msgType = "message"
	}
	return ReplyFrame{Type: msgType + ".error", ReplyTo: replyTo, Code: code, Message: message}
}

// ========================================================================================
// Message bodies

// activityRequest body of activity subscription messages
type activityRequest struct {
	ActivityID string `json:"activityId" validate:"required"`
}

// elementRequest body of element mutation messages
type elementRequest struct {
	ActivityID           string `json:"activityId"`
	PathwayID            string `json:"pathwayId"`
	InteractiveID        string `json:"interactiveId"`
	ComponentID          string `json:"componentId"`
	FeedbackID           string `json:"feedbackId"`
	ParentPathwayID      string `json:"parentPathwayId"`
	ParentActivityID     string `json:"parentActivityId"`
	ParentInteractiveID  string `json:"parentInteractiveId"`
	DestinationPathwayID string `json:"destinationPathwayId"`
	Index                *int   `json:"index" validate:"omitempty,gte=0"`
	Config               string `json:"config"`
}

// elementIDField JSON field holding the ID of an element type
func elementIDField(elementType courseware.ElementType) string {
	return strings.ToLower(string(elementType)) + "Id"
}

// elementID fetch the ID of the element of the given type
func (r elementRequest) elementID(elementType courseware.ElementType) string {
	switch elementType {
	case courseware.ElementTypeActivity:
		return r.ActivityID
	case courseware.ElementTypePathway:
		return r.PathwayID
	case courseware.ElementTypeInteractive:
		return r.InteractiveID
	case courseware.ElementTypeComponent:
		return r.ComponentID
	case courseware.ElementTypeFeedback:
		return r.FeedbackID
	}
	return ""
}

// scenarioRequest body of scenario messages
type scenarioRequest struct {
	ParentID    string   `json:"parentId" validate:"required"`
	ParentType  string   `json:"parentType" validate:"required"`
	Lifecycle   string   `json:"lifecycle" validate:"required"`
	ScenarioID  string   `json:"scenarioId"`
	Name        string   `json:"name"`
	Config      string   `json:"config"`
	ScenarioIDs []string `json:"scenarioIds"`
}

// ========================================================================================

// requestDecoder parses message bodies and checks their field constraints
type requestDecoder struct {
	validate *validator.Validate
}

func newRequestDecoder() requestDecoder {
	validate := validator.New()
	// Report JSON field names in validation errors
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return requestDecoder{validate: validate}
}

// decode parse the message into a body struct and check its field constraints
func (d requestDecoder) decode(msg InboundMessage, body interface{}) error {
	if err := json.Unmarshal(msg.Raw, body); err != nil {
		return common.NewValidationError("invalid %s message: %s", msg.Type, err.Error())
	}
	if err := d.validate.Struct(body); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			first := fieldErrors[0]
			if first.Tag() == "required" {
				return missingField(first.Field())
			}
			return common.NewValidationError("invalid field %s", first.Field())
		}
		return common.NewValidationError("invalid %s message", msg.Type)
	}
	return nil
}

func missingField(field string) error {
	return common.NewValidationError("missing required field %s", field)
}

// requireField check a field is provided
func requireField(value, field string) error {
	if value == "" {
		return missingField(field)
	}
	return nil
}

// checkIndex check a requested position within a parent holding count children
func checkIndex(index *int, count int) error {
	if index == nil {
		return nil
	}
	if *index < 0 || *index > count {
		return common.NewValidationError(
			"index %d is out of range, must be between 0 and %d", *index, count,
		)
	}
	return nil
}

func elementKey(elementType courseware.ElementType) string {
	return strings.ToLower(string(elementType))
}

func describe(elementType courseware.ElementType, elementID string) string {
	return fmt.Sprintf("%s %s", elementKey(elementType), elementID)
}

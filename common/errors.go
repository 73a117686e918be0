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
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure for reporting back to a RTM client
type ErrorKind int

const (
	// ErrorKindUnprocessable the operation failed for a reason the client can't act on
	ErrorKindUnprocessable ErrorKind = iota
	// ErrorKindValidation the request is malformed
	ErrorKindValidation
	// ErrorKindNotFound the referenced entity or subscription does not exist
	ErrorKindNotFound
	// ErrorKindConflict the entity already exists
	ErrorKindConflict
	// ErrorKindPermission the caller is not allowed to perform the operation
	ErrorKindPermission
)

// String toString function
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindValidation:
		return "validation"
	case ErrorKindNotFound:
		return "not-found"
	case ErrorKindConflict:
		return "conflict"
	case ErrorKindPermission:
		return "permission"
	default:
		return "unprocessable"
	}
}

// StatusCode the HTTP style status code reported for this kind of error
func (k ErrorKind) StatusCode() int {
	switch k {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindConflict:
		return http.StatusConflict
	case ErrorKindPermission:
		return http.StatusUnauthorized
	default:
		return http.StatusUnprocessableEntity
	}
}

// RTMError is a classified error whose message is safe to show to the client
type RTMError struct {
	// Kind is the error classification
	Kind ErrorKind
	// Message is the client facing message
	Message string
	// Cause is the underlying error, never shown to the client
	Cause error
}

// Error implements error
func (e *RTMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap support errors.Is / errors.As
func (e *RTMError) Unwrap() error {
	return e.Cause
}

// NewValidationError define a new validation error
func NewValidationError(format string, args ...interface{}) error {
	return &RTMError{Kind: ErrorKindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError define a new not found error
func NewNotFoundError(format string, args ...interface{}) error {
	return &RTMError{Kind: ErrorKindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError define a new conflict error
func NewConflictError(format string, args ...interface{}) error {
	return &RTMError{Kind: ErrorKindConflict, Message: fmt.Sprintf(format, args...)}
}

// NewPermissionError define a new permission error
func NewPermissionError(format string, args ...interface{}) error {
	return &RTMError{Kind: ErrorKindPermission, Message: fmt.Sprintf(format, args...)}
}

// NewUnprocessableError wrap a cause with a generic client facing message
func NewUnprocessableError(cause error, format string, args ...interface{}) error {
	return &RTMError{
		Kind: ErrorKindUnprocessable, Message: fmt.Sprintf(format, args...), Cause: cause,
	}
}

// ClassifyError resolve the kind and client facing message of an error.
//
// Errors which are not RTMError fall back to ErrorKindUnprocessable with the fallback message.
func ClassifyError(err error, fallbackMsg string) (ErrorKind, string) {
	var rtmErr *RTMError
	if errors.As(err, &rtmErr) {
		if rtmErr.Kind == ErrorKindUnprocessable && rtmErr.Message == "" {
			return ErrorKindUnprocessable, fallbackMsg
		}
		return rtmErr.Kind, rtmErr.Message
	}
	return ErrorKindUnprocessable, fallbackMsg
}

// IsErrorKind check whether the error is a RTMError of a particular kind
func IsErrorKind(err error, kind ErrorKind) bool {
	var rtmErr *RTMError
	if errors.As(err, &rtmErr) {
		return rtmErr.Kind == kind
	}
	return false
}

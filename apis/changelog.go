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
	"net/http"
	"strconv"

	"github.com/alwitt/goutils"
	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/storage"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// ReadinessCheck reports whether a dependency of the server is usable
type ReadinessCheck func() bool

// APIRestChangeLogHandler REST handler for reading the change log
type APIRestChangeLogHandler struct {
	goutils.RestAPIHandler
	store        storage.ChangeLogStore
	defaultLimit int
	readiness    []ReadinessCheck
}

// GetAPIRestChangeLogHandler define APIRestChangeLogHandler
func GetAPIRestChangeLogHandler(
	store storage.ChangeLogStore,
	httpConfig *common.HTTPConfig,
	defaultLimit int,
	readiness ...ReadinessCheck,
) (APIRestChangeLogHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "changelog",
	}
	if defaultLimit < 1 {
		defaultLimit = 100
	}
	return APIRestChangeLogHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		store:        store,
		defaultLimit: defaultLimit,
		readiness:    readiness,
	}, nil
}

// =======================================================================
// Change log

// APIRestRespChangeLog response for listing change log entries
type APIRestRespChangeLog struct {
	goutils.RestAPIBaseResponse
	// Entries change log entries, newest first
	Entries []storage.ChangeLogEntry `json:"entries"`
}

// ListChangeLog godoc
// @Summary List the change log of a root activity
// @Description List change log entries of a root activity, newest first
// @tags ChangeLog
// @Produce json
// @Param Rtmcast-Request-ID header string false "User provided request ID to match against logs"
// @Param rootElementId path string true "Root activity ID"
// @Param limit query integer false "Max number of entries to return"
// @Param before query integer false "Only return entries with a sequence number below this"
// @Success 200 {object} APIRestRespChangeLog "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Rtmcast-Request-ID "Request ID to match against logs"
// @Router /v1/changelog/{rootElementId} [get]
func (h APIRestChangeLogHandler) ListChangeLog(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	rootElementID, ok := vars["rootElementId"]
	if !ok || rootElementID == "" {
		msg := "No root element ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			msg := "Invalid limit"
			log.WithFields(localLogTags).Errorf("%s: %s", msg, raw)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, raw)
			return
		}
		limit = parsed
	}
	var before int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			msg := "Invalid before sequence number"
			log.WithFields(localLogTags).Errorf("%s: %s", msg, raw)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, raw)
			return
		}
		before = parsed
	}

	entries, err := h.store.List(r.Context(), rootElementID, before, limit)
	if err != nil {
		msg := "Unable to read change log"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}
	respCode = http.StatusOK
	respBody = APIRestRespChangeLog{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Entries: entries,
	}
}

// ListChangeLogHandler Wrapper around ListChangeLog
func (h APIRestChangeLogHandler) ListChangeLogHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListChangeLog(w, r)
	}
}

// =======================================================================
// Health

// Alive godoc
// @Summary For REST API liveness check
// @Description Will return success to indicate REST API module is live
// @tags Health
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestChangeLogHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestChangeLogHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// Ready godoc
// @Summary For REST API readiness check
// @Description Will return success if the server dependencies are usable
// @tags Health
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestChangeLogHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	for _, check := range h.readiness {
		if !check() {
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
			return
		}
	}
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestChangeLogHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}

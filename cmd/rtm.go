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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/rtmcast/apis"
	"github.com/alwitt/rtmcast/broker"
	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/core"
	"github.com/alwitt/rtmcast/courseware"
	"github.com/alwitt/rtmcast/dataplane"
	"github.com/alwitt/rtmcast/producer"
	"github.com/alwitt/rtmcast/storage"
	"github.com/alwitt/rtmcast/subscription"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunRTMServer run the RTM server
//
// natsClient is optional. Without it broadcasts are only delivered to the sessions
// connected to this node.
func RunRTMServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "rtm",
		"instance":  instance,
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	// -------------------------------------------------------------------
	// Core components

	service, err := courseware.GetInMemoryService(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define courseware service")
		return err
	}

	registry, err := subscription.GetRegistry(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription registry")
		return err
	}
	manager, err := subscription.GetManager(registry, instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription manager")
		return err
	}

	brokerTP, err := common.GetNewTaskDemuxProcessorInstance(
		localCtxt, "broadcast", config.Broker.QueueDepth, config.Broker.Workers,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broadcast workers")
		return err
	}

	var relay dataplane.BroadcastRelay
	var brokerRelay broker.Relay
	if natsClient != nil {
		relay, err = dataplane.GetBroadcastRelay(
			localCtxt, natsClient, config.NATS.RelaySubject, instance,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define broadcast relay")
			return err
		}
		brokerRelay = relay
	}

	eventBroker, err := broker.GetEventBroker(
		manager,
		brokerTP,
		brokerRelay,
		common.SecondsOrDefault(config.Broker.DeliveryTimeout, time.Second*5),
		instance,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event broker")
		return err
	}

	store, err := storage.GetSQLiteChangeLog(localCtxt, config.ChangeLog.DBPath)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to open change log %s", config.ChangeLog.DBPath,
		)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Change log close failed")
		}
	}()

	recorderTP, err := common.GetNewTaskProcessorInstance(
		localCtxt, "changelog", config.ChangeLog.QueueDepth,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define change log worker")
		return err
	}
	recorder, err := producer.GetChangeLogRecorder(
		store,
		eventBroker,
		recorderTP,
		common.SecondsOrDefault(config.ChangeLog.StoreTimeout, time.Second*10),
		instance,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define change log recorder")
		return err
	}

	if err := brokerTP.StartEventLoop(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start broadcast workers")
		return err
	}
	defer func() {
		_ = brokerTP.StopEventLoop()
	}()
	if err := recorderTP.StartEventLoop(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start change log worker")
		return err
	}
	defer func() {
		_ = recorderTP.StopEventLoop()
	}()

	// Broadcasts can not reach this node once the relay stops
	relayStopped := make(chan error, 1)
	if relay != nil {
		if err := relay.StartReading(
			eventBroker.DeliverRelayed,
			func(err error) {
				log.WithError(err).WithFields(logTags).Error("Broadcast relay failure")
				if errors.Is(err, dataplane.ErrRelayStopped) {
					select {
					case relayStopped <- err:
					default:
					}
				}
			},
			wg,
		); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to start broadcast relay")
			return err
		}
	}

	// -------------------------------------------------------------------
	// RTM and REST handlers

	messageHandlers, err := apis.DefineMessageHandlers(localCtxt, apis.HandlerDeps{
		Courseware:    service,
		Subscriptions: manager,
		Broker:        eventBroker,
		Producers:     producer.GetProducers(recorder),
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define RTM message handlers")
		return err
	}
	dispatcher := apis.GetDispatcher(
		localCtxt,
		messageHandlers,
		apis.AllowAllAuthorizer{},
		common.SecondsOrDefault(config.RTM.Session.ValidationTimeout, time.Second*5),
	)
	rtmHandler := apis.GetRTMHandler(localCtxt, dispatcher, manager, config.RTM.Session)

	readiness := []apis.ReadinessCheck{}
	if natsClient != nil {
		readiness = append(readiness, natsClient.Connected)
	}
	restHandler, err := apis.GetAPIRestChangeLogHandler(
		store, &config.RTM.HTTPSetting, config.ChangeLog.DefaultListLimit, readiness...,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.RTM.Endpoints.PathPrefix, nil)

	// RTM sessions
	_ = apis.RegisterPathPrefix(
		mainRouter, config.RTM.Endpoints.SessionPath, map[string]http.HandlerFunc{
			"get": rtmHandler.SessionHandler(),
		},
	)

	// Change log
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/changelog/{rootElementId}", map[string]http.HandlerFunc{
			"get": restHandler.ListChangeLogHandler(),
		},
	)

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": restHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": restHandler.ReadyHandler(),
	})

	// Add logging
	accessLog := apis.AccessLogWriter{
		Component: common.Component{
			LogTags: log.Fields{"module": "apis", "component": "access-log", "instance": instance},
		},
	}
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(accessLog, next)
	})

	serverCfg := config.RTM.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverCfg.ListenOn, serverCfg.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(serverCfg.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(serverCfg.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(serverCfg.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	var exitErr error
	select {
	case <-runTimeContext.Done():
	case exitErr = <-relayStopped:
		log.WithError(exitErr).WithFields(logTags).Error("Shutting down without broadcast relay")
	}

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return exitErr
}

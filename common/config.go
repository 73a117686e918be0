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
	"time"

	"github.com/spf13/viper"
)

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds (0 uses 15 sec)
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=0"`
}

// NATSConfig defines parameters for connecting to NATS server
//
// When present, broadcasts are relayed through NATS so every server node can deliver
// them to its own locally connected RTM sessions.
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds (0 uses 30 sec)
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=0"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect"`
	// RelaySubject is the NATS subject broadcasts are relayed on
	RelaySubject string `mapstructure:"relay_subject" json:"relay_subject" validate:"required"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required"`
}

// ===============================================================================
// RTM Server Related Config

// RTMEndpointConfig defines RTM server endpoint config
type RTMEndpointConfig struct {
	// PathPrefix is the end-point path prefix for all APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
	// SessionPath is the path under PathPrefix where RTM websocket sessions are established
	SessionPath string `mapstructure:"session_path" json:"session_path" validate:"required"`
}

// RTMSessionConfig defines parameters of RTM websocket sessions
type RTMSessionConfig struct {
	// AccountIDHeader is the HTTP header carrying the account operating the session
	AccountIDHeader string `mapstructure:"account_id_header" json:"account_id_header" validate:"required"`
	// PingInterval is the interval between websocket keep-alive pings in seconds
	PingInterval int `mapstructure:"ping_interval_sec" json:"ping_interval_sec" validate:"gte=1"`
	// WriteTimeout is the max duration for writing one frame to a session in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
	// ValidationTimeout is the max duration of the existence checks performed while
	// validating a message in seconds
	ValidationTimeout int `mapstructure:"validation_timeout_sec" json:"validation_timeout_sec" validate:"gte=1"`
	// MaxMessageBytes is the max size of one inbound message
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" json:"max_message_bytes" validate:"gte=1024"`
	// MaxInflightMessages is the max number of messages of one session processed at once
	MaxInflightMessages int `mapstructure:"max_inflight_messages" json:"max_inflight_messages" validate:"gte=1"`
}

// RTMServerConfig defines configuration for the RTM server
type RTMServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required"`
	// Endpoints is the API endpoint config parameters
	Endpoints RTMEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required"`
	// Session is the RTM session parameters
	Session RTMSessionConfig `mapstructure:"session" json:"session" validate:"required"`
}

// ===============================================================================
// Broadcast Related Config

// BrokerConfig defines parameters of the broadcast event broker
type BrokerConfig struct {
	// Workers is the number of parallel broadcast fan-out workers
	Workers int `mapstructure:"workers" json:"workers" validate:"gte=1"`
	// QueueDepth is the number of broadcasts which can be queued per worker
	QueueDepth int `mapstructure:"queue_depth" json:"queue_depth" validate:"gte=1"`
	// DeliveryTimeout is the max duration for delivering a broadcast to one listener in seconds
	DeliveryTimeout int `mapstructure:"delivery_timeout_sec" json:"delivery_timeout_sec" validate:"gte=1"`
}

// ChangeLogConfig defines parameters of the durable change log
type ChangeLogConfig struct {
	// DBPath is the path to the SQLite database file
	DBPath string `mapstructure:"db_path" json:"db_path" validate:"required"`
	// QueueDepth is the number of change records which can be queued for recording
	QueueDepth int `mapstructure:"queue_depth" json:"queue_depth" validate:"gte=1"`
	// DefaultListLimit is the number of entries returned by a change log query by default
	DefaultListLimit int `mapstructure:"default_list_limit" json:"default_list_limit" validate:"gte=1"`
	// StoreTimeout is the max duration for recording one change record in seconds
	StoreTimeout int `mapstructure:"store_timeout_sec" json:"store_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// NATS are the NATS related config parameters; the relay is disabled when absent
	NATS *NATSConfig `mapstructure:"nats,omitempty" json:"nats,omitempty" validate:"omitempty"`
	// RTM are the RTM server configs
	RTM RTMServerConfig `mapstructure:"rtm" json:"rtm" validate:"required"`
	// Broker are the broadcast broker configs
	Broker BrokerConfig `mapstructure:"broker" json:"broker" validate:"required"`
	// ChangeLog are the change log configs
	ChangeLog ChangeLogConfig `mapstructure:"changelog" json:"changelog" validate:"required"`
}

// SecondsOrDefault convert a config value in seconds into time.Duration, using
// the fallback if the value is not positive
func SecondsOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Second * time.Duration(seconds)
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default RTM server settings
	viper.SetDefault("rtm.endpoint_config.path_prefix", "/")
	viper.SetDefault("rtm.endpoint_config.session_path", "/rtm")
	viper.SetDefault("rtm.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("rtm.api_server.server_config.listen_port", 3000)
	viper.SetDefault("rtm.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("rtm.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("rtm.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"rtm.api_server.logging_config.request_id_header", "Rtmcast-Request-ID",
	)
	viper.SetDefault(
		"rtm.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("rtm.session.account_id_header", "Rtmcast-Account-ID")
	viper.SetDefault("rtm.session.ping_interval_sec", 30)
	viper.SetDefault("rtm.session.write_timeout_sec", 10)
	viper.SetDefault("rtm.session.validation_timeout_sec", 5)
	viper.SetDefault("rtm.session.max_message_bytes", 1048576)
	viper.SetDefault("rtm.session.max_inflight_messages", 16)

	// Default broker settings
	viper.SetDefault("broker.workers", 4)
	viper.SetDefault("broker.queue_depth", 256)
	viper.SetDefault("broker.delivery_timeout_sec", 5)

	// Default change log settings
	viper.SetDefault("changelog.db_path", "rtmcast-changelog.db")
	viper.SetDefault("changelog.queue_depth", 256)
	viper.SetDefault("changelog.default_list_limit", 100)
	viper.SetDefault("changelog.store_timeout_sec", 10)
}

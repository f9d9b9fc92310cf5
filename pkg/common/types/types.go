/*
Copyright 2023 The usp-agent-stomp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package types defines the command structs exchanged between the datamodel
// and mtpmanager modules. Every struct is small and move-owned: the sender
// must not retain references after handing it to the channel context.
package types

// Message operations carried in the model.Message router.
const (
	OpInboundUspRecord  = "inbound_usp_record"
	OpOutboundUspRecord = "outbound_usp_record"
	OpScheduleReconnect = "schedule_reconnect"
	OpMtpConfigChanged  = "mtp_config_changed"
	OpMtpStatusChanged  = "mtp_status_changed"
	OpCliRequest        = "cli_request"
)

// Transport protocol names as stored in Device.LocalAgent.MTP.{i}.Protocol.
const (
	ProtocolSTOMP = "STOMP"
	ProtocolCoAP  = "CoAP"
	ProtocolMQTT  = "MQTT"
)

// MTP status values exposed by Device.LocalAgent.MTP.{i}.Status.
const (
	MtpStatusUp    = "Up"
	MtpStatusDown  = "Down"
	MtpStatusError = "Error"
)

// ReplyDest identifies where a USP Record should be sent. Exactly the fields
// selected by Protocol are meaningful.
type ReplyDest struct {
	Protocol string

	// STOMP: connection instance plus destination queue name.
	StompConnInstance int
	StompDest         string

	// CoAP: peer host, port and resource path.
	CoapHost     string
	CoapPort     int
	CoapResource string

	// MQTT: client instance plus publish topic.
	MqttClientInstance int
	MqttTopic          string
}

// InboundUspRecord carries a received USP Record from an MTP to the
// dispatcher. Payload is the raw protobuf encoding, already length-checked.
type InboundUspRecord struct {
	Payload []byte
	// ReplyTo is where a response to this record should go, derived from the
	// reply-to-dest header (STOMP/MQTT) or the request source (CoAP).
	ReplyTo ReplyDest
	// MtpInstance is the Device.LocalAgent.MTP row the record arrived on.
	MtpInstance int
	// AllowAutodiscovery is set when the MTP permits requests from
	// controllers absent from the controller table.
	AllowAutodiscovery bool
}

// OutboundUspRecord carries an encoded USP Record from the datamodel module
// to the owning transport.
type OutboundUspRecord struct {
	Payload []byte
	Dest    ReplyDest
}

// ScheduleReconnect asks the mtpmanager to reconnect one connection at the
// next tick. Duplicate requests between two ticks collapse into one attempt.
type ScheduleReconnect struct {
	Protocol string
	// Instance is the Device.STOMP.Connection or Device.MQTT.Client row.
	Instance int
}

// StompRetryParams hold the per-connection reconnect backoff settings from
// Device.STOMP.Connection.{i}.
type StompRetryParams struct {
	InitialInterval    int
	IntervalMultiplier int // multiplier in thousandths, 2000 means doubling
	MaxInterval        int
}

// StompConnConfig is the desired state of one Device.STOMP.Connection row.
type StompConnConfig struct {
	Instance          int
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	VirtualHost       string
	EnableEncryption  bool
	EnableHeartbeats  bool
	OutgoingHeartbeat int
	IncomingHeartbeat int
	Retry             StompRetryParams
}

// MqttClientConfig is the desired state of one Device.MQTT.Client row.
type MqttClientConfig struct {
	Instance      int
	Enable        bool
	BrokerAddress string
	BrokerPort    int
	Username      string
	Password      string
	ClientID      string
	KeepAliveTime int
}

// AgentMtpConfig is the desired state of one Device.LocalAgent.MTP row. Both
// protocol variants may be populated; Protocol selects which is observed.
type AgentMtpConfig struct {
	Instance int
	Enable   bool
	Protocol string

	StompConnInstance int
	StompDestination  string

	CoapPort int
	CoapPath string

	MqttClientInstance int
	MqttResponseTopic  string
}

// MtpConfigChanged carries a full desired-state snapshot from the data model
// to the mtpmanager, which reconciles running transports against it.
type MtpConfigChanged struct {
	Mtps    []AgentMtpConfig
	Stomp   []StompConnConfig
	Mqtt    []MqttClientConfig
	AgentID string
}

// MtpStatusChanged reports a transport status transition back to the data
// model, which surfaces it through the Status parameters.
type MtpStatusChanged struct {
	Protocol string
	// MtpInstance is the owning Device.LocalAgent.MTP row, 0 when the status
	// belongs to a shared connection row instead.
	MtpInstance int
	// ConnInstance is the Device.STOMP.Connection or Device.MQTT.Client row,
	// 0 for CoAP listeners.
	ConnInstance int
	Status       string
}

// CliRequest is a parsed command line from the local socket, sent
// synchronously to the datamodel module.
type CliRequest struct {
	Command string
	Args    []string
	// Role is the trust role the CLI acts under.
	Role string
}

// CliResponse carries the printable result of a CliRequest.
type CliResponse struct {
	Lines []string
	Err   string
}

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

// Package agent registers the agent's own data model tables
// (Device.DeviceInfo, Device.LocalAgent, Device.STOMP, Device.MQTT) and
// owns their runtime state: controller lookup, MTP status bookkeeping, and
// the snapshots handed to the transport manager. Everything here runs on
// the datamodel module goroutine.
package agent

import (
	"time"

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/subscription"
)

// Config carries the vendor identity and interface settings the agent needs
// at registration time.
type Config struct {
	OUI          string
	ProductClass string
	SerialNumber string
	// WANInterface names the interface whose MAC seeds the serial number
	// when SerialNumber is empty.
	WANInterface    string
	SoftwareVersion string
	Manufacturer    string
	ModelName       string
}

// Agent is the root context value threaded through the agent's data model
// callbacks.
type Agent struct {
	reg   *datamodel.Registry
	store database.Store
	subs  *subscription.Engine

	endpointID string
	cfg        Config
	startTime  time.Time

	// transport status mirrors, fed by MtpStatusChanged messages
	mtpStatus   map[int]string // by MTP instance (CoAP)
	stompStatus map[int]string // by STOMP connection instance
	mqttStatus  map[int]string // by MQTT client instance

	// mtpConfigDirty marks that a commit touched transport configuration;
	// the owning module flushes it into an MtpConfigChanged snapshot.
	mtpConfigDirty bool

	// enqueue hooks into the module layer, injected to keep this package
	// free of channel plumbing
	sendSnapshot      func(types.MtpConfigChanged)
	scheduleReconnect func(protocol string, instance int)

	// RebootFunc and FactoryResetFunc are the vendor hooks behind the
	// Device.Reboot() and Device.FactoryReset() commands.
	RebootFunc       func() error
	FactoryResetFunc func() error
}

// New builds the agent context and registers every device table on the
// registry. The registry must not be sealed yet.
func New(reg *datamodel.Registry, store database.Store, cfg Config) *Agent {
	a := &Agent{
		reg:         reg,
		store:       store,
		cfg:         cfg,
		startTime:   time.Now(),
		mtpStatus:   map[int]string{},
		stompStatus: map[int]string{},
		mqttStatus:  map[int]string{},
	}
	a.endpointID = makeEndpointID(cfg)

	a.registerDeviceInfo()
	a.registerLocalAgent()
	a.registerMtpTable()
	a.registerControllerTable()
	a.registerSubscriptionTable()
	a.registerRequestTable()
	a.registerStompTable()
	a.registerMqttTable()
	return a
}

// EndpointID returns the agent's endpoint identifier.
func (a *Agent) EndpointID() string {
	return a.endpointID
}

// SetSubscriptionEngine wires the engine in once it exists; subscription
// rows reference controller rows, so the engine is built after registration.
func (a *Agent) SetSubscriptionEngine(subs *subscription.Engine) {
	a.subs = subs
}

// SetTransportHooks wires the module-layer enqueue functions.
func (a *Agent) SetTransportHooks(sendSnapshot func(types.MtpConfigChanged), scheduleReconnect func(protocol string, instance int)) {
	a.sendSnapshot = sendSnapshot
	a.scheduleReconnect = scheduleReconnect
}

// markMtpConfigDirty records that transport configuration changed in the
// current commit.
func (a *Agent) markMtpConfigDirty() {
	a.mtpConfigDirty = true
}

// FlushMtpConfig sends a fresh desired-state snapshot to the transport
// manager when the configuration is dirty.
func (a *Agent) FlushMtpConfig() {
	if !a.mtpConfigDirty || a.sendSnapshot == nil {
		return
	}
	a.mtpConfigDirty = false
	a.sendSnapshot(a.BuildSnapshot())
}

// ForceFlushMtpConfig sends a snapshot regardless of the dirty flag, used
// at startup.
func (a *Agent) ForceFlushMtpConfig() {
	a.mtpConfigDirty = true
	a.FlushMtpConfig()
}

// HandleStatusChanged records a transport status transition reported by the
// mtpmanager.
func (a *Agent) HandleStatusChanged(sc types.MtpStatusChanged) {
	switch sc.Protocol {
	case types.ProtocolSTOMP:
		a.stompStatus[sc.ConnInstance] = sc.Status
	case types.ProtocolCoAP:
		a.mtpStatus[sc.MtpInstance] = sc.Status
	case types.ProtocolMQTT:
		a.mqttStatus[sc.ConnInstance] = sc.Status
	default:
		klog.Warningf("status change for unknown protocol %q", sc.Protocol)
	}
}

// uptimeSeconds is shared by the UpTime parameters.
func (a *Agent) uptimeSeconds() int64 {
	return int64(time.Since(a.startTime) / time.Second)
}

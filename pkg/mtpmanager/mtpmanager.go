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

// Package mtpmanager is the module owning every transport runtime: STOMP
// connections, CoAP listeners and MQTT clients. It reconciles them against
// desired-state snapshots from the data model and drains the reconnect
// dirty-set once per tick, so any number of ScheduleReconnect requests
// between two ticks collapse into one attempt.
package mtpmanager

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"

	coreContext "github.com/h820614/usp-agent-stomp/pkg/core/context"
	"github.com/h820614/usp-agent-stomp/pkg/core/model"

	"github.com/h820614/usp-agent-stomp/pkg/common/modules"
	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/core"
	"github.com/h820614/usp-agent-stomp/pkg/mtp/coapserver"
	"github.com/h820614/usp-agent-stomp/pkg/mtp/mqttclient"
	"github.com/h820614/usp-agent-stomp/pkg/mtp/stompclient"
	"github.com/h820614/usp-agent-stomp/pkg/retry"
)

// tickPeriod paces the dirty-set drain.
const tickPeriod = 100 * time.Millisecond

type stompRuntime struct {
	conn *stompclient.Conn
	cfg  types.StompConnConfig
	mtp  types.AgentMtpConfig
}

type coapRuntime struct {
	server *coapserver.Server
	mtp    types.AgentMtpConfig
}

type mqttRuntime struct {
	client *mqttclient.Client
	cfg    types.MqttClientConfig
	mtp    types.AgentMtpConfig
}

type mtpManager struct {
	enable  bool
	sched   *retry.Scheduler
	agentID string

	stomp map[int]*stompRuntime // keyed by STOMP connection instance
	coap  map[int]*coapRuntime  // keyed by MTP instance
	mqtt  map[int]*mqttRuntime  // keyed by MQTT client instance

	// dirty is the reconnect dirty-set, drained once per tick
	dirty map[string]types.ScheduleReconnect

	allowAutodiscovery bool
	stompDialer        stompclient.Dialer
}

// Register registers the mtpmanager module.
func Register(allowAutodiscovery bool) {
	core.Register(&mtpManager{
		enable:             true,
		sched:              retry.NewScheduler(),
		stomp:              map[int]*stompRuntime{},
		coap:               map[int]*coapRuntime{},
		mqtt:               map[int]*mqttRuntime{},
		dirty:              map[string]types.ScheduleReconnect{},
		allowAutodiscovery: allowAutodiscovery,
	})
}

func (m *mtpManager) Name() string {
	return modules.MTPManagerModuleName
}

func (m *mtpManager) Group() string {
	return modules.TransportGroup
}

func (m *mtpManager) Enable() bool {
	return m.enable
}

// Start runs the manager loop: a pump moves mailbox messages onto a
// channel so the loop can multiplex them with the tick timer.
func (m *mtpManager) Start() {
	msgCh := make(chan model.Message, 64)
	go func() {
		for {
			msg, err := coreContext.Receive(modules.MTPManagerModuleName)
			if err != nil {
				close(msgCh)
				return
			}
			msgCh <- msg
		}
	}()

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-coreContext.Done():
			m.shutdown()
			return
		case msg, ok := <-msgCh:
			if !ok {
				m.shutdown()
				return
			}
			m.handleMessage(msg)
		case <-ticker.C:
			m.drainDirty()
		}
	}
}

func (m *mtpManager) handleMessage(msg model.Message) {
	switch msg.GetOperation() {
	case types.OpMtpConfigChanged:
		snapshot, ok := msg.Content.(types.MtpConfigChanged)
		if !ok {
			klog.Warningf("mtpmanager: unexpected content for %s", msg.GetOperation())
			return
		}
		if snapshot.AgentID != "" {
			m.agentID = snapshot.AgentID
		}
		m.reconcile(snapshot)
	case types.OpScheduleReconnect:
		req, ok := msg.Content.(types.ScheduleReconnect)
		if !ok {
			klog.Warningf("mtpmanager: unexpected content for %s", msg.GetOperation())
			return
		}
		m.dirty[fmt.Sprintf("%s:%d", req.Protocol, req.Instance)] = req
	case types.OpOutboundUspRecord:
		rec, ok := msg.Content.(types.OutboundUspRecord)
		if !ok {
			klog.Warningf("mtpmanager: unexpected content for %s", msg.GetOperation())
			return
		}
		m.sendRecord(rec)
	default:
		klog.Warningf("mtpmanager: unhandled operation %s", msg.GetOperation())
	}
}

// drainDirty performs at most one reconnect per dirty connection and clears
// the set.
func (m *mtpManager) drainDirty() {
	if len(m.dirty) == 0 {
		return
	}
	for _, req := range m.dirty {
		switch req.Protocol {
		case types.ProtocolSTOMP:
			if rt, ok := m.stomp[req.Instance]; ok {
				klog.Infof("reconnecting stomp connection %d", req.Instance)
				rt.conn.Reconnect()
			}
		case types.ProtocolMQTT:
			if rt, ok := m.mqtt[req.Instance]; ok {
				klog.Infof("reconnecting mqtt client %d", req.Instance)
				rt.client.Reconnect()
			}
		}
	}
	m.dirty = map[string]types.ScheduleReconnect{}
}

// sendRecord routes an outbound record to its transport. Network sends run
// off-loop so a slow peer never stalls the manager.
func (m *mtpManager) sendRecord(rec types.OutboundUspRecord) {
	switch rec.Dest.Protocol {
	case types.ProtocolSTOMP:
		rt, ok := m.stomp[rec.Dest.StompConnInstance]
		if !ok {
			klog.Warningf("dropping record for unknown stomp connection %d", rec.Dest.StompConnInstance)
			return
		}
		if err := rt.conn.Send(rec.Dest.StompDest, rec.Payload); err != nil {
			klog.Warningf("stomp send failed: %v", err)
		}
	case types.ProtocolCoAP:
		host := rec.Dest.CoapHost
		resource := rec.Dest.CoapResource
		payload := rec.Payload
		go func() {
			if err := coapserver.Post(host, resource, payload); err != nil {
				klog.Warningf("coap send failed: %v", err)
			}
		}()
	case types.ProtocolMQTT:
		rt, ok := m.mqtt[rec.Dest.MqttClientInstance]
		if !ok {
			klog.Warningf("dropping record for unknown mqtt client %d", rec.Dest.MqttClientInstance)
			return
		}
		topic := rec.Dest.MqttTopic
		payload := rec.Payload
		go func() {
			if err := rt.client.Publish(topic, payload); err != nil {
				klog.Warningf("mqtt send failed: %v", err)
			}
		}()
	default:
		klog.Warningf("dropping record with unknown protocol %q", rec.Dest.Protocol)
	}
}

func (m *mtpManager) shutdown() {
	klog.Info("mtpmanager stopping, closing transports")
	for _, rt := range m.stomp {
		rt.conn.Stop()
	}
	for _, rt := range m.coap {
		rt.server.Stop()
	}
	for _, rt := range m.mqtt {
		rt.client.Stop()
	}
}

// inbound forwards a received record to the datamodel module.
func inbound(rec types.InboundUspRecord) {
	msg := model.NewMessage("").
		BuildRouter(modules.MTPManagerModuleName, modules.DataModelModuleName, "usp", types.OpInboundUspRecord).
		FillBody(rec)
	coreContext.Send(modules.DataModelModuleName, *msg)
}

// reportStatus forwards a transport status transition to the datamodel
// module.
func reportStatus(protocol string, mtpInstance, connInstance int, status string) {
	msg := model.NewMessage("").
		BuildRouter(modules.MTPManagerModuleName, modules.DataModelModuleName, "mtp", types.OpMtpStatusChanged).
		FillBody(types.MtpStatusChanged{
			Protocol:     protocol,
			MtpInstance:  mtpInstance,
			ConnInstance: connInstance,
			Status:       status,
		})
	coreContext.Send(modules.DataModelModuleName, *msg)
}

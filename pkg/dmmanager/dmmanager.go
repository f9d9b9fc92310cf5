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

// Package dmmanager is the module owning the data model: registry, database
// handle, path resolver, transaction manager, subscription engine and the
// USP message dispatcher. All of them run on this module's goroutine; the
// other modules reach the data model only through its mailbox.
package dmmanager

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/agent"
	"github.com/h820614/usp-agent-stomp/pkg/apis/config/v1alpha1"
	"github.com/h820614/usp-agent-stomp/pkg/common/modules"
	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/core"
	coreContext "github.com/h820614/usp-agent-stomp/pkg/core/context"
	"github.com/h820614/usp-agent-stomp/pkg/core/model"
	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/dispatcher"
	"github.com/h820614/usp-agent-stomp/pkg/retry"
	"github.com/h820614/usp-agent-stomp/pkg/subscription"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// tickPeriod paces subscription engine housekeeping.
const tickPeriod = 1 * time.Second

type dmManager struct {
	enable    bool
	cfg       *v1alpha1.AgentConfiguration
	bootCause string

	store database.Store
	reg   *datamodel.Registry
	agent *agent.Agent
	subs  *subscription.Engine
	disp  *dispatcher.Dispatcher
}

// Register builds the whole data model stack and registers the module. The
// database must already be open; registration is the single-threaded
// startup phase that completes before any module loop runs.
func Register(cfg *v1alpha1.AgentConfiguration, store database.Store, bootCause string) {
	m := &dmManager{enable: true, cfg: cfg, store: store, bootCause: bootCause}

	m.reg = datamodel.NewRegistry(store)
	m.reg.DisableSort = cfg.DataModel.DisableSort

	m.agent = agent.New(m.reg, store, agent.Config{
		OUI:             cfg.Identity.OUI,
		ProductClass:    cfg.Identity.ProductClass,
		SerialNumber:    cfg.Identity.SerialNumber,
		WANInterface:    cfg.Identity.WANInterface,
		SoftwareVersion: cfg.Identity.SoftwareVersion,
		Manufacturer:    cfg.Identity.Manufacturer,
		ModelName:       cfg.Identity.ModelName,
	})

	m.reg.Seal()
	if err := m.reg.LoadInstances(); err != nil {
		klog.Fatalf("failed to enumerate database instances: %v", err)
	}

	pollPeriod := time.Duration(cfg.DataModel.ValueChangePollPeriodSeconds) * time.Second
	m.subs = subscription.NewEngine(m.reg, retry.NewScheduler(), m.sendNotify, pollPeriod)
	m.agent.SetSubscriptionEngine(m.subs)

	m.disp = dispatcher.New(m.reg, m.subs, m.agent, m.agent.EndpointID())

	m.agent.SetTransportHooks(m.sendSnapshot, m.enqueueReconnect)

	core.Register(m)
	klog.Infof("data model ready, agent endpoint id %s", m.agent.EndpointID())
}

func (m *dmManager) Name() string {
	return modules.DataModelModuleName
}

func (m *dmManager) Group() string {
	return modules.DataModelGroup
}

func (m *dmManager) Enable() bool {
	return m.enable
}

// Start runs the module loop.
func (m *dmManager) Start() {
	m.subs.Reload()
	m.agent.ForceFlushMtpConfig()
	m.agent.EmitBootEvent(m.bootCause)

	msgCh := make(chan model.Message, 64)
	go func() {
		for {
			msg, err := coreContext.Receive(modules.DataModelModuleName)
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
			klog.Info("datamodel module stopping")
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			m.handleMessage(msg)
		case now := <-ticker.C:
			m.subs.Tick(now)
			m.agent.FlushMtpConfig()
		}
	}
}

func (m *dmManager) handleMessage(msg model.Message) {
	switch msg.GetOperation() {
	case types.OpInboundUspRecord:
		rec, ok := msg.Content.(types.InboundUspRecord)
		if !ok {
			klog.Warningf("datamodel: unexpected content for %s", msg.GetOperation())
			return
		}
		m.handleInbound(rec)
	case types.OpMtpStatusChanged:
		sc, ok := msg.Content.(types.MtpStatusChanged)
		if !ok {
			klog.Warningf("datamodel: unexpected content for %s", msg.GetOperation())
			return
		}
		m.agent.HandleStatusChanged(sc)
	case types.OpCliRequest:
		req, ok := msg.Content.(types.CliRequest)
		if !ok {
			klog.Warningf("datamodel: unexpected content for %s", msg.GetOperation())
			return
		}
		resp := m.handleCli(req)
		coreContext.SendResp(*model.NewRespByMessage(&msg, resp))
	default:
		klog.Warningf("datamodel: unhandled operation %s", msg.GetOperation())
	}
}

// handleInbound decodes one record, dispatches it, and flushes any side
// effects: the response, dirty transport config, and queued async work.
func (m *dmManager) handleInbound(rec types.InboundUspRecord) {
	record, err := uspproto.UnmarshalRecord(rec.Payload)
	if err != nil {
		klog.Warningf("dropping undecodable usp record: %v", err)
		return
	}
	if record.ToID != "" && record.ToID != m.agent.EndpointID() {
		klog.Warningf("dropping usp record addressed to %q", record.ToID)
		return
	}

	resp := m.disp.Handle(record, rec.AllowAutodiscovery)
	if resp != nil {
		m.sendRecord(types.OutboundUspRecord{
			Payload: uspproto.MarshalRecord(resp),
			Dest:    rec.ReplyTo,
		})
	}
	m.agent.FlushMtpConfig()

	if m.disp.HasPendingOperations() {
		m.disp.RunPendingOperations()
		m.agent.FlushMtpConfig()
	}
}

// sendNotify is the subscription engine's send hook: wrap the message in a
// record and route it over the controller's preferred MTP.
func (m *dmManager) sendNotify(controllerEP string, msg *uspproto.Msg) error {
	dest, ok := m.agent.SendDestForController(controllerEP)
	if !ok {
		return fmt.Errorf("controller %s has no live MTP", controllerEP)
	}
	rec := m.disp.WrapNotify(controllerEP, msg)
	m.sendRecord(types.OutboundUspRecord{
		Payload: uspproto.MarshalRecord(rec),
		Dest:    dest,
	})
	return nil
}

func (m *dmManager) sendRecord(rec types.OutboundUspRecord) {
	msg := model.NewMessage("").
		BuildRouter(modules.DataModelModuleName, modules.MTPManagerModuleName, "usp", types.OpOutboundUspRecord).
		FillBody(rec)
	coreContext.Send(modules.MTPManagerModuleName, *msg)
}

// sendSnapshot hands a desired-state snapshot to the mtpmanager.
func (m *dmManager) sendSnapshot(snapshot types.MtpConfigChanged) {
	msg := model.NewMessage("").
		BuildRouter(modules.DataModelModuleName, modules.MTPManagerModuleName, "mtp", types.OpMtpConfigChanged).
		FillBody(snapshot)
	coreContext.Send(modules.MTPManagerModuleName, *msg)
}

// enqueueReconnect queues a reconnect intent; the mtpmanager collapses
// duplicates at its next tick.
func (m *dmManager) enqueueReconnect(protocol string, instance int) {
	msg := model.NewMessage("").
		BuildRouter(modules.DataModelModuleName, modules.MTPManagerModuleName, "mtp", types.OpScheduleReconnect).
		FillBody(types.ScheduleReconnect{Protocol: protocol, Instance: instance})
	coreContext.Send(modules.MTPManagerModuleName, *msg)
}

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

// Package dispatcher parses inbound USP records, routes them by message
// type through the data model, and assembles the typed responses. It runs on
// the datamodel module goroutine.
package dispatcher

import (
	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/role"
	"github.com/h820614/usp-agent-stomp/pkg/subscription"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// AgentSupportedProtocolVersions is advertised in GetSupportedProtocolResp.
const AgentSupportedProtocolVersions = "1.0, 1.1"

// DataModelInstURI is advertised in GetSupportedDMResp.
const DataModelInstURI = "urn:broadband-forum-org:tr-181-2-12-0"

// ControllerInfo is what the dispatcher needs to know about a sender.
type ControllerInfo struct {
	EndpointID string
	Role       role.Role
	Instance   int
}

// ControllerResolver looks up controllers by endpoint id.
type ControllerResolver interface {
	ControllerByEndpoint(endpointID string) (ControllerInfo, bool)
}

// Dispatcher routes USP messages.
type Dispatcher struct {
	reg     *datamodel.Registry
	subs    *subscription.Engine
	ctrl    ControllerResolver
	agentID string

	pendingOps []pendingOperate
}

// New builds a dispatcher.
func New(reg *datamodel.Registry, subs *subscription.Engine, ctrl ControllerResolver, agentID string) *Dispatcher {
	return &Dispatcher{reg: reg, subs: subs, ctrl: ctrl, agentID: agentID}
}

// Handle processes one inbound record and returns the response record, or
// nil when the message produces no reply (acknowledgements). allowAuto
// permits requests from controllers absent from the controller table, who
// then act under the Untrusted role.
func (d *Dispatcher) Handle(rec *uspproto.Record, allowAuto bool) *uspproto.Record {
	msg, err := uspproto.UnmarshalMsg(rec.Payload)
	if err != nil {
		klog.Warningf("dropping undecodable usp message from %s: %v", rec.FromID, err)
		return nil
	}

	ctrl, known := d.ctrl.ControllerByEndpoint(rec.FromID)
	if !known {
		if !allowAuto {
			return d.wrap(rec.FromID, d.errorMsg(msg,
				usperr.New(usperr.CodeRequestDenied, "controller %s is not recognised", rec.FromID)))
		}
		ctrl = ControllerInfo{EndpointID: rec.FromID, Role: role.Untrusted}
	}

	resp := d.handleMsg(msg, ctrl)
	if resp == nil {
		return nil
	}
	return d.wrap(rec.FromID, resp)
}

func (d *Dispatcher) handleMsg(msg *uspproto.Msg, ctrl ControllerInfo) *uspproto.Msg {
	switch msg.MsgType {
	case uspproto.MsgGet:
		if msg.Get == nil {
			return d.badRequest(msg)
		}
		return d.handleGet(msg, ctrl)
	case uspproto.MsgGetInstances:
		if msg.GetInstances == nil {
			return d.badRequest(msg)
		}
		return d.handleGetInstances(msg, ctrl)
	case uspproto.MsgGetSupportedDM:
		if msg.GetSupportedDM == nil {
			return d.badRequest(msg)
		}
		return d.handleGetSupportedDM(msg)
	case uspproto.MsgGetSupportedProto:
		return d.handleGetSupportedProtocol(msg)
	case uspproto.MsgSet:
		if msg.Set == nil {
			return d.badRequest(msg)
		}
		return d.handleSet(msg, ctrl)
	case uspproto.MsgAdd:
		if msg.Add == nil {
			return d.badRequest(msg)
		}
		return d.handleAdd(msg, ctrl)
	case uspproto.MsgDelete:
		if msg.Delete == nil {
			return d.badRequest(msg)
		}
		return d.handleDelete(msg, ctrl)
	case uspproto.MsgOperate:
		if msg.Operate == nil {
			return d.badRequest(msg)
		}
		return d.handleOperate(msg, ctrl)
	case uspproto.MsgNotifyResp:
		if msg.NotifyResp != nil {
			d.subs.HandleNotifyResponse(msg.NotifyResp.SubscriptionID)
		}
		return nil
	}
	return d.errorMsg(msg, usperr.New(usperr.CodeMessageNotSupported,
		"message type %s is not handled by this agent", msg.MsgType))
}

// wrap envelopes a response message in a record addressed back to the
// sender.
func (d *Dispatcher) wrap(toID string, msg *uspproto.Msg) *uspproto.Record {
	return &uspproto.Record{
		Version: uspproto.RecordVersion,
		ToID:    toID,
		FromID:  d.agentID,
		Payload: uspproto.MarshalMsg(msg),
	}
}

// WrapNotify envelopes an agent originated Notify for a controller.
func (d *Dispatcher) WrapNotify(toID string, msg *uspproto.Msg) *uspproto.Record {
	return d.wrap(toID, msg)
}

func (d *Dispatcher) errorMsg(req *uspproto.Msg, err error) *uspproto.Msg {
	return &uspproto.Msg{
		MsgID:   req.MsgID,
		MsgType: uspproto.MsgError,
		Error: &uspproto.ErrorBody{
			ErrCode: uint32(usperr.CodeOf(err)),
			ErrMsg:  usperr.MessageOf(err),
		},
	}
}

func (d *Dispatcher) badRequest(req *uspproto.Msg) *uspproto.Msg {
	return d.errorMsg(req, usperr.New(usperr.CodeInvalidArguments,
		"message of type %s carries no matching body", req.MsgType))
}

// begin opens the per-message transaction for mutating requests.
func (d *Dispatcher) begin(req *uspproto.Msg) (*datamodel.Transaction, *uspproto.Msg) {
	txn, err := d.reg.Begin()
	if err != nil {
		return nil, d.errorMsg(req, err)
	}
	return txn, nil
}

func errCodeOf(err error) uint32 {
	return uint32(usperr.CodeOf(err))
}

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

package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/dispatcher"
	"github.com/h820614/usp-agent-stomp/pkg/retry"
	"github.com/h820614/usp-agent-stomp/pkg/subscription"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

const testControllerEP = "proto::controller-1"

type testStack struct {
	agent     *Agent
	reg       *datamodel.Registry
	disp      *dispatcher.Dispatcher
	snapshots []types.MtpConfigChanged
	reconnect []types.ScheduleReconnect
}

// newTestStack builds the full datamodel-side stack over an in-memory
// store, with one FullAccess controller configured.
func newTestStack(t *testing.T) *testStack {
	t.Helper()
	s := &testStack{}
	store := database.NewMemStore()
	reg := datamodel.NewRegistry(store)
	a := New(reg, store, Config{
		OUI:             "0044EE",
		ProductClass:    "test-agent",
		SerialNumber:    "SERIAL1",
		SoftwareVersion: "1.0.0",
		Manufacturer:    "test",
		ModelName:       "test",
	})
	reg.Seal()
	require.NoError(t, reg.LoadInstances())

	subs := subscription.NewEngine(reg, retry.NewScheduler(), func(string, *uspproto.Msg) error {
		return nil
	}, time.Hour)
	a.SetSubscriptionEngine(subs)
	a.SetTransportHooks(
		func(snap types.MtpConfigChanged) { s.snapshots = append(s.snapshots, snap) },
		func(protocol string, inst int) {
			s.reconnect = append(s.reconnect, types.ScheduleReconnect{Protocol: protocol, Instance: inst})
		},
	)

	disp := dispatcher.New(reg, subs, a, a.EndpointID())

	// one configured controller with full access
	txn, err := reg.Begin()
	require.NoError(t, err)
	_, err = reg.AddInstance(ControllerTable)
	require.NoError(t, err)
	require.NoError(t, reg.SetValue(ControllerTable+".1.EndpointID", testControllerEP))
	require.NoError(t, txn.Commit())

	s.agent = a
	s.reg = reg
	s.disp = disp
	return s
}

// roundTrip sends one message through the dispatcher as the configured
// controller and decodes the response.
func (s *testStack) roundTrip(t *testing.T, msg *uspproto.Msg) *uspproto.Msg {
	t.Helper()
	rec := &uspproto.Record{
		Version: uspproto.RecordVersion,
		ToID:    s.agent.EndpointID(),
		FromID:  testControllerEP,
		Payload: uspproto.MarshalMsg(msg),
	}
	respRec := s.disp.Handle(rec, false)
	require.NotNil(t, respRec)
	assert.Equal(t, testControllerEP, respRec.ToID)
	resp, err := uspproto.UnmarshalMsg(respRec.Payload)
	require.NoError(t, err)
	assert.Equal(t, msg.MsgID, resp.MsgID)
	s.agent.FlushMtpConfig()
	return resp
}

func (s *testStack) get(t *testing.T, path string) string {
	t.Helper()
	v, err := s.reg.GetValue(path)
	require.NoError(t, err)
	return v
}

// TestAddThenDeleteMtp covers the add-then-delete provisioning flow: Add a
// STOMP MTP row, observe NumberOfEntries, then Delete it again.
func TestAddThenDeleteMtp(t *testing.T) {
	s := newTestStack(t)

	addResp := s.roundTrip(t, &uspproto.Msg{
		MsgID:   "add-1",
		MsgType: uspproto.MsgAdd,
		Add: &uspproto.Add{
			CreateObjs: []uspproto.CreateObject{{
				ObjPath: "Device.LocalAgent.MTP.",
				ParamSettings: []uspproto.ParamSetting{
					{Param: "Protocol", Value: "STOMP", Required: true},
					{Param: "Enable", Value: "true", Required: true},
					{Param: "STOMP.Reference", Value: "Device.STOMP.Connection.1"},
					{Param: "STOMP.Destination", Value: "/agent/q"},
				},
			}},
		},
	})
	require.Equal(t, uspproto.MsgAddResp, addResp.MsgType)
	require.NotNil(t, addResp.AddResp)
	require.Len(t, addResp.AddResp.Results, 1)
	result := addResp.AddResp.Results[0]
	require.Nil(t, result.Failure)
	require.NotNil(t, result.Success)
	assert.Equal(t, "Device.LocalAgent.MTP.1.", result.Success.InstantiatedPath)

	assert.Equal(t, "1", s.get(t, "Device.LocalAgent.MTPNumberOfEntries"))
	assert.Equal(t, "true", s.get(t, "Device.LocalAgent.MTP.1.Enable"))
	assert.Equal(t, "/agent/q", s.get(t, "Device.LocalAgent.MTP.1.STOMP.Destination"))

	// the commit must have produced a fresh transport snapshot
	require.NotEmpty(t, s.snapshots)
	last := s.snapshots[len(s.snapshots)-1]
	require.Len(t, last.Mtps, 1)
	assert.Equal(t, types.ProtocolSTOMP, last.Mtps[0].Protocol)
	assert.True(t, last.Mtps[0].Enable)

	delResp := s.roundTrip(t, &uspproto.Msg{
		MsgID:   "del-1",
		MsgType: uspproto.MsgDelete,
		Delete: &uspproto.Delete{
			ObjPaths: []string{"Device.LocalAgent.MTP.1."},
		},
	})
	require.Equal(t, uspproto.MsgDeleteResp, delResp.MsgType)
	require.NotNil(t, delResp.DeleteResp)
	require.Len(t, delResp.DeleteResp.Results, 1)
	dres := delResp.DeleteResp.Results[0]
	require.Nil(t, dres.Failure)
	require.NotNil(t, dres.Success)
	assert.Equal(t, []string{"Device.LocalAgent.MTP.1."}, dres.Success.AffectedPaths)

	assert.Equal(t, "0", s.get(t, "Device.LocalAgent.MTPNumberOfEntries"))
	last = s.snapshots[len(s.snapshots)-1]
	assert.Empty(t, last.Mtps)
}

// TestPartialSet covers allow_partial: one valid and one invalid object in
// the same Set; the valid one commits, the invalid one reports 7012.
func TestPartialSet(t *testing.T) {
	s := newTestStack(t)

	// two MTP rows
	for i := 0; i < 2; i++ {
		txn, err := s.reg.Begin()
		require.NoError(t, err)
		_, err = s.reg.AddInstance(MtpTable)
		require.NoError(t, err)
		require.NoError(t, txn.Commit())
	}

	resp := s.roundTrip(t, &uspproto.Msg{
		MsgID:   "set-1",
		MsgType: uspproto.MsgSet,
		Set: &uspproto.Set{
			AllowPartial: true,
			UpdateObjs: []uspproto.UpdateObject{
				{
					ObjPath:       "Device.LocalAgent.MTP.1.",
					ParamSettings: []uspproto.ParamSetting{{Param: "Enable", Value: "true", Required: true}},
				},
				{
					ObjPath:       "Device.LocalAgent.MTP.2.",
					ParamSettings: []uspproto.ParamSetting{{Param: "Enable", Value: "notabool", Required: true}},
				},
			},
		},
	})
	require.Equal(t, uspproto.MsgSetResp, resp.MsgType)
	require.NotNil(t, resp.SetResp)
	require.Len(t, resp.SetResp.Results, 2)

	good := resp.SetResp.Results[0]
	require.Nil(t, good.Failure)
	require.NotNil(t, good.Success)

	bad := resp.SetResp.Results[1]
	require.NotNil(t, bad.Failure)
	assert.Equal(t, uint32(7012), bad.Failure.ErrCode)

	assert.Equal(t, "true", s.get(t, "Device.LocalAgent.MTP.1.Enable"))
	assert.Equal(t, "false", s.get(t, "Device.LocalAgent.MTP.2.Enable"))
}

// TestNonPartialSetAborts covers the allow_partial=false path: any failure
// aborts the whole message and nothing commits.
func TestNonPartialSetAborts(t *testing.T) {
	s := newTestStack(t)
	txn, err := s.reg.Begin()
	require.NoError(t, err)
	_, err = s.reg.AddInstance(MtpTable)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	resp := s.roundTrip(t, &uspproto.Msg{
		MsgID:   "set-2",
		MsgType: uspproto.MsgSet,
		Set: &uspproto.Set{
			UpdateObjs: []uspproto.UpdateObject{
				{
					ObjPath:       "Device.LocalAgent.MTP.1.",
					ParamSettings: []uspproto.ParamSetting{{Param: "Enable", Value: "true"}},
				},
				{
					ObjPath:       "Device.LocalAgent.MTP.1.",
					ParamSettings: []uspproto.ParamSetting{{Param: "Enable", Value: "notabool", Required: true}},
				},
			},
		},
	})
	require.Equal(t, uspproto.MsgError, resp.MsgType)
	assert.Equal(t, "false", s.get(t, "Device.LocalAgent.MTP.1.Enable"))
}

// TestWildcardStatusGet covers the search expression Get over MTP statuses:
// a STOMP MTP reading Up and a CoAP MTP reading Error, ordered by instance.
func TestWildcardStatusGet(t *testing.T) {
	s := newTestStack(t)

	txn, err := s.reg.Begin()
	require.NoError(t, err)
	_, err = s.reg.AddInstance(StompConnTable)
	require.NoError(t, err)
	require.NoError(t, s.reg.SetValue(StompConnTable+".1.Enable", "true"))
	require.NoError(t, s.reg.SetValue(StompConnTable+".1.Host", "broker.example"))

	_, err = s.reg.AddInstance(MtpTable)
	require.NoError(t, err)
	require.NoError(t, s.reg.SetValue(MtpTable+".1.Enable", "true"))
	require.NoError(t, s.reg.SetValue(MtpTable+".1.Protocol", "STOMP"))
	require.NoError(t, s.reg.SetValue(MtpTable+".1.STOMP.Reference", StompConnTable+".1"))

	_, err = s.reg.AddInstance(MtpTable)
	require.NoError(t, err)
	require.NoError(t, s.reg.SetValue(MtpTable+".2.Enable", "true"))
	require.NoError(t, s.reg.SetValue(MtpTable+".2.Protocol", "CoAP"))
	require.NoError(t, txn.Commit())

	s.agent.HandleStatusChanged(types.MtpStatusChanged{
		Protocol: types.ProtocolSTOMP, ConnInstance: 1, Status: types.MtpStatusUp,
	})
	s.agent.HandleStatusChanged(types.MtpStatusChanged{
		Protocol: types.ProtocolCoAP, MtpInstance: 2, Status: types.MtpStatusError,
	})

	resp := s.roundTrip(t, &uspproto.Msg{
		MsgID:   "get-1",
		MsgType: uspproto.MsgGet,
		Get:     &uspproto.Get{ParamPaths: []string{"Device.LocalAgent.MTP.*.Status"}},
	})
	require.Equal(t, uspproto.MsgGetResp, resp.MsgType)
	require.NotNil(t, resp.GetResp)
	require.Len(t, resp.GetResp.Results, 1)
	result := resp.GetResp.Results[0]
	require.Zero(t, result.ErrCode, result.ErrMsg)
	require.Len(t, result.Resolved, 2)

	assert.Equal(t, "Device.LocalAgent.MTP.1.", result.Resolved[0].ResolvedPath)
	assert.Equal(t, types.MtpStatusUp, result.Resolved[0].ResultParams["Status"])
	assert.Equal(t, "Device.LocalAgent.MTP.2.", result.Resolved[1].ResolvedPath)
	assert.Equal(t, types.MtpStatusError, result.Resolved[1].ResultParams["Status"])
}

// TestDanglingReferenceCleanup covers deleting a STOMP connection row that
// an MTP row still references: the reference reads empty afterwards and the
// MTP status falls to Down.
func TestDanglingReferenceCleanup(t *testing.T) {
	s := newTestStack(t)

	txn, err := s.reg.Begin()
	require.NoError(t, err)
	_, err = s.reg.AddInstance(StompConnTable)
	require.NoError(t, err)
	require.NoError(t, s.reg.SetValue(StompConnTable+".1.Enable", "true"))
	require.NoError(t, s.reg.SetValue(StompConnTable+".1.Host", "broker.example"))
	_, err = s.reg.AddInstance(MtpTable)
	require.NoError(t, err)
	require.NoError(t, s.reg.SetValue(MtpTable+".1.Enable", "true"))
	require.NoError(t, s.reg.SetValue(MtpTable+".1.STOMP.Reference", StompConnTable+".1"))
	require.NoError(t, txn.Commit())

	s.agent.HandleStatusChanged(types.MtpStatusChanged{
		Protocol: types.ProtocolSTOMP, ConnInstance: 1, Status: types.MtpStatusUp,
	})
	assert.Equal(t, types.MtpStatusUp, s.get(t, MtpTable+".1.Status"))

	resp := s.roundTrip(t, &uspproto.Msg{
		MsgID:   "del-2",
		MsgType: uspproto.MsgDelete,
		Delete:  &uspproto.Delete{ObjPaths: []string{StompConnTable + ".1."}},
	})
	require.Equal(t, uspproto.MsgDeleteResp, resp.MsgType)

	assert.Equal(t, "", s.get(t, MtpTable+".1.STOMP.Reference"))
	assert.Equal(t, types.MtpStatusDown, s.get(t, MtpTable+".1.Status"))
}

// TestUnknownControllerDenied covers the autodiscovery gate.
func TestUnknownControllerDenied(t *testing.T) {
	s := newTestStack(t)

	rec := &uspproto.Record{
		Version: uspproto.RecordVersion,
		ToID:    s.agent.EndpointID(),
		FromID:  "proto::stranger",
		Payload: uspproto.MarshalMsg(&uspproto.Msg{
			MsgID:   "get-2",
			MsgType: uspproto.MsgGet,
			Get:     &uspproto.Get{ParamPaths: []string{"Device.DeviceInfo.SerialNumber"}},
		}),
	}

	respRec := s.disp.Handle(rec, false)
	require.NotNil(t, respRec)
	resp, err := uspproto.UnmarshalMsg(respRec.Payload)
	require.NoError(t, err)
	require.Equal(t, uspproto.MsgError, resp.MsgType)
	assert.Equal(t, uint32(7002), resp.Error.ErrCode)

	// with autodiscovery the stranger acts as Untrusted: device info only
	respRec = s.disp.Handle(rec, true)
	require.NotNil(t, respRec)
	resp, err = uspproto.UnmarshalMsg(respRec.Payload)
	require.NoError(t, err)
	require.Equal(t, uspproto.MsgGetResp, resp.MsgType)
	require.Len(t, resp.GetResp.Results, 1)
	assert.Zero(t, resp.GetResp.Results[0].ErrCode)
}

// TestStompEditSchedulesReconnect verifies that editing a live connection
// row reaches the transport only through a queued reconnect intent.
func TestStompEditSchedulesReconnect(t *testing.T) {
	s := newTestStack(t)

	txn, err := s.reg.Begin()
	require.NoError(t, err)
	_, err = s.reg.AddInstance(StompConnTable)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	s.reconnect = nil

	txn, err = s.reg.Begin()
	require.NoError(t, err)
	require.NoError(t, s.reg.SetValue(StompConnTable+".1.Host", "other.example"))
	require.NoError(t, txn.Commit())

	require.Len(t, s.reconnect, 1)
	assert.Equal(t, types.ProtocolSTOMP, s.reconnect[0].Protocol)
	assert.Equal(t, 1, s.reconnect[0].Instance)
}

// TestEndpointIDFormat checks the os:: derivation scheme.
func TestEndpointIDFormat(t *testing.T) {
	s := newTestStack(t)
	assert.Equal(t, "os::0044EE-test-agent-SERIAL1", s.agent.EndpointID())
}

// TestGetSupportedProtocol checks the advertised data model URI surface.
func TestGetSupportedProtocol(t *testing.T) {
	s := newTestStack(t)
	resp := s.roundTrip(t, &uspproto.Msg{
		MsgID:                "gsp-1",
		MsgType:              uspproto.MsgGetSupportedProto,
		GetSupportedProtocol: &uspproto.GetSupportedProtocol{},
	})
	require.Equal(t, uspproto.MsgGetSupportedProtoResp, resp.MsgType)
	require.NotNil(t, resp.GetSupportedProtocolResp)
	assert.Equal(t, dispatcher.AgentSupportedProtocolVersions,
		resp.GetSupportedProtocolResp.AgentSupportedProtocolVersions)
}

// TestGetSupportedDM spot checks the schema report for the MTP table.
func TestGetSupportedDM(t *testing.T) {
	s := newTestStack(t)
	resp := s.roundTrip(t, &uspproto.Msg{
		MsgID:   "gsdm-1",
		MsgType: uspproto.MsgGetSupportedDM,
		GetSupportedDM: &uspproto.GetSupportedDM{
			ObjPaths:       []string{"Device.LocalAgent.MTP.{i}."},
			FirstLevelOnly: true,
			ReturnParams:   true,
		},
	})
	require.Equal(t, uspproto.MsgGetSupportedDMResp, resp.MsgType)
	require.Len(t, resp.GetSupportedDMResp.Results, 1)
	result := resp.GetSupportedDMResp.Results[0]
	require.Zero(t, result.ErrCode, result.ErrMsg)
	assert.Equal(t, dispatcher.DataModelInstURI, result.DataModelInstURI)
	require.Len(t, result.SupportedObjs, 1)
	obj := result.SupportedObjs[0]
	assert.True(t, obj.IsMultiInstance)
	assert.Equal(t, "Device.LocalAgent.MTP.{i}.", obj.SupportedObjPath)
	var names []string
	for _, p := range obj.SupportedParams {
		names = append(names, p.ParamName)
	}
	assert.Contains(t, names, "Enable")
	assert.Contains(t, names, "Protocol")
	assert.Contains(t, names, "Status")
}

// TestAsyncOperate runs Device.Reboot() through the Operate path and checks
// the Request row lifecycle: created with the response, removed once the
// pending operation has run.
func TestAsyncOperate(t *testing.T) {
	s := newTestStack(t)
	rebooted := false
	s.agent.RebootFunc = func() error {
		rebooted = true
		return nil
	}

	resp := s.roundTrip(t, &uspproto.Msg{
		MsgID:   "op-1",
		MsgType: uspproto.MsgOperate,
		Operate: &uspproto.Operate{Command: "Device.Reboot()", SendResp: true},
	})
	require.Equal(t, uspproto.MsgOperateResp, resp.MsgType)
	require.Len(t, resp.OperateResp.Results, 1)
	result := resp.OperateResp.Results[0]
	require.Nil(t, result.CmdFailure)
	assert.Contains(t, result.ReqObjPath, "Device.LocalAgent.Request.")

	// the request row exists until the queued command runs
	nums, err := s.reg.Instances(dispatcher.RequestTable)
	require.NoError(t, err)
	require.Len(t, nums, 1)

	require.True(t, s.disp.HasPendingOperations())
	s.disp.RunPendingOperations()
	assert.True(t, rebooted)

	nums, err = s.reg.Instances(dispatcher.RequestTable)
	require.NoError(t, err)
	assert.Empty(t, nums)
}

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

package uspproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	in := &Record{
		Version: RecordVersion,
		ToID:    "os::000000-agent-1",
		FromID:  "proto::controller-1",
		Payload: []byte{0x0a, 0x02, 0x08, 0x01},
	}
	out, err := UnmarshalRecord(MarshalRecord(in))
	require.NoError(t, err)
	assert.Equal(t, in.Version, out.Version)
	assert.Equal(t, in.ToID, out.ToID)
	assert.Equal(t, in.FromID, out.FromID)
	assert.True(t, bytes.Equal(in.Payload, out.Payload))
}

func TestRecordSizeLimit(t *testing.T) {
	_, err := UnmarshalRecord(make([]byte, MaxUspMsgLen+1))
	require.Error(t, err)
}

func TestGetRoundTrip(t *testing.T) {
	in := &Msg{
		MsgID:   "msg-1",
		MsgType: MsgGet,
		Get:     &Get{ParamPaths: []string{"Device.DeviceInfo.", "Device.LocalAgent.MTP.*.Status"}},
	}
	out, err := UnmarshalMsg(MarshalMsg(in))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", out.MsgID)
	assert.Equal(t, MsgGet, out.MsgType)
	require.NotNil(t, out.Get)
	assert.Equal(t, in.Get.ParamPaths, out.Get.ParamPaths)
}

func TestSetRoundTrip(t *testing.T) {
	in := &Msg{
		MsgID:   "msg-2",
		MsgType: MsgSet,
		Set: &Set{
			AllowPartial: true,
			UpdateObjs: []UpdateObject{{
				ObjPath: "Device.LocalAgent.MTP.1.",
				ParamSettings: []ParamSetting{
					{Param: "Enable", Value: "true", Required: true},
					{Param: "Protocol", Value: "STOMP"},
				},
			}},
		},
	}
	out, err := UnmarshalMsg(MarshalMsg(in))
	require.NoError(t, err)
	require.NotNil(t, out.Set)
	assert.True(t, out.Set.AllowPartial)
	require.Len(t, out.Set.UpdateObjs, 1)
	assert.Equal(t, in.Set.UpdateObjs[0].ObjPath, out.Set.UpdateObjs[0].ObjPath)
	assert.Equal(t, in.Set.UpdateObjs[0].ParamSettings, out.Set.UpdateObjs[0].ParamSettings)
}

func TestOperateRoundTrip(t *testing.T) {
	in := &Msg{
		MsgID:   "msg-3",
		MsgType: MsgOperate,
		Operate: &Operate{
			Command:    "Device.Reboot()",
			CommandKey: "key-1",
			SendResp:   true,
			InputArgs:  map[string]string{"Cause": "Upgrade"},
		},
	}
	out, err := UnmarshalMsg(MarshalMsg(in))
	require.NoError(t, err)
	require.NotNil(t, out.Operate)
	assert.Equal(t, in.Operate.Command, out.Operate.Command)
	assert.Equal(t, in.Operate.CommandKey, out.Operate.CommandKey)
	assert.True(t, out.Operate.SendResp)
	assert.Equal(t, in.Operate.InputArgs, out.Operate.InputArgs)
}

func TestNotifyValueChangeRoundTrip(t *testing.T) {
	in := &Msg{
		MsgID:   "notify-7",
		MsgType: MsgNotify,
		Notify: &Notify{
			SubscriptionID: "sub-1",
			SendResp:       true,
			ValueChange: &ValueChangeNotify{
				ParamPath:  "Device.DeviceInfo.UpTime",
				ParamValue: "12345",
			},
		},
	}
	out, err := UnmarshalMsg(MarshalMsg(in))
	require.NoError(t, err)
	require.NotNil(t, out.Notify)
	assert.Equal(t, "sub-1", out.Notify.SubscriptionID)
	assert.True(t, out.Notify.SendResp)
	require.NotNil(t, out.Notify.ValueChange)
	assert.Equal(t, in.Notify.ValueChange.ParamPath, out.Notify.ValueChange.ParamPath)
	assert.Equal(t, in.Notify.ValueChange.ParamValue, out.Notify.ValueChange.ParamValue)
}

func TestNotifyRespRoundTrip(t *testing.T) {
	in := &Msg{
		MsgID:      "resp-1",
		MsgType:    MsgNotifyResp,
		NotifyResp: &NotifyResp{SubscriptionID: "sub-1"},
	}
	out, err := UnmarshalMsg(MarshalMsg(in))
	require.NoError(t, err)
	require.NotNil(t, out.NotifyResp)
	assert.Equal(t, "sub-1", out.NotifyResp.SubscriptionID)
}

func TestSessionContextRejected(t *testing.T) {
	// a record carrying field 8 (session_context) must be refused
	var b []byte
	b = appendString(b, 1, "1.1")
	b = appendMessage(b, 8, nil)
	_, err := UnmarshalRecord(b)
	require.Error(t, err)
}

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

package subscription

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
	"github.com/h820614/usp-agent-stomp/pkg/retry"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

type sentNotify struct {
	controller string
	msg        *uspproto.Msg
}

type captureSender struct {
	sent []sentNotify
	fail bool
}

func (c *captureSender) send(controller string, msg *uspproto.Msg) error {
	if c.fail {
		return fmt.Errorf("no live mtp")
	}
	c.sent = append(c.sent, sentNotify{controller: controller, msg: msg})
	return nil
}

// uptime is the mutable value behind the polled parameter.
type harness struct {
	reg    *datamodel.Registry
	engine *Engine
	sender *captureSender
	uptime string
}

func newHarness(t *testing.T, pollPeriod time.Duration) *harness {
	t.Helper()
	h := &harness{uptime: "100"}
	store := database.NewMemStore()
	r := datamodel.NewRegistry(store)

	r.RegisterParameter("Device.DeviceInfo.UpTime", datamodel.ParamOpts{
		Type:    dmtype.Uint,
		Storage: datamodel.StorageVendor,
		Getter: func(datamodel.Request) (string, error) {
			return h.uptime, nil
		},
	})

	r.RegisterObject("Device.LocalAgent.Controller.{i}", datamodel.ObjectOpts{AllowAdd: true, AllowDelete: true})
	r.RegisterParameter("Device.LocalAgent.Controller.{i}.EndpointID", datamodel.ParamOpts{Access: datamodel.AccessReadWrite})

	r.RegisterObject(SubscriptionTable+".{i}", datamodel.ObjectOpts{AllowAdd: true, AllowDelete: true})
	for _, p := range []struct {
		name string
		opts datamodel.ParamOpts
	}{
		{"Enable", datamodel.ParamOpts{Type: dmtype.Bool, Access: datamodel.AccessReadWrite, Default: "false"}},
		{"ID", datamodel.ParamOpts{Access: datamodel.AccessReadWrite}},
		{"Recipient", datamodel.ParamOpts{Access: datamodel.AccessReadWrite}},
		{"NotifType", datamodel.ParamOpts{Access: datamodel.AccessReadWrite}},
		{"ReferenceList", datamodel.ParamOpts{Access: datamodel.AccessReadWrite}},
		{"NotifRetry", datamodel.ParamOpts{Type: dmtype.Bool, Access: datamodel.AccessReadWrite, Default: "false"}},
		{"NotifExpiration", datamodel.ParamOpts{Type: dmtype.Uint, Access: datamodel.AccessReadWrite, Default: "0"}},
		{"PeriodicNotifInterval", datamodel.ParamOpts{Type: dmtype.Uint, Access: datamodel.AccessReadWrite, Default: "0"}},
	} {
		r.RegisterParameter(SubscriptionTable+".{i}."+p.name, p.opts)
	}
	r.Seal()
	require.NoError(t, r.LoadInstances())

	h.reg = r
	h.sender = &captureSender{}
	h.engine = NewEngine(r, retry.NewScheduler(), h.sender.send, pollPeriod)
	return h
}

// addSubscription commits one subscription row.
func (h *harness) addSubscription(t *testing.T, kind, refList string, notifRetry bool) int {
	t.Helper()
	txn, err := h.reg.Begin()
	require.NoError(t, err)
	ctrl, err := h.reg.AddInstance("Device.LocalAgent.Controller")
	require.NoError(t, err)
	ctrlRow := "Device.LocalAgent.Controller." + strconv.Itoa(ctrl)
	require.NoError(t, h.reg.SetValue(ctrlRow+".EndpointID", "proto::ctrl-"+strconv.Itoa(ctrl)))

	inst, err := h.reg.AddInstance(SubscriptionTable)
	require.NoError(t, err)
	row := SubscriptionTable + "." + strconv.Itoa(inst)
	require.NoError(t, h.reg.SetValue(row+".Enable", "true"))
	require.NoError(t, h.reg.SetValue(row+".ID", "sub-"+strconv.Itoa(inst)))
	require.NoError(t, h.reg.SetValue(row+".Recipient", ctrlRow))
	require.NoError(t, h.reg.SetValue(row+".NotifType", kind))
	require.NoError(t, h.reg.SetValue(row+".ReferenceList", refList))
	if notifRetry {
		require.NoError(t, h.reg.SetValue(row+".NotifRetry", "true"))
	}
	require.NoError(t, txn.Commit())
	h.engine.Reload()
	return inst
}

func TestValueChangeNotifyExactlyOnce(t *testing.T) {
	h := newHarness(t, 30*time.Second)
	h.addSubscription(t, KindValueChange, "Device.DeviceInfo.UpTime", false)

	start := time.Now()
	// first poll primes nothing new, value unchanged
	h.engine.Tick(start.Add(31 * time.Second))
	assert.Len(t, h.sender.sent, 0)

	h.uptime = "131"
	h.engine.Tick(start.Add(62 * time.Second))
	require.Len(t, h.sender.sent, 1)

	n := h.sender.sent[0].msg.Notify
	require.NotNil(t, n)
	require.NotNil(t, n.ValueChange)
	assert.Equal(t, "Device.DeviceInfo.UpTime", n.ValueChange.ParamPath)
	assert.Equal(t, "131", n.ValueChange.ParamValue)

	// no further change, no further notify
	h.engine.Tick(start.Add(93 * time.Second))
	assert.Len(t, h.sender.sent, 1)
}

func TestNotifyIDsStrictlyIncreasingGapFree(t *testing.T) {
	h := newHarness(t, time.Second)
	h.addSubscription(t, KindObjectCreation, "Device.LocalAgent.Controller.", false)

	sub := h.engine.subs[0]
	for i := 0; i < 5; i++ {
		h.engine.dispatch(sub, &uspproto.Notify{
			ObjCreation: &uspproto.ObjectCreationNotify{ObjPath: "Device.LocalAgent.Controller.9.", UniqueKeys: map[string]string{}},
		})
	}
	require.Len(t, h.sender.sent, 5)
	for i, s := range h.sender.sent {
		assert.Equal(t, "notify-"+strconv.Itoa(i+1), s.msg.MsgID)
	}
}

func TestObjectCreationNotify(t *testing.T) {
	h := newHarness(t, time.Second)
	h.addSubscription(t, KindObjectCreation, "Device.LocalAgent.Controller.", false)

	h.engine.ObjectCreated("Device.LocalAgent.Controller.5")
	require.Len(t, h.sender.sent, 1)
	n := h.sender.sent[0].msg.Notify
	require.NotNil(t, n.ObjCreation)
	assert.Equal(t, "Device.LocalAgent.Controller.5.", n.ObjCreation.ObjPath)
}

func TestFailedSendQueuedAndRetried(t *testing.T) {
	h := newHarness(t, 30*time.Second)
	h.addSubscription(t, KindValueChange, "Device.DeviceInfo.UpTime", false)

	start := time.Now()
	h.engine.Tick(start.Add(31 * time.Second))

	h.sender.fail = true
	h.uptime = "200"
	h.engine.Tick(start.Add(62 * time.Second))
	assert.Len(t, h.sender.sent, 0)
	assert.Equal(t, 1, h.engine.PendingCount())

	// once the MTP is back, the queued notification goes out on a due retry
	h.sender.fail = false
	h.engine.Tick(start.Add(30 * time.Minute))
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, 0, h.engine.PendingCount())
}

func TestNotifyResponseClearsRetryQueue(t *testing.T) {
	h := newHarness(t, 30*time.Second)
	inst := h.addSubscription(t, KindValueChange, "Device.DeviceInfo.UpTime", true)

	start := time.Now()
	h.engine.Tick(start.Add(31 * time.Second))
	h.uptime = "300"
	h.engine.Tick(start.Add(62 * time.Second))
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, 1, h.engine.PendingCount())

	h.engine.HandleNotifyResponse("sub-" + strconv.Itoa(inst))
	assert.Equal(t, 0, h.engine.PendingCount())
}

func TestPeriodicNotification(t *testing.T) {
	h := newHarness(t, time.Hour)
	inst := h.addSubscription(t, KindPeriodic, "Device.LocalAgent.", false)
	txn, err := h.reg.Begin()
	require.NoError(t, err)
	require.NoError(t, h.reg.SetValue(SubscriptionTable+"."+strconv.Itoa(inst)+".PeriodicNotifInterval", "60"))
	require.NoError(t, txn.Commit())
	h.engine.Reload()

	start := time.Now()
	h.engine.Tick(start)                        // arms the schedule
	h.engine.Tick(start.Add(61 * time.Second))  // fires
	h.engine.Tick(start.Add(90 * time.Second))  // not due
	h.engine.Tick(start.Add(125 * time.Second)) // fires again

	require.Len(t, h.sender.sent, 2)
	for _, s := range h.sender.sent {
		require.NotNil(t, s.msg.Notify.Event)
		assert.Equal(t, "Periodic!", s.msg.Notify.Event.EventName)
	}
}

func TestMatchExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
		path string
		want bool
	}{
		{name: "exact", expr: "Device.A.B.", path: "Device.A.B", want: true},
		{name: "table prefix", expr: "Device.A.", path: "Device.A.3", want: true},
		{name: "wildcard instance", expr: "Device.A.*.Name", path: "Device.A.2.Name", want: true},
		{name: "wildcard needs number", expr: "Device.A.*.Name", path: "Device.A.B.Name", want: false},
		{name: "mismatch", expr: "Device.A.", path: "Device.B.1", want: false},
		{name: "longer expr than path", expr: "Device.A.B.C", path: "Device.A.B", want: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := matchExpression(test.expr, test.path)
			if got != test.want {
				t.Errorf("matchExpression(%q, %q) = %v, want %v", test.expr, test.path, got, test.want)
			}
		})
	}
}

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

package mtpmanager

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	coreContext "github.com/h820614/usp-agent-stomp/pkg/core/context"
	"github.com/h820614/usp-agent-stomp/pkg/core/model"
	"github.com/h820614/usp-agent-stomp/pkg/retry"
)

func newTestManager() *mtpManager {
	coreContext.InitContext()
	return &mtpManager{
		enable: true,
		sched:  retry.NewScheduler(),
		stomp:  map[int]*stompRuntime{},
		coap:   map[int]*coapRuntime{},
		mqtt:   map[int]*mqttRuntime{},
		dirty:  map[string]types.ScheduleReconnect{},
		stompDialer: func(string, int, bool, time.Duration) (net.Conn, error) {
			return nil, assert.AnError
		},
	}
}

func reconnectMsg(instance int) model.Message {
	return *model.NewMessage("").
		BuildRouter("test", "mtpmanager", "mtp", types.OpScheduleReconnect).
		FillBody(types.ScheduleReconnect{Protocol: types.ProtocolSTOMP, Instance: instance})
}

// TestReconnectStormDebounce: any number of ScheduleReconnect requests
// between two ticks collapse into a single dirty entry, hence a single
// reconnect attempt at the next drain.
func TestReconnectStormDebounce(t *testing.T) {
	m := newTestManager()

	for i := 0; i < 100; i++ {
		m.handleMessage(reconnectMsg(1))
	}
	assert.Len(t, m.dirty, 1)

	m.drainDirty()
	assert.Empty(t, m.dirty)
}

func TestReconnectDistinctConnectionsKeptApart(t *testing.T) {
	m := newTestManager()
	m.handleMessage(reconnectMsg(1))
	m.handleMessage(reconnectMsg(2))
	m.handleMessage(reconnectMsg(1))
	assert.Len(t, m.dirty, 2)
}

func snapshotWith(enable bool) types.MtpConfigChanged {
	return types.MtpConfigChanged{
		AgentID: "os::000000-test-1",
		Mtps: []types.AgentMtpConfig{{
			Instance:          1,
			Enable:            enable,
			Protocol:          types.ProtocolSTOMP,
			StompConnInstance: 1,
			StompDestination:  "/agent/q",
		}},
		Stomp: []types.StompConnConfig{{
			Instance: 1,
			Enable:   enable,
			Host:     "broker.example",
			Port:     61613,
			Retry:    types.StompRetryParams{InitialInterval: 1, IntervalMultiplier: 2000, MaxInterval: 2},
		}},
	}
}

// TestReconcileLifecycle: transport runtimes mirror their rows — created on
// enable, torn down on disable.
func TestReconcileLifecycle(t *testing.T) {
	m := newTestManager()

	m.reconcile(snapshotWith(true))
	require.Len(t, m.stomp, 1)

	// same snapshot is a no-op
	rt := m.stomp[1]
	m.reconcile(snapshotWith(true))
	assert.Same(t, rt, m.stomp[1])

	m.reconcile(snapshotWith(false))
	assert.Empty(t, m.stomp)
}

// TestReconcileIgnoresDanglingReference: an MTP row whose connection row is
// missing starts nothing.
func TestReconcileIgnoresDanglingReference(t *testing.T) {
	m := newTestManager()
	snapshot := snapshotWith(true)
	snapshot.Stomp = nil
	m.reconcile(snapshot)
	assert.Empty(t, m.stomp)
}

// TestReconcileCoapWithoutPortIgnored: CoAP rows need a usable port.
func TestReconcileCoapWithoutPortIgnored(t *testing.T) {
	m := newTestManager()
	m.reconcile(types.MtpConfigChanged{
		Mtps: []types.AgentMtpConfig{{
			Instance: 1,
			Enable:   true,
			Protocol: types.ProtocolCoAP,
			CoapPort: 0,
		}},
	})
	assert.Empty(t, m.coap)
}

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

package dmmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h820614/usp-agent-stomp/pkg/agent"
	"github.com/h820614/usp-agent-stomp/pkg/apis/config/v1alpha1"
	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/dispatcher"
	"github.com/h820614/usp-agent-stomp/pkg/retry"
	"github.com/h820614/usp-agent-stomp/pkg/subscription"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// newTestDmManager assembles the manager without registering it as a
// module, over an in-memory store.
func newTestDmManager(t *testing.T) *dmManager {
	t.Helper()
	cfg := v1alpha1.NewDefaultAgentConfiguration()
	store := database.NewMemStore()

	m := &dmManager{enable: true, cfg: cfg, store: store}
	m.reg = datamodel.NewRegistry(store)
	m.agent = agent.New(m.reg, store, agent.Config{
		OUI:             cfg.Identity.OUI,
		ProductClass:    cfg.Identity.ProductClass,
		SerialNumber:    "SER-TEST",
		SoftwareVersion: cfg.Identity.SoftwareVersion,
		Manufacturer:    cfg.Identity.Manufacturer,
		ModelName:       cfg.Identity.ModelName,
	})
	m.reg.Seal()
	require.NoError(t, m.reg.LoadInstances())

	m.subs = subscription.NewEngine(m.reg, retry.NewScheduler(), func(string, *uspproto.Msg) error {
		return nil
	}, time.Hour)
	m.agent.SetSubscriptionEngine(m.subs)
	m.disp = dispatcher.New(m.reg, m.subs, m.agent, m.agent.EndpointID())
	m.agent.SetTransportHooks(func(types.MtpConfigChanged) {}, func(string, int) {})
	return m
}

func TestCliAddSetGetDelete(t *testing.T) {
	m := newTestDmManager(t)

	resp := m.handleCli(types.CliRequest{Command: "add", Args: []string{"Device.LocalAgent.MTP."}})
	require.Empty(t, resp.Err)
	require.Len(t, resp.Lines, 1)
	assert.Contains(t, resp.Lines[0], "added instance 1")

	resp = m.handleCli(types.CliRequest{Command: "set", Args: []string{"Device.LocalAgent.MTP.1.Enable", "true"}})
	require.Empty(t, resp.Err)

	resp = m.handleCli(types.CliRequest{Command: "get", Args: []string{"Device.LocalAgent.MTP.1.Enable"}})
	require.Empty(t, resp.Err)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, "Device.LocalAgent.MTP.1.Enable => true", resp.Lines[0])

	resp = m.handleCli(types.CliRequest{Command: "del", Args: []string{"Device.LocalAgent.MTP.1"}})
	require.Empty(t, resp.Err)

	resp = m.handleCli(types.CliRequest{Command: "get", Args: []string{"Device.LocalAgent.MTPNumberOfEntries"}})
	require.Empty(t, resp.Err)
	assert.Equal(t, "Device.LocalAgent.MTPNumberOfEntries => 0", resp.Lines[0])
}

func TestCliErrors(t *testing.T) {
	m := newTestDmManager(t)

	// the value and role cases address a row that exists
	resp := m.handleCli(types.CliRequest{Command: "add", Args: []string{"Device.LocalAgent.MTP."}})
	require.Empty(t, resp.Err)

	tests := []struct {
		name string
		req  types.CliRequest
	}{
		{name: "unknown command", req: types.CliRequest{Command: "frobnicate"}},
		{name: "missing args", req: types.CliRequest{Command: "set", Args: []string{"onlyone"}}},
		{name: "bad path", req: types.CliRequest{Command: "get", Args: []string{"Device.Nope."}}},
		{name: "bad value", req: types.CliRequest{Command: "set", Args: []string{"Device.LocalAgent.MTP.1.Enable", "x"}}},
		{name: "readonly role write", req: types.CliRequest{Command: "set", Role: "ReadOnly", Args: []string{"Device.LocalAgent.MTP.1.Enable", "true"}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resp := m.handleCli(test.req)
			assert.NotEmpty(t, resp.Err)
		})
	}
}

func TestCliDumpAndDb(t *testing.T) {
	m := newTestDmManager(t)

	resp := m.handleCli(types.CliRequest{Command: "dbset", Args: []string{"Device.X", "1"}})
	require.Empty(t, resp.Err)
	resp = m.handleCli(types.CliRequest{Command: "dbget", Args: []string{"Device.X"}})
	require.Empty(t, resp.Err)
	assert.Equal(t, []string{"1"}, resp.Lines)

	resp = m.handleCli(types.CliRequest{Command: "dump"})
	require.Empty(t, resp.Err)
	assert.NotEmpty(t, resp.Lines)

	resp = m.handleCli(types.CliRequest{Command: "endpoint"})
	require.Empty(t, resp.Err)
	assert.Contains(t, resp.Lines[0], "os::")
}

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
	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/mtp/coapserver"
	"github.com/h820614/usp-agent-stomp/pkg/mtp/mqttclient"
	"github.com/h820614/usp-agent-stomp/pkg/mtp/stompclient"
)

// reconcile converges the running transports onto a desired-state snapshot.
// Transport runtimes mirror their data model rows: created when enabled with
// valid config, destroyed when disabled, deleted or their referenced
// connection row disappeared; recreated when their config changed.
func (m *mtpManager) reconcile(snapshot types.MtpConfigChanged) {
	m.reconcileStomp(snapshot)
	m.reconcileCoap(snapshot)
	m.reconcileMqtt(snapshot)
}

func (m *mtpManager) reconcileStomp(snapshot types.MtpConfigChanged) {
	connByInst := map[int]types.StompConnConfig{}
	for _, cc := range snapshot.Stomp {
		connByInst[cc.Instance] = cc
	}

	// desired: every enabled STOMP MTP row whose referenced connection row
	// exists and is enabled
	desired := map[int]*stompRuntime{}
	for _, mtp := range snapshot.Mtps {
		if !mtp.Enable || mtp.Protocol != types.ProtocolSTOMP {
			continue
		}
		cc, ok := connByInst[mtp.StompConnInstance]
		if !ok || !cc.Enable || cc.Host == "" {
			continue
		}
		desired[cc.Instance] = &stompRuntime{cfg: cc, mtp: mtp}
	}

	// stop runtimes that are gone or changed
	for inst, rt := range m.stomp {
		want, ok := desired[inst]
		if ok && want.cfg == rt.cfg && want.mtp == rt.mtp {
			continue
		}
		klog.Infof("stopping stomp connection %d", inst)
		rt.conn.Stop()
		delete(m.stomp, inst)
		reportStatus(types.ProtocolSTOMP, rt.mtp.Instance, inst, types.MtpStatusDown)
	}

	// start the missing ones
	for inst, want := range desired {
		if _, ok := m.stomp[inst]; ok {
			continue
		}
		mtpInstance := want.mtp.Instance
		conn := stompclient.NewConn(want.cfg, stompclient.Options{
			AgentEndpointID:    m.agentID,
			AgentQueue:         want.mtp.StompDestination,
			MtpInstance:        mtpInstance,
			AllowAutodiscovery: m.allowAutodiscovery,
			Inbound:            inbound,
			Status: func(connInstance int, status string) {
				reportStatus(types.ProtocolSTOMP, mtpInstance, connInstance, status)
			},
			Dialer: m.stompDialer,
		})
		want.conn = conn
		m.stomp[inst] = want
		klog.Infof("starting stomp connection %d to %s:%d", inst, want.cfg.Host, want.cfg.Port)
		conn.Start()
	}
}

func (m *mtpManager) reconcileCoap(snapshot types.MtpConfigChanged) {
	desired := map[int]*coapRuntime{}
	for _, mtp := range snapshot.Mtps {
		if !mtp.Enable || mtp.Protocol != types.ProtocolCoAP || mtp.CoapPort <= 0 {
			continue
		}
		desired[mtp.Instance] = &coapRuntime{mtp: mtp}
	}

	for inst, rt := range m.coap {
		want, ok := desired[inst]
		if ok && want.mtp == rt.mtp {
			continue
		}
		klog.Infof("stopping coap listener for mtp %d", inst)
		rt.server.Stop()
		delete(m.coap, inst)
		reportStatus(types.ProtocolCoAP, inst, 0, types.MtpStatusDown)
	}

	for inst, want := range desired {
		if _, ok := m.coap[inst]; ok {
			continue
		}
		server := coapserver.NewServer(want.mtp.CoapPort, want.mtp.CoapPath, coapserver.Options{
			MtpInstance:        inst,
			AllowAutodiscovery: m.allowAutodiscovery,
			Inbound:            inbound,
			Status: func(mtpInstance int, status string) {
				reportStatus(types.ProtocolCoAP, mtpInstance, 0, status)
			},
		})
		want.server = server
		m.coap[inst] = want
		klog.Infof("starting coap listener for mtp %d on port %d", inst, want.mtp.CoapPort)
		if err := server.Start(); err != nil {
			klog.Errorf("coap listener for mtp %d failed to start: %v", inst, err)
		}
	}
}

func (m *mtpManager) reconcileMqtt(snapshot types.MtpConfigChanged) {
	cliByInst := map[int]types.MqttClientConfig{}
	for _, mc := range snapshot.Mqtt {
		cliByInst[mc.Instance] = mc
	}

	desired := map[int]*mqttRuntime{}
	for _, mtp := range snapshot.Mtps {
		if !mtp.Enable || mtp.Protocol != types.ProtocolMQTT {
			continue
		}
		mc, ok := cliByInst[mtp.MqttClientInstance]
		if !ok || !mc.Enable || mc.BrokerAddress == "" {
			continue
		}
		desired[mc.Instance] = &mqttRuntime{cfg: mc, mtp: mtp}
	}

	for inst, rt := range m.mqtt {
		want, ok := desired[inst]
		if ok && want.cfg == rt.cfg && want.mtp == rt.mtp {
			continue
		}
		klog.Infof("stopping mqtt client %d", inst)
		rt.client.Stop()
		delete(m.mqtt, inst)
		reportStatus(types.ProtocolMQTT, rt.mtp.Instance, inst, types.MtpStatusDown)
	}

	for inst, want := range desired {
		if _, ok := m.mqtt[inst]; ok {
			continue
		}
		mtpInstance := want.mtp.Instance
		client := mqttclient.NewClient(want.cfg, m.sched, mqttclient.Options{
			ResponseTopic:      want.mtp.MqttResponseTopic,
			MtpInstance:        mtpInstance,
			AllowAutodiscovery: m.allowAutodiscovery,
			Inbound:            inbound,
			Status: func(clientInstance int, status string) {
				reportStatus(types.ProtocolMQTT, mtpInstance, clientInstance, status)
			},
		})
		want.client = client
		m.mqtt[inst] = want
		klog.Infof("starting mqtt client %d to %s:%d", inst, want.cfg.BrokerAddress, want.cfg.BrokerPort)
		client.Start()
	}
}

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
	"strconv"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
)

// MqttClientTable is the MQTT client table path.
const MqttClientTable = "Device.MQTT.Client"

// registerMqttTable publishes Device.MQTT.Client.{i}.
func (a *Agent) registerMqttTable() {
	r := a.reg

	dirtyReconnect := func(req datamodel.Request, _ string) error {
		a.markMtpConfigDirty()
		if a.scheduleReconnect != nil {
			a.scheduleReconnect(types.ProtocolMQTT, req.Inst(1))
		}
		return nil
	}

	r.RegisterObject("Device.MQTT", datamodel.ObjectOpts{})
	r.RegisterObject(MqttClientTable+".{i}", datamodel.ObjectOpts{
		AllowAdd:    true,
		AllowDelete: true,
		AddNotify: func(datamodel.Request) error {
			a.markMtpConfigDirty()
			return nil
		},
		DeleteNotify: func(req datamodel.Request) error {
			delete(a.mqttStatus, req.Inst(1))
			a.markMtpConfigDirty()
			return nil
		},
	})

	r.RegisterParameter(MqttClientTable+".{i}.Enable", datamodel.ParamOpts{
		Type:         dmtype.Bool,
		Access:       datamodel.AccessReadWrite,
		Default:      "false",
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(MqttClientTable+".{i}.BrokerAddress", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(MqttClientTable+".{i}.BrokerPort", datamodel.ParamOpts{
		Type:         dmtype.Uint,
		Access:       datamodel.AccessReadWrite,
		Default:      "1883",
		Validator:    validatePort,
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(MqttClientTable+".{i}.Username", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(MqttClientTable+".{i}.Password", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		Secure:       true,
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(MqttClientTable+".{i}.ClientID", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(MqttClientTable+".{i}.KeepAliveTime", datamodel.ParamOpts{
		Type:         dmtype.Uint,
		Access:       datamodel.AccessReadWrite,
		Default:      "60",
		ChangeNotify: dirtyReconnect,
	})

	r.RegisterParameter(MqttClientTable+".{i}.Status", datamodel.ParamOpts{
		Storage: datamodel.StorageVendor,
		Getter: func(req datamodel.Request) (string, error) {
			if !a.reg.GetBool(MqttClientTable + "." + strconv.Itoa(req.Inst(1)) + ".Enable") {
				return "Disabled", nil
			}
			if status, ok := a.mqttStatus[req.Inst(1)]; ok {
				switch status {
				case types.MtpStatusUp:
					return "Connected", nil
				case types.MtpStatusError:
					return "Error_BrokerUnreachable", nil
				}
			}
			return "Connecting", nil
		},
	})
}

// readMqttClient builds the desired-state struct of one client row.
func (a *Agent) readMqttClient(inst int) types.MqttClientConfig {
	row := MqttClientTable + "." + strconv.Itoa(inst)
	mc := types.MqttClientConfig{Instance: inst}
	mc.Enable = a.reg.GetBool(row + ".Enable")
	mc.BrokerAddress, _ = a.reg.GetValue(row + ".BrokerAddress")
	mc.BrokerPort = a.reg.GetInt(row+".BrokerPort", 1883)
	mc.Username, _ = a.reg.GetValue(row + ".Username")
	mc.Password, _ = a.reg.GetValue(row + ".Password")
	mc.ClientID, _ = a.reg.GetValue(row + ".ClientID")
	mc.KeepAliveTime = a.reg.GetInt(row+".KeepAliveTime", 60)
	return mc
}

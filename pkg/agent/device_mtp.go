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
	"strings"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// MtpTable is the agent MTP table path.
const MtpTable = "Device.LocalAgent.MTP"

// registerMtpTable publishes Device.LocalAgent.MTP.{i}. Both the STOMP and
// CoAP (and MQTT) field groups may be populated on one row; Protocol
// selects which group is observed. That coexistence is kept for backward
// compatibility with existing database contents.
func (a *Agent) registerMtpTable() {
	r := a.reg

	dirty := func(datamodel.Request, string) error {
		a.markMtpConfigDirty()
		return nil
	}

	r.RegisterObject(MtpTable+".{i}", datamodel.ObjectOpts{
		AllowAdd:    true,
		AllowDelete: true,
		AddNotify: func(datamodel.Request) error {
			a.markMtpConfigDirty()
			return nil
		},
		DeleteNotify: func(datamodel.Request) error {
			a.markMtpConfigDirty()
			return nil
		},
	})

	r.RegisterParameter(MtpTable+".{i}.Enable", datamodel.ParamOpts{
		Type:         dmtype.Bool,
		Access:       datamodel.AccessReadWrite,
		Default:      "false",
		ChangeNotify: dirty,
	})
	r.RegisterParameter(MtpTable+".{i}.Protocol", datamodel.ParamOpts{
		Access:  datamodel.AccessReadWrite,
		Default: types.ProtocolSTOMP,
		Validator: func(req datamodel.Request, value string) error {
			switch value {
			case types.ProtocolSTOMP, types.ProtocolCoAP, types.ProtocolMQTT:
				return nil
			}
			return usperr.New(usperr.CodeInvalidValue,
				"%s must be one of STOMP, CoAP, MQTT", req.Path)
		},
		ChangeNotify: dirty,
	})

	r.RegisterParameter(MtpTable+".{i}.STOMP.Reference", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		ChangeNotify: dirty,
	})
	r.RegisterParameter(MtpTable+".{i}.STOMP.Destination", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		ChangeNotify: dirty,
	})

	r.RegisterParameter(MtpTable+".{i}.CoAP.Port", datamodel.ParamOpts{
		Type:         dmtype.Uint,
		Access:       datamodel.AccessReadWrite,
		Default:      "5683",
		Validator:    validatePort,
		ChangeNotify: dirty,
	})
	r.RegisterParameter(MtpTable+".{i}.CoAP.Path", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		Default:      "usp",
		ChangeNotify: dirty,
	})

	r.RegisterParameter(MtpTable+".{i}.MQTT.Reference", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		ChangeNotify: dirty,
	})
	r.RegisterParameter(MtpTable+".{i}.MQTT.ResponseTopic", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		ChangeNotify: dirty,
	})

	r.RegisterParameter(MtpTable+".{i}.Status", datamodel.ParamOpts{
		Storage: datamodel.StorageVendor,
		Getter:  a.mtpStatusGetter,
	})
}

func validatePort(req datamodel.Request, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 65535 {
		return usperr.New(usperr.CodeInvalidValue, "%s must be a port number", req.Path)
	}
	return nil
}

// mtpStatusGetter computes Device.LocalAgent.MTP.{i}.Status from the
// transport status mirrors. A disabled or dangling row reads Down.
func (a *Agent) mtpStatusGetter(req datamodel.Request) (string, error) {
	inst := req.Inst(1)
	row := MtpTable + "." + strconv.Itoa(inst)

	if !a.reg.GetBool(row + ".Enable") {
		return types.MtpStatusDown, nil
	}
	protocol, err := a.reg.GetValue(row + ".Protocol")
	if err != nil {
		return types.MtpStatusError, nil
	}
	switch protocol {
	case types.ProtocolSTOMP:
		connInst, ok := a.referencedInstance(row+".STOMP.Reference", StompConnTable)
		if !ok {
			return types.MtpStatusDown, nil
		}
		if status, found := a.stompStatus[connInst]; found {
			return status, nil
		}
		return types.MtpStatusDown, nil
	case types.ProtocolCoAP:
		if status, found := a.mtpStatus[inst]; found {
			return status, nil
		}
		return types.MtpStatusDown, nil
	case types.ProtocolMQTT:
		clientInst, ok := a.referencedInstance(row+".MQTT.Reference", MqttClientTable)
		if !ok {
			return types.MtpStatusDown, nil
		}
		if status, found := a.mqttStatus[clientInst]; found {
			return status, nil
		}
		return types.MtpStatusDown, nil
	}
	return types.MtpStatusError, nil
}

// referencedInstance reads a reference parameter and returns the instance
// number of the row it points at, requiring the target to be live and under
// the expected table.
func (a *Agent) referencedInstance(refParam, wantTable string) (int, bool) {
	ref, err := a.reg.GetValue(refParam)
	if err != nil || ref == "" {
		return 0, false
	}
	ref = strings.TrimSuffix(ref, ".")
	idx := strings.LastIndex(ref, ".")
	if idx < 0 || ref[:idx] != wantTable {
		return 0, false
	}
	inst, cerr := strconv.Atoi(ref[idx+1:])
	if cerr != nil || inst <= 0 {
		return 0, false
	}
	live, lerr := a.reg.InstanceExists(ref)
	if lerr != nil || !live {
		return 0, false
	}
	return inst, true
}

// BuildSnapshot reads the transport configuration out of the data model
// into a move-owned desired-state snapshot for the mtpmanager.
func (a *Agent) BuildSnapshot() types.MtpConfigChanged {
	snapshot := types.MtpConfigChanged{AgentID: a.endpointID}

	if nums, err := a.reg.Instances(MtpTable); err == nil {
		for _, n := range nums {
			row := MtpTable + "." + strconv.Itoa(n)
			mtp := types.AgentMtpConfig{Instance: n}
			mtp.Enable = a.reg.GetBool(row + ".Enable")
			mtp.Protocol, _ = a.reg.GetValue(row + ".Protocol")
			if connInst, ok := a.referencedInstance(row+".STOMP.Reference", StompConnTable); ok {
				mtp.StompConnInstance = connInst
			}
			mtp.StompDestination, _ = a.reg.GetValue(row + ".STOMP.Destination")
			mtp.CoapPort = a.reg.GetInt(row+".CoAP.Port", 5683)
			mtp.CoapPath, _ = a.reg.GetValue(row + ".CoAP.Path")
			if clientInst, ok := a.referencedInstance(row+".MQTT.Reference", MqttClientTable); ok {
				mtp.MqttClientInstance = clientInst
			}
			mtp.MqttResponseTopic, _ = a.reg.GetValue(row + ".MQTT.ResponseTopic")
			snapshot.Mtps = append(snapshot.Mtps, mtp)
		}
	}

	if nums, err := a.reg.Instances(StompConnTable); err == nil {
		for _, n := range nums {
			snapshot.Stomp = append(snapshot.Stomp, a.readStompConn(n))
		}
	}

	if nums, err := a.reg.Instances(MqttClientTable); err == nil {
		for _, n := range nums {
			snapshot.Mqtt = append(snapshot.Mqtt, a.readMqttClient(n))
		}
	}
	return snapshot
}

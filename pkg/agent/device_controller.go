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
	"github.com/h820614/usp-agent-stomp/pkg/dispatcher"
	"github.com/h820614/usp-agent-stomp/pkg/role"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// ControllerTable is the controller table path.
const ControllerTable = "Device.LocalAgent.Controller"

// registerControllerTable publishes Device.LocalAgent.Controller.{i} and
// its nested MTP table.
func (a *Agent) registerControllerTable() {
	r := a.reg

	r.RegisterObject(ControllerTable+".{i}", datamodel.ObjectOpts{
		AllowAdd:    true,
		AllowDelete: true,
	})
	r.RegisterParameter(ControllerTable+".{i}.Enable", datamodel.ParamOpts{
		Type:    dmtype.Bool,
		Access:  datamodel.AccessReadWrite,
		Default: "true",
	})
	r.RegisterParameter(ControllerTable+".{i}.EndpointID", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(ControllerTable+".{i}.AssignedRole", datamodel.ParamOpts{
		Access:  datamodel.AccessReadWrite,
		Default: string(role.FullAccess),
		Validator: func(req datamodel.Request, value string) error {
			switch value {
			case string(role.FullAccess), string(role.ReadOnly), string(role.Untrusted):
				return nil
			}
			return usperr.New(usperr.CodeInvalidValue, "%s is not a known role", value)
		},
	})

	r.RegisterObject(ControllerTable+".{i}.MTP.{i}", datamodel.ObjectOpts{
		AllowAdd:    true,
		AllowDelete: true,
	})
	r.RegisterParameter(ControllerTable+".{i}.MTP.{i}.Enable", datamodel.ParamOpts{
		Type:    dmtype.Bool,
		Access:  datamodel.AccessReadWrite,
		Default: "true",
	})
	r.RegisterParameter(ControllerTable+".{i}.MTP.{i}.Protocol", datamodel.ParamOpts{
		Access:  datamodel.AccessReadWrite,
		Default: types.ProtocolSTOMP,
	})
	r.RegisterParameter(ControllerTable+".{i}.MTP.{i}.STOMP.Reference", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(ControllerTable+".{i}.MTP.{i}.STOMP.Destination", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(ControllerTable+".{i}.MTP.{i}.CoAP.Host", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(ControllerTable+".{i}.MTP.{i}.CoAP.Port", datamodel.ParamOpts{
		Type:      dmtype.Uint,
		Access:    datamodel.AccessReadWrite,
		Default:   "5683",
		Validator: validatePort,
	})
	r.RegisterParameter(ControllerTable+".{i}.MTP.{i}.CoAP.Path", datamodel.ParamOpts{
		Access:  datamodel.AccessReadWrite,
		Default: "usp",
	})
	r.RegisterParameter(ControllerTable+".{i}.MTP.{i}.MQTT.Reference", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(ControllerTable+".{i}.MTP.{i}.MQTT.Topic", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})

	r.RegisterOperation(ControllerTable+".{i}.SendOnBoardRequest", datamodel.OperOpts{
		Handler: a.sendOnBoardRequest,
	})
}

// ControllerByEndpoint implements dispatcher.ControllerResolver.
func (a *Agent) ControllerByEndpoint(endpointID string) (dispatcher.ControllerInfo, bool) {
	nums, err := a.reg.Instances(ControllerTable)
	if err != nil {
		return dispatcher.ControllerInfo{}, false
	}
	for _, n := range nums {
		row := ControllerTable + "." + strconv.Itoa(n)
		ep, gerr := a.reg.GetValue(row + ".EndpointID")
		if gerr != nil || ep != endpointID {
			continue
		}
		if !a.reg.GetBool(row + ".Enable") {
			continue
		}
		assigned, _ := a.reg.GetValue(row + ".AssignedRole")
		return dispatcher.ControllerInfo{
			EndpointID: endpointID,
			Role:       role.Parse(assigned),
			Instance:   n,
		}, true
	}
	return dispatcher.ControllerInfo{}, false
}

// SendDestForController selects the controller's currently preferred MTP:
// the lowest numbered enabled MTP row that maps onto a running transport
// configuration.
func (a *Agent) SendDestForController(endpointID string) (types.ReplyDest, bool) {
	info, ok := a.ControllerByEndpoint(endpointID)
	if !ok {
		return types.ReplyDest{}, false
	}
	table := ControllerTable + "." + strconv.Itoa(info.Instance) + ".MTP"
	nums, err := a.reg.Instances(table)
	if err != nil {
		return types.ReplyDest{}, false
	}
	for _, n := range nums {
		row := table + "." + strconv.Itoa(n)
		if !a.reg.GetBool(row + ".Enable") {
			continue
		}
		protocol, _ := a.reg.GetValue(row + ".Protocol")
		switch protocol {
		case types.ProtocolSTOMP:
			connInst, found := a.referencedInstance(row+".STOMP.Reference", StompConnTable)
			if !found {
				continue
			}
			dest, _ := a.reg.GetValue(row + ".STOMP.Destination")
			if dest == "" {
				continue
			}
			return types.ReplyDest{
				Protocol:          types.ProtocolSTOMP,
				StompConnInstance: connInst,
				StompDest:         dest,
			}, true
		case types.ProtocolCoAP:
			host, _ := a.reg.GetValue(row + ".CoAP.Host")
			if host == "" {
				continue
			}
			port := a.reg.GetInt(row+".CoAP.Port", 5683)
			path, _ := a.reg.GetValue(row + ".CoAP.Path")
			return types.ReplyDest{
				Protocol:     types.ProtocolCoAP,
				CoapHost:     host + ":" + strconv.Itoa(port),
				CoapResource: "/" + strings.TrimPrefix(path, "/"),
			}, true
		case types.ProtocolMQTT:
			clientInst, found := a.referencedInstance(row+".MQTT.Reference", MqttClientTable)
			if !found {
				continue
			}
			topic, _ := a.reg.GetValue(row + ".MQTT.Topic")
			if topic == "" {
				continue
			}
			return types.ReplyDest{
				Protocol:           types.ProtocolMQTT,
				MqttClientInstance: clientInst,
				MqttTopic:          topic,
			}, true
		}
	}
	return types.ReplyDest{}, false
}

// sendOnBoardRequest implements the SendOnBoardRequest() command: an
// OnBoardRequest notification towards the addressed controller.
func (a *Agent) sendOnBoardRequest(req datamodel.Request, _ map[string]string) (map[string]string, error) {
	if a.subs == nil {
		return nil, usperr.New(usperr.CodeCommandFailure, "notification engine not ready")
	}
	row := ControllerTable + "." + strconv.Itoa(req.Inst(1))
	ep, err := a.reg.GetValue(row + ".EndpointID")
	if err != nil || ep == "" {
		return nil, usperr.New(usperr.CodeCommandFailure, "controller has no endpoint id")
	}
	a.subs.EmitOnBoardRequest(ep, a.cfg.OUI, a.cfg.ProductClass, a.serialNumber(), uspproto.RecordVersion)
	return map[string]string{}, nil
}

func (a *Agent) serialNumber() string {
	if a.cfg.SerialNumber != "" {
		return a.cfg.SerialNumber
	}
	return serialFromInterface(a.cfg.WANInterface)
}

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

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
)

// registerDeviceInfo publishes the read-only device identity tree.
func (a *Agent) registerDeviceInfo() {
	r := a.reg
	r.RegisterObject("Device.DeviceInfo", datamodel.ObjectOpts{})

	constant := func(path, value string) {
		r.RegisterParameter(path, datamodel.ParamOpts{
			Storage: datamodel.StorageConst,
			Default: value,
		})
	}
	constant("Device.DeviceInfo.Manufacturer", a.cfg.Manufacturer)
	constant("Device.DeviceInfo.ManufacturerOUI", a.cfg.OUI)
	constant("Device.DeviceInfo.ProductClass", a.cfg.ProductClass)
	constant("Device.DeviceInfo.ModelName", a.cfg.ModelName)
	constant("Device.DeviceInfo.SoftwareVersion", a.cfg.SoftwareVersion)
	constant("Device.DeviceInfo.HardwareVersion", "1.0")

	r.RegisterParameter("Device.DeviceInfo.SerialNumber", datamodel.ParamOpts{
		Storage: datamodel.StorageVendor,
		Getter: func(datamodel.Request) (string, error) {
			serial := a.cfg.SerialNumber
			if serial == "" {
				serial = serialFromInterface(a.cfg.WANInterface)
			}
			return serial, nil
		},
	})

	r.RegisterParameter("Device.DeviceInfo.UpTime", datamodel.ParamOpts{
		Type:    dmtype.Uint,
		Storage: datamodel.StorageVendor,
		Getter: func(datamodel.Request) (string, error) {
			return strconv.FormatInt(a.uptimeSeconds(), 10), nil
		},
	})
}

// registerLocalAgent publishes Device.LocalAgent core parameters plus the
// agent level commands and events.
func (a *Agent) registerLocalAgent() {
	r := a.reg
	r.RegisterObject("Device.LocalAgent", datamodel.ObjectOpts{})

	r.RegisterParameter("Device.LocalAgent.EndpointID", datamodel.ParamOpts{
		Storage: datamodel.StorageConst,
		Default: a.endpointID,
	})
	r.RegisterParameter("Device.LocalAgent.SoftwareVersion", datamodel.ParamOpts{
		Storage: datamodel.StorageConst,
		Default: a.cfg.SoftwareVersion,
	})
	r.RegisterParameter("Device.LocalAgent.SupportedProtocols", datamodel.ParamOpts{
		Storage: datamodel.StorageConst,
		Default: "STOMP, CoAP, MQTT",
	})
	r.RegisterParameter("Device.LocalAgent.UpTime", datamodel.ParamOpts{
		Type:    dmtype.Uint,
		Storage: datamodel.StorageVendor,
		Getter: func(datamodel.Request) (string, error) {
			return strconv.FormatInt(a.uptimeSeconds(), 10), nil
		},
	})

	r.RegisterEvent("Device.Boot!", datamodel.EventOpts{
		Args: []string{"Cause", "CommandKey", "FirmwareUpdated"},
	})

	r.RegisterOperation("Device.Reboot", datamodel.OperOpts{
		Async: true,
		Handler: func(datamodel.Request, map[string]string) (map[string]string, error) {
			klog.Info("reboot requested through the data model")
			if a.RebootFunc != nil {
				return map[string]string{}, a.RebootFunc()
			}
			return map[string]string{}, nil
		},
	})
	r.RegisterOperation("Device.FactoryReset", datamodel.OperOpts{
		Async: true,
		Handler: func(datamodel.Request, map[string]string) (map[string]string, error) {
			klog.Info("factory reset requested through the data model")
			if a.FactoryResetFunc != nil {
				return map[string]string{}, a.FactoryResetFunc()
			}
			return map[string]string{}, nil
		},
	})
}

// EmitBootEvent notifies Event subscribers that the agent started. Called
// once the engine is wired and the first snapshot flushed.
func (a *Agent) EmitBootEvent(cause string) {
	if a.subs == nil {
		return
	}
	a.subs.EmitEvent("Device.", "Boot!", map[string]string{
		"Cause":           cause,
		"CommandKey":      "",
		"FirmwareUpdated": "false",
	})
}

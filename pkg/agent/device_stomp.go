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

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
)

// StompConnTable is the STOMP connection table path.
const StompConnTable = "Device.STOMP.Connection"

// registerStompTable publishes Device.STOMP.Connection.{i}. Edits to a live
// connection reach the transport only through the reconnect schedule: the
// change notifies mark the config dirty and queue a reconnect, and the
// mtpmanager acts at its next tick, after the commit has fully settled.
func (a *Agent) registerStompTable() {
	r := a.reg

	dirtyReconnect := func(req datamodel.Request, _ string) error {
		a.markMtpConfigDirty()
		if a.scheduleReconnect != nil {
			a.scheduleReconnect(types.ProtocolSTOMP, req.Inst(1))
		}
		return nil
	}

	r.RegisterObject("Device.STOMP", datamodel.ObjectOpts{})
	r.RegisterObject(StompConnTable+".{i}", datamodel.ObjectOpts{
		AllowAdd:    true,
		AllowDelete: true,
		AddNotify: func(datamodel.Request) error {
			a.markMtpConfigDirty()
			return nil
		},
		DeleteNotify: a.stompConnDeleted,
	})

	r.RegisterParameter(StompConnTable+".{i}.Enable", datamodel.ParamOpts{
		Type:         dmtype.Bool,
		Access:       datamodel.AccessReadWrite,
		Default:      "false",
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.Host", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.Port", datamodel.ParamOpts{
		Type:         dmtype.Uint,
		Access:       datamodel.AccessReadWrite,
		Default:      "61613",
		Validator:    validatePort,
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.Username", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.Password", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		Secure:       true,
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.VirtualHost", datamodel.ParamOpts{
		Access:       datamodel.AccessReadWrite,
		Default:      "/",
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.EnableEncryption", datamodel.ParamOpts{
		Type:         dmtype.Bool,
		Access:       datamodel.AccessReadWrite,
		Default:      "true",
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.EnableHeartbeats", datamodel.ParamOpts{
		Type:         dmtype.Bool,
		Access:       datamodel.AccessReadWrite,
		Default:      "false",
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.OutgoingHeartbeat", datamodel.ParamOpts{
		Type:         dmtype.Uint,
		Access:       datamodel.AccessReadWrite,
		Default:      "30000",
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.IncomingHeartbeat", datamodel.ParamOpts{
		Type:         dmtype.Uint,
		Access:       datamodel.AccessReadWrite,
		Default:      "300000",
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.ServerRetryInitialInterval", datamodel.ParamOpts{
		Type:         dmtype.Uint,
		Access:       datamodel.AccessReadWrite,
		Default:      "60",
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.ServerRetryIntervalMultiplier", datamodel.ParamOpts{
		Type:         dmtype.Uint,
		Access:       datamodel.AccessReadWrite,
		Default:      "2000",
		ChangeNotify: dirtyReconnect,
	})
	r.RegisterParameter(StompConnTable+".{i}.ServerRetryMaxInterval", datamodel.ParamOpts{
		Type:         dmtype.Uint,
		Access:       datamodel.AccessReadWrite,
		Default:      "30720",
		ChangeNotify: dirtyReconnect,
	})

	r.RegisterParameter(StompConnTable+".{i}.Status", datamodel.ParamOpts{
		Storage: datamodel.StorageVendor,
		Getter: func(req datamodel.Request) (string, error) {
			if !a.reg.GetBool(StompConnTable + "." + strconv.Itoa(req.Inst(1)) + ".Enable") {
				return "Disabled", nil
			}
			if status, ok := a.stompStatus[req.Inst(1)]; ok {
				switch status {
				case types.MtpStatusUp:
					return "Enabled", nil
				case types.MtpStatusError:
					return "Error_ConnectionRefused", nil
				}
			}
			return "Connecting", nil
		},
	})
}

// stompConnDeleted clears dangling references from agent MTP rows when a
// connection row is removed, then marks the config dirty. The referring MTP
// rows read Down afterwards.
func (a *Agent) stompConnDeleted(req datamodel.Request) error {
	deleted := req.Path
	delete(a.stompStatus, req.Inst(1))

	nums, err := a.reg.Instances(MtpTable)
	if err != nil {
		return err
	}
	var danglers []string
	for _, n := range nums {
		refParam := MtpTable + "." + strconv.Itoa(n) + ".STOMP.Reference"
		ref, gerr := a.reg.GetValue(refParam)
		if gerr != nil {
			continue
		}
		if strings.TrimSuffix(ref, ".") == deleted {
			danglers = append(danglers, refParam)
		}
	}
	if len(danglers) > 0 {
		txn, terr := a.reg.Begin()
		if terr != nil {
			return terr
		}
		for _, refParam := range danglers {
			if serr := a.reg.SetValue(refParam, ""); serr != nil {
				klog.Warningf("failed to clear dangling reference %s: %v", refParam, serr)
			}
		}
		if cerr := txn.Commit(); cerr != nil {
			return cerr
		}
	}
	a.markMtpConfigDirty()
	return nil
}

// readStompConn builds the desired-state struct of one connection row.
func (a *Agent) readStompConn(inst int) types.StompConnConfig {
	row := StompConnTable + "." + strconv.Itoa(inst)
	cc := types.StompConnConfig{Instance: inst}
	cc.Enable = a.reg.GetBool(row + ".Enable")
	cc.Host, _ = a.reg.GetValue(row + ".Host")
	cc.Port = a.reg.GetInt(row+".Port", 61613)
	cc.Username, _ = a.reg.GetValue(row + ".Username")
	cc.Password, _ = a.reg.GetValue(row + ".Password")
	cc.VirtualHost, _ = a.reg.GetValue(row + ".VirtualHost")
	cc.EnableEncryption = a.reg.GetBool(row + ".EnableEncryption")
	cc.EnableHeartbeats = a.reg.GetBool(row + ".EnableHeartbeats")
	cc.OutgoingHeartbeat = a.reg.GetInt(row+".OutgoingHeartbeat", 30000)
	cc.IncomingHeartbeat = a.reg.GetInt(row+".IncomingHeartbeat", 300000)
	cc.Retry = types.StompRetryParams{
		InitialInterval:    a.reg.GetInt(row+".ServerRetryInitialInterval", 60),
		IntervalMultiplier: a.reg.GetInt(row+".ServerRetryIntervalMultiplier", 2000),
		MaxInterval:        a.reg.GetInt(row+".ServerRetryMaxInterval", 30720),
	}
	return cc
}

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
	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/datamodel/dmtype"
	"github.com/h820614/usp-agent-stomp/pkg/subscription"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// registerSubscriptionTable publishes Device.LocalAgent.Subscription.{i}.
// The subscription engine mirrors this table; its commit observer reloads
// on any change.
func (a *Agent) registerSubscriptionTable() {
	r := a.reg
	table := subscription.SubscriptionTable

	r.RegisterObject(table+".{i}", datamodel.ObjectOpts{
		AllowAdd:    true,
		AllowDelete: true,
	})
	r.RegisterParameter(table+".{i}.Enable", datamodel.ParamOpts{
		Type:    dmtype.Bool,
		Access:  datamodel.AccessReadWrite,
		Default: "false",
	})
	r.RegisterParameter(table+".{i}.ID", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(table+".{i}.Recipient", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(table+".{i}.NotifType", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
		Validator: func(req datamodel.Request, value string) error {
			switch value {
			case subscription.KindValueChange, subscription.KindObjectCreation,
				subscription.KindObjectDeletion, subscription.KindOperationComplete,
				subscription.KindEvent, subscription.KindPeriodic:
				return nil
			}
			return usperr.New(usperr.CodeInvalidValue, "%q is not a notification type", value)
		},
	})
	r.RegisterParameter(table+".{i}.ReferenceList", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(table+".{i}.Persistent", datamodel.ParamOpts{
		Type:    dmtype.Bool,
		Access:  datamodel.AccessReadWrite,
		Default: "false",
	})
	r.RegisterParameter(table+".{i}.NotifRetry", datamodel.ParamOpts{
		Type:    dmtype.Bool,
		Access:  datamodel.AccessReadWrite,
		Default: "false",
	})
	r.RegisterParameter(table+".{i}.NotifExpiration", datamodel.ParamOpts{
		Type:    dmtype.Uint,
		Access:  datamodel.AccessReadWrite,
		Default: "0",
	})
	r.RegisterParameter(table+".{i}.PeriodicNotifInterval", datamodel.ParamOpts{
		Type:    dmtype.Uint,
		Access:  datamodel.AccessReadWrite,
		Default: "0",
	})
}

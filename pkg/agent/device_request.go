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
	"github.com/h820614/usp-agent-stomp/pkg/dispatcher"
)

// registerRequestTable publishes Device.LocalAgent.Request.{i}, the
// tracking table for in-flight asynchronous operations. Rows are created
// and removed by the dispatcher, never by controllers.
func (a *Agent) registerRequestTable() {
	r := a.reg
	table := dispatcher.RequestTable

	r.RegisterObject(table+".{i}", datamodel.ObjectOpts{})
	r.RegisterParameter(table+".{i}.Command", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(table+".{i}.CommandKey", datamodel.ParamOpts{
		Access: datamodel.AccessReadWrite,
	})
	r.RegisterParameter(table+".{i}.Status", datamodel.ParamOpts{
		Access:  datamodel.AccessReadWrite,
		Default: "Requested",
	})
}

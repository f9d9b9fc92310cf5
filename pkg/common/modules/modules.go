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

// Package modules holds the module and group names used for routing messages
// between the agent's long lived activities.
package modules

const (
	// DataModelModuleName is the module owning the schema registry, the
	// database and the dispatcher.
	DataModelModuleName = "datamodel"
	// MTPManagerModuleName is the module owning every transport connection.
	MTPManagerModuleName = "mtpmanager"
	// CLIServerModuleName is the module serving the local command socket.
	CLIServerModuleName = "cliserver"

	// DataModelGroup groups data model activities.
	DataModelGroup = "datamodel"
	// TransportGroup groups MTP activities.
	TransportGroup = "transport"
	// LocalGroup groups local access surfaces.
	LocalGroup = "local"
)

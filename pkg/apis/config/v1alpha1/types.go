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

// Package v1alpha1 defines the agent configuration file format. The file is
// YAML, unmarshalled through sigs.k8s.io/yaml onto these structs.
package v1alpha1

// AgentConfiguration is the root of the configuration file.
type AgentConfiguration struct {
	// Database configures the persistent key value store.
	Database DatabaseConfig `json:"database,omitempty"`
	// Identity configures the agent endpoint identity.
	Identity IdentityConfig `json:"identity,omitempty"`
	// DataModel tunes data model behavior.
	DataModel DataModelConfig `json:"dataModel,omitempty"`
	// MTP tunes transport behavior.
	MTP MTPConfig `json:"mtp,omitempty"`
	// CLI configures the local command socket.
	CLI CLIConfig `json:"cli,omitempty"`
}

// DatabaseConfig locates the store and the factory reset source.
type DatabaseConfig struct {
	// File is the sqlite database path.
	File string `json:"file,omitempty"`
	// FactoryResetFile seeds an empty database; empty uses compiled-in
	// defaults.
	FactoryResetFile string `json:"factoryResetFile,omitempty"`
}

// IdentityConfig holds the fields the endpoint id derives from.
type IdentityConfig struct {
	OUI          string `json:"oui,omitempty"`
	ProductClass string `json:"productClass,omitempty"`
	// SerialNumber overrides the WAN interface MAC derivation.
	SerialNumber    string `json:"serialNumber,omitempty"`
	WANInterface    string `json:"wanInterface,omitempty"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	ModelName       string `json:"modelName,omitempty"`
	SoftwareVersion string `json:"softwareVersion,omitempty"`
}

// DataModelConfig tunes registry behavior.
type DataModelConfig struct {
	// ValueChangePollPeriodSeconds paces the value change poller.
	ValueChangePollPeriodSeconds int `json:"valueChangePollPeriodSeconds,omitempty"`
	// DisableSort turns off instance-number ordering of resolver output.
	DisableSort bool `json:"disableSort,omitempty"`
}

// MTPConfig tunes transport behavior.
type MTPConfig struct {
	// AllowAutodiscovery accepts requests from controllers missing from the
	// controller table, under the Untrusted role.
	AllowAutodiscovery bool `json:"allowAutodiscovery,omitempty"`
}

// CLIConfig configures the local command socket.
type CLIConfig struct {
	Enable bool `json:"enable,omitempty"`
	// SocketPath is the unix domain stream socket path.
	SocketPath string `json:"socketPath,omitempty"`
}

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

package v1alpha1

import (
	"os"

	"sigs.k8s.io/yaml"
)

const (
	// DefaultDatabaseFile matches the original agent's default location; a
	// production build points this at persistent storage.
	DefaultDatabaseFile = "/tmp/usp.db"
	// DefaultCLISocketPath is the local command socket.
	DefaultCLISocketPath = "/tmp/usp_cli"
	// DefaultValueChangePollPeriodSeconds paces the value change poller.
	DefaultValueChangePollPeriodSeconds = 30
)

// NewDefaultAgentConfiguration returns the built-in configuration.
func NewDefaultAgentConfiguration() *AgentConfiguration {
	return &AgentConfiguration{
		Database: DatabaseConfig{
			File: DefaultDatabaseFile,
		},
		Identity: IdentityConfig{
			OUI:             "0044EE",
			ProductClass:    "usp-agent",
			Manufacturer:    "usp-agent-stomp",
			ModelName:       "usp-agent-stomp",
			SoftwareVersion: "1.0.0",
			WANInterface:    "eth0",
		},
		DataModel: DataModelConfig{
			ValueChangePollPeriodSeconds: DefaultValueChangePollPeriodSeconds,
		},
		CLI: CLIConfig{
			Enable:     true,
			SocketPath: DefaultCLISocketPath,
		},
	}
}

// Parse loads a configuration file over the defaults.
func Parse(filename string) (*AgentConfiguration, error) {
	cfg := NewDefaultAgentConfiguration()
	if filename == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

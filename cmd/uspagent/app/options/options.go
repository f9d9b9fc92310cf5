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

// Package options holds the uspagent command line flags.
package options

import (
	"github.com/spf13/pflag"
)

// AgentOptions are the command line flags of uspagent.
type AgentOptions struct {
	// ConfigFile points at the YAML AgentConfiguration.
	ConfigFile string
	// DatabaseFile overrides the configured database path.
	DatabaseFile string
	// ResetDatabase forces a factory reset before startup.
	ResetDatabase bool
}

// NewAgentOptions returns empty options.
func NewAgentOptions() *AgentOptions {
	return &AgentOptions{}
}

// AddFlags registers the flags.
func (o *AgentOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Path to the agent configuration file")
	fs.StringVar(&o.DatabaseFile, "db", o.DatabaseFile, "Path to the database file, overriding the configuration")
	fs.BoolVar(&o.ResetDatabase, "reset-db", o.ResetDatabase, "Apply a factory reset before starting")
}
